// Package estop latches a stand-wide emergency stop. A trip safes the stand
// through a callback; the latch holds until an operator acknowledges it.
package estop

import (
	"log"
	"sync"
	"time"

	"github.com/holla2040/hotfire/internal/protocol"
)

// State is the current emergency stop state.
type State struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	Initiator   string    `json:"initiator,omitempty"`
	TriggeredAt time.Time `json:"triggered_at,omitempty"`
	Trips       int       `json:"trips"`
}

// Coordinator holds the latch. It knows nothing about Redis or HTTP; both
// feed it from outside.
type Coordinator struct {
	mu     sync.RWMutex
	state  State
	onTrip func(State)
}

// New creates an inactive Coordinator. onTrip runs on every trip, including
// repeated trips while already latched; it may be nil.
func New(onTrip func(State)) *Coordinator {
	return &Coordinator{onTrip: onTrip}
}

// Trigger latches the stop and returns the new state.
func (c *Coordinator) Trigger(reason, initiator string) State {
	if reason == "" {
		reason = "unspecified"
	}
	c.mu.Lock()
	c.state = State{
		Active:      true,
		Reason:      reason,
		Initiator:   initiator,
		TriggeredAt: time.Now(),
		Trips:       c.state.Trips + 1,
	}
	s := c.state
	cb := c.onTrip
	c.mu.Unlock()

	log.Printf("estop: tripped by %q: %s", initiator, reason)
	if cb != nil {
		cb(s)
	}
	return s
}

// HandleMessage trips the stop from a system.estop message.
func (c *Coordinator) HandleMessage(msg *protocol.Message) error {
	p, err := protocol.ParseEstop(msg)
	if err != nil {
		return err
	}
	initiator := p.Initiator
	if initiator == "" {
		initiator = msg.Envelope.Source.Instance
	}
	c.Trigger(p.Reason, initiator)
	return nil
}

// Acknowledge clears the latch. It reports false if nothing was latched.
func (c *Coordinator) Acknowledge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active {
		return false
	}
	c.state = State{Trips: c.state.Trips}
	log.Printf("estop: acknowledged")
	return true
}

// Active reports whether the stop is latched.
func (c *Coordinator) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Active
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
