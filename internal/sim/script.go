package sim

import (
	"sort"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/ecu"
)

// ScriptedCommands releases configured events once the clock reaches their
// time. It is an ecu.CommandSource.
type ScriptedCommands struct {
	events []config.Event
	next   int
	clock  func() float64
}

// NewScriptedCommands returns a script over events, ordered by time. The
// clock must be set with SetClock before the first NextCommand.
func NewScriptedCommands(events []config.Event) *ScriptedCommands {
	evs := make([]config.Event, len(events))
	copy(evs, events)
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].AtS < evs[j].AtS })
	return &ScriptedCommands{events: evs}
}

// SetClock sets the time source events are compared against.
func (s *ScriptedCommands) SetClock(clock func() float64) { s.clock = clock }

// NextCommand implements ecu.CommandSource.
func (s *ScriptedCommands) NextCommand() (ecu.Command, bool) {
	if s.clock == nil || s.next >= len(s.events) {
		return ecu.Command{}, false
	}
	ev := s.events[s.next]
	if ev.AtS > s.clock()+1e-9 {
		return ecu.Command{}, false
	}
	s.next++
	return ev.ToCommand(), true
}

// Remaining returns how many events have not fired yet.
func (s *ScriptedCommands) Remaining() int { return len(s.events) - s.next }

// LastEventTime returns the time of the final event, or zero without any.
func (s *ScriptedCommands) LastEventTime() float64 {
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].AtS
}
