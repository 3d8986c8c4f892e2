package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Health is the last known state of the Redis connection.
type Health struct {
	Connected  bool      `json:"connected"`
	LastPingOK time.Time `json:"last_ping_ok,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Outages    int       `json:"outages"`
	Latency    string    `json:"latency,omitempty"`
}

// Monitor pings Redis periodically. go-redis redials on its own, so the
// monitor only observes and reports up/down edges.
type Monitor struct {
	rdb      *redis.Client
	interval time.Duration

	mu       sync.RWMutex
	health   Health
	latency  time.Duration
	onChange func(connected bool)
}

// NewMonitor creates a monitor that pings every interval. onChange, if not
// nil, is called on each up/down edge.
func NewMonitor(rdb *redis.Client, interval time.Duration, onChange func(connected bool)) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		rdb:      rdb,
		interval: interval,
		health:   Health{Connected: true, LastPingOK: time.Now()},
		onChange: onChange,
	}
}

// Run pings until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs a single PING and updates state.
func (m *Monitor) Check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := m.rdb.Ping(pingCtx).Err()
	elapsed := time.Since(start)

	m.mu.Lock()
	was := m.health.Connected
	if err != nil {
		m.health.Connected = false
		m.health.LastError = err.Error()
		if was {
			m.health.Outages++
		}
	} else {
		m.health.Connected = true
		m.health.LastPingOK = time.Now()
		m.health.LastError = ""
		m.latency = elapsed
	}
	now := m.health.Connected
	m.mu.Unlock()

	if was == now {
		return
	}
	if now {
		log.Printf("redis health: connection restored (latency=%v)", elapsed)
	} else {
		log.Printf("redis health: connection lost: %v", err)
	}
	if m.onChange != nil {
		m.onChange(now)
	}
}

// Health returns the current state.
func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.health
	if m.latency > 0 {
		h.Latency = m.latency.String()
	}
	return h
}
