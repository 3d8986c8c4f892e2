package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/holla2040/hotfire/internal/ecu"
)

// Event types pushed to WebSocket clients.
const (
	EventTelemetry   = "telemetry"
	EventAlerts      = "alerts"
	EventCommand     = "command"
	EventEstop       = "estop"
	EventRedisHealth = "redis_health"
)

// WSEvent is the JSON envelope broadcast to WebSocket clients.
type WSEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub manages WebSocket client connections and broadcasts events. It is
// also an ecu.TelemetrySink, so a running stand streams straight to it.
//
// Telemetry is thinned per client to the hub's interval in simulated time.
// A frame in which any controller changed state always goes out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	registerCh   chan *client
	unregisterCh chan *client
	broadcastCh  chan message

	interval float64
	dropped  atomic.Uint64

	lastMu   sync.Mutex
	last     ecu.Telemetry
	haveLast bool
}

// message is one encoded event on its way to the clients.
type message struct {
	data      []byte
	telemetry bool
	simTime   float64
	keyframe  bool
}

// client cadence fields are only touched by the goroutine running the hub.
type client struct {
	conn *websocket.Conn
	send chan []byte

	sentTelemetry bool
	lastTelemetry float64
	dropped       uint64
}

// due reports whether telemetry message m should go to c.
func (c *client) due(m message, interval float64) bool {
	if !c.sentTelemetry || m.keyframe || m.simTime < c.lastTelemetry {
		return true
	}
	return m.simTime-c.lastTelemetry >= interval-1e-9
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithTelemetryInterval sets the least simulated time between two
// telemetry frames sent to one client. Zero sends every frame.
func WithTelemetryInterval(seconds float64) HubOption {
	return func(h *Hub) { h.interval = seconds }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:      make(map[*client]bool),
		registerCh:   make(chan *client, 16),
		unregisterCh: make(chan *client, 16),
		broadcastCh:  make(chan message, 256),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run processes register, unregister, and broadcast events.
// Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.registerCh:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregisterCh:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()

		case m := <-h.broadcastCh:
			h.fanOut(m)
		}
	}
}

func (h *Hub) fanOut(m message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if m.telemetry && !c.due(m, h.interval) {
			continue
		}
		select {
		case c.send <- m.data:
			if m.telemetry {
				c.sentTelemetry = true
				c.lastTelemetry = m.simTime
			}
		default:
			// slow client, skip
			c.dropped++
			if c.dropped == 1 {
				log.Printf("websocket: client falling behind, dropping messages")
			}
			h.dropped.Add(1)
		}
	}
}

// Broadcast sends data to all connected clients. Never blocks; a full
// queue drops the message.
func (h *Hub) Broadcast(data []byte) {
	h.enqueue(message{data: data})
}

func (h *Hub) enqueue(m message) {
	select {
	case h.broadcastCh <- m:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastEvent marshals a WSEvent and broadcasts it.
func (h *Hub) BroadcastEvent(eventType string, payload any) {
	data, err := json.Marshal(WSEvent{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("websocket: failed to marshal event: %v", err)
		return
	}
	h.Broadcast(data)
}

// SendTelemetry implements ecu.TelemetrySink. Frames are not encoded when
// nobody is listening.
func (h *Hub) SendTelemetry(t ecu.Telemetry) {
	h.lastMu.Lock()
	key := !h.haveLast || len(ecu.Transitions(h.last, t)) > 0
	h.last, h.haveLast = t, true
	h.lastMu.Unlock()

	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(WSEvent{Type: EventTelemetry, Payload: t})
	if err != nil {
		log.Printf("websocket: failed to marshal telemetry: %v", err)
		return
	}
	h.enqueue(message{data: data, telemetry: true, simTime: t.Time, keyframe: key})
}

// SendAlerts implements ecu.TelemetrySink.
func (h *Hub) SendAlerts(r ecu.AlertReport) {
	if h.ClientCount() > 0 {
		h.BroadcastEvent(EventAlerts, r)
	}
}

// Dropped is the number of messages lost to full queues since start.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and streams events until the
// client goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // stand LAN, any origin
	})
	if err != nil {
		log.Printf("websocket: accept failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.registerCh <- c

	go h.writePump(r.Context(), c)
	h.readPump(r.Context(), c)
}

func (h *Hub) writePump(ctx context.Context, c *client) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readPump drains the connection; clients send nothing we act on.
func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() { h.unregisterCh <- c }()
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
