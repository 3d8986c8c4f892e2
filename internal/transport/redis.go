// Package transport carries the ECU command and telemetry vocabulary over
// Redis Pub/Sub. Commands arrive on commands:<station>; telemetry frames and
// alert reports leave on telemetry:<station> and alerts:<station>.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/protocol"
)

// ErrNoController is returned by SendCommand when nothing is subscribed to
// the station's command channel.
var ErrNoController = errors.New("no controller listening")

// Channel names for a station.
func CommandChannel(station string) string   { return "commands:" + station }
func TelemetryChannel(station string) string { return "telemetry:" + station }
func AlertChannel(station string) string     { return "alerts:" + station }
func EstopChannel(station string) string     { return "estop:" + station }

// Stats counts traffic through a Redis transport.
type Stats struct {
	Received  int64 `json:"received"`
	Rejected  int64 `json:"rejected"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

type outbound struct {
	channel string
	msgType string
	payload any
}

// Redis is an ecu.CommandSource and ecu.TelemetrySink backed by Pub/Sub.
// NextCommand and the Send methods never block: inbound commands are
// parsed by a subscriber goroutine and outbound frames are published by a
// writer goroutine from a bounded queue that drops when full.
type Redis struct {
	rdb     *redis.Client
	station string
	source  protocol.Source
	onEstop func(*protocol.Message) error

	commands chan ecu.Command
	out      chan outbound

	cancel context.CancelFunc
	wg     sync.WaitGroup

	received  atomic.Int64
	rejected  atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Redis transport.
type Option func(*redisOptions)

type redisOptions struct {
	source        protocol.Source
	commandBuffer int
	publishBuffer int
	onEstop       func(*protocol.Message) error
}

// WithSource sets the envelope source stamped on published messages.
func WithSource(s protocol.Source) Option {
	return func(o *redisOptions) { o.source = s }
}

// WithCommandBuffer sets how many received commands may wait for the ECU
// (default 64).
func WithCommandBuffer(n int) Option {
	return func(o *redisOptions) { o.commandBuffer = n }
}

// WithPublishBuffer sets how many outbound frames may queue before new ones
// are dropped (default 256).
func WithPublishBuffer(n int) Option {
	return func(o *redisOptions) { o.publishBuffer = n }
}

// WithEstopHandler also subscribes to the station's e-stop channel and
// passes every valid system.estop message to fn.
func WithEstopHandler(fn func(*protocol.Message) error) Option {
	return func(o *redisOptions) { o.onEstop = fn }
}

// New creates a transport for station. Call Start to begin moving messages.
func New(rdb *redis.Client, station string, opts ...Option) *Redis {
	o := redisOptions{
		source:        protocol.Source{Service: "hotfire_controller", Instance: station, Version: "1.0.0"},
		commandBuffer: 64,
		publishBuffer: 256,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{
		rdb:      rdb,
		station:  station,
		source:   o.source,
		onEstop:  o.onEstop,
		commands: make(chan ecu.Command, o.commandBuffer),
		out:      make(chan outbound, o.publishBuffer),
	}
}

// Start subscribes to the command channel (and the e-stop channel when a
// handler is set) and launches the reader and writer goroutines. The
// subscriptions are confirmed before Start returns.
func (r *Redis) Start(ctx context.Context) error {
	channels := []string{CommandChannel(r.station)}
	if r.onEstop != nil {
		channels = append(channels, EstopChannel(r.station))
	}
	sub := r.rdb.Subscribe(ctx, channels...)
	for range channels {
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			return fmt.Errorf("subscribe %v: %w", channels, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(2)
	go r.readLoop(ctx, sub)
	go r.writeLoop(ctx)
	log.Printf("redis transport: listening on %v", channels)
	return nil
}

// Close stops both goroutines. Frames still queued are discarded.
func (r *Redis) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Stats returns traffic counters.
func (r *Redis) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Rejected:  r.rejected.Load(),
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// NextCommand implements ecu.CommandSource.
func (r *Redis) NextCommand() (ecu.Command, bool) {
	select {
	case c := <-r.commands:
		return c, true
	default:
		return ecu.Command{}, false
	}
}

// SendTelemetry implements ecu.TelemetrySink.
func (r *Redis) SendTelemetry(t ecu.Telemetry) {
	r.enqueue(outbound{channel: TelemetryChannel(r.station), msgType: protocol.TypeTelemetry, payload: t})
}

// SendAlerts implements ecu.TelemetrySink.
func (r *Redis) SendAlerts(rep ecu.AlertReport) {
	r.enqueue(outbound{channel: AlertChannel(r.station), msgType: protocol.TypeAlerts, payload: rep})
}

func (r *Redis) enqueue(o outbound) {
	select {
	case r.out <- o:
	default:
		if r.dropped.Add(1)%100 == 1 {
			log.Printf("redis transport: publish queue full, dropped %d frames so far", r.dropped.Load())
		}
	}
}

func (r *Redis) readLoop(ctx context.Context, sub *redis.PubSub) {
	defer r.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if m.Channel == EstopChannel(r.station) {
				r.handleEstop([]byte(m.Payload))
				continue
			}
			r.handle([]byte(m.Payload))
		}
	}
}

func (r *Redis) handle(data []byte) {
	msg, err := protocol.Parse(data)
	if err == nil {
		err = protocol.Validate(msg)
	}
	var c ecu.Command
	if err == nil {
		c, err = protocol.ParseCommand(msg)
	}
	if err != nil {
		r.rejected.Add(1)
		log.Printf("redis transport: rejected message: %v", err)
		return
	}

	r.received.Add(1)
	select {
	case r.commands <- c:
	default:
		r.rejected.Add(1)
		log.Printf("redis transport: command queue full, dropped %s", c)
	}
}

func (r *Redis) handleEstop(data []byte) {
	msg, err := protocol.Parse(data)
	if err == nil {
		err = protocol.Validate(msg)
	}
	if err == nil && msg.Envelope.Type != protocol.TypeEstop {
		err = fmt.Errorf("unexpected %s on e-stop channel", msg.Envelope.Type)
	}
	if err == nil {
		err = r.onEstop(msg)
	}
	if err != nil {
		r.rejected.Add(1)
		log.Printf("redis transport: rejected e-stop: %v", err)
		return
	}
	r.received.Add(1)
}

func (r *Redis) writeLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-r.out:
			if err := r.publish(ctx, o); err != nil {
				log.Printf("redis transport: %v", err)
				continue
			}
			r.published.Add(1)
		}
	}
}

func (r *Redis) publish(ctx context.Context, o outbound) error {
	msg, err := protocol.NewMessage(r.source, o.msgType, o.payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(pubCtx, o.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("PUBLISH %s: %w", o.channel, err)
	}
	return nil
}

// SendCommand publishes c to station's command channel. It returns the
// message ID, or ErrNoController when no controller is subscribed.
func SendCommand(ctx context.Context, rdb *redis.Client, source protocol.Source, station string, c ecu.Command) (string, error) {
	msg, err := protocol.NewCommand(source, c)
	if err != nil {
		return "", fmt.Errorf("build command: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	channel := CommandChannel(station)
	n, err := rdb.Publish(ctx, channel, string(data)).Result()
	if err != nil {
		return "", fmt.Errorf("PUBLISH %s: %w", channel, err)
	}
	if n == 0 {
		return msg.Envelope.ID, fmt.Errorf("%s: %w", channel, ErrNoController)
	}
	return msg.Envelope.ID, nil
}

// SendEstop publishes an e-stop to station. Like SendCommand it reports
// ErrNoController when nobody is listening.
func SendEstop(ctx context.Context, rdb *redis.Client, source protocol.Source, station, reason string) (string, error) {
	msg, err := protocol.NewEstop(source, reason, source.Instance)
	if err != nil {
		return "", fmt.Errorf("build estop: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	channel := EstopChannel(station)
	n, err := rdb.Publish(ctx, channel, string(data)).Result()
	if err != nil {
		return "", fmt.Errorf("PUBLISH %s: %w", channel, err)
	}
	if n == 0 {
		return msg.Envelope.ID, fmt.Errorf("%s: %w", channel, ErrNoController)
	}
	return msg.Envelope.ID, nil
}
