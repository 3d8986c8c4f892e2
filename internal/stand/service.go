// Package stand runs a stand scenario as a long-lived service: simulated
// time advances in step with the wall clock, commands come from outside,
// telemetry fans out to the configured sinks, and every scenario is logged
// as a run.
package stand

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/sim"
	"github.com/holla2040/hotfire/internal/store"
)

// maxCatchUpS bounds how much simulated time one wall tick may cover after
// a stall.
const maxCatchUpS = 0.5

// Status is a snapshot of the service.
type Status struct {
	Stand         string         `json:"stand"`
	Station       string         `json:"station"`
	RunID         string         `json:"run_id,omitempty"`
	SimTimeS      float64        `json:"sim_time_s"`
	Idle          bool           `json:"idle"`
	Reloads       int            `json:"reloads"`
	ReloadPending bool           `json:"reload_pending"`
	Interlocked   bool           `json:"interlocked"`
	Telemetry     *ecu.Telemetry `json:"telemetry,omitempty"`
}

// Service owns the current scenario. All access to it goes through mu; the
// sinks it feeds are called with mu held and must not block.
type Service struct {
	path       string
	station    string
	store      *store.Store
	sources    []ecu.CommandSource
	sinks      []ecu.TelemetrySink
	tick       time.Duration
	flushEvery time.Duration
	settle     time.Duration
	interlock  func() bool

	mu      sync.Mutex
	stand   *config.Stand
	sc      *sim.Scenario
	manual  *ecu.CommandQueue
	rec     *recording
	target  float64
	reload  bool
	reloads int
}

// Option configures a Service.
type Option func(*Service)

func WithStation(id string) Option { return func(s *Service) { s.station = id } }

// WithStore records every scenario as a run.
func WithStore(st *store.Store) Option { return func(s *Service) { s.store = st } }

// WithCommandSource adds a source drained by the ECU every control tick.
func WithCommandSource(src ecu.CommandSource) Option {
	return func(s *Service) { s.sources = append(s.sources, src) }
}

// WithSink adds a telemetry sink.
func WithSink(sink ecu.TelemetrySink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sink) }
}

// WithTick sets the wall-clock stepping interval (default 10ms).
func WithTick(d time.Duration) Option { return func(s *Service) { s.tick = d } }

// New loads the stand file at path and builds its scenario.
func New(path string, opts ...Option) (*Service, error) {
	s := &Service{
		path:       path,
		station:    "stand-01",
		tick:       10 * time.Millisecond,
		flushEvery: 500 * time.Millisecond,
		settle:     200 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	st, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := s.install(st); err != nil {
		return nil, err
	}
	return s, nil
}

// install builds st and makes it current, finishing the previous run.
// Callers hold mu, except New.
func (s *Service) install(st *config.Stand) error {
	manual := &ecu.CommandQueue{}
	opts := []sim.Option{sim.WithCommandSource(manual)}
	for _, src := range s.sources {
		opts = append(opts, sim.WithCommandSource(s.gate(src)))
	}
	for _, sink := range s.sinks {
		opts = append(opts, sim.WithSink(sink))
	}

	var rec *recording
	if s.store != nil {
		var err error
		if rec, err = startRecording(s.store, st.Name, s.station); err != nil {
			return err
		}
		opts = append(opts, sim.WithSink(rec.rec))
	}

	sc, err := sim.Build(st, opts...)
	if err != nil {
		if rec != nil {
			rec.discard()
		}
		return err
	}

	s.finishRun()
	s.stand, s.sc, s.manual, s.rec, s.target = st, sc, manual, rec, 0
	if rec != nil {
		log.Printf("stand: %s running as run %s", st.Name, rec.run.ID)
	} else {
		log.Printf("stand: %s running", st.Name)
	}
	return nil
}

func (s *Service) finishRun() {
	if s.rec == nil || s.sc == nil {
		return
	}
	if err := s.rec.finish(s.sc.Summary()); err != nil {
		log.Printf("stand: finish run %s: %v", s.rec.run.ID, err)
	}
	s.rec = nil
}

// Run steps the scenario against the wall clock until ctx is cancelled,
// then closes the current run.
func (s *Service) Run(ctx context.Context) error {
	w, err := newWatcher(s.path, s.settle, s.requestReload)
	if err != nil {
		log.Printf("stand: hot reload disabled: %v", err)
	} else {
		go w.run(ctx)
	}

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		s.flushLoop(ctx)
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			<-flushDone
			s.mu.Lock()
			s.finishRun()
			s.mu.Unlock()
			return nil
		case now := <-ticker.C:
			s.Advance(now.Sub(last))
			last = now
		}
	}
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			rec := s.rec
			s.mu.Unlock()
			if rec == nil {
				continue
			}
			if err := rec.rec.Flush(); err != nil {
				log.Printf("stand: flush run %s: %v", rec.run.ID, err)
			}
		}
	}
}

// Advance moves simulated time forward by wall scaled by the stand's
// real-time factor, then applies a pending reload if the ECU is idle.
func (s *Service) Advance(wall time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor := s.stand.RealTimeFactor
	if factor <= 0 {
		factor = 1
	}
	span := wall.Seconds() * factor
	if span > maxCatchUpS {
		log.Printf("stand: fell %.3f s behind, skipping ahead", span-maxCatchUpS)
		s.target = s.sc.Runner.Time()
		span = maxCatchUpS
	}
	s.target += span
	dt := s.sc.Runner.Dt()
	for s.sc.Runner.Time() < s.target-dt/2 {
		s.sc.Step()
	}

	if s.reload && s.sc.ECU.Idle() {
		s.reload = false
		s.applyReload()
	}
}

func (s *Service) requestReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reload {
		log.Printf("stand: %s changed, reloading once idle", s.path)
	}
	s.reload = true
}

func (s *Service) applyReload() {
	st, err := config.Load(s.path)
	if err != nil {
		log.Printf("stand: reload failed, keeping %s: %v", s.stand.Name, err)
		return
	}
	if err := s.install(st); err != nil {
		log.Printf("stand: rebuild failed, keeping %s: %v", s.stand.Name, err)
		return
	}
	s.reloads++
}

// Submit queues c for the next control tick.
func (s *Service) Submit(c ecu.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interlocked() {
		return fmt.Errorf("%s refused: %w", c, ErrInterlocked)
	}
	if c.Index != s.stand.ECU.Index {
		return fmt.Errorf("no controller with index %d on %s", c.Index, s.stand.Name)
	}
	s.manual.Push(c)
	log.Printf("stand: queued %s", c)
	return nil
}

// Status returns a snapshot including the latest telemetry frame.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Stand:         s.stand.Name,
		Station:       s.station,
		SimTimeS:      s.sc.Runner.Time(),
		Idle:          s.sc.ECU.Idle(),
		Reloads:       s.reloads,
		ReloadPending: s.reload,
		Interlocked:   s.interlocked(),
	}
	if s.rec != nil {
		st.RunID = s.rec.run.ID
	}
	if t, ok := s.sc.Timeline.Last(); ok {
		st.Telemetry = &t
	}
	return st
}
