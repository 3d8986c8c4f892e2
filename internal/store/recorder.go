package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/holla2040/hotfire/internal/ecu"
)

// Recorder is an ecu.TelemetrySink that collects a run in memory and writes
// it to the store on Flush. The Send methods only append under a mutex, so
// they are safe to call from the control tick.
type Recorder struct {
	store *Store
	runID string

	mu         sync.Mutex
	pending    Batch
	last       *ecu.Telemetry
	lastAlerts ecu.AlertSet
	alertsSeen bool
}

func NewRecorder(s *Store, runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

func (r *Recorder) RunID() string { return r.runID }

// SendTelemetry implements ecu.TelemetrySink. State changes since the
// previous frame become events.
func (r *Recorder) SendTelemetry(t ecu.Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil {
		r.pending.Events = append(r.pending.Events, ecu.Transitions(*r.last, t)...)
	}
	r.pending.Frames = append(r.pending.Frames, t)
	r.last = &t
}

// SendAlerts implements ecu.TelemetrySink. Only changes of the active set
// are kept; periodic repeats are dropped.
func (r *Recorder) SendAlerts(rep ecu.AlertReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alertsSeen && rep.Alerts == r.lastAlerts {
		return
	}
	r.alertsSeen = true
	r.lastAlerts = rep.Alerts
	r.pending.Alerts = append(r.pending.Alerts, rep)
}

// Flush writes everything collected so far. On error the batch is kept and
// retried by the next Flush.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	b := r.pending
	r.pending = Batch{}
	r.mu.Unlock()

	if err := r.store.RecordBatch(r.runID, b); err != nil {
		r.mu.Lock()
		r.pending.Frames = append(b.Frames, r.pending.Frames...)
		r.pending.Events = append(b.Events, r.pending.Events...)
		r.pending.Alerts = append(b.Alerts, r.pending.Alerts...)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes every interval until ctx is cancelled, then flushes once more.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				log.Printf("recorder: final flush for run %s: %v", r.runID, err)
			}
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				log.Printf("recorder: flush run %s: %v", r.runID, err)
			}
		}
	}
}
