package stand

import (
	"context"
	"fmt"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/sim"
	"github.com/holla2040/hotfire/internal/store"
)

// DefaultTailS is how long a batch run continues after its last scripted
// event when no duration is given.
const DefaultTailS = 5.0

// Result is the outcome of a batch run.
type Result struct {
	RunID string `json:"run_id,omitempty"`
	sim.Summary
}

// BatchOptions control RunBatch. Zero values mean defaults.
type BatchOptions struct {
	DurationS float64
	Store     *store.Store
	Station   string
	Sinks     []ecu.TelemetrySink
}

// RunBatch runs st faster than real time for DurationS of simulated time,
// or until DefaultTailS after its last scripted event. With a store the
// run is recorded.
func RunBatch(ctx context.Context, st *config.Stand, o BatchOptions) (Result, error) {
	var opts []sim.Option
	for _, sink := range o.Sinks {
		opts = append(opts, sim.WithSink(sink))
	}
	var r *recording
	if o.Store != nil {
		var err error
		if r, err = startRecording(o.Store, st.Name, o.Station); err != nil {
			return Result{}, err
		}
		opts = append(opts, sim.WithSink(r.rec))
	}

	sc, err := sim.Build(st, opts...)
	if err != nil {
		if r != nil {
			r.discard()
		}
		return Result{}, err
	}

	duration := o.DurationS
	if duration <= 0 {
		duration = sc.Script.LastEventTime() + DefaultTailS
	}
	// Step in slices so a cancelled context stops a long run promptly.
	const slice = 1.0
	var cancelled error
	for done := 0.0; done < duration; done += slice {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		sc.RunFor(min(slice, duration-done))
	}

	res := Result{Summary: sc.Summary()}
	if r != nil {
		res.RunID = r.run.ID
		if err := r.finish(res.Summary); err != nil {
			return res, err
		}
	}
	if cancelled != nil {
		return res, fmt.Errorf("run of %s stopped at %.3f s: %w", st.Name, sc.Runner.Time(), cancelled)
	}
	return res, nil
}
