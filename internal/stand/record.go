package stand

import (
	"fmt"
	"log"
	"strings"

	"github.com/holla2040/hotfire/internal/sim"
	"github.com/holla2040/hotfire/internal/store"
)

// recording is the store side of one scenario.
type recording struct {
	store *store.Store
	run   *store.Run
	rec   *store.Recorder
}

func startRecording(s *store.Store, stand, station string) (*recording, error) {
	run, err := s.CreateRun(stand, station)
	if err != nil {
		return nil, err
	}
	return &recording{store: s, run: run, rec: store.NewRecorder(s, run.ID)}, nil
}

// discard removes a run that never got a scenario.
func (r *recording) discard() {
	if err := r.store.DeleteRun(r.run.ID); err != nil {
		log.Printf("stand: discard run %s: %v", r.run.ID, err)
	}
}

func (r *recording) finish(sum sim.Summary) error {
	if err := r.rec.Flush(); err != nil {
		return fmt.Errorf("flush run %s: %w", r.run.ID, err)
	}
	return r.store.FinishRun(r.run.ID, store.StatusCompleted, summaryText(sum))
}

// summaryText is the one-line run summary kept with the run row.
func summaryText(s sim.Summary) string {
	var states []string
	for _, name := range []string{"igniter", "engine"} {
		if st, ok := s.FinalStates[name]; ok {
			states = append(states, name+"="+st)
		}
	}
	raised := map[string]bool{}
	var alerts []string
	for _, c := range s.Alerts {
		for _, a := range c.Raised {
			if !raised[a] {
				raised[a] = true
				alerts = append(alerts, a)
			}
		}
	}
	if len(alerts) == 0 {
		alerts = []string{"none"}
	}
	return fmt.Sprintf("%.3f s simulated, %d transitions; %s; alerts raised: %s",
		s.DurationS, len(s.Transitions), strings.Join(states, " "), strings.Join(alerts, ","))
}
