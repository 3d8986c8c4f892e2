package sim

import "github.com/holla2040/hotfire/internal/ecu"

// AlertChange is a set of alerts raised or cleared at one time.
type AlertChange struct {
	Time    float64  `json:"time_s"`
	Raised  []string `json:"raised,omitempty"`
	Cleared []string `json:"cleared,omitempty"`
}

// Summary is the outcome of a run.
type Summary struct {
	Stand       string             `json:"stand"`
	DurationS   float64            `json:"duration_s"`
	Frames      int                `json:"frames"`
	Transitions []ecu.Transition   `json:"transitions"`
	Alerts      []AlertChange      `json:"alerts"`
	FinalStates map[string]string  `json:"final_states"`
	Peaks       map[string]float64 `json:"peaks"`
}

// Timeline is a telemetry sink that keeps the per-subsystem state history
// of a run and the peak of every sensor.
type Timeline struct {
	last        *ecu.Telemetry
	frames      int
	transitions []ecu.Transition
	alerts      []AlertChange
	lastAlerts  ecu.AlertSet
	peaks       map[string]float64
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{peaks: map[string]float64{}}
}

// SendTelemetry implements ecu.TelemetrySink.
func (tl *Timeline) SendTelemetry(t ecu.Telemetry) {
	if tl.last != nil {
		tl.transitions = append(tl.transitions, ecu.Transitions(*tl.last, t)...)
	}
	for name, v := range t.Sensors {
		if v > tl.peaks[name] {
			tl.peaks[name] = v
		}
	}
	tl.last = &t
	tl.frames++
}

// SendAlerts implements ecu.TelemetrySink.
func (tl *Timeline) SendAlerts(r ecu.AlertReport) {
	if r.Alerts == tl.lastAlerts {
		return
	}
	tl.alerts = append(tl.alerts, AlertChange{
		Time:    r.Time,
		Raised:  (r.Alerts &^ tl.lastAlerts).Names(),
		Cleared: (tl.lastAlerts &^ r.Alerts).Names(),
	})
	tl.lastAlerts = r.Alerts
}

// Transitions returns the recorded mode changes in order.
func (tl *Timeline) Transitions() []ecu.Transition {
	out := make([]ecu.Transition, len(tl.transitions))
	copy(out, tl.transitions)
	return out
}

// Sequence returns the successive states of one subsystem, starting with
// its state in the first frame.
func (tl *Timeline) Sequence(subsystem string) []string {
	var seq []string
	for _, tr := range tl.transitions {
		if tr.Subsystem != subsystem {
			continue
		}
		if len(seq) == 0 {
			seq = append(seq, tr.From)
		}
		seq = append(seq, tr.To)
	}
	if len(seq) == 0 && tl.last != nil {
		seq = append(seq, tl.last.States()[subsystem])
	}
	return seq
}

// Last returns the most recent frame.
func (tl *Timeline) Last() (ecu.Telemetry, bool) {
	if tl.last == nil {
		return ecu.Telemetry{}, false
	}
	return *tl.last, true
}

// Summary assembles the run summary for stand.
func (tl *Timeline) Summary(stand string) Summary {
	s := Summary{
		Stand:       stand,
		Frames:      tl.frames,
		Transitions: tl.Transitions(),
		Alerts:      append([]AlertChange(nil), tl.alerts...),
		FinalStates: map[string]string{},
		Peaks:       map[string]float64{},
	}
	if tl.last != nil {
		s.DurationS = tl.last.Time
		s.FinalStates = tl.last.States()
	}
	for name, v := range tl.peaks {
		if v > 0 {
			s.Peaks[name] = v
		}
	}
	return s
}
