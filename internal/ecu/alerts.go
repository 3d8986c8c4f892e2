package ecu

import (
	"encoding/json"
	"math/bits"
	"strings"
)

// Alert is a single latched fault or status flag.
type Alert uint32

const (
	AlertDebugModeEnabled Alert = 1 << iota
	AlertIgniterTankOffNominal
	AlertIgniterStartupTimeout
	AlertIgniterThroatOverheat
	AlertEngineTankOffNominal
	AlertEnginePumpOffNominal
	AlertEngineStartupPumpTimeout
	AlertEngineStartupIgniterTimeout
	AlertEngineStartupIgniterAnomaly
	AlertEngineStartupTimeout
	AlertEngineChamberPressureOffNominal
	AlertEngineShutdownTimerExpired
)

var alertNames = []string{
	"DebugModeEnabled",
	"IgniterTankOffNominal",
	"IgniterStartupTimeout",
	"IgniterThroatOverheat",
	"EngineTankOffNominal",
	"EnginePumpOffNominal",
	"EngineStartupPumpTimeout",
	"EngineStartupIgniterTimeout",
	"EngineStartupIgniterAnomaly",
	"EngineStartupTimeout",
	"EngineChamberPressureOffNominal",
	"EngineShutdownTimerExpired",
}

func (a Alert) String() string {
	if bits.OnesCount32(uint32(a)) != 1 {
		return "InvalidAlert"
	}
	return textOf(bits.TrailingZeros32(uint32(a)), alertNames)
}

// ParseAlert maps an alert name to its flag.
func ParseAlert(s string) (Alert, error) {
	i, err := parseText[int](s, alertNames)
	if err != nil {
		return 0, err
	}
	return Alert(1) << i, nil
}

// AlertSet is a bitmask of active alerts.
type AlertSet uint32

func (s AlertSet) Has(a Alert) bool         { return uint32(s)&uint32(a) != 0 }
func (s AlertSet) With(a Alert) AlertSet    { return s | AlertSet(a) }
func (s AlertSet) Without(a Alert) AlertSet { return s &^ AlertSet(a) }
func (s AlertSet) Empty() bool              { return s == 0 }

// List returns the active alerts in flag order.
func (s AlertSet) List() []Alert {
	var out []Alert
	for i := range alertNames {
		if a := Alert(1) << i; s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Names returns the active alert names in flag order.
func (s AlertSet) Names() []string {
	names := []string{}
	for _, a := range s.List() {
		names = append(names, a.String())
	}
	return names
}

func (s AlertSet) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}

// MarshalJSON encodes the set as a list of alert names.
func (s AlertSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *AlertSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var set AlertSet
	for _, n := range names {
		a, err := ParseAlert(n)
		if err != nil {
			return err
		}
		set = set.With(a)
	}
	*s = set
	return nil
}

// AlertReport is what the ECU sends to its sink when the alert set changes
// or the ping period elapses.
type AlertReport struct {
	Time   float64  `json:"time_s"`
	Index  int      `json:"index"`
	Alerts AlertSet `json:"alerts"`
}

// DefaultAlertPingPeriodS is how often an unchanged alert set is resent.
const DefaultAlertPingPeriodS = 0.1

// AlertManager latches alerts raised by controllers and reports them.
type AlertManager struct {
	active    AlertSet
	sent      AlertSet
	sentOnce  bool
	sinceSent float64
	period    float64
}

// NewAlertManager returns a manager that resends every period seconds.
func NewAlertManager(period float64) *AlertManager {
	if period <= 0 {
		period = DefaultAlertPingPeriodS
	}
	return &AlertManager{period: period}
}

// Set raises a.
func (m *AlertManager) Set(a Alert) { m.active = m.active.With(a) }

// Clear lowers a.
func (m *AlertManager) Clear(a Alert) { m.active = m.active.Without(a) }

// ClearAll lowers every alert in set.
func (m *AlertManager) ClearAll(set AlertSet) { m.active &^= set }

// Active returns the currently raised alerts.
func (m *AlertManager) Active() AlertSet { return m.active }

// update sends a report when the set changed since the last report or the
// ping period has elapsed.
func (m *AlertManager) update(now, dt float64, index int, sink TelemetrySink) {
	m.sinceSent += dt
	if m.sentOnce && m.active == m.sent && m.sinceSent < m.period-1e-9 {
		return
	}
	sink.SendAlerts(AlertReport{Time: now, Index: index, Alerts: m.active})
	m.sent = m.active
	m.sentOnce = true
	m.sinceSent = 0
}
