package ecu

import "log"

// IgniterState is the reported mode of the igniter controller.
type IgniterState int

const (
	IgniterIdle IgniterState = iota
	IgniterStartup
	IgniterFiring
	IgniterShutdown
)

var igniterStateNames = []string{"Idle", "Startup", "Firing", "Shutdown"}

func (s IgniterState) String() string                { return textOf(s, igniterStateNames) }
func (s IgniterState) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *IgniterState) UnmarshalText(b []byte) error { return unmarshalInto(s, b, igniterStateNames) }

const igniterAlerts = AlertSet(AlertIgniterTankOffNominal) |
	AlertSet(AlertIgniterStartupTimeout) |
	AlertSet(AlertIgniterThroatOverheat)

// IgniterController sequences the torch igniter: open both valves with the
// spark on, wait for stable chamber pressure, fire for a fixed time, then
// close everything.
type IgniterController struct {
	cfg     IgniterConfig
	state   IgniterState
	timer   float64
	stable  float64
	lastCmd *Command
}

func newIgniterController(cfg IgniterConfig) *IgniterController {
	return &IgniterController{cfg: cfg}
}

// State returns the current mode.
func (g *IgniterController) State() IgniterState { return g.state }

// TimeInState is the simulated time since the last transition.
func (g *IgniterController) TimeInState() float64 { return g.timer }

// LastCommand returns the most recent fire command, if any.
func (g *IgniterController) LastCommand() (Command, bool) {
	if g.lastCmd == nil {
		return Command{}, false
	}
	return *g.lastCmd, true
}

func (g *IgniterController) fire(e *ECU, c Command) {
	g.lastCmd = &c
	switch {
	case g.state != IgniterIdle:
		log.Printf("igniter: ignoring %s in %s", c.Kind, g.state)
	case !e.tanksPressurized():
		log.Printf("igniter: refusing to fire, tanks not pressurized")
	case g.throatTooHot(e):
		log.Printf("igniter: refusing to fire, throat at %.0f K", e.driver.Sensor(SensorIgniterThroatTemperature))
	default:
		e.alerts.ClearAll(igniterAlerts)
		g.enter(e, IgniterStartup)
	}
}

// abort moves an active sequence to Shutdown without raising an alert.
func (g *IgniterController) abort(e *ECU) {
	if g.state == IgniterStartup || g.state == IgniterFiring {
		g.enter(e, IgniterShutdown)
	}
}

func (g *IgniterController) enter(e *ECU, s IgniterState) {
	log.Printf("igniter: %s -> %s (t=%.3fs)", g.state, s, e.time)
	g.state = s
	g.timer = 0
	g.stable = 0

	d := e.driver
	switch s {
	case IgniterStartup:
		d.SetOutput(OutputIgniterFuelValve, true)
		d.SetOutput(OutputIgniterOxidizerValve, true)
		d.SetSparking(true)
	case IgniterFiring:
		d.SetOutput(OutputIgniterFuelValve, true)
		d.SetOutput(OutputIgniterOxidizerValve, true)
		d.SetSparking(false)
	case IgniterShutdown, IgniterIdle:
		d.SetOutput(OutputIgniterFuelValve, false)
		d.SetOutput(OutputIgniterOxidizerValve, false)
		d.SetSparking(false)
	}
}

func (g *IgniterController) throatTooHot(e *ECU) bool {
	return e.driver.Sensor(SensorIgniterThroatTemperature) > g.cfg.MaxThroatTempK
}

func (g *IgniterController) shutdown(e *ECU, a Alert) {
	log.Printf("igniter: abort: %s", a)
	e.alerts.Set(a)
	g.enter(e, IgniterShutdown)
}

func (g *IgniterController) update(e *ECU, dt float64) {
	g.timer += dt

	switch g.state {
	case IgniterStartup:
		if e.driver.Sensor(SensorIgniterChamberPressure) >= g.cfg.StartupPressureThresholdPa {
			g.stable += dt
		} else {
			g.stable = 0
		}
		switch {
		case !e.tanksPressurized():
			g.shutdown(e, AlertIgniterTankOffNominal)
		case g.throatTooHot(e):
			g.shutdown(e, AlertIgniterThroatOverheat)
		case g.stable >= g.cfg.StartupStableTimeS:
			g.enter(e, IgniterFiring)
		case g.timer >= g.cfg.StartupTimeoutS:
			g.shutdown(e, AlertIgniterStartupTimeout)
		}

	case IgniterFiring:
		switch {
		case !e.tanksPressurized():
			g.shutdown(e, AlertIgniterTankOffNominal)
		case g.throatTooHot(e):
			g.shutdown(e, AlertIgniterThroatOverheat)
		case g.timer >= g.cfg.TestFiringDurationS:
			g.enter(e, IgniterShutdown)
		}

	case IgniterShutdown:
		if g.timer >= g.cfg.ShutdownDurationS {
			g.enter(e, IgniterIdle)
		}
	}
}
