package ecu

import "log"

// TankState is the reported mode of a tank controller.
type TankState int

const (
	TankIdle TankState = iota
	TankPressurized
	TankDepressurized
	TankVenting
)

var tankStateNames = []string{"Idle", "Pressurized", "Depressurized", "Venting"}

func (s TankState) String() string                { return textOf(s, tankStateNames) }
func (s TankState) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *TankState) UnmarshalText(b []byte) error { return unmarshalInto(s, b, tankStateNames) }

// TankController drives the press and vent valves of one propellant tank.
//
// A fed tank changes state on command alone. A self-pressurizing tank has
// no press valve, so after pressurize it reports Idle until its pressure
// reaches the configured minimum.
type TankController struct {
	name   string
	cfg    TankConfig
	press  Output
	vent   Output
	sensor Sensor

	state   TankState
	timer   float64
	lastCmd *Command
	// pressurizing is set between a pressurize and the next depressurize.
	pressurizing bool
}

func newTankController(name string, cfg TankConfig, press, vent Output, sensor Sensor) *TankController {
	return &TankController{name: name, cfg: cfg, press: press, vent: vent, sensor: sensor}
}

// State returns the current mode.
func (t *TankController) State() TankState { return t.state }

// TimeInState is the simulated time since the last transition.
func (t *TankController) TimeInState() float64 { return t.timer }

// LastCommand returns the most recent command handled, if any.
func (t *TankController) LastCommand() (Command, bool) {
	if t.lastCmd == nil {
		return Command{}, false
	}
	return *t.lastCmd, true
}

func (t *TankController) setState(e *ECU, s TankState) {
	if s == t.state {
		return
	}
	log.Printf("%s: %s -> %s (t=%.3fs)", t.name, t.state, s, e.time)
	t.state = s
	t.timer = 0
}

func (t *TankController) command(e *ECU, c Command) {
	t.lastCmd = &c
	t.pressurizing = c.Enable
	if c.Enable {
		if !t.cfg.SelfPressurizing {
			e.driver.SetOutput(t.press, true)
		}
		e.driver.SetOutput(t.vent, false)
	} else {
		if !t.cfg.SelfPressurizing {
			e.driver.SetOutput(t.press, false)
		}
		e.driver.SetOutput(t.vent, true)
	}
	t.evaluate(e)
}

func (t *TankController) evaluate(e *ECU) {
	if t.lastCmd == nil {
		return
	}
	if !t.cfg.SelfPressurizing {
		if t.pressurizing {
			t.setState(e, TankPressurized)
		} else {
			t.setState(e, TankDepressurized)
		}
		return
	}

	p := e.driver.Sensor(t.sensor)
	switch {
	case t.pressurizing && p >= t.cfg.PressMinThresholdPa:
		t.setState(e, TankPressurized)
	case t.pressurizing && t.state != TankPressurized:
		t.setState(e, TankIdle)
	case !t.pressurizing && t.state != TankDepressurized:
		if t.cfg.VentedThresholdPa > 0 && p <= t.cfg.VentedThresholdPa {
			t.setState(e, TankDepressurized)
		} else {
			t.setState(e, TankVenting)
		}
	}
}

func (t *TankController) update(e *ECU, dt float64) {
	t.timer += dt
	t.evaluate(e)
}
