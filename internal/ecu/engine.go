package ecu

import (
	"log"
	"math"
)

// EngineState is the reported mode of the engine controller.
type EngineState int

const (
	EngineIdle EngineState = iota
	EnginePumpStartup
	EngineIgniterStartup
	EngineStartup
	EngineFiring
	EngineShutdown
)

var engineStateNames = []string{"Idle", "PumpStartup", "IgniterStartup", "EngineStartup", "Firing", "Shutdown"}

func (s EngineState) String() string                { return textOf(s, engineStateNames) }
func (s EngineState) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *EngineState) UnmarshalText(b []byte) error { return unmarshalInto(s, b, engineStateNames) }

const engineAlerts = AlertSet(AlertEngineTankOffNominal) |
	AlertSet(AlertEnginePumpOffNominal) |
	AlertSet(AlertEngineStartupPumpTimeout) |
	AlertSet(AlertEngineStartupIgniterTimeout) |
	AlertSet(AlertEngineStartupIgniterAnomaly) |
	AlertSet(AlertEngineStartupTimeout) |
	AlertSet(AlertEngineChamberPressureOffNominal) |
	AlertSet(AlertEngineShutdownTimerExpired)

// EngineController sequences a main-engine firing. It does not drive the
// pumps or igniter directly; it issues commands that the ECU dispatches to
// their controllers on the next tick.
type EngineController struct {
	cfg     EngineConfig
	state   EngineState
	timer   float64
	lastCmd *Command
}

func newEngineController(cfg EngineConfig) *EngineController {
	return &EngineController{cfg: cfg}
}

// State returns the current mode.
func (g *EngineController) State() EngineState { return g.state }

// TimeInState is the simulated time since the last transition.
func (g *EngineController) TimeInState() float64 { return g.timer }

// LastCommand returns the most recent engine command, if any.
func (g *EngineController) LastCommand() (Command, bool) {
	if g.lastCmd == nil {
		return Command{}, false
	}
	return *g.lastCmd, true
}

func (g *EngineController) active() bool {
	return g.state != EngineIdle && g.state != EngineShutdown
}

func (g *EngineController) fire(e *ECU, c Command) {
	g.lastCmd = &c
	if g.state != EngineIdle {
		log.Printf("engine: ignoring %s in %s", c.Kind, g.state)
		return
	}
	e.alerts.ClearAll(engineAlerts)
	if !e.tanksPressurized() {
		log.Printf("engine: refusing to fire, tanks not pressurized")
		e.alerts.Set(AlertEngineTankOffNominal)
		return
	}
	if g.cfg.UsePumps {
		g.enter(e, EnginePumpStartup)
	} else {
		g.enter(e, EngineIgniterStartup)
	}
}

func (g *EngineController) stop(e *ECU, c Command) {
	g.lastCmd = &c
	if !g.active() {
		return
	}
	log.Printf("engine: shutdown commanded in %s", g.state)
	g.enter(e, EngineShutdown)
}

func (g *EngineController) enter(e *ECU, s EngineState) {
	log.Printf("engine: %s -> %s (t=%.3fs)", g.state, s, e.time)
	g.state = s
	g.timer = 0

	switch s {
	case EnginePumpStartup:
		e.enqueue(Command{Kind: CmdSetFuelPump, Index: e.cfg.Index, Enable: true})
		e.enqueue(Command{Kind: CmdSetOxidizerPump, Index: e.cfg.Index, Enable: true})
	case EngineIgniterStartup:
		e.enqueue(Command{Kind: CmdFireIgniter, Index: e.cfg.Index})
	case EngineStartup:
		e.driver.SetOutput(OutputEngineFuelValve, true)
		e.driver.SetOutput(OutputEngineOxidizerValve, true)
	case EngineShutdown:
		e.driver.SetOutput(OutputEngineFuelValve, false)
		e.driver.SetOutput(OutputEngineOxidizerValve, false)
		if g.cfg.UsePumps {
			e.enqueue(Command{Kind: CmdSetFuelPump, Index: e.cfg.Index, Enable: false})
			e.enqueue(Command{Kind: CmdSetOxidizerPump, Index: e.cfg.Index, Enable: false})
		}
		e.igniter.abort(e)
	}
}

func (g *EngineController) shutdown(e *ECU, a Alert) {
	log.Printf("engine: abort: %s", a)
	e.alerts.Set(a)
	g.enter(e, EngineShutdown)
}

// pumpsWithin reports whether both pumps are running with outlet pressures
// inside tol of the injector setpoints. Without pumps it is always true.
func (g *EngineController) pumpsWithin(e *ECU, tol float64) bool {
	if !g.cfg.UsePumps {
		return true
	}
	if e.fuelPump.State() != PumpPumping || e.oxidizerPump.State() != PumpPumping {
		return false
	}
	fuel := e.driver.Sensor(SensorFuelPumpOutletPressure) - g.cfg.FuelInjectorPressureSetpointPa
	ox := e.driver.Sensor(SensorOxidizerPumpOutletPressure) - g.cfg.OxidizerInjectorPressureSetpointPa
	return math.Abs(fuel) < tol && math.Abs(ox) < tol
}

func (g *EngineController) chamberDeviation(e *ECU) float64 {
	return math.Abs(e.driver.Sensor(SensorEngineChamberPressure) - g.cfg.TargetChamberPressurePa)
}

func (g *EngineController) update(e *ECU, dt float64) {
	g.timer += dt

	if g.active() && !e.tanksPressurized() {
		g.shutdown(e, AlertEngineTankOffNominal)
		return
	}

	switch g.state {
	case EnginePumpStartup:
		switch {
		case g.pumpsWithin(e, g.cfg.InjectorStartupTolerancePa):
			g.enter(e, EngineIgniterStartup)
		case g.timer >= g.cfg.PumpStartupTimeoutS:
			g.shutdown(e, AlertEngineStartupPumpTimeout)
		}

	case EngineIgniterStartup:
		switch {
		case !g.pumpsWithin(e, g.cfg.InjectorRunningTolerancePa):
			g.shutdown(e, AlertEnginePumpOffNominal)
		case e.igniter.State() == IgniterFiring:
			g.enter(e, EngineStartup)
		case e.igniter.State() == IgniterShutdown:
			g.shutdown(e, AlertEngineStartupIgniterAnomaly)
		case g.timer >= g.cfg.IgniterStartupTimeoutS:
			g.shutdown(e, AlertEngineStartupIgniterTimeout)
		}

	case EngineStartup:
		switch {
		case !g.pumpsWithin(e, g.cfg.InjectorRunningTolerancePa):
			g.shutdown(e, AlertEnginePumpOffNominal)
		case g.chamberDeviation(e) < g.cfg.ChamberPressureTolerancePa:
			g.enter(e, EngineFiring)
		case g.timer >= g.cfg.EngineStartupTimeoutS:
			g.shutdown(e, AlertEngineStartupTimeout)
		}

	case EngineFiring:
		switch {
		case !g.pumpsWithin(e, g.cfg.InjectorRunningTolerancePa):
			g.shutdown(e, AlertEnginePumpOffNominal)
		case g.chamberDeviation(e) > g.cfg.ChamberPressureTolerancePa:
			g.shutdown(e, AlertEngineChamberPressureOffNominal)
		case g.cfg.FiringDurationS != nil && g.timer >= *g.cfg.FiringDurationS:
			g.shutdown(e, AlertEngineShutdownTimerExpired)
		}

	case EngineShutdown:
		if g.timer >= g.cfg.ShutdownDurationS {
			g.enter(e, EngineIdle)
		}
	}
}
