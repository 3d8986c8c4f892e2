// Package ecu is the engine control unit: the tank, pump, igniter and engine
// state machines that turn commands and sensor readings into valve, spark and
// pump outputs.
//
// The ECU is driven by explicit Update(dt) calls and keeps its own
// simulated clock. All timeouts compare against that clock, never against
// wall time, so the same logic runs identically in batch simulation and in
// lockstep with a real stand.
package ecu

import (
	"fmt"
	"log"
)

// ECU owns one set of controllers for a single engine index.
type ECU struct {
	cfg    Config
	driver Driver
	source CommandSource
	sink   TelemetrySink
	alerts *AlertManager

	// queue holds commands issued by controllers; they run next tick.
	queue CommandQueue

	time           float64
	sinceTelemetry float64
	telemetrySent  bool
	sentModes      modeSet
	armed          bool

	fuelTank     *TankController
	oxidizerTank *TankController
	fuelPump     *PumpController
	oxidizerPump *PumpController
	igniter      *IgniterController
	engine       *EngineController
}

// New validates cfg and builds the controllers. A nil source or sink is
// replaced with an empty queue or DiscardSink.
func New(cfg Config, driver Driver, source CommandSource, sink TelemetrySink) (*ECU, error) {
	if driver == nil {
		return nil, fmt.Errorf("ecu: nil driver")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ecu: %w", err)
	}
	if cfg.TelemetryRateS == 0 {
		cfg.TelemetryRateS = DefaultTelemetryRateS
	}
	if source == nil {
		source = &CommandQueue{}
	}
	if sink == nil {
		sink = DiscardSink{}
	}

	e := &ECU{
		cfg:    cfg,
		driver: driver,
		source: source,
		sink:   sink,
		alerts: NewAlertManager(cfg.AlertPingS),
	}
	if cfg.FuelTank != nil {
		e.fuelTank = newTankController("fuel tank", *cfg.FuelTank,
			OutputFuelPressValve, OutputFuelVentValve, SensorFuelTankPressure)
	}
	if cfg.OxidizerTank != nil {
		e.oxidizerTank = newTankController("oxidizer tank", *cfg.OxidizerTank,
			OutputOxidizerPressValve, OutputOxidizerVentValve, SensorOxidizerTankPressure)
	}
	if cfg.FuelPump != nil {
		e.fuelPump = newPumpController(FuelPump, *cfg.FuelPump)
	}
	if cfg.OxidizerPump != nil {
		e.oxidizerPump = newPumpController(OxidizerPump, *cfg.OxidizerPump)
	}
	if cfg.Igniter != nil {
		e.igniter = newIgniterController(*cfg.Igniter)
	}
	if cfg.Engine != nil {
		e.engine = newEngineController(*cfg.Engine)
	}
	if cfg.Debug {
		e.alerts.Set(AlertDebugModeEnabled)
	}
	return e, nil
}

// Time returns the ECU's simulated clock.
func (e *ECU) Time() float64 { return e.time }

// Index returns the engine index this ECU answers to.
func (e *ECU) Index() int { return e.cfg.Index }

// Armed reports whether arm_vehicle has been received.
func (e *ECU) Armed() bool { return e.armed }

// Alerts returns the active alert set.
func (e *ECU) Alerts() AlertSet { return e.alerts.Active() }

// ClearAlerts lowers every latched alert except DebugModeEnabled.
func (e *ECU) ClearAlerts() {
	e.alerts.ClearAll(^AlertSet(AlertDebugModeEnabled))
}

// The accessors below return nil for a subsystem the stand does not have.

func (e *ECU) FuelTank() *TankController     { return e.fuelTank }
func (e *ECU) OxidizerTank() *TankController { return e.oxidizerTank }
func (e *ECU) FuelPump() *PumpController     { return e.fuelPump }
func (e *ECU) OxidizerPump() *PumpController { return e.oxidizerPump }
func (e *ECU) Igniter() *IgniterController   { return e.igniter }
func (e *ECU) Engine() *EngineController     { return e.engine }

// Idle reports whether no sequence is running and it is safe to rebuild
// the stand.
func (e *ECU) Idle() bool {
	if e.igniter != nil && e.igniter.State() != IgniterIdle {
		return false
	}
	if e.engine != nil && e.engine.State() != EngineIdle {
		return false
	}
	return e.queue.Len() == 0
}

// Snapshot samples the current telemetry frame without sending it.
func (e *ECU) Snapshot() Telemetry { return e.snapshot() }

func (e *ECU) enqueue(c Command) { e.queue.Push(c) }

// tanksPressurized is true when every configured tank reports Pressurized.
// An absent tank does not block.
func (e *ECU) tanksPressurized() bool {
	for _, t := range []*TankController{e.fuelTank, e.oxidizerTank} {
		if t != nil && t.State() != TankPressurized {
			return false
		}
	}
	return true
}

// Update advances the ECU by dt seconds of simulated time.
func (e *ECU) Update(dt float64) {
	e.time += dt

	// Commands queued by controllers last tick go first, then anything new
	// from outside. Controllers may queue more while these run; those wait
	// for the next tick.
	pending := e.queue.take()
	for {
		c, ok := e.source.NextCommand()
		if !ok {
			break
		}
		if c.Index != e.cfg.Index {
			continue
		}
		pending = append(pending, c)
	}
	for _, c := range pending {
		e.dispatch(c)
	}

	if e.engine != nil {
		e.engine.update(e, dt)
	}
	if e.igniter != nil {
		e.igniter.update(e, dt)
	}
	if e.fuelTank != nil {
		e.fuelTank.update(e, dt)
	}
	if e.oxidizerTank != nil {
		e.oxidizerTank.update(e, dt)
	}
	if e.fuelPump != nil {
		e.fuelPump.update(dt)
	}
	if e.oxidizerPump != nil {
		e.oxidizerPump.update(dt)
	}

	if e.cfg.Debug {
		e.alerts.Set(AlertDebugModeEnabled)
	}
	e.alerts.update(e.time, dt, e.cfg.Index, e.sink)

	// A mode change goes out on the tick it happens, between periodic
	// frames, so states shorter than the period still reach observers.
	m := e.modes()
	e.sinceTelemetry += dt
	if !e.telemetrySent || m != e.sentModes || e.sinceTelemetry >= e.cfg.TelemetryRateS-1e-9 {
		e.sink.SendTelemetry(e.snapshot())
		e.sinceTelemetry = 0
		e.telemetrySent = true
		e.sentModes = m
	}
}

func (e *ECU) dispatch(c Command) {
	switch c.Kind {
	case CmdSetFuelTank:
		e.tankCommand(e.fuelTank, c)
	case CmdSetOxidizerTank:
		e.tankCommand(e.oxidizerTank, c)
	case CmdSetFuelPump:
		e.pumpCommand(e.fuelPump, c)
	case CmdSetOxidizerPump:
		e.pumpCommand(e.oxidizerPump, c)
	case CmdFireIgniter:
		if e.igniter == nil {
			log.Printf("ecu: %s: no igniter configured", c)
			return
		}
		e.igniter.fire(e, c)
	case CmdFireEngine:
		if e.engine == nil {
			log.Printf("ecu: %s: no engine configured", c)
			return
		}
		e.engine.fire(e, c)
	case CmdShutdownEngine:
		if e.engine != nil {
			e.engine.stop(e, c)
		}
	case CmdArmVehicle:
		e.armed = true
		log.Printf("ecu: vehicle armed (t=%.3fs)", e.time)
	case CmdIgniteSolidMotor:
		// The solid motor belongs to the flight computer; the ECU only
		// acknowledges the command.
		log.Printf("ecu: %s ignored, no solid motor on this controller", c)
	default:
		log.Printf("ecu: unknown command %s", c)
	}
}

func (e *ECU) tankCommand(t *TankController, c Command) {
	if t == nil {
		log.Printf("ecu: %s: tank not configured", c)
		return
	}
	t.command(e, c)
}

func (e *ECU) pumpCommand(p *PumpController, c Command) {
	if p == nil {
		log.Printf("ecu: %s: pump not configured", c)
		return
	}
	p.command(e, c.Enable)
}
