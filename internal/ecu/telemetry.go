package ecu

import "fmt"

// Telemetry is one sampled frame of controller and sensor state.
type Telemetry struct {
	Time              float64            `json:"time_s"`
	Index             int                `json:"index"`
	IgniterState      IgniterState       `json:"igniter_state"`
	EngineState       EngineState        `json:"engine_state"`
	FuelTankState     TankState          `json:"fuel_tank_state"`
	OxidizerTankState TankState          `json:"oxidizer_tank_state"`
	FuelPumpState     PumpState          `json:"fuel_pump_state"`
	OxidizerPumpState PumpState          `json:"oxidizer_pump_state"`
	Sparking          bool               `json:"sparking"`
	Valves            map[string]bool    `json:"valves"`
	Sensors           map[string]float64 `json:"sensors"`
	Alerts            AlertSet           `json:"alerts"`
}

// Sensor returns a named reading from the frame.
func (t Telemetry) Sensor(s Sensor) float64 { return t.Sensors[s.String()] }

// Valve returns a named valve state from the frame.
func (t Telemetry) Valve(o Output) bool { return t.Valves[o.String()] }

// States returns the subsystem modes by name, for consumers that track
// transitions without knowing the enum types.
func (t Telemetry) States() map[string]string {
	return map[string]string{
		"igniter":       t.IgniterState.String(),
		"engine":        t.EngineState.String(),
		"fuel_tank":     t.FuelTankState.String(),
		"oxidizer_tank": t.OxidizerTankState.String(),
		"fuel_pump":     t.FuelPumpState.String(),
		"oxidizer_pump": t.OxidizerPumpState.String(),
	}
}

// Subsystems lists the keys of States in a stable order.
var Subsystems = []string{"fuel_tank", "oxidizer_tank", "fuel_pump", "oxidizer_pump", "igniter", "engine"}

// Transition is one subsystem changing mode between two frames.
type Transition struct {
	Time      float64 `json:"time_s"`
	Subsystem string  `json:"subsystem"`
	From      string  `json:"from"`
	To        string  `json:"to"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%8.3fs %-13s %s -> %s", t.Time, t.Subsystem, t.From, t.To)
}

// Transitions lists the mode changes from prev to next in Subsystems order,
// stamped with next's time.
func Transitions(prev, next Telemetry) []Transition {
	a, b := prev.States(), next.States()
	var out []Transition
	for _, name := range Subsystems {
		if a[name] != b[name] {
			out = append(out, Transition{Time: next.Time, Subsystem: name, From: a[name], To: b[name]})
		}
	}
	return out
}

// modeSet is every controller state at one instant.
type modeSet struct {
	igniter      IgniterState
	engine       EngineState
	fuelTank     TankState
	oxidizerTank TankState
	fuelPump     PumpState
	oxidizerPump PumpState
}

func (e *ECU) modes() modeSet {
	var m modeSet
	if e.igniter != nil {
		m.igniter = e.igniter.State()
	}
	if e.engine != nil {
		m.engine = e.engine.State()
	}
	if e.fuelTank != nil {
		m.fuelTank = e.fuelTank.State()
	}
	if e.oxidizerTank != nil {
		m.oxidizerTank = e.oxidizerTank.State()
	}
	if e.fuelPump != nil {
		m.fuelPump = e.fuelPump.State()
	}
	if e.oxidizerPump != nil {
		m.oxidizerPump = e.oxidizerPump.State()
	}
	return m
}

func (e *ECU) snapshot() Telemetry {
	m := e.modes()
	t := Telemetry{
		Time:              e.time,
		Index:             e.cfg.Index,
		IgniterState:      m.igniter,
		EngineState:       m.engine,
		FuelTankState:     m.fuelTank,
		OxidizerTankState: m.oxidizerTank,
		FuelPumpState:     m.fuelPump,
		OxidizerPumpState: m.oxidizerPump,
		Sparking:          e.driver.Sparking(),
		Valves:            make(map[string]bool, len(outputNames)),
		Sensors:           make(map[string]float64, len(sensorNames)),
		Alerts:            e.alerts.Active(),
	}
	for _, o := range AllOutputs() {
		t.Valves[o.String()] = e.driver.Output(o)
	}
	for _, s := range AllSensors() {
		t.Sensors[s.String()] = e.driver.Sensor(s)
	}
	return t
}
