// Package sim assembles a stand configuration into a closed loop: the
// dynamics model, a simulated hardware driver, the ECU, and a scheduler that
// steps them on one simulated clock.
package sim

import (
	"fmt"
	"log"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/dynamics"
	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/fluid"
)

// Scenario is one built stand: every dynamics component, the ECU on a
// simulated driver, and the runner that steps them.
type Scenario struct {
	Stand    *config.Stand
	Net      *dynamics.Network
	Manager  *dynamics.Manager
	Plant    *Plant
	Driver   *Driver
	ECU      *ecu.ECU
	Runner   *Runner
	Script   *ScriptedCommands
	Timeline *Timeline
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	sources []ecu.CommandSource
	sinks   []ecu.TelemetrySink
	// chamber pressure hooks by chamber name
	modifiers map[string]func(float64) float64
}

// WithCommandSource adds an external command source, drained after the
// scripted events.
func WithCommandSource(src ecu.CommandSource) Option {
	return func(o *buildOptions) { o.sources = append(o.sources, src) }
}

// WithSink adds a telemetry sink after the run timeline.
func WithSink(sink ecu.TelemetrySink) Option {
	return func(o *buildOptions) { o.sinks = append(o.sinks, sink) }
}

// WithPressureModifier installs fn as the pressure hook of the "igniter" or
// "engine" chamber.
func WithPressureModifier(chamber string, fn func(pc float64) float64) Option {
	return func(o *buildOptions) { o.modifiers[chamber] = fn }
}

// side is the plumbing of one propellant: the tank outlet and every tap
// hanging off it.
type side struct {
	name   string
	tank   *dynamics.Tank
	liquid fluid.Liquid
	outlet dynamics.ConnID
	taps   []dynamics.ConnID
}

func (s *side) tap(net *dynamics.Network, consumer string) dynamics.ConnID {
	id := net.Add(s.name+"_"+consumer+"_inlet", fluid.AtmosphericPressure)
	s.taps = append(s.taps, id)
	return id
}

// Build constructs the scenario for stand. Components are registered in
// dependency order: tanks, splitters, pumps, igniter, engine, so each reads
// pressures its upstream neighbors wrote in the same tick.
func Build(stand *config.Stand, opts ...Option) (*Scenario, error) {
	if err := stand.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions{modifiers: map[string]func(float64) float64{}}
	for _, opt := range opts {
		opt(&o)
	}

	sc := &Scenario{
		Stand:   stand,
		Net:     dynamics.NewNetwork(),
		Manager: dynamics.NewManager(),
		Plant:   &Plant{},
	}
	sc.Driver = NewDriver(sc.Plant, stand.Noise)

	fuel := &side{name: "fuel"}
	ox := &side{name: "oxidizer"}
	if err := sc.buildTanks(fuel, ox); err != nil {
		return nil, err
	}

	// Taps: pumps and igniter always draw at tank pressure; the engine draws
	// from the pump outlets when it uses pumps.
	usePumps := stand.Engine != nil && stand.Engine.Controller.UsePumps
	var fuelPumpIn, oxPumpIn dynamics.ConnID
	if stand.FuelPump != nil {
		fuelPumpIn = fuel.tap(sc.Net, "pump")
	}
	if stand.OxidizerPump != nil {
		oxPumpIn = ox.tap(sc.Net, "pump")
	}
	var ignFuel, ignOx dynamics.ConnID
	if stand.Igniter != nil {
		ignFuel, ignOx = fuel.tap(sc.Net, "igniter"), ox.tap(sc.Net, "igniter")
	}
	var engFuel, engOx dynamics.ConnID
	if stand.Engine != nil && !usePumps {
		engFuel, engOx = fuel.tap(sc.Net, "engine"), ox.tap(sc.Net, "engine")
	}
	for _, s := range []*side{fuel, ox} {
		if s.tank != nil && len(s.taps) > 0 {
			sc.Manager.Register(s.name+"_splitter", dynamics.NewSplitter(sc.Net, s.outlet, s.taps...))
		}
	}

	var err error
	if stand.FuelPump != nil {
		out := sc.Net.Add("fuel_pump_outlet", fluid.AtmosphericPressure)
		if sc.Plant.FuelPump, err = sc.addPump("fuel_pump", fuelPumpIn, out, stand.FuelPump); err != nil {
			return nil, err
		}
		if usePumps {
			engFuel = out
		}
	}
	if stand.OxidizerPump != nil {
		out := sc.Net.Add("oxidizer_pump_outlet", fluid.AtmosphericPressure)
		if sc.Plant.OxidizerPump, err = sc.addPump("oxidizer_pump", oxPumpIn, out, stand.OxidizerPump); err != nil {
			return nil, err
		}
		if usePumps {
			engOx = out
		}
	}

	if stand.Igniter != nil {
		sc.Plant.Igniter, err = sc.addChamber("igniter", &stand.Igniter.Chamber, fuel, ox, ignFuel, ignOx)
		if err != nil {
			return nil, err
		}
		sc.Plant.Igniter.IgnitionSource = sc.Driver.Sparking
		sc.Plant.Igniter.PressureModifier = o.modifiers["igniter"]
	}
	if stand.Engine != nil {
		sc.Plant.Engine, err = sc.addChamber("engine", &stand.Engine.Chamber, fuel, ox, engFuel, engOx)
		if err != nil {
			return nil, err
		}
		if ign := sc.Plant.Igniter; ign != nil {
			sc.Plant.Engine.IgnitionSource = ign.Burning
		}
		sc.Plant.Engine.PressureModifier = o.modifiers["engine"]
	}
	if stand.Noise.Enabled() {
		sc.Manager.Register("sensor_noise", dynamics.ComponentFunc(sc.Driver.advance))
	}

	sc.Script = NewScriptedCommands(stand.Events)
	sc.Timeline = NewTimeline()
	source := append(ecu.MultiSource{sc.Script}, o.sources...)
	sink := append(ecu.MultiSink{sc.Timeline}, o.sinks...)

	sc.ECU, err = ecu.New(stand.ECUConfig(), sc.Driver, source, sink)
	if err != nil {
		return nil, fmt.Errorf("stand %s: %w", stand.Name, err)
	}
	sc.Script.SetClock(sc.ECU.Time)

	sc.Runner, err = NewRunner(sc.Manager, sc.ECU, stand.PhysicsDtS, stand.ControllerPeriodS)
	if err != nil {
		return nil, err
	}
	log.Printf("sim: built stand %q with %d components on %d connections", stand.Name, len(sc.Manager.Names()), sc.Net.Len())
	return sc, nil
}

// buildTanks adds both tanks. A tank fed from the other tank's ullage is
// registered after its source, reading it through an ullage tap.
func (sc *Scenario) buildTanks(fuel, ox *side) error {
	stand := sc.Stand
	order := []*side{fuel, ox}
	if t := stand.FuelTank; t != nil && t.Feed != nil && t.Feed.FromTank == "oxidizer" {
		order = []*side{ox, fuel}
	}
	ullage := map[string]dynamics.ConnID{}
	for _, s := range order {
		cfg := stand.FuelTank
		if s == ox {
			cfg = stand.OxidizerTank
		}
		if cfg == nil {
			continue
		}
		var source dynamics.ConnID
		if cfg.Feed != nil && cfg.Feed.FromTank != "" {
			source = ullage[cfg.Feed.FromTank]
			if source == dynamics.NoConn {
				return fmt.Errorf("%s_tank: pressurant source %s_tank was not built first", s.name, cfg.Feed.FromTank)
			}
		}
		tank, err := sc.addTank(s, cfg, source)
		if err != nil {
			return err
		}
		if s == fuel {
			sc.Plant.FuelTank = tank
		} else {
			sc.Plant.OxidizerTank = tank
		}

		// Ullage tap for a tank that pressurizes the other one. The
		// pressurant drawn through it is not taken from this tank's ullage.
		other := stand.OxidizerTank
		if s == ox {
			other = stand.FuelTank
		}
		if other != nil && other.Feed != nil && other.Feed.FromTank == s.name {
			id := sc.Net.Add(s.name+"_tank_ullage", tank.Pressure())
			sc.Manager.Register(s.name+"_tank_ullage", dynamics.ComponentFunc(func(float64) {
				sc.Net.SetPressure(id, tank.Pressure())
			}))
			ullage[s.name] = id
		}
	}
	return nil
}

func (sc *Scenario) addTank(s *side, t *config.Tank, source dynamics.ConnID) (*dynamics.Tank, error) {
	name := s.name + "_tank"
	liquid, err := sc.Stand.Liquid(t.Propellant)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	cfg := dynamics.TankConfig{
		Name:             name,
		Propellant:       liquid,
		Vent:             t.Vent,
		VolumeM3:         t.VolumeM3,
		PropellantMassKg: t.PropellantMassKg,
		InitialPressure:  t.InitialPressurePa,
		TemperatureK:     t.TemperatureK,
		BoilOffRate:      t.BoilOffRate,
		Outlet:           sc.Net.Add(name+"_outlet", fluid.AtmosphericPressure),
	}
	if t.Feed != nil {
		gas, err := sc.Stand.Gas(t.Feed.Gas)
		if err != nil {
			return nil, fmt.Errorf("%s.feed: %w", name, err)
		}
		cfg.Feed = &dynamics.FeedConfig{
			PressurePa:   t.Feed.PressurePa,
			SetpointPa:   t.Feed.SetpointPa,
			Gas:          gas,
			Orifice:      t.Feed.Orifice,
			TemperatureK: t.Feed.TemperatureK,
			Source:       source,
		}
	} else {
		if cfg.Vapor, err = sc.Stand.Gas(t.Vapor); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	tank, err := dynamics.NewTank(sc.Net, cfg)
	if err != nil {
		return nil, err
	}
	sc.Manager.Register(name, tank)
	s.tank, s.liquid, s.outlet = tank, liquid, cfg.Outlet
	return tank, nil
}

func (sc *Scenario) addPump(name string, in, out dynamics.ConnID, p *config.Pump) (*dynamics.Pump, error) {
	pump, err := dynamics.NewPump(sc.Net, dynamics.PumpConfig{
		Name:           name,
		Inlet:          in,
		Outlet:         out,
		PressureRisePa: p.PressureRisePa,
	})
	if err != nil {
		return nil, err
	}
	sc.Manager.Register(name, pump)
	return pump, nil
}

func (sc *Scenario) addChamber(name string, c *config.Chamber, fuel, ox *side, fuelIn, oxIn dynamics.ConnID) (*dynamics.Chamber, error) {
	fuelInj, err := sc.injector(name+" fuel injector", c.FuelInjector, fuel)
	if err != nil {
		return nil, err
	}
	oxInj, err := sc.injector(name+" oxidizer injector", c.OxidizerInjector, ox)
	if err != nil {
		return nil, err
	}
	ch, err := dynamics.NewChamber(sc.Net, dynamics.ChamberConfig{
		Name:             name,
		FuelInjector:     fuelInj,
		OxidizerInjector: oxInj,
		FuelInlet:        fuelIn,
		OxidizerInlet:    oxIn,
		ThroatDiameterM:  c.ThroatDiameterM,
		VolumeM3:         c.VolumeM3,
		Combustion:       c.Combustion,
		SustainPressure:  c.SustainPressurePa,
		WallHeatingTau:   c.WallHeatingTauS,
	})
	if err != nil {
		return nil, err
	}
	ch.SetAllowIgnition(sc.Stand.AllowIgnition)
	sc.Manager.Register(name, ch)
	return ch, nil
}

// injector resolves the propellant an injector meters: a named gas, or the
// liquid in the tank on its side.
func (sc *Scenario) injector(what string, inj config.Injector, s *side) (dynamics.InjectorConfig, error) {
	out := dynamics.InjectorConfig{Orifice: inj.OrificeConfig, TemperatureK: inj.TemperatureK}
	if inj.Gas != "" {
		g, err := sc.Stand.Gas(inj.Gas)
		if err != nil {
			return out, fmt.Errorf("%s: %w", what, err)
		}
		out.Gas = &g
		return out, nil
	}
	if s.tank == nil {
		return out, fmt.Errorf("%s: no %s tank to draw from", what, s.name)
	}
	liquid := s.liquid
	out.Liquid = &liquid
	return out, nil
}

// Step advances the scenario by one physics tick.
func (sc *Scenario) Step() { sc.Runner.Step() }

// RunFor advances the scenario by seconds of simulated time.
func (sc *Scenario) RunFor(seconds float64) { sc.Runner.RunFor(seconds) }

// RunUntil advances until cond holds or timeout passes.
func (sc *Scenario) RunUntil(cond func() bool, timeout float64) bool {
	return sc.Runner.RunUntil(cond, timeout)
}

// Summary returns the run summary so far.
func (sc *Scenario) Summary() Summary {
	s := sc.Timeline.Summary(sc.Stand.Name)
	s.DurationS = sc.Runner.Time()
	return s
}
