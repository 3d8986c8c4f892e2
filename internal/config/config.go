// Package config loads stand configurations: the static tree that describes
// a test stand's tanks, pumps, igniter and engine, the controller thresholds
// for each, and an optional script of timed commands.
//
// Stand files are YAML. Every controller section starts from the ecu
// package defaults, so a file only needs to name what it changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/holla2040/hotfire/internal/dynamics"
	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/fluid"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid stand configuration")

// Default scheduler rates.
const (
	DefaultPhysicsDtS        = 0.0005
	DefaultControllerPeriodS = 0.01
)

// Stand is the root of a stand configuration file.
type Stand struct {
	Name              string  `yaml:"name" json:"name"`
	PhysicsDtS        float64 `yaml:"physics_dt_s" json:"physics_dt_s"`
	ControllerPeriodS float64 `yaml:"controller_period_s" json:"controller_period_s"`
	AllowIgnition     bool    `yaml:"allow_ignition" json:"allow_ignition"`
	// RealTimeFactor scales simulated time against the wall clock in the
	// controller service; 1 is lockstep.
	RealTimeFactor float64 `yaml:"real_time_factor" json:"real_time_factor"`

	ECU   ecu.Config `yaml:"ecu" json:"ecu"`
	Noise Noise      `yaml:"sensor_noise" json:"sensor_noise"`

	Gases   []fluid.Gas    `yaml:"gases,omitempty" json:"gases,omitempty"`
	Liquids []fluid.Liquid `yaml:"liquids,omitempty" json:"liquids,omitempty"`

	FuelTank     *Tank    `yaml:"fuel_tank,omitempty" json:"fuel_tank,omitempty"`
	OxidizerTank *Tank    `yaml:"oxidizer_tank,omitempty" json:"oxidizer_tank,omitempty"`
	FuelPump     *Pump    `yaml:"fuel_pump,omitempty" json:"fuel_pump,omitempty"`
	OxidizerPump *Pump    `yaml:"oxidizer_pump,omitempty" json:"oxidizer_pump,omitempty"`
	Igniter      *Igniter `yaml:"igniter,omitempty" json:"igniter,omitempty"`
	Engine       *Engine  `yaml:"engine,omitempty" json:"engine,omitempty"`

	Events []Event `yaml:"events,omitempty" json:"events,omitempty"`

	// ID is derived from the filename, not from YAML.
	ID string `yaml:"-" json:"id"`
}

// Noise configures Gaussian sensor noise in simulation. Zero deviations
// disable it.
type Noise struct {
	PressureStdDevPa   float64 `yaml:"pressure_stddev_pa" json:"pressure_stddev_pa"`
	TemperatureStdDevK float64 `yaml:"temperature_stddev_k" json:"temperature_stddev_k"`
	SamplePeriodS      float64 `yaml:"sample_period_s" json:"sample_period_s"`
	Seed               uint64  `yaml:"seed" json:"seed"`
}

// Enabled reports whether any noise is configured.
func (n Noise) Enabled() bool {
	return n.PressureStdDevPa > 0 || n.TemperatureStdDevK > 0
}

// Tank describes one propellant tank. A tank without a feed is
// self-pressurizing and needs a propellant with a vapor pressure.
type Tank struct {
	Propellant        string                 `yaml:"propellant" json:"propellant"`
	Vapor             string                 `yaml:"vapor,omitempty" json:"vapor,omitempty"`
	VolumeM3          float64                `yaml:"volume_m3" json:"volume_m3"`
	PropellantMassKg  float64                `yaml:"propellant_mass_kg" json:"propellant_mass_kg"`
	InitialPressurePa float64                `yaml:"initial_pressure_pa,omitempty" json:"initial_pressure_pa,omitempty"`
	TemperatureK      float64                `yaml:"temperature_k,omitempty" json:"temperature_k,omitempty"`
	BoilOffRate       float64                `yaml:"boil_off_rate,omitempty" json:"boil_off_rate,omitempty"`
	Feed              *Feed                  `yaml:"feed,omitempty" json:"feed,omitempty"`
	Vent              dynamics.OrificeConfig `yaml:"vent" json:"vent"`
	Controller        ecu.TankConfig         `yaml:"controller" json:"controller"`
}

// Feed is the regulated pressurant supply of a fed tank. FromTank names
// the other tank ("fuel" or "oxidizer") when pressurant is bled from its
// ullage instead of a fixed-pressure bottle.
type Feed struct {
	Gas          string                 `yaml:"gas" json:"gas"`
	PressurePa   float64                `yaml:"pressure_pa,omitempty" json:"pressure_pa,omitempty"`
	SetpointPa   float64                `yaml:"setpoint_pa" json:"setpoint_pa"`
	TemperatureK float64                `yaml:"temperature_k,omitempty" json:"temperature_k,omitempty"`
	Orifice      dynamics.OrificeConfig `yaml:"orifice" json:"orifice"`
	FromTank     string                 `yaml:"from_tank,omitempty" json:"from_tank,omitempty"`
}

// Pump is a feed pump between a tank and the engine injectors.
type Pump struct {
	PressureRisePa float64        `yaml:"pressure_rise_pa" json:"pressure_rise_pa"`
	Controller     ecu.PumpConfig `yaml:"controller" json:"controller"`
}

func (p *Pump) UnmarshalYAML(n *yaml.Node) error {
	type plain Pump
	v := plain{Controller: ecu.DefaultPumpConfig()}
	if err := n.Decode(&v); err != nil {
		return err
	}
	*p = Pump(v)
	return nil
}

// Injector is one injector orifice. Gas, when set, names a gaseous
// propellant; otherwise the injector carries the liquid of the matching
// tank.
type Injector struct {
	dynamics.OrificeConfig `yaml:",inline"`
	Gas                    string  `yaml:"gas,omitempty" json:"gas,omitempty"`
	TemperatureK           float64 `yaml:"temperature_k,omitempty" json:"temperature_k,omitempty"`
}

// Chamber is the geometry shared by the igniter and the engine.
type Chamber struct {
	FuelInjector      Injector                  `yaml:"fuel_injector" json:"fuel_injector"`
	OxidizerInjector  Injector                  `yaml:"oxidizer_injector" json:"oxidizer_injector"`
	ThroatDiameterM   float64                   `yaml:"throat_diameter_m" json:"throat_diameter_m"`
	VolumeM3          float64                   `yaml:"volume_m3" json:"volume_m3"`
	Combustion        dynamics.CombustionConfig `yaml:"combustion" json:"combustion"`
	SustainPressurePa float64                   `yaml:"sustain_pressure_pa,omitempty" json:"sustain_pressure_pa,omitempty"`
	WallHeatingTauS   float64                   `yaml:"wall_heating_tau_s,omitempty" json:"wall_heating_tau_s,omitempty"`
}

// Igniter is the torch igniter and its controller settings.
type Igniter struct {
	Chamber    `yaml:",inline"`
	Controller ecu.IgniterConfig `yaml:"controller" json:"controller"`
}

func (g *Igniter) UnmarshalYAML(n *yaml.Node) error {
	type plain Igniter
	v := plain{Controller: ecu.DefaultIgniterConfig()}
	if err := n.Decode(&v); err != nil {
		return err
	}
	*g = Igniter(v)
	return nil
}

// Engine is the main engine and its controller settings.
type Engine struct {
	Chamber    `yaml:",inline"`
	Controller ecu.EngineConfig `yaml:"controller" json:"controller"`
}

func (e *Engine) UnmarshalYAML(n *yaml.Node) error {
	type plain Engine
	v := plain{Controller: ecu.DefaultEngineConfig()}
	if err := n.Decode(&v); err != nil {
		return err
	}
	*e = Engine(v)
	return nil
}

// Event is a scripted command issued at a simulated time.
type Event struct {
	AtS     float64         `yaml:"at_s" json:"at_s"`
	Command ecu.CommandKind `yaml:"command" json:"command"`
	Enable  bool            `yaml:"enable,omitempty" json:"enable,omitempty"`
	Index   int             `yaml:"index,omitempty" json:"index,omitempty"`
}

// ToCommand converts the event to an ECU command.
func (e Event) ToCommand() ecu.Command {
	return ecu.Command{Kind: e.Command, Index: e.Index, Enable: e.Enable}
}

// Default returns an empty stand with the default rates.
func Default() *Stand {
	return &Stand{
		PhysicsDtS:        DefaultPhysicsDtS,
		ControllerPeriodS: DefaultControllerPeriodS,
		AllowIgnition:     true,
		RealTimeFactor:    1,
		ECU: ecu.Config{
			TelemetryRateS: ecu.DefaultTelemetryRateS,
			AlertPingS:     ecu.DefaultAlertPingPeriodS,
		},
	}
}

// Parse decodes a stand from YAML on top of Default and validates it.
func Parse(data []byte) (*Stand, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing stand: %w", err)
	}
	sort.SliceStable(s.Events, func(i, j int) bool { return s.Events[i].AtS < s.Events[j].AtS })
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads and parses a single stand file. The ID is the filename with
// the extension stripped.
func Load(path string) (*Stand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stand %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Base(path)
	s.ID = strings.TrimSuffix(base, filepath.Ext(base))
	if s.Name == "" {
		s.Name = s.ID
	}
	return s, nil
}

// LoadAll walks dir, loads every .yaml file, and returns the stands sorted
// by ID.
func LoadAll(dir string) ([]*Stand, error) {
	var stands []*Stand
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		s, err := Load(path)
		if err != nil {
			return err
		}
		stands = append(stands, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading stands from %s: %w", dir, err)
	}
	sort.Slice(stands, func(i, j int) bool { return stands[i].ID < stands[j].ID })
	return stands, nil
}

// Gas resolves a gas name against the stand's own table first, then the
// built-in catalog.
func (s *Stand) Gas(name string) (fluid.Gas, error) {
	for _, g := range s.Gases {
		if strings.EqualFold(g.Name, name) {
			return g, nil
		}
	}
	if g, ok := fluid.LookupGas(name); ok {
		return g, nil
	}
	return fluid.Gas{}, fmt.Errorf("unknown gas %q", name)
}

// Liquid resolves a liquid name the same way as Gas.
func (s *Stand) Liquid(name string) (fluid.Liquid, error) {
	for _, l := range s.Liquids {
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}
	if l, ok := fluid.LookupLiquid(name); ok {
		return l, nil
	}
	return fluid.Liquid{}, fmt.Errorf("unknown liquid %q", name)
}

// ECUConfig assembles the controller configuration for this stand.
func (s *Stand) ECUConfig() ecu.Config {
	c := s.ECU
	if s.FuelTank != nil {
		tc := s.FuelTank.Controller
		tc.SelfPressurizing = s.FuelTank.Feed == nil
		c.FuelTank = &tc
	}
	if s.OxidizerTank != nil {
		tc := s.OxidizerTank.Controller
		tc.SelfPressurizing = s.OxidizerTank.Feed == nil
		c.OxidizerTank = &tc
	}
	if s.FuelPump != nil {
		pc := s.FuelPump.Controller
		c.FuelPump = &pc
	}
	if s.OxidizerPump != nil {
		pc := s.OxidizerPump.Controller
		c.OxidizerPump = &pc
	}
	if s.Igniter != nil {
		ic := s.Igniter.Controller
		c.Igniter = &ic
	}
	if s.Engine != nil {
		ec := s.Engine.Controller
		c.Engine = &ec
	}
	return c
}

// Validate checks the stand for problems that would stop it from being
// built and reports all of them together.
func (s *Stand) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if s.PhysicsDtS <= 0 {
		add("physics_dt_s must be positive")
	}
	if s.ControllerPeriodS < s.PhysicsDtS {
		add("controller_period_s must not be shorter than physics_dt_s")
	}
	if s.RealTimeFactor < 0 {
		add("real_time_factor must not be negative")
	}
	for _, g := range s.Gases {
		if err := g.Validate(); err != nil {
			add("%v", err)
		}
	}
	for _, l := range s.Liquids {
		if err := l.Validate(); err != nil {
			add("%v", err)
		}
	}

	s.validateTank("fuel_tank", s.FuelTank, add)
	s.validateTank("oxidizer_tank", s.OxidizerTank, add)
	if s.FuelTank == nil && s.OxidizerTank == nil && (s.Igniter != nil || s.Engine != nil) {
		add("igniter and engine need propellant tanks")
	}
	if s.FuelPump != nil && s.FuelPump.PressureRisePa <= 0 {
		add("fuel_pump: pressure_rise_pa must be positive")
	}
	if s.OxidizerPump != nil && s.OxidizerPump.PressureRisePa <= 0 {
		add("oxidizer_pump: pressure_rise_pa must be positive")
	}
	if (s.FuelPump != nil && s.FuelTank == nil) || (s.OxidizerPump != nil && s.OxidizerTank == nil) {
		add("a pump needs the tank it draws from")
	}
	if s.Igniter != nil {
		s.validateChamber("igniter", &s.Igniter.Chamber, add)
	}
	if s.Engine != nil {
		s.validateChamber("engine", &s.Engine.Chamber, add)
	}
	for i, ev := range s.Events {
		if ev.AtS < 0 {
			add("events[%d]: at_s must not be negative", i)
		}
	}
	if err := s.ECUConfig().Validate(); err != nil {
		add("%v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (s *Stand) validateTank(name string, t *Tank, add func(string, ...any)) {
	if t == nil {
		return
	}
	liquid, err := s.Liquid(t.Propellant)
	if err != nil {
		add("%s: %v", name, err)
	}
	if t.VolumeM3 <= 0 {
		add("%s: volume_m3 must be positive", name)
	}
	if t.Vent.DiameterM <= 0 || t.Vent.Cd <= 0 {
		add("%s: vent needs diameter_m and cd", name)
	}
	if t.Feed == nil {
		if err == nil && !liquid.SelfPressurizing() {
			add("%s: %s cannot self-pressurize, add a feed", name, liquid.Name)
		}
		if t.Vapor == "" {
			add("%s: self-pressurizing tank needs a vapor gas", name)
		} else if _, err := s.Gas(t.Vapor); err != nil {
			add("%s: %v", name, err)
		}
		return
	}

	f := t.Feed
	if _, err := s.Gas(f.Gas); err != nil {
		add("%s.feed: %v", name, err)
	}
	if f.SetpointPa <= 0 {
		add("%s.feed: setpoint_pa must be positive", name)
	}
	switch f.FromTank {
	case "":
		if f.PressurePa < f.SetpointPa {
			add("%s.feed: pressure_pa must be at least setpoint_pa", name)
		}
	case "fuel", "oxidizer":
		if f.FromTank+"_tank" == name {
			add("%s.feed: a tank cannot feed itself", name)
		}
		if (f.FromTank == "fuel" && s.FuelTank == nil) || (f.FromTank == "oxidizer" && s.OxidizerTank == nil) {
			add("%s.feed: from_tank %q is not configured", name, f.FromTank)
		}
	default:
		add("%s.feed: from_tank must be fuel or oxidizer, got %q", name, f.FromTank)
	}
	if f.Orifice.DiameterM <= 0 || f.Orifice.Cd <= 0 {
		add("%s.feed: orifice needs diameter_m and cd", name)
	}
}

func (s *Stand) validateChamber(name string, c *Chamber, add func(string, ...any)) {
	if c.ThroatDiameterM <= 0 || c.VolumeM3 <= 0 {
		add("%s: throat_diameter_m and volume_m3 must be positive", name)
	}
	sides := []struct {
		name string
		inj  Injector
	}{{"fuel", c.FuelInjector}, {"oxidizer", c.OxidizerInjector}}
	for _, sd := range sides {
		side, inj := sd.name, sd.inj
		if inj.DiameterM <= 0 || inj.Cd <= 0 {
			add("%s.%s_injector: needs diameter_m and cd", name, side)
		}
		if inj.Gas != "" {
			if _, err := s.Gas(inj.Gas); err != nil {
				add("%s.%s_injector: %v", name, side, err)
			}
		}
	}
	if c.Combustion.MolarMass <= 0 || c.Combustion.Kappa <= 1 || c.Combustion.TemperatureK <= 0 {
		add("%s.combustion: molar_mass_kg_mol, kappa and temperature_k are required", name)
	}
}
