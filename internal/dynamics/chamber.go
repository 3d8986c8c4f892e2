package dynamics

import (
	"errors"
	"fmt"
	"math"

	"github.com/holla2040/hotfire/internal/fluid"
	"github.com/holla2040/hotfire/internal/orifice"
)

// Defaults for the combustion gate.
const (
	DefaultMinMixtureRatio = 0.2
	DefaultMaxMixtureRatio = 3.0
	DefaultSustainPressure = 30 * fluid.PSI
	DefaultWallHeatingTau  = 20.0 // s
)

// InjectorConfig meters one propellant into a chamber. Exactly one of
// Liquid and Gas is set.
type InjectorConfig struct {
	Orifice      OrificeConfig
	Liquid       *fluid.Liquid
	Gas          *fluid.Gas
	TemperatureK float64 // gas supply temperature; zero means room temperature
}

// MassFlow returns the injector flow from pUp into pDown, or zero when the
// pressure difference would drive flow backwards.
func (c InjectorConfig) MassFlow(pUp, pDown float64) float64 {
	if pUp <= pDown {
		return 0
	}
	o := c.Orifice
	if c.Gas != nil {
		T := c.TemperatureK
		if T == 0 {
			T = fluid.RoomTemperature
		}
		return orifice.CompressibleFlow(o.DiameterM, o.PipeDiameterM, o.Cd,
			pUp, pDown, c.Gas.Density(pUp, T), c.Gas.Kappa)
	}
	if c.Liquid == nil {
		return 0
	}
	return orifice.IncompressibleFlow(o.DiameterM, o.PipeDiameterM, o.Cd, pUp, pDown, c.Liquid.Density)
}

func (c InjectorConfig) validate(what string) error {
	if (c.Liquid == nil) == (c.Gas == nil) {
		return fmt.Errorf("%s: exactly one of liquid or gas must be set", what)
	}
	return c.Orifice.validate(what)
}

// CombustionConfig approximates the combustion products.
type CombustionConfig struct {
	MixtureRatio    float64 `yaml:"mixture_ratio" json:"mixture_ratio"` // design oxidizer/fuel ratio
	MolarMass       float64 `yaml:"molar_mass_kg_mol" json:"molar_mass_kg_mol"`
	Kappa           float64 `yaml:"kappa" json:"kappa"`
	TemperatureK    float64 `yaml:"temperature_k" json:"temperature_k"`
	MinMixtureRatio float64 `yaml:"min_mixture_ratio,omitempty" json:"min_mixture_ratio,omitempty"`
	MaxMixtureRatio float64 `yaml:"max_mixture_ratio,omitempty" json:"max_mixture_ratio,omitempty"`
}

// ChamberConfig configures a Chamber. Igniters and engines share it.
type ChamberConfig struct {
	Name             string
	FuelInjector     InjectorConfig
	OxidizerInjector InjectorConfig
	FuelInlet        ConnID
	OxidizerInlet    ConnID
	ThroatDiameterM  float64
	VolumeM3         float64
	Combustion       CombustionConfig
	SustainPressure  float64 // Pa; zero means DefaultSustainPressure
	WallHeatingTau   float64 // s; zero means DefaultWallHeatingTau
}

// Chamber is a combustion chamber fed by a fuel and an oxidizer injector and
// exhausting through a choked throat.
//
// Combustion needs both propellants flowing at a mixture ratio inside the
// flammable band and either a live ignition source or a chamber already
// above the sustain pressure. Without combustion the chamber pressure can
// only fall toward ambient: unburned propellant never raises it.
type Chamber struct {
	cfg ChamberConfig
	net *Network

	// IgnitionSource reports whether an igniter is live this tick.
	IgnitionSource func() bool
	// PressureModifier, when set, overrides the computed chamber pressure.
	PressureModifier func(pc float64) float64

	allowIgnition     bool
	fuelValveOpen     bool
	oxidizerValveOpen bool

	pressure     float64
	gasMass      float64
	wallTemp     float64
	burning      bool
	fuelFlow     float64
	oxidizerFlow float64
	throatFlow   float64
}

// NewChamber validates cfg and returns a chamber at ambient conditions.
func NewChamber(net *Network, cfg ChamberConfig) (*Chamber, error) {
	if cfg.Combustion.MinMixtureRatio == 0 {
		cfg.Combustion.MinMixtureRatio = DefaultMinMixtureRatio
	}
	if cfg.Combustion.MaxMixtureRatio == 0 {
		cfg.Combustion.MaxMixtureRatio = DefaultMaxMixtureRatio
	}
	if cfg.SustainPressure == 0 {
		cfg.SustainPressure = DefaultSustainPressure
	}
	if cfg.WallHeatingTau == 0 {
		cfg.WallHeatingTau = DefaultWallHeatingTau
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Chamber{
		cfg:           cfg,
		net:           net,
		allowIgnition: true,
		wallTemp:      fluid.RoomTemperature,
	}
	c.setPressure(fluid.AtmosphericPressure)
	return c, nil
}

func (c ChamberConfig) validate() error {
	var errs []error
	if err := c.FuelInjector.validate("fuel injector"); err != nil {
		errs = append(errs, err)
	}
	if err := c.OxidizerInjector.validate("oxidizer injector"); err != nil {
		errs = append(errs, err)
	}
	if c.ThroatDiameterM <= 0 {
		errs = append(errs, errors.New("throat diameter must be positive"))
	}
	if c.VolumeM3 <= 0 {
		errs = append(errs, errors.New("volume must be positive"))
	}
	cc := c.Combustion
	if cc.MolarMass <= 0 || cc.TemperatureK <= 0 || cc.Kappa <= 1 {
		errs = append(errs, errors.New("combustion products need positive molar mass and temperature and kappa > 1"))
	}
	if cc.MinMixtureRatio >= cc.MaxMixtureRatio {
		errs = append(errs, errors.New("mixture ratio band is empty"))
	} else if cc.MixtureRatio != 0 && (cc.MixtureRatio <= cc.MinMixtureRatio || cc.MixtureRatio >= cc.MaxMixtureRatio) {
		errs = append(errs, fmt.Errorf("design mixture ratio %g lies outside the flammable band", cc.MixtureRatio))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("chamber %q: %w", c.Name, err)
	}
	return nil
}

// Name returns the configured name.
func (c *Chamber) Name() string { return c.cfg.Name }

// SetFuelValve opens or closes the fuel injector valve.
func (c *Chamber) SetFuelValve(open bool) { c.fuelValveOpen = open }

// SetOxidizerValve opens or closes the oxidizer injector valve.
func (c *Chamber) SetOxidizerValve(open bool) { c.oxidizerValveOpen = open }

// FuelValveOpen reports the fuel valve state.
func (c *Chamber) FuelValveOpen() bool { return c.fuelValveOpen }

// OxidizerValveOpen reports the oxidizer valve state.
func (c *Chamber) OxidizerValveOpen() bool { return c.oxidizerValveOpen }

// SetAllowIgnition disables combustion entirely when false, regardless of
// flows and ignition source.
func (c *Chamber) SetAllowIgnition(allow bool) { c.allowIgnition = allow }

// Pressure returns the chamber pressure in Pa.
func (c *Chamber) Pressure() float64 { return c.pressure }

// Burning reports whether combustion was supported on the last tick.
func (c *Chamber) Burning() bool { return c.burning }

// ThroatTemperature returns the throat wall temperature in K.
func (c *Chamber) ThroatTemperature() float64 { return c.wallTemp }

// FuelFlow returns the last fuel injector flow (kg/s).
func (c *Chamber) FuelFlow() float64 { return c.fuelFlow }

// OxidizerFlow returns the last oxidizer injector flow (kg/s).
func (c *Chamber) OxidizerFlow() float64 { return c.oxidizerFlow }

// ThroatFlow returns the last mass flow out of the throat (kg/s).
func (c *Chamber) ThroatFlow() float64 { return c.throatFlow }

// MixtureRatio returns the measured oxidizer/fuel ratio, or zero without fuel.
func (c *Chamber) MixtureRatio() float64 {
	if c.fuelFlow <= 0 {
		return 0
	}
	return c.oxidizerFlow / c.fuelFlow
}

// FuelInjectorPressure returns the pressure upstream of the fuel injector.
func (c *Chamber) FuelInjectorPressure() float64 { return c.net.Pressure(c.cfg.FuelInlet) }

// OxidizerInjectorPressure returns the pressure upstream of the oxidizer injector.
func (c *Chamber) OxidizerInjectorPressure() float64 { return c.net.Pressure(c.cfg.OxidizerInlet) }

// CharacteristicVelocity is c* of the configured combustion products (m/s).
func (c *Chamber) CharacteristicVelocity() float64 {
	cc := c.cfg.Combustion
	return math.Sqrt(fluid.GasConstant*cc.TemperatureK/cc.MolarMass) / gamma(cc.Kappa)
}

// gamma is the Vandenkerckhove function of kappa.
func gamma(k float64) float64 {
	return math.Sqrt(k) * math.Pow(2/(k+1), (k+1)/(2*(k-1)))
}

func (c *Chamber) massAt(p float64) float64 {
	cc := c.cfg.Combustion
	return p * c.cfg.VolumeM3 * cc.MolarMass / (fluid.GasConstant * cc.TemperatureK)
}

func (c *Chamber) setPressure(p float64) {
	c.pressure = p
	c.gasMass = c.massAt(p)
}

func (c *Chamber) canSupportCombustion() bool {
	if !c.allowIgnition || c.fuelFlow <= 0 || c.oxidizerFlow <= 0 {
		return false
	}
	mr := c.oxidizerFlow / c.fuelFlow
	cc := c.cfg.Combustion
	if mr <= cc.MinMixtureRatio || mr >= cc.MaxMixtureRatio {
		return false
	}
	if c.pressure > c.cfg.SustainPressure {
		return true
	}
	return c.IgnitionSource != nil && c.IgnitionSource()
}

// Update implements Component.
func (c *Chamber) Update(dt float64) {
	cc := c.cfg.Combustion
	ambient := fluid.AtmosphericPressure
	prev := c.pressure

	c.fuelFlow = 0
	if c.fuelValveOpen {
		c.fuelFlow = c.cfg.FuelInjector.MassFlow(c.net.Pressure(c.cfg.FuelInlet), prev)
	}
	c.oxidizerFlow = 0
	if c.oxidizerValveOpen {
		c.oxidizerFlow = c.cfg.OxidizerInjector.MassFlow(c.net.Pressure(c.cfg.OxidizerInlet), prev)
	}
	c.net.SetFlow(c.cfg.FuelInlet, c.fuelFlow)
	c.net.SetFlow(c.cfg.OxidizerInlet, c.oxidizerFlow)

	c.burning = c.canSupportCombustion()

	c.throatFlow = 0
	if prev > ambient {
		c.throatFlow = prev * orifice.Area(c.cfg.ThroatDiameterM) / c.CharacteristicVelocity()
	}

	inflow := 0.0
	if c.burning {
		inflow = c.fuelFlow + c.oxidizerFlow
	}
	mass := math.Max(c.gasMass+(inflow-c.throatFlow)*dt, 0)
	pc := mass * fluid.GasConstant * cc.TemperatureK / (cc.MolarMass * c.cfg.VolumeM3)

	if c.PressureModifier != nil {
		pc = c.PressureModifier(pc)
	}
	if !c.burning && pc > prev {
		pc = prev
	}
	c.setPressure(math.Max(pc, ambient))

	target := fluid.RoomTemperature
	if c.burning {
		target = cc.TemperatureK * 2 / (cc.Kappa + 1)
	}
	c.wallTemp += (target - c.wallTemp) * math.Min(dt/c.cfg.WallHeatingTau, 1)
}
