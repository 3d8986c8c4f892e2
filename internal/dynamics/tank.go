package dynamics

import (
	"errors"
	"fmt"
	"math"

	"github.com/holla2040/hotfire/internal/fluid"
	"github.com/holla2040/hotfire/internal/orifice"
)

// OrificeConfig is the geometry of a restriction.
type OrificeConfig struct {
	DiameterM     float64 `yaml:"diameter_m" json:"diameter_m"`
	Cd            float64 `yaml:"cd" json:"cd"`
	PipeDiameterM float64 `yaml:"pipe_diameter_m,omitempty" json:"pipe_diameter_m,omitempty"`
}

func (o OrificeConfig) validate(what string) error {
	if o.DiameterM <= 0 {
		return fmt.Errorf("%s: orifice diameter must be positive", what)
	}
	if o.Cd <= 0 || o.Cd > 1 {
		return fmt.Errorf("%s: discharge coefficient must be in (0, 1], got %g", what, o.Cd)
	}
	if o.PipeDiameterM > 0 && o.PipeDiameterM <= o.DiameterM {
		return fmt.Errorf("%s: pipe diameter must exceed orifice diameter", what)
	}
	return nil
}

// FeedConfig describes regulated pressurant supply to a tank.
type FeedConfig struct {
	PressurePa   float64       // supply pressure upstream of the regulator
	SetpointPa   float64       // regulated tank pressure
	Gas          fluid.Gas     // pressurant
	Orifice      OrificeConfig // feed restriction
	TemperatureK float64       // supply temperature
	// Source, when set, supplies the feed pressure from another component
	// (for example the ullage of a self-pressurizing tank) instead of
	// PressurePa.
	Source ConnID
}

// TankConfig configures a Tank. A nil Feed makes the tank self-pressurizing.
type TankConfig struct {
	Name             string
	Feed             *FeedConfig
	Propellant       fluid.Liquid
	Vapor            fluid.Gas // ullage gas of a self-pressurizing tank
	Vent             OrificeConfig
	VolumeM3         float64
	PropellantMassKg float64
	InitialPressure  float64 // Pa; zero means ambient
	TemperatureK     float64 // zero means room temperature
	BoilOffRate      float64 // 1/s relaxation toward vapor pressure; zero means 1
	Outlet           ConnID
}

// liquidDominated is the liquid volume fraction above which the vent port
// is taken to be submerged and vents propellant instead of ullage gas.
const liquidDominated = 0.5

// Tank models the ullage gas of a propellant tank.
//
// Liquid drawn through the outlet is tracked but does not change ullage
// pressure: downstream consumers see a pressure that depends only on the
// pressurant and vent. A liquid-dominated tank vents propellant as an
// incompressible flow; the ullage expands into the space it leaves.
type Tank struct {
	cfg TankConfig
	net *Network

	ullageVolume float64
	gasMass      float64
	pressure     float64
	liquidKg     float64

	pressValveOpen bool
	ventValveOpen  bool

	pressurantFlow float64
	ventFlow       float64
	ventingLiquid  bool
	drawnKg        float64
}

// NewTank validates cfg and returns a tank at its initial pressure.
func NewTank(net *Network, cfg TankConfig) (*Tank, error) {
	if cfg.TemperatureK == 0 {
		cfg.TemperatureK = fluid.RoomTemperature
	}
	if cfg.InitialPressure == 0 {
		cfg.InitialPressure = fluid.AtmosphericPressure
	}
	if cfg.BoilOffRate == 0 {
		cfg.BoilOffRate = 1
	}
	if cfg.Feed != nil && cfg.Feed.TemperatureK == 0 {
		cfg.Feed.TemperatureK = fluid.RoomTemperature
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &Tank{
		cfg:          cfg,
		net:          net,
		ullageVolume: cfg.VolumeM3 - cfg.PropellantMassKg/cfg.Propellant.Density,
		liquidKg:     cfg.PropellantMassKg,
	}
	t.setPressure(cfg.InitialPressure)
	net.SetPressure(cfg.Outlet, t.pressure)
	return t, nil
}

func (c TankConfig) validate() error {
	var errs []error
	if c.VolumeM3 <= 0 {
		errs = append(errs, errors.New("volume must be positive"))
	}
	if err := c.Propellant.Validate(); err != nil {
		errs = append(errs, err)
	} else if c.PropellantMassKg/c.Propellant.Density >= c.VolumeM3 {
		errs = append(errs, errors.New("propellant fills the whole tank, no ullage left"))
	}
	if err := c.Vent.validate("vent"); err != nil {
		errs = append(errs, err)
	}
	if c.Feed != nil {
		if err := c.Feed.Gas.Validate(); err != nil {
			errs = append(errs, err)
		}
		if err := c.Feed.Orifice.validate("feed"); err != nil {
			errs = append(errs, err)
		}
		if c.Feed.SetpointPa <= 0 {
			errs = append(errs, errors.New("feed setpoint must be positive"))
		}
		if c.Feed.Source == NoConn && c.Feed.PressurePa < c.Feed.SetpointPa {
			errs = append(errs, errors.New("feed pressure is below the setpoint"))
		}
	} else {
		if !c.Propellant.SelfPressurizing() {
			errs = append(errs, fmt.Errorf("%s has no vapor pressure and the tank has no feed", c.Propellant.Name))
		}
		if err := c.Vapor.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tank %q: %w", c.Name, err)
	}
	return nil
}

// SelfPressurizing reports whether the tank has no pressurant feed.
func (t *Tank) SelfPressurizing() bool { return t.cfg.Feed == nil }

// Name returns the configured name.
func (t *Tank) Name() string { return t.cfg.Name }

// Pressure returns the ullage pressure in Pa.
func (t *Tank) Pressure() float64 { return t.pressure }

// Temperature returns the ullage temperature in K.
func (t *Tank) Temperature() float64 { return t.cfg.TemperatureK }

// PressValveOpen reports the pressurant valve state.
func (t *Tank) PressValveOpen() bool { return t.pressValveOpen }

// VentValveOpen reports the vent valve state.
func (t *Tank) VentValveOpen() bool { return t.ventValveOpen }

// SetPressValve opens or closes the pressurant valve. It has no effect on a
// self-pressurizing tank.
func (t *Tank) SetPressValve(open bool) {
	if t.cfg.Feed == nil {
		return
	}
	t.pressValveOpen = open
}

// SetVentValve opens or closes the vent valve.
func (t *Tank) SetVentValve(open bool) { t.ventValveOpen = open }

// PressurantFlow is the last pressurant mass flow into the ullage (kg/s).
func (t *Tank) PressurantFlow() float64 { return t.pressurantFlow }

// VentFlow is the last mass flow out of the vent (kg/s).
func (t *Tank) VentFlow() float64 { return t.ventFlow }

// VentingLiquid reports whether the last vent flow was propellant.
func (t *Tank) VentingLiquid() bool { return t.ventingLiquid }

// LiquidFraction is the share of the tank volume filled with propellant.
func (t *Tank) LiquidFraction() float64 { return 1 - t.ullageVolume/t.cfg.VolumeM3 }

// PropellantMass is the liquid left in the tank, less what the vent has
// discharged (kg).
func (t *Tank) PropellantMass() float64 { return t.liquidKg }

// PropellantDrawn is the total liquid mass drawn through the outlet (kg).
func (t *Tank) PropellantDrawn() float64 { return t.drawnKg }

func (t *Tank) gas() fluid.Gas {
	if t.cfg.Feed != nil {
		return t.cfg.Feed.Gas
	}
	return t.cfg.Vapor
}

// massAt is the ullage gas mass that produces pressure p.
func (t *Tank) massAt(p float64) float64 {
	g := t.gas()
	return p * t.ullageVolume * g.MolarMass() / (fluid.GasConstant * t.cfg.TemperatureK)
}

func (t *Tank) setPressure(p float64) {
	t.pressure = p
	t.gasMass = t.massAt(p)
}

// Update implements Component.
func (t *Tank) Update(dt float64) {
	g := t.gas()
	T := t.cfg.TemperatureK
	p := t.pressure

	t.pressurantFlow = 0
	feedPressure := 0.0
	if feed := t.cfg.Feed; feed != nil {
		feedPressure = feed.PressurePa
		if feed.Source != NoConn {
			feedPressure = t.net.Pressure(feed.Source)
		}
		if t.pressValveOpen && p < feed.SetpointPa && feedPressure > p {
			regulator := (feed.SetpointPa - p) / feed.SetpointPa
			rho := feed.Gas.Density(feedPressure, feed.TemperatureK)
			t.pressurantFlow = regulator * orifice.CompressibleFlow(
				feed.Orifice.DiameterM, feed.Orifice.PipeDiameterM, feed.Orifice.Cd,
				feedPressure, p, rho, feed.Gas.Kappa)
		}
		if feed.Source != NoConn {
			t.net.SetFlow(feed.Source, t.pressurantFlow)
		}
	}

	t.ventFlow = 0
	t.ventingLiquid = false
	if t.ventValveOpen && p > fluid.AtmosphericPressure {
		if t.LiquidFraction() > liquidDominated {
			// The ullage may not expand past ambient pressure within a tick.
			rho := t.cfg.Propellant.Density
			room := t.ullageVolume * (p/fluid.AtmosphericPressure - 1) * rho
			t.ventFlow = math.Min(orifice.IncompressibleFlow(
				t.cfg.Vent.DiameterM, t.cfg.Vent.PipeDiameterM, t.cfg.Vent.Cd,
				p, fluid.AtmosphericPressure, rho), math.Min(room, t.liquidKg)/dt)
			t.ventingLiquid = true
		} else {
			t.ventFlow = orifice.CompressibleFlow(
				t.cfg.Vent.DiameterM, t.cfg.Vent.PipeDiameterM, t.cfg.Vent.Cd,
				p, fluid.AtmosphericPressure, g.Density(p, T), g.Kappa)
		}
	}

	gasVent := t.ventFlow
	if t.ventingLiquid {
		gasVent = 0
		t.liquidKg -= t.ventFlow * dt
		t.ullageVolume += t.ventFlow * dt / t.cfg.Propellant.Density
	}

	boil := 0.0
	if t.cfg.Feed == nil && !t.ventValveOpen && p < t.cfg.Propellant.VaporPressure {
		gap := t.massAt(t.cfg.Propellant.VaporPressure) - t.gasMass
		boil = gap * math.Min(t.cfg.BoilOffRate*dt, 1)
	}

	mass := t.gasMass + (t.pressurantFlow-gasVent)*dt + boil
	if t.ventValveOpen && gasVent > 0 {
		mass = math.Max(mass, t.massAt(fluid.AtmosphericPressure))
	}
	mass = math.Max(mass, 0)

	if mass != t.gasMass || t.ventingLiquid {
		t.gasMass = mass
		t.pressure = mass * fluid.GasConstant * T / (g.MolarMass() * t.ullageVolume)
		if t.pressurantFlow > 0 && t.pressure > feedPressure {
			t.setPressure(feedPressure)
		}
	}

	t.drawnKg += t.net.Flow(t.cfg.Outlet) * dt
	t.net.SetPressure(t.cfg.Outlet, t.pressure)
}
