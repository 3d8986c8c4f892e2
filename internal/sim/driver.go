package sim

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/dynamics"
	"github.com/holla2040/hotfire/internal/ecu"
)

// Plant holds the dynamics components a Driver talks to. Any of them may be
// nil when the stand does not have that subsystem.
type Plant struct {
	FuelTank     *dynamics.Tank
	OxidizerTank *dynamics.Tank
	FuelPump     *dynamics.Pump
	OxidizerPump *dynamics.Pump
	Igniter      *dynamics.Chamber
	Engine       *dynamics.Chamber
}

// Driver is the simulated hardware behind the ECU: outputs land on valve
// flags and pump duty in the dynamics model, sensors read its state.
type Driver struct {
	plant    *Plant
	noise    *sensorNoise
	sparking bool
	// outputs remembers commanded states for valves with no component.
	outputs map[ecu.Output]bool
}

// NewDriver returns a driver over plant. Sensor noise is applied when
// noise.Enabled().
func NewDriver(plant *Plant, noise config.Noise) *Driver {
	d := &Driver{plant: plant, outputs: map[ecu.Output]bool{}}
	if noise.Enabled() {
		d.noise = newSensorNoise(noise)
	}
	return d
}

// Sensor implements ecu.Driver.
func (d *Driver) Sensor(s ecu.Sensor) float64 {
	v := d.truth(s)
	if d.noise != nil {
		v = d.noise.apply(s, v)
	}
	return v
}

// Truth returns the noiseless value behind a sensor.
func (d *Driver) Truth(s ecu.Sensor) float64 { return d.truth(s) }

func (d *Driver) truth(s ecu.Sensor) float64 {
	p := d.plant
	switch s {
	case ecu.SensorFuelTankPressure:
		if p.FuelTank != nil {
			return p.FuelTank.Pressure()
		}
	case ecu.SensorOxidizerTankPressure:
		if p.OxidizerTank != nil {
			return p.OxidizerTank.Pressure()
		}
	case ecu.SensorIgniterFuelInjectorPressure:
		if p.Igniter != nil {
			return p.Igniter.FuelInjectorPressure()
		}
	case ecu.SensorIgniterOxidizerInjectorPressure:
		if p.Igniter != nil {
			return p.Igniter.OxidizerInjectorPressure()
		}
	case ecu.SensorIgniterChamberPressure:
		if p.Igniter != nil {
			return p.Igniter.Pressure()
		}
	case ecu.SensorIgniterThroatTemperature:
		if p.Igniter != nil {
			return p.Igniter.ThroatTemperature()
		}
	case ecu.SensorEngineFuelInjectorPressure:
		if p.Engine != nil {
			return p.Engine.FuelInjectorPressure()
		}
	case ecu.SensorEngineOxidizerInjectorPressure:
		if p.Engine != nil {
			return p.Engine.OxidizerInjectorPressure()
		}
	case ecu.SensorEngineChamberPressure:
		if p.Engine != nil {
			return p.Engine.Pressure()
		}
	case ecu.SensorEngineThroatTemperature:
		if p.Engine != nil {
			return p.Engine.ThroatTemperature()
		}
	case ecu.SensorFuelPumpInletPressure:
		if p.FuelPump != nil {
			return p.FuelPump.InletPressure()
		}
	case ecu.SensorFuelPumpOutletPressure:
		if p.FuelPump != nil {
			return p.FuelPump.OutletPressure()
		}
	case ecu.SensorOxidizerPumpInletPressure:
		if p.OxidizerPump != nil {
			return p.OxidizerPump.InletPressure()
		}
	case ecu.SensorOxidizerPumpOutletPressure:
		if p.OxidizerPump != nil {
			return p.OxidizerPump.OutletPressure()
		}
	}
	return 0
}

// SetOutput implements ecu.Driver.
func (d *Driver) SetOutput(o ecu.Output, open bool) {
	d.outputs[o] = open
	p := d.plant
	switch o {
	case ecu.OutputIgniterFuelValve:
		if p.Igniter != nil {
			p.Igniter.SetFuelValve(open)
		}
	case ecu.OutputIgniterOxidizerValve:
		if p.Igniter != nil {
			p.Igniter.SetOxidizerValve(open)
		}
	case ecu.OutputEngineFuelValve:
		if p.Engine != nil {
			p.Engine.SetFuelValve(open)
		}
	case ecu.OutputEngineOxidizerValve:
		if p.Engine != nil {
			p.Engine.SetOxidizerValve(open)
		}
	case ecu.OutputFuelPressValve:
		if p.FuelTank != nil {
			p.FuelTank.SetPressValve(open)
		}
	case ecu.OutputFuelVentValve:
		if p.FuelTank != nil {
			p.FuelTank.SetVentValve(open)
		}
	case ecu.OutputOxidizerPressValve:
		if p.OxidizerTank != nil {
			p.OxidizerTank.SetPressValve(open)
		}
	case ecu.OutputOxidizerVentValve:
		if p.OxidizerTank != nil {
			p.OxidizerTank.SetVentValve(open)
		}
	}
}

// Output implements ecu.Driver. Valves backed by a component report the
// component's own flag; a self-pressurizing tank has no press valve and
// always reports it closed.
func (d *Driver) Output(o ecu.Output) bool {
	p := d.plant
	switch o {
	case ecu.OutputIgniterFuelValve:
		if p.Igniter != nil {
			return p.Igniter.FuelValveOpen()
		}
	case ecu.OutputIgniterOxidizerValve:
		if p.Igniter != nil {
			return p.Igniter.OxidizerValveOpen()
		}
	case ecu.OutputEngineFuelValve:
		if p.Engine != nil {
			return p.Engine.FuelValveOpen()
		}
	case ecu.OutputEngineOxidizerValve:
		if p.Engine != nil {
			return p.Engine.OxidizerValveOpen()
		}
	case ecu.OutputFuelPressValve:
		if p.FuelTank != nil {
			return p.FuelTank.PressValveOpen()
		}
	case ecu.OutputFuelVentValve:
		if p.FuelTank != nil {
			return p.FuelTank.VentValveOpen()
		}
	case ecu.OutputOxidizerPressValve:
		if p.OxidizerTank != nil {
			return p.OxidizerTank.PressValveOpen()
		}
	case ecu.OutputOxidizerVentValve:
		if p.OxidizerTank != nil {
			return p.OxidizerTank.VentValveOpen()
		}
	}
	return d.outputs[o]
}

func (d *Driver) SetSparking(on bool) { d.sparking = on }
func (d *Driver) Sparking() bool      { return d.sparking }

// SetPumpDuty implements ecu.Driver.
func (d *Driver) SetPumpDuty(id ecu.PumpID, duty float64) {
	switch id {
	case ecu.FuelPump:
		if d.plant.FuelPump != nil {
			d.plant.FuelPump.SetDuty(duty)
		}
	case ecu.OxidizerPump:
		if d.plant.OxidizerPump != nil {
			d.plant.OxidizerPump.SetDuty(duty)
		}
	}
}

// advance moves the noise clock forward; it runs as a dynamics component.
func (d *Driver) advance(dt float64) {
	if d.noise != nil {
		d.noise.advance(dt)
	}
}

// sensorNoise adds zero-mean Gaussian noise to readings. Offsets are
// resampled every period of simulated time and held in between, so a
// controller reading the same sensor twice in a tick sees one value.
type sensorNoise struct {
	pressure    distuv.Normal
	temperature distuv.Normal
	period      float64
	elapsed     float64
	offsets     map[ecu.Sensor]float64
}

func newSensorNoise(cfg config.Noise) *sensorNoise {
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	n := &sensorNoise{
		pressure:    distuv.Normal{Mu: 0, Sigma: cfg.PressureStdDevPa, Src: src},
		temperature: distuv.Normal{Mu: 0, Sigma: cfg.TemperatureStdDevK, Src: src},
		period:      cfg.SamplePeriodS,
		offsets:     make(map[ecu.Sensor]float64, len(ecu.AllSensors())),
	}
	n.resample()
	return n
}

func (n *sensorNoise) resample() {
	for _, s := range ecu.AllSensors() {
		dist := n.pressure
		if s.IsTemperature() {
			dist = n.temperature
		}
		if dist.Sigma <= 0 {
			n.offsets[s] = 0
			continue
		}
		n.offsets[s] = dist.Rand()
	}
}

func (n *sensorNoise) advance(dt float64) {
	n.elapsed += dt
	if n.elapsed >= n.period-1e-12 {
		n.elapsed = 0
		n.resample()
	}
}

func (n *sensorNoise) apply(s ecu.Sensor, v float64) float64 {
	return math.Max(v+n.offsets[s], 0)
}
