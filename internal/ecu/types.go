package ecu

import (
	"fmt"
	"strings"
)

// textOf and parseText back the String/MarshalText/UnmarshalText methods of
// every enum in this package.
func textOf[T ~int](v T, names []string) string {
	if int(v) >= 0 && int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("unknown(%d)", int(v))
}

func parseText[T ~int](s string, names []string) (T, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("unknown value %q", s)
}

// Sensor identifies a measured quantity.
type Sensor int

const (
	SensorFuelTankPressure Sensor = iota
	SensorOxidizerTankPressure
	SensorIgniterFuelInjectorPressure
	SensorIgniterOxidizerInjectorPressure
	SensorIgniterChamberPressure
	SensorIgniterThroatTemperature
	SensorEngineFuelInjectorPressure
	SensorEngineOxidizerInjectorPressure
	SensorEngineChamberPressure
	SensorEngineThroatTemperature
	SensorFuelPumpInletPressure
	SensorFuelPumpOutletPressure
	SensorOxidizerPumpInletPressure
	SensorOxidizerPumpOutletPressure
)

var sensorNames = []string{
	"fuel_tank_pressure",
	"oxidizer_tank_pressure",
	"igniter_fuel_injector_pressure",
	"igniter_oxidizer_injector_pressure",
	"igniter_chamber_pressure",
	"igniter_throat_temperature",
	"engine_fuel_injector_pressure",
	"engine_oxidizer_injector_pressure",
	"engine_chamber_pressure",
	"engine_throat_temperature",
	"fuel_pump_inlet_pressure",
	"fuel_pump_outlet_pressure",
	"oxidizer_pump_inlet_pressure",
	"oxidizer_pump_outlet_pressure",
}

func (s Sensor) String() string                { return textOf(s, sensorNames) }
func (s Sensor) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *Sensor) UnmarshalText(b []byte) error { return unmarshalInto(s, b, sensorNames) }

// IsTemperature reports whether the sensor reads kelvin rather than pascal.
func (s Sensor) IsTemperature() bool {
	return s == SensorIgniterThroatTemperature || s == SensorEngineThroatTemperature
}

// AllSensors lists every sensor in declaration order.
func AllSensors() []Sensor {
	out := make([]Sensor, len(sensorNames))
	for i := range out {
		out[i] = Sensor(i)
	}
	return out
}

// Output identifies a binary valve output.
type Output int

const (
	OutputIgniterFuelValve Output = iota
	OutputIgniterOxidizerValve
	OutputFuelPressValve
	OutputFuelVentValve
	OutputOxidizerPressValve
	OutputOxidizerVentValve
	OutputEngineFuelValve
	OutputEngineOxidizerValve
)

var outputNames = []string{
	"igniter_fuel_valve",
	"igniter_oxidizer_valve",
	"fuel_press_valve",
	"fuel_vent_valve",
	"oxidizer_press_valve",
	"oxidizer_vent_valve",
	"engine_fuel_valve",
	"engine_oxidizer_valve",
}

func (o Output) String() string                { return textOf(o, outputNames) }
func (o Output) MarshalText() ([]byte, error)  { return []byte(o.String()), nil }
func (o *Output) UnmarshalText(b []byte) error { return unmarshalInto(o, b, outputNames) }

// AllOutputs lists every valve output in declaration order.
func AllOutputs() []Output {
	out := make([]Output, len(outputNames))
	for i := range out {
		out[i] = Output(i)
	}
	return out
}

// PumpID identifies a feed pump.
type PumpID int

const (
	FuelPump PumpID = iota
	OxidizerPump
)

var pumpNames = []string{"fuel_pump", "oxidizer_pump"}

func (p PumpID) String() string                { return textOf(p, pumpNames) }
func (p PumpID) MarshalText() ([]byte, error)  { return []byte(p.String()), nil }
func (p *PumpID) UnmarshalText(b []byte) error { return unmarshalInto(p, b, pumpNames) }

func unmarshalInto[T ~int](dst *T, b []byte, names []string) error {
	v, err := parseText[T](string(b), names)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// Driver is the hardware abstraction the controllers run against: real
// valves and transducers on the stand, or the simulated plant.
type Driver interface {
	// Sensor returns the reading in SI units (Pa, K).
	Sensor(s Sensor) float64
	SetOutput(o Output, open bool)
	Output(o Output) bool
	SetSparking(on bool)
	Sparking() bool
	SetPumpDuty(p PumpID, duty float64)
}
