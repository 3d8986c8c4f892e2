package ecu

import (
	"errors"
	"fmt"

	"github.com/holla2040/hotfire/internal/fluid"
)

// DefaultTelemetryRateS is the telemetry period used when none is configured.
const DefaultTelemetryRateS = 0.02

// Config is everything the ECU needs at construction. A nil subsystem is
// absent from the stand.
type Config struct {
	Index          int     `yaml:"index" json:"index"`
	TelemetryRateS float64 `yaml:"telemetry_rate_s" json:"telemetry_rate_s"`
	AlertPingS     float64 `yaml:"alert_ping_s" json:"alert_ping_s"`
	Debug          bool    `yaml:"debug" json:"debug"`

	FuelTank     *TankConfig    `yaml:"-" json:"-"`
	OxidizerTank *TankConfig    `yaml:"-" json:"-"`
	FuelPump     *PumpConfig    `yaml:"-" json:"-"`
	OxidizerPump *PumpConfig    `yaml:"-" json:"-"`
	Igniter      *IgniterConfig `yaml:"-" json:"-"`
	Engine       *EngineConfig  `yaml:"-" json:"-"`
}

// TankConfig holds the thresholds of one tank controller.
type TankConfig struct {
	// SelfPressurizing is set when the tank has no press valve.
	SelfPressurizing bool `yaml:"-" json:"-"`
	// PressMinThresholdPa is the pressure a self-pressurizing tank must
	// reach before it reports Pressurized.
	PressMinThresholdPa float64 `yaml:"press_min_threshold_pa" json:"press_min_threshold_pa"`
	// VentedThresholdPa, when positive, ends Venting: the tank reports
	// Depressurized once pressure falls to it. The vent stays open.
	VentedThresholdPa float64 `yaml:"vented_threshold_pa" json:"vented_threshold_pa"`
}

func (c TankConfig) validate(name string) error {
	if c.SelfPressurizing && c.PressMinThresholdPa <= 0 {
		return fmt.Errorf("%s: self-pressurizing tank needs press_min_threshold_pa", name)
	}
	if c.VentedThresholdPa < 0 {
		return fmt.Errorf("%s: vented_threshold_pa must not be negative", name)
	}
	if c.SelfPressurizing && c.VentedThresholdPa >= c.PressMinThresholdPa && c.VentedThresholdPa > 0 {
		return fmt.Errorf("%s: vented_threshold_pa must be below press_min_threshold_pa", name)
	}
	return nil
}

// PumpConfig is the duty a pump controller commands while Pumping.
type PumpConfig struct {
	Duty float64 `yaml:"duty" json:"duty"`
}

// DefaultPumpConfig runs the pump at full duty.
func DefaultPumpConfig() PumpConfig {
	return PumpConfig{Duty: 1}
}

// IgniterConfig holds the igniter sequence timing and limits.
type IgniterConfig struct {
	StartupTimeoutS            float64 `yaml:"startup_timeout_s" json:"startup_timeout_s"`
	StartupPressureThresholdPa float64 `yaml:"startup_pressure_threshold_pa" json:"startup_pressure_threshold_pa"`
	StartupStableTimeS         float64 `yaml:"startup_stable_time_s" json:"startup_stable_time_s"`
	TestFiringDurationS        float64 `yaml:"test_firing_duration_s" json:"test_firing_duration_s"`
	ShutdownDurationS          float64 `yaml:"shutdown_duration_s" json:"shutdown_duration_s"`
	MaxThroatTempK             float64 `yaml:"max_throat_temp_k" json:"max_throat_temp_k"`
}

// DefaultIgniterConfig returns the stand igniter's nominal sequence.
func DefaultIgniterConfig() IgniterConfig {
	return IgniterConfig{
		StartupTimeoutS:            1.0,
		StartupPressureThresholdPa: 30 * fluid.PSI,
		StartupStableTimeS:         0.25,
		TestFiringDurationS:        0.75,
		ShutdownDurationS:          0.5,
		MaxThroatTempK:             500,
	}
}

func (c IgniterConfig) validate() error {
	var errs []error
	if c.StartupTimeoutS <= 0 {
		errs = append(errs, errors.New("startup_timeout_s must be positive"))
	}
	if c.StartupStableTimeS < 0 || c.StartupStableTimeS >= c.StartupTimeoutS {
		errs = append(errs, errors.New("startup_stable_time_s must be shorter than startup_timeout_s"))
	}
	if c.StartupPressureThresholdPa <= 0 {
		errs = append(errs, errors.New("startup_pressure_threshold_pa must be positive"))
	}
	if c.TestFiringDurationS < 0 || c.ShutdownDurationS < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.MaxThroatTempK <= 0 {
		errs = append(errs, errors.New("max_throat_temp_k must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("igniter: %w", err)
	}
	return nil
}

// EngineConfig holds the engine sequence timing and tolerances.
type EngineConfig struct {
	UsePumps                           bool    `yaml:"use_pumps" json:"use_pumps"`
	FuelInjectorPressureSetpointPa     float64 `yaml:"fuel_injector_pressure_setpoint_pa" json:"fuel_injector_pressure_setpoint_pa"`
	OxidizerInjectorPressureSetpointPa float64 `yaml:"oxidizer_injector_pressure_setpoint_pa" json:"oxidizer_injector_pressure_setpoint_pa"`
	InjectorStartupTolerancePa         float64 `yaml:"injector_startup_tolerance_pa" json:"injector_startup_tolerance_pa"`
	InjectorRunningTolerancePa         float64 `yaml:"injector_running_tolerance_pa" json:"injector_running_tolerance_pa"`
	TargetChamberPressurePa            float64 `yaml:"target_chamber_pressure_pa" json:"target_chamber_pressure_pa"`
	ChamberPressureTolerancePa         float64 `yaml:"chamber_pressure_tolerance_pa" json:"chamber_pressure_tolerance_pa"`
	PumpStartupTimeoutS                float64 `yaml:"pump_startup_timeout_s" json:"pump_startup_timeout_s"`
	IgniterStartupTimeoutS             float64 `yaml:"igniter_startup_timeout_s" json:"igniter_startup_timeout_s"`
	EngineStartupTimeoutS              float64 `yaml:"engine_startup_timeout_s" json:"engine_startup_timeout_s"`
	// FiringDurationS is nil to fire until shutdown_engine.
	FiringDurationS   *float64 `yaml:"firing_duration_s" json:"firing_duration_s"`
	ShutdownDurationS float64  `yaml:"shutdown_duration_s" json:"shutdown_duration_s"`
}

// DefaultEngineConfig returns the pump-fed engine's nominal sequence.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		UsePumps:                           true,
		FuelInjectorPressureSetpointPa:     500 * fluid.PSI,
		OxidizerInjectorPressureSetpointPa: 500 * fluid.PSI,
		InjectorStartupTolerancePa:         25 * fluid.PSI,
		InjectorRunningTolerancePa:         100 * fluid.PSI,
		TargetChamberPressurePa:            300 * fluid.PSI,
		ChamberPressureTolerancePa:         200 * fluid.PSI,
		PumpStartupTimeoutS:                1.0,
		IgniterStartupTimeoutS:             1.0,
		EngineStartupTimeoutS:              1.0,
		ShutdownDurationS:                  0.5,
	}
}

func (c EngineConfig) validate() error {
	var errs []error
	if c.TargetChamberPressurePa <= 0 || c.ChamberPressureTolerancePa <= 0 {
		errs = append(errs, errors.New("chamber pressure target and tolerance must be positive"))
	}
	if c.IgniterStartupTimeoutS <= 0 || c.EngineStartupTimeoutS <= 0 {
		errs = append(errs, errors.New("startup timeouts must be positive"))
	}
	if c.UsePumps {
		if c.PumpStartupTimeoutS <= 0 {
			errs = append(errs, errors.New("pump_startup_timeout_s must be positive"))
		}
		if c.InjectorStartupTolerancePa <= 0 || c.InjectorRunningTolerancePa <= 0 {
			errs = append(errs, errors.New("injector tolerances must be positive"))
		}
	}
	if c.FiringDurationS != nil && *c.FiringDurationS <= 0 {
		errs = append(errs, errors.New("firing_duration_s must be positive when set"))
	}
	if c.ShutdownDurationS < 0 {
		errs = append(errs, errors.New("shutdown_duration_s must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.TelemetryRateS < 0 {
		errs = append(errs, errors.New("telemetry_rate_s must not be negative"))
	}
	if c.FuelTank != nil {
		errs = append(errs, c.FuelTank.validate("fuel tank"))
	}
	if c.OxidizerTank != nil {
		errs = append(errs, c.OxidizerTank.validate("oxidizer tank"))
	}
	for _, p := range []*PumpConfig{c.FuelPump, c.OxidizerPump} {
		if p != nil && (p.Duty <= 0 || p.Duty > 1) {
			errs = append(errs, fmt.Errorf("pump duty must be in (0, 1], got %g", p.Duty))
		}
	}
	if c.Igniter != nil {
		errs = append(errs, c.Igniter.validate())
	}
	if c.Engine != nil {
		errs = append(errs, c.Engine.validate())
		if c.Igniter == nil {
			errs = append(errs, errors.New("engine: requires an igniter"))
		}
		if c.Engine.UsePumps && (c.FuelPump == nil || c.OxidizerPump == nil) {
			errs = append(errs, errors.New("engine: use_pumps requires fuel and oxidizer pumps"))
		}
	}
	return errors.Join(errs...)
}
