// Package report turns a stored run into something a person reads: a CSV of
// its telemetry, firing statistics, and a PDF.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/store"
)

// FiringStats summarizes chamber pressure while one chamber was firing.
type FiringStats struct {
	Subsystem string  `json:"subsystem"`
	Frames    int     `json:"frames"`
	DurationS float64 `json:"duration_s"`
	MeanPa    float64 `json:"mean_pa"`
	StdDevPa  float64 `json:"stddev_pa"`
	MaxPa     float64 `json:"max_pa"`
}

type chamber struct {
	name   string
	sensor ecu.Sensor
	firing func(ecu.Telemetry) bool
}

var chambers = []chamber{
	{"igniter", ecu.SensorIgniterChamberPressure, func(t ecu.Telemetry) bool { return t.IgniterState == ecu.IgniterFiring }},
	{"engine", ecu.SensorEngineChamberPressure, func(t ecu.Telemetry) bool { return t.EngineState == ecu.EngineFiring }},
}

// Summarize computes firing statistics for each chamber that fired. Frames
// must be in time order.
func Summarize(frames []ecu.Telemetry) []FiringStats {
	var out []FiringStats
	for _, c := range chambers {
		var pc []float64
		duration := 0.0
		for i, f := range frames {
			if !c.firing(f) {
				continue
			}
			pc = append(pc, f.Sensor(c.sensor))
			if i > 0 && c.firing(frames[i-1]) {
				duration += f.Time - frames[i-1].Time
			}
		}
		if len(pc) == 0 {
			continue
		}
		s := FiringStats{Subsystem: c.name, Frames: len(pc), DurationS: duration, MaxPa: floats.Max(pc)}
		if len(pc) > 1 {
			s.MeanPa, s.StdDevPa = stat.MeanStdDev(pc, nil)
		} else {
			s.MeanPa = pc[0]
		}
		out = append(out, s)
	}
	return out
}

var stateColumns = []string{"igniter_state", "engine_state", "fuel_tank_state", "oxidizer_tank_state", "fuel_pump_state", "oxidizer_pump_state"}

// ExportCSV writes a run's telemetry as CSV to w: time, subsystem states,
// active alerts, then one column per sensor.
func ExportCSV(w io.Writer, s *store.Store, runID string) error {
	if _, err := s.GetRun(runID); err != nil {
		return err
	}
	frames, err := s.QueryTelemetry(runID)
	if err != nil {
		return err
	}

	sensors := ecu.AllSensors()
	header := append([]string{"time_s"}, stateColumns...)
	header = append(header, "alerts")
	for _, sn := range sensors {
		header = append(header, sn.String())
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, f := range frames {
		record := []string{
			strconv.FormatFloat(f.Time, 'f', 3, 64),
			f.IgniterState.String(),
			f.EngineState.String(),
			f.FuelTankState.String(),
			f.OxidizerTankState.String(),
			f.FuelPumpState.String(),
			f.OxidizerPumpState.String(),
			strings.Join(f.Alerts.Names(), " "),
		}
		for _, sn := range sensors {
			record = append(record, strconv.FormatFloat(f.Sensor(sn), 'g', 8, 64))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
