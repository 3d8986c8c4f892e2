// Package metrics exposes the latest telemetry frame as Prometheus gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holla2040/hotfire/internal/ecu"
)

// Metrics is an ecu.TelemetrySink. It is driven from the control tick only.
type Metrics struct {
	simTime     prometheus.Gauge
	sparking    prometheus.Gauge
	pressure    *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	valve       *prometheus.GaugeVec
	state       *prometheus.GaugeVec
	alert       *prometheus.GaugeVec
	frames      prometheus.Counter
	reports     prometheus.Counter

	states map[string]string
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotfire_sim_time_seconds",
			Help: "Controller time of the latest telemetry frame",
		}),
		sparking: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotfire_igniter_sparking",
			Help: "1 while the spark source is energized",
		}),
		pressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotfire_pressure_pascals",
			Help: "Latest pressure reading per sensor",
		}, []string{"sensor"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotfire_temperature_kelvin",
			Help: "Latest temperature reading per sensor",
		}, []string{"sensor"}),
		valve: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotfire_valve_open",
			Help: "1 when the valve is commanded open",
		}, []string{"valve"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotfire_subsystem_state",
			Help: "1 for the current mode of each subsystem",
		}, []string{"subsystem", "state"}),
		alert: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotfire_alert_active",
			Help: "1 while the alert is latched",
		}, []string{"alert"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotfire_telemetry_frames_total",
			Help: "Telemetry frames received",
		}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotfire_alert_reports_total",
			Help: "Alert reports received",
		}),
		states: map[string]string{},
	}
	reg.MustRegister(m.simTime, m.sparking, m.pressure, m.temperature, m.valve, m.state, m.alert, m.frames, m.reports)
	return m
}

// SendTelemetry implements ecu.TelemetrySink.
func (m *Metrics) SendTelemetry(t ecu.Telemetry) {
	m.frames.Inc()
	m.simTime.Set(t.Time)
	m.sparking.Set(boolGauge(t.Sparking))

	for _, s := range ecu.AllSensors() {
		v, ok := t.Sensors[s.String()]
		if !ok {
			continue
		}
		if s.IsTemperature() {
			m.temperature.WithLabelValues(s.String()).Set(v)
		} else {
			m.pressure.WithLabelValues(s.String()).Set(v)
		}
	}
	for name, open := range t.Valves {
		m.valve.WithLabelValues(name).Set(boolGauge(open))
	}
	for sub, st := range t.States() {
		if prev, ok := m.states[sub]; ok && prev != st {
			m.state.WithLabelValues(sub, prev).Set(0)
		}
		m.state.WithLabelValues(sub, st).Set(1)
		m.states[sub] = st
	}
	m.setAlerts(t.Alerts)
}

// SendAlerts implements ecu.TelemetrySink.
func (m *Metrics) SendAlerts(r ecu.AlertReport) {
	m.reports.Inc()
	m.setAlerts(r.Alerts)
}

func (m *Metrics) setAlerts(set ecu.AlertSet) {
	for _, a := range ecu.AlertSet(^uint32(0)).List() {
		m.alert.WithLabelValues(a.String()).Set(boolGauge(set.Has(a)))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
