package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/holla2040/hotfire/internal/ecu"
)

func TestSendTelemetrySetsGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SendTelemetry(ecu.Telemetry{
		Time:         2.5,
		Sparking:     true,
		IgniterState: ecu.IgniterStartup,
		Sensors: map[string]float64{
			"igniter_chamber_pressure":   4e5,
			"igniter_throat_temperature": 900,
		},
		Valves: map[string]bool{"igniter_fuel_valve": true, "igniter_oxidizer_valve": false},
	})

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"sim time", m.simTime, 2.5},
		{"sparking", m.sparking, 1},
		{"chamber pressure", m.pressure.WithLabelValues("igniter_chamber_pressure"), 4e5},
		{"throat temperature", m.temperature.WithLabelValues("igniter_throat_temperature"), 900},
		{"fuel valve", m.valve.WithLabelValues("igniter_fuel_valve"), 1},
		{"oxidizer valve", m.valve.WithLabelValues("igniter_oxidizer_valve"), 0},
		{"igniter startup", m.state.WithLabelValues("igniter", "Startup"), 1},
		{"frames", m.frames, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %g, want %g", tt.name, got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.temperature); n != 1 {
		t.Errorf("temperature series = %d, want 1 (pressures stay out)", n)
	}
}

func TestStateGaugeIsOneHot(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SendTelemetry(ecu.Telemetry{IgniterState: ecu.IgniterStartup})
	m.SendTelemetry(ecu.Telemetry{IgniterState: ecu.IgniterFiring})

	if got := testutil.ToFloat64(m.state.WithLabelValues("igniter", "Startup")); got != 0 {
		t.Errorf("old state gauge = %g, want 0", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("igniter", "Firing")); got != 1 {
		t.Errorf("current state gauge = %g, want 1", got)
	}
}

func TestSendAlerts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SendAlerts(ecu.AlertReport{Alerts: ecu.AlertSet(0).With(ecu.AlertEngineStartupTimeout)})

	if got := testutil.ToFloat64(m.alert.WithLabelValues("EngineStartupTimeout")); got != 1 {
		t.Errorf("EngineStartupTimeout = %g, want 1", got)
	}
	if got := testutil.ToFloat64(m.alert.WithLabelValues("IgniterStartupTimeout")); got != 0 {
		t.Errorf("IgniterStartupTimeout = %g, want 0", got)
	}
	if n := testutil.CollectAndCount(m.alert); n != len(ecu.AlertSet(^uint32(0)).List()) {
		t.Errorf("alert series = %d, want one per alert", n)
	}

	m.SendAlerts(ecu.AlertReport{})
	if got := testutil.ToFloat64(m.alert.WithLabelValues("EngineStartupTimeout")); got != 0 {
		t.Errorf("cleared alert = %g, want 0", got)
	}
	if got := testutil.ToFloat64(m.reports); got != 2 {
		t.Errorf("reports = %g, want 2", got)
	}
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	New(reg)
}
