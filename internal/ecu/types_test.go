package ecu

import (
	"encoding/json"
	"testing"
)

func TestCommandJSON(t *testing.T) {
	c := Command{Kind: CmdSetOxidizerTank, Index: 2, Enable: true}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"kind":"set_oxidizer_tank","index":2,"enable":true}` {
		t.Errorf("unexpected encoding %s", b)
	}

	var back Command
	if err := json.Unmarshal([]byte(`{"kind":"FIRE_ENGINE","index":1}`), &back); err != nil {
		t.Fatal(err)
	}
	if back.Kind != CmdFireEngine || back.Index != 1 {
		t.Errorf("unexpected decode %+v", back)
	}
	if err := json.Unmarshal([]byte(`{"kind":"self_destruct"}`), &back); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestParseCommandKind(t *testing.T) {
	for _, name := range CommandKinds() {
		k, err := ParseCommandKind(name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if k.String() != name {
			t.Errorf("round trip %s -> %s", name, k)
		}
	}
	if !CmdSetFuelPump.TakesEnable() || CmdFireIgniter.TakesEnable() {
		t.Error("TakesEnable wrong")
	}
	if got := (Command{Kind: CmdSetFuelTank, Enable: true}).String(); got != "set_fuel_tank(on)#0" {
		t.Errorf("unexpected String %q", got)
	}
}

func TestStateNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{TankVenting.String(), "Venting"},
		{IgniterStartup.String(), "Startup"},
		{EnginePumpStartup.String(), "PumpStartup"},
		{PumpPumping.String(), "Pumping"},
		{SensorEngineChamberPressure.String(), "engine_chamber_pressure"},
		{OutputOxidizerVentValve.String(), "oxidizer_vent_valve"},
		{EngineState(42).String(), "unknown(42)"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}

	var s EngineState
	if err := s.UnmarshalText([]byte("IgniterStartup")); err != nil || s != EngineIgniterStartup {
		t.Errorf("UnmarshalText: %v %s", err, s)
	}
}

func TestAlertSetJSON(t *testing.T) {
	set := AlertSet(0).With(AlertIgniterStartupTimeout).With(AlertEngineShutdownTimerExpired)
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["IgniterStartupTimeout","EngineShutdownTimerExpired"]` {
		t.Errorf("unexpected encoding %s", b)
	}
	var back AlertSet
	if err := json.Unmarshal(b, &back); err != nil || back != set {
		t.Errorf("round trip: %v %s", err, back)
	}

	empty, _ := json.Marshal(AlertSet(0))
	if string(empty) != `[]` {
		t.Errorf("empty set should encode as [], got %s", empty)
	}
	if set.Without(AlertIgniterStartupTimeout).Has(AlertIgniterStartupTimeout) {
		t.Error("Without did not clear")
	}
	if a, err := ParseAlert("EngineStartupTimeout"); err != nil || a != AlertEngineStartupTimeout {
		t.Errorf("ParseAlert: %v %s", err, a)
	}
}

func TestCommandQueueFIFO(t *testing.T) {
	var q CommandQueue
	q.Push(Command{Kind: CmdFireIgniter})
	q.Push(Command{Kind: CmdFireEngine})
	if q.Len() != 2 {
		t.Fatalf("expected 2 pending, got %d", q.Len())
	}
	if c, _ := q.NextCommand(); c.Kind != CmdFireIgniter {
		t.Errorf("expected FIFO order, got %s", c)
	}
	if c, _ := q.NextCommand(); c.Kind != CmdFireEngine {
		t.Errorf("expected FIFO order, got %s", c)
	}
	if _, ok := q.NextCommand(); ok {
		t.Error("queue should be empty")
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := MultiSink{a, b}
	m.SendTelemetry(Telemetry{Time: 1})
	m.SendAlerts(AlertReport{Time: 1})
	if len(a.frames) != 1 || len(b.frames) != 1 || len(a.reports) != 1 || len(b.reports) != 1 {
		t.Error("MultiSink did not fan out")
	}
}

func TestMultiSourceDrainsInOrder(t *testing.T) {
	a, b := &CommandQueue{}, &CommandQueue{}
	b.Push(Command{Kind: CmdFireEngine})
	a.Push(Command{Kind: CmdFireIgniter})
	m := MultiSource{a, b}
	var got []CommandKind
	for {
		c, ok := m.NextCommand()
		if !ok {
			break
		}
		got = append(got, c.Kind)
	}
	if len(got) != 2 || got[0] != CmdFireIgniter || got[1] != CmdFireEngine {
		t.Errorf("unexpected order %v", got)
	}
}

func TestTransitions(t *testing.T) {
	prev := Telemetry{Time: 1, IgniterState: IgniterStartup}
	next := Telemetry{Time: 1.02, IgniterState: IgniterFiring, FuelTankState: TankPressurized}
	got := Transitions(prev, next)
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got[0].Subsystem != "fuel_tank" || got[0].To != "Pressurized" {
		t.Errorf("unexpected first transition %+v", got[0])
	}
	if got[1].Subsystem != "igniter" || got[1].From != "Startup" || got[1].To != "Firing" || got[1].Time != 1.02 {
		t.Errorf("unexpected second transition %+v", got[1])
	}
	if len(Transitions(next, next)) != 0 {
		t.Error("identical frames should not produce transitions")
	}
}
