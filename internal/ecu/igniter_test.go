package ecu

import (
	"math"
	"testing"

	"github.com/holla2040/hotfire/internal/fluid"
)

// igniterPlant makes chamber pressure follow the igniter valves.
func igniterPlant(d *fakeDriver) {
	d.models[SensorIgniterChamberPressure] = func(d *fakeDriver) float64 {
		if d.outputs[OutputIgniterFuelValve] && d.outputs[OutputIgniterOxidizerValve] {
			return 100 * fluid.PSI
		}
		return fluid.AtmosphericPressure
	}
	d.sensors[SensorIgniterThroatTemperature] = fluid.RoomTemperature
}

func newIgniterECU(t *testing.T, d *fakeDriver) (*ECU, *CommandQueue, *recordingSink) {
	t.Helper()
	ign := DefaultIgniterConfig()
	fuel, ox := fedTanks()
	return newTestECU(t, Config{FuelTank: fuel, OxidizerTank: ox, Igniter: &ign}, d)
}

func pressurize(e *ECU, q *CommandQueue) {
	q.Push(Command{Kind: CmdSetFuelTank, Enable: true})
	q.Push(Command{Kind: CmdSetOxidizerTank, Enable: true})
	e.Update(tick)
}

func TestIgniterRefusesUnpressurizedTanks(t *testing.T) {
	d := newFakeDriver()
	igniterPlant(d)
	e, q, _ := newIgniterECU(t, d)

	q.Push(Command{Kind: CmdFireIgniter})
	for i := 0; i < int(3/tick); i++ {
		e.Update(tick)
		if e.Igniter().State() != IgniterIdle {
			t.Fatalf("igniter left Idle with unpressurized tanks at t=%.2f", e.Time())
		}
	}
	if d.outputs[OutputIgniterFuelValve] || d.sparking {
		t.Error("no output should have been driven")
	}
}

func TestIgniterNominalSequence(t *testing.T) {
	d := newFakeDriver()
	igniterPlant(d)
	e, q, _ := newIgniterECU(t, d)
	g := e.Igniter()
	cfg := DefaultIgniterConfig()

	pressurize(e, q)
	q.Push(Command{Kind: CmdFireIgniter})
	e.Update(tick)
	if g.State() != IgniterStartup {
		t.Fatalf("expected Startup, got %s", g.State())
	}
	if !d.sparking || !d.outputs[OutputIgniterFuelValve] || !d.outputs[OutputIgniterOxidizerValve] {
		t.Fatal("Startup must open both valves and spark")
	}

	took := runUntil(e, 1, func() bool { return g.State() == IgniterFiring })
	if took < 0 {
		t.Fatalf("never reached Firing, state %s", g.State())
	}
	if math.Abs(took-cfg.StartupStableTimeS) > 2*tick {
		t.Errorf("expected Firing after ~%.2f s of stable pressure, took %.2f", cfg.StartupStableTimeS, took)
	}
	if d.sparking {
		t.Error("spark should be off while firing")
	}

	took = runUntil(e, 2, func() bool { return g.State() == IgniterShutdown })
	if math.Abs(took-cfg.TestFiringDurationS) > 2*tick {
		t.Errorf("expected Shutdown after %.2f s firing, took %.2f", cfg.TestFiringDurationS, took)
	}
	if d.outputs[OutputIgniterFuelValve] || d.outputs[OutputIgniterOxidizerValve] {
		t.Error("Shutdown must close both valves")
	}

	took = runUntil(e, 2, func() bool { return g.State() == IgniterIdle })
	if math.Abs(took-cfg.ShutdownDurationS) > 2*tick {
		t.Errorf("expected Idle after %.2f s, took %.2f", cfg.ShutdownDurationS, took)
	}
	if !e.Alerts().Empty() {
		t.Errorf("nominal sequence raised alerts: %s", e.Alerts())
	}
}

func TestIgniterStartupTimeout(t *testing.T) {
	d := newFakeDriver()
	d.sensors[SensorIgniterChamberPressure] = fluid.AtmosphericPressure
	e, q, _ := newIgniterECU(t, d)
	g := e.Igniter()

	pressurize(e, q)
	q.Push(Command{Kind: CmdFireIgniter})
	e.Update(tick)

	sawFiring := false
	took := runUntil(e, 2, func() bool {
		sawFiring = sawFiring || g.State() == IgniterFiring
		return g.State() == IgniterShutdown
	})
	if sawFiring {
		t.Fatal("reached Firing without chamber pressure")
	}
	if math.Abs(took-DefaultIgniterConfig().StartupTimeoutS) > 2*tick {
		t.Errorf("expected timeout after 1 s, took %.2f", took)
	}
	if !e.Alerts().Has(AlertIgniterStartupTimeout) {
		t.Errorf("expected startup timeout alert, got %s", e.Alerts())
	}
	if d.sparking {
		t.Error("spark left on after abort")
	}
}

func TestIgniterThroatOverheat(t *testing.T) {
	d := newFakeDriver()
	igniterPlant(d)
	e, q, _ := newIgniterECU(t, d)
	g := e.Igniter()

	pressurize(e, q)
	q.Push(Command{Kind: CmdFireIgniter})
	runUntil(e, 1, func() bool { return g.State() == IgniterFiring })

	d.sensors[SensorIgniterThroatTemperature] = 600
	e.Update(tick)
	if g.State() != IgniterShutdown {
		t.Fatalf("expected immediate Shutdown on overheat, got %s", g.State())
	}
	if !e.Alerts().Has(AlertIgniterThroatOverheat) {
		t.Error("missing overheat alert")
	}

	runUntil(e, 1, func() bool { return g.State() == IgniterIdle })
	q.Push(Command{Kind: CmdFireIgniter})
	e.Update(tick)
	if g.State() != IgniterIdle {
		t.Error("igniter must refuse to fire with a hot throat")
	}
}

func TestIgniterTankOffNominal(t *testing.T) {
	d := newFakeDriver()
	igniterPlant(d)
	e, q, _ := newIgniterECU(t, d)
	g := e.Igniter()

	pressurize(e, q)
	q.Push(Command{Kind: CmdFireIgniter})
	e.Update(tick)
	q.Push(Command{Kind: CmdSetFuelTank, Enable: false})
	e.Update(tick)

	if g.State() != IgniterShutdown {
		t.Fatalf("expected Shutdown when a tank is vented, got %s", g.State())
	}
	if !e.Alerts().Has(AlertIgniterTankOffNominal) {
		t.Error("missing tank off-nominal alert")
	}
}

func TestIgniterIgnoresFireWhileActive(t *testing.T) {
	d := newFakeDriver()
	igniterPlant(d)
	e, q, _ := newIgniterECU(t, d)
	g := e.Igniter()

	pressurize(e, q)
	q.Push(Command{Kind: CmdFireIgniter})
	e.Update(tick)
	e.Update(tick)
	timer := g.TimeInState()
	q.Push(Command{Kind: CmdFireIgniter})
	e.Update(tick)
	if g.State() != IgniterStartup || g.TimeInState() <= timer {
		t.Error("a second fire command must not restart the sequence")
	}
}
