package sim

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/fluid"
)

// loadStand loads a stand from the repository's configs/ directory with its
// scripted events removed, so tests drive it by hand.
func loadStand(t *testing.T, name string) *config.Stand {
	t.Helper()
	_, testFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to determine test file location via runtime.Caller")
	}
	path := filepath.Join(filepath.Dir(testFile), "..", "..", "configs", name+".yaml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stand %s not found: %v", path, err)
	}
	s, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%s): %v", name, err)
	}
	s.Events = nil
	return s
}

func build(t *testing.T, s *config.Stand, opts ...Option) (*Scenario, *ecu.CommandQueue) {
	t.Helper()
	q := &ecu.CommandQueue{}
	sc, err := Build(s, append(opts, WithCommandSource(q))...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return sc, q
}

func pressurizeBoth(t *testing.T, sc *Scenario, q *ecu.CommandQueue) {
	t.Helper()
	q.Push(ecu.Command{Kind: ecu.CmdSetFuelTank, Enable: true})
	q.Push(ecu.Command{Kind: ecu.CmdSetOxidizerTank, Enable: true})
	fuelSet := sc.Stand.FuelTank.Feed.SetpointPa
	oxSet := sc.Stand.OxidizerTank.Feed.SetpointPa
	ok := sc.RunUntil(func() bool {
		return sc.Plant.FuelTank.Pressure() > 0.9*fuelSet && sc.Plant.OxidizerTank.Pressure() > 0.9*oxSet
	}, 5)
	if !ok {
		t.Fatalf("tanks below 90%% of setpoint after 5 s: fuel %.0f Pa, oxidizer %.0f Pa",
			sc.Plant.FuelTank.Pressure(), sc.Plant.OxidizerTank.Pressure())
	}
}

func TestIgniterClosedLoop(t *testing.T) {
	sc, q := build(t, loadStand(t, "igniter"))
	g := sc.ECU.Igniter()

	pressurizeBoth(t, sc, q)

	q.Push(ecu.Command{Kind: ecu.CmdFireIgniter})
	steps := []struct {
		want    ecu.IgniterState
		timeout float64
	}{
		{ecu.IgniterStartup, 1},
		{ecu.IgniterFiring, 2},
		{ecu.IgniterShutdown, 2},
		{ecu.IgniterIdle, 3},
	}
	for _, st := range steps {
		if !sc.RunUntil(func() bool { return g.State() == st.want }, st.timeout) {
			t.Fatalf("igniter did not reach %s within %.0f s (state %s, alerts %s, pc %.0f Pa)",
				st.want, st.timeout, g.State(), sc.ECU.Alerts(), sc.Plant.Igniter.Pressure())
		}
	}
	if !sc.ECU.Alerts().Empty() {
		t.Errorf("nominal firing raised alerts: %s", sc.ECU.Alerts())
	}

	seq := sc.Timeline.Sequence("igniter")
	want := []string{"Idle", "Startup", "Firing", "Shutdown", "Idle"}
	if len(seq) != len(want) {
		t.Fatalf("timeline = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("timeline = %v, want %v", seq, want)
		}
	}
	peak := sc.Summary().Peaks[ecu.SensorIgniterChamberPressure.String()]
	if peak < 60*fluid.PSI || peak > 130*fluid.PSI {
		t.Errorf("igniter peak chamber pressure %.0f Pa outside the expected 60-130 psi", peak)
	}
}

func TestIgniterWithoutIgnitionNeverFires(t *testing.T) {
	stand := loadStand(t, "igniter")
	stand.AllowIgnition = false
	sc, q := build(t, stand)
	g := sc.ECU.Igniter()

	limit := 1.1 * fluid.AtmosphericPressure
	maxPc := 0.0
	fired := false
	sc.Runner.OnStep(func(*Runner) {
		if pc := sc.Plant.Igniter.Pressure(); pc > maxPc {
			maxPc = pc
		}
		fired = fired || g.State() == ecu.IgniterFiring
	})

	pressurizeBoth(t, sc, q)
	q.Push(ecu.Command{Kind: ecu.CmdFireIgniter})
	if !sc.RunUntil(func() bool { return g.State() == ecu.IgniterStartup }, 1) {
		t.Fatal("igniter never entered Startup")
	}
	if !sc.RunUntil(func() bool { return g.State() == ecu.IgniterIdle }, 5) {
		t.Fatalf("igniter did not return to Idle, state %s", g.State())
	}
	if fired {
		t.Error("igniter reached Firing with ignition disabled")
	}
	if maxPc > limit {
		t.Errorf("chamber pressure reached %.0f Pa, want <= %.0f", maxPc, limit)
	}
	if !sc.ECU.Alerts().Has(ecu.AlertIgniterStartupTimeout) {
		t.Errorf("expected startup timeout alert, got %s", sc.ECU.Alerts())
	}
}

func TestIgniterUnpressurizedStaysIdle(t *testing.T) {
	sc, q := build(t, loadStand(t, "igniter"))
	q.Push(ecu.Command{Kind: ecu.CmdFireIgniter})
	left := sc.RunUntil(func() bool { return sc.ECU.Igniter().State() != ecu.IgniterIdle }, 3)
	if left {
		t.Fatalf("igniter left Idle with unpressurized tanks: %s", sc.ECU.Igniter().State())
	}
	if sc.Plant.Igniter.FuelValveOpen() || sc.Driver.Sparking() {
		t.Error("igniter outputs were driven")
	}
}

func TestIgniterPressureModifierForcesTimeout(t *testing.T) {
	flat := func(float64) float64 { return fluid.AtmosphericPressure }
	sc, q := build(t, loadStand(t, "igniter"), WithPressureModifier("igniter", flat))
	g := sc.ECU.Igniter()

	pressurizeBoth(t, sc, q)
	q.Push(ecu.Command{Kind: ecu.CmdFireIgniter})
	if !sc.RunUntil(func() bool { return g.State() == ecu.IgniterShutdown }, 3) {
		t.Fatalf("expected Shutdown, state %s", g.State())
	}
	if !sc.ECU.Alerts().Has(ecu.AlertIgniterStartupTimeout) {
		t.Errorf("expected startup timeout alert, got %s", sc.ECU.Alerts())
	}
}

func TestFedTankCommandImmediate(t *testing.T) {
	sc, q := build(t, loadStand(t, "igniter"))
	tank := sc.ECU.FuelTank()

	q.Push(ecu.Command{Kind: ecu.CmdSetFuelTank, Enable: true})
	ticks := sc.Runner.ControlTicks()
	sc.RunUntil(func() bool { return sc.Runner.ControlTicks() > ticks }, 1)
	if tank.State() != ecu.TankPressurized {
		t.Fatalf("expected Pressurized on the first controller tick, got %s", tank.State())
	}
	if !sc.Driver.Output(ecu.OutputFuelPressValve) || sc.Driver.Output(ecu.OutputFuelVentValve) {
		t.Error("expected press open and vent closed")
	}

	setpoint := sc.Stand.FuelTank.Feed.SetpointPa
	if !sc.RunUntil(func() bool { return sc.Plant.FuelTank.Pressure() > 0.9*setpoint }, 10) {
		t.Errorf("fuel tank only reached %.0f Pa of %.0f in 10 s", sc.Plant.FuelTank.Pressure(), setpoint)
	}
	if p := sc.Plant.FuelTank.Pressure(); p > setpoint*1.001 {
		t.Errorf("fuel tank overshot the setpoint: %.0f Pa", p)
	}
}

func TestSelfPressurizingVentAndRecover(t *testing.T) {
	sc, q := build(t, loadStand(t, "selfpress"))
	ctrl := sc.ECU.OxidizerTank()
	tank := sc.Plant.OxidizerTank
	threshold := sc.Stand.OxidizerTank.Controller.PressMinThresholdPa

	q.Push(ecu.Command{Kind: ecu.CmdSetOxidizerTank, Enable: true})
	if !sc.RunUntil(func() bool { return ctrl.State() == ecu.TankPressurized }, 1) {
		t.Fatalf("nitrous tank at vapor pressure should report Pressurized, got %s", ctrl.State())
	}

	q.Push(ecu.Command{Kind: ecu.CmdSetOxidizerTank, Enable: false})
	if !sc.RunUntil(func() bool { return ctrl.State() == ecu.TankVenting }, 1) {
		t.Fatalf("expected Venting, got %s", ctrl.State())
	}
	deadline := sc.Runner.Time() + 5
	for tank.Pressure() >= 0.7*threshold {
		if sc.Runner.Time() > deadline {
			t.Fatalf("tank only vented to %.0f Pa", tank.Pressure())
		}
		prev := tank.Pressure()
		sc.Step()
		if p := tank.Pressure(); p >= prev {
			t.Fatalf("pressure rose while venting: %.1f -> %.1f Pa at t=%.4f", prev, p, sc.Runner.Time())
		}
	}
	if ctrl.State() != ecu.TankVenting {
		t.Errorf("expected to stay Venting without a vented threshold, got %s", ctrl.State())
	}

	q.Push(ecu.Command{Kind: ecu.CmdSetOxidizerTank, Enable: true})
	if !sc.RunUntil(func() bool { return !tank.VentValveOpen() }, 1) {
		t.Fatal("vent never closed")
	}
	if ctrl.State() != ecu.TankIdle {
		t.Errorf("expected Idle below threshold, got %s", ctrl.State())
	}
	deadline = sc.Runner.Time() + 5
	for ctrl.State() != ecu.TankPressurized {
		if sc.Runner.Time() > deadline {
			t.Fatalf("never reported Pressurized, pressure %.0f Pa", tank.Pressure())
		}
		prev := tank.Pressure()
		sc.Step()
		if p := tank.Pressure(); p < threshold && p <= prev {
			t.Fatalf("pressure did not rise while recovering: %.1f -> %.1f Pa", prev, p)
		}
	}
	if tank.Pressure() < threshold {
		t.Errorf("reported Pressurized at %.0f Pa, below %.0f", tank.Pressure(), threshold)
	}
}

func TestFuelTankPressurizedFromNitrousUllage(t *testing.T) {
	sc, q := build(t, loadStand(t, "selfpress"))
	q.Push(ecu.Command{Kind: ecu.CmdSetFuelTank, Enable: true})
	setpoint := sc.Stand.FuelTank.Feed.SetpointPa
	if !sc.RunUntil(func() bool { return sc.Plant.FuelTank.Pressure() > 0.9*setpoint }, 10) {
		t.Fatalf("fuel tank reached only %.0f Pa from the nitrous ullage", sc.Plant.FuelTank.Pressure())
	}
	if sc.Plant.FuelTank.Pressure() > sc.Plant.OxidizerTank.Pressure() {
		t.Error("fuel tank exceeded its pressurant source")
	}
}

func TestEngineClosedLoopScripted(t *testing.T) {
	stand := loadStand(t, "engine")
	dur := 1.0
	stand.Engine.Controller.FiringDurationS = &dur
	stand.Events = []config.Event{
		{AtS: 0.1, Command: ecu.CmdSetFuelTank, Enable: true},
		{AtS: 0.1, Command: ecu.CmdSetOxidizerTank, Enable: true},
		{AtS: 6.0, Command: ecu.CmdFireEngine},
	}
	sc, _ := build(t, stand)
	eng := sc.ECU.Engine()

	trace := []ecu.EngineState{eng.State()}
	maxPc := 0.0
	sc.Runner.OnStep(func(*Runner) {
		if s := eng.State(); s != trace[len(trace)-1] {
			trace = append(trace, s)
		}
		if eng.State() == ecu.EngineFiring {
			if pc := sc.Plant.Engine.Pressure(); pc > maxPc {
				maxPc = pc
			}
		}
	})

	sc.RunFor(6.0)
	if sc.Script.Remaining() != 0 {
		t.Fatalf("%d scripted events still pending", sc.Script.Remaining())
	}
	if !sc.RunUntil(func() bool { return len(trace) > 1 && eng.State() == ecu.EngineIdle }, 5) {
		t.Fatalf("engine did not finish its sequence: %v, alerts %s", trace, sc.ECU.Alerts())
	}

	want := []ecu.EngineState{
		ecu.EngineIdle, ecu.EnginePumpStartup, ecu.EngineIgniterStartup,
		ecu.EngineStartup, ecu.EngineFiring, ecu.EngineShutdown, ecu.EngineIdle,
	}
	if len(trace) != len(want) {
		t.Fatalf("engine sequence = %v, want %v (alerts %s)", trace, want, sc.ECU.Alerts())
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("engine sequence = %v, want %v", trace, want)
		}
	}
	target := stand.Engine.Controller.TargetChamberPressurePa
	tol := stand.Engine.Controller.ChamberPressureTolerancePa
	if maxPc < target-tol || maxPc > target+tol {
		t.Errorf("firing chamber pressure peaked at %.0f Pa, want %.0f +/- %.0f", maxPc, target, tol)
	}
	alerts := sc.ECU.Alerts()
	if !alerts.Has(ecu.AlertEngineShutdownTimerExpired) || alerts.Without(ecu.AlertEngineShutdownTimerExpired) != 0 {
		t.Errorf("expected only the firing timer alert, got %s", alerts)
	}
	if sc.Plant.FuelPump.Enabled() || sc.Plant.OxidizerPump.Enabled() {
		t.Error("pumps still running after shutdown")
	}
	if sc.Plant.Engine.Burning() {
		t.Error("engine still burning after shutdown")
	}
}

func TestBuildRejectsInvalidStand(t *testing.T) {
	stand := loadStand(t, "engine")
	stand.OxidizerPump = nil
	if _, err := Build(stand); err == nil {
		t.Fatal("expected an error for use_pumps without an oxidizer pump")
	}
}

func TestBuildRegistrationOrder(t *testing.T) {
	sc, _ := build(t, loadStand(t, "engine"))
	names := sc.Manager.Names()
	pos := map[string]int{}
	for i, n := range names {
		pos[n] = i
	}
	before := [][2]string{
		{"fuel_tank", "fuel_splitter"},
		{"fuel_splitter", "fuel_pump"},
		{"oxidizer_splitter", "oxidizer_pump"},
		{"fuel_pump", "igniter"},
		{"igniter", "engine"},
		{"engine", "sensor_noise"},
	}
	for _, b := range before {
		a, okA := pos[b[0]]
		c, okC := pos[b[1]]
		if !okA || !okC {
			t.Fatalf("components missing from %v", names)
		}
		if a >= c {
			t.Errorf("%s registered after %s: %v", b[0], b[1], names)
		}
	}
}
