package stand

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/sim"
	"github.com/holla2040/hotfire/internal/store"
)

func repoConfig(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "configs", name+".yaml")
}

// standFile copies a repo config into a temp dir so tests may rewrite it.
func standFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(repoConfig(t, name))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	path := filepath.Join(t.TempDir(), name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func advance(svc *Service, total time.Duration) {
	for total > 0 {
		d := min(total, 500*time.Millisecond)
		svc.Advance(d)
		total -= d
	}
}

func TestRunBatchRecordsRun(t *testing.T) {
	st, err := config.Load(repoConfig(t, "igniter"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	db := newTestStore(t)

	res, err := RunBatch(context.Background(), st, BatchOptions{Store: db, Station: "bench"})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if want := 9.0 + DefaultTailS; res.DurationS < want-1e-6 || res.DurationS > want+0.01 {
		t.Errorf("DurationS = %g, want %g", res.DurationS, want)
	}
	if res.FinalStates["igniter"] != "Idle" {
		t.Errorf("final igniter state = %q, want Idle", res.FinalStates["igniter"])
	}

	run, err := db.GetRun(res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != store.StatusCompleted || run.Station != "bench" || run.Stand != "igniter-hotfire" {
		t.Errorf("run = %+v", run)
	}
	if !strings.Contains(run.Summary, "igniter=Idle") {
		t.Errorf("summary %q does not give the final igniter state", run.Summary)
	}

	events, err := db.QueryEvents(res.RunID)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	fired := false
	for _, e := range events {
		if e.Subsystem == "igniter" && e.To == "Firing" {
			fired = true
		}
	}
	if !fired {
		t.Errorf("no igniter Firing event among %d events", len(events))
	}
	frames, err := db.QueryTelemetry(res.RunID)
	if err != nil {
		t.Fatalf("QueryTelemetry: %v", err)
	}
	if len(frames) < 600 {
		t.Errorf("recorded %d frames, want one every 20 ms", len(frames))
	}
}

func TestRunBatchCancelled(t *testing.T) {
	st, err := config.Load(repoConfig(t, "igniter"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := RunBatch(ctx, st, BatchOptions{DurationS: 30})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.DurationS != 0 {
		t.Errorf("DurationS = %g, want 0", res.DurationS)
	}
}

func TestServiceAdvanceAndSubmit(t *testing.T) {
	db := newTestStore(t)
	svc, err := New(standFile(t, "igniter"), WithStore(db), WithStation("stand-07"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc.Advance(100 * time.Millisecond)
	s := svc.Status()
	if s.SimTimeS < 0.0999 || s.SimTimeS > 0.1001 {
		t.Errorf("SimTimeS = %g after 100 ms, want 0.1", s.SimTimeS)
	}
	if s.Station != "stand-07" || s.RunID == "" || !s.Idle {
		t.Errorf("Status = %+v", s)
	}

	// The scripted pressurize events at 0.5 s run in the service too.
	advance(svc, 2400*time.Millisecond)
	s = svc.Status()
	if s.Telemetry == nil || s.Telemetry.FuelTankState != ecu.TankPressurized || s.Telemetry.OxidizerTankState != ecu.TankPressurized {
		t.Fatalf("tanks not pressurized at %.2f s: %+v", s.SimTimeS, s.Telemetry)
	}

	if err := svc.Submit(ecu.Command{Kind: ecu.CmdFireIgniter, Index: 3}); err == nil {
		t.Error("expected error for a command addressed to another controller")
	}
	if err := svc.Submit(ecu.Command{Kind: ecu.CmdFireIgniter}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Advance(50 * time.Millisecond)
	if svc.Status().Idle {
		t.Fatal("igniter still idle after fire command")
	}

	// A change while firing waits.
	svc.requestReload()
	svc.Advance(10 * time.Millisecond)
	if s := svc.Status(); !s.ReloadPending || s.Reloads != 0 {
		t.Errorf("reload applied while busy: %+v", s)
	}
}

func TestServiceCatchUpIsBounded(t *testing.T) {
	svc, err := New(standFile(t, "igniter"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.Advance(10 * time.Second)
	if got := svc.Status().SimTimeS; got > maxCatchUpS+0.001 {
		t.Errorf("one stalled tick advanced %g s, want at most %g", got, maxCatchUpS)
	}
}

func TestServiceReloadWhenIdle(t *testing.T) {
	db := newTestStore(t)
	path := standFile(t, "igniter")
	svc, err := New(path, WithStore(db))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.Advance(100 * time.Millisecond)
	first := svc.Status().RunID

	data, _ := os.ReadFile(path)
	data = []byte(strings.Replace(string(data), "name: igniter-hotfire", "name: igniter-rev-b", 1))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	svc.requestReload()
	svc.Advance(10 * time.Millisecond)

	s := svc.Status()
	if s.Stand != "igniter-rev-b" || s.Reloads != 1 || s.ReloadPending {
		t.Fatalf("Status after reload = %+v", s)
	}
	if s.RunID == first || s.SimTimeS != 0 {
		t.Errorf("reload did not start a new run: %+v", s)
	}
	old, err := db.GetRun(first)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if old.Status != store.StatusCompleted {
		t.Errorf("previous run status = %q, want completed", old.Status)
	}
}

func TestServiceReloadKeepsStandOnBadFile(t *testing.T) {
	path := standFile(t, "igniter")
	svc, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(path, []byte("physics_dt_s: -1\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	svc.requestReload()
	svc.Advance(10 * time.Millisecond)
	if s := svc.Status(); s.Stand != "igniter-hotfire" || s.Reloads != 0 || s.ReloadPending {
		t.Errorf("Status = %+v, want the original stand kept", s)
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	db := newTestStore(t)
	svc, err := New(standFile(t, "igniter"), WithStore(db), WithTick(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runID := svc.Status().RunID

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if svc.Status().SimTimeS <= 0 {
		t.Error("simulated time did not advance")
	}
	run, err := db.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != store.StatusCompleted || run.FinishedAt == nil {
		t.Errorf("run not finished: %+v", run)
	}
}

func TestWatcherSettles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stand.yaml")
	if err := os.WriteFile(path, []byte("name: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed := make(chan struct{}, 4)
	w, err := newWatcher(path, 50*time.Millisecond, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("newWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("name: b\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
	select {
	case <-changed:
		t.Error("a burst of writes reported more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSummaryText(t *testing.T) {
	got := summaryText(sim.Summary{
		DurationS:   12,
		Transitions: make([]ecu.Transition, 4),
		FinalStates: map[string]string{"igniter": "Idle", "engine": "Idle"},
		Alerts: []sim.AlertChange{
			{Raised: []string{"EngineShutdownTimerExpired"}},
			{Cleared: []string{"EngineShutdownTimerExpired"}},
			{Raised: []string{"EngineShutdownTimerExpired"}},
		},
	})
	want := "12.000 s simulated, 4 transitions; igniter=Idle engine=Idle; alerts raised: EngineShutdownTimerExpired"
	if got != want {
		t.Errorf("summaryText = %q, want %q", got, want)
	}
}
