package sim

import (
	"math"
	"testing"

	"github.com/holla2040/hotfire/internal/dynamics"
)

// clockController records the physics time each time it runs.
type clockController struct {
	m     *dynamics.Manager
	times []float64
	dts   []float64
}

func (c *clockController) Update(dt float64) {
	c.times = append(c.times, c.m.Time())
	c.dts = append(c.dts, dt)
}

func TestRunnerControllerPeriod(t *testing.T) {
	m := dynamics.NewManager()
	steps := 0
	m.Register("count", dynamics.ComponentFunc(func(float64) { steps++ }))
	c := &clockController{m: m}
	r, err := NewRunner(m, c, 0.001, 0.01)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	r.RunFor(1.0)
	if steps != 1000 {
		t.Errorf("physics steps = %d, want 1000", steps)
	}
	if len(c.times) != 100 || r.ControlTicks() != 100 {
		t.Fatalf("controller ran %d times, want 100", len(c.times))
	}
	// The controller runs before physics on the step that completes its
	// period, so it sees nine finished physics steps the first time.
	if math.Abs(c.times[0]-0.009) > 1e-9 {
		t.Errorf("first controller tick at t=%g, want 0.009", c.times[0])
	}
	for i, dt := range c.dts {
		if dt != 0.01 {
			t.Fatalf("controller tick %d got dt=%g, want 0.01", i, dt)
		}
	}
	for i := 1; i < len(c.times); i++ {
		if gap := c.times[i] - c.times[i-1]; math.Abs(gap-0.01) > 1e-9 {
			t.Fatalf("controller drifted: tick %d came %g after the previous", i, gap)
		}
	}
}

func TestRunnerUnevenPeriod(t *testing.T) {
	m := dynamics.NewManager()
	c := &clockController{m: m}
	r, err := NewRunner(m, c, 0.0005, 0.0125)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.RunFor(1.0)
	if len(c.times) != 80 {
		t.Errorf("controller ran %d times in 1 s at 12.5 ms, want 80", len(c.times))
	}
}

func TestRunnerRunUntil(t *testing.T) {
	m := dynamics.NewManager()
	r, err := NewRunner(m, nil, 0.001, 0.01)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if !r.RunUntil(func() bool { return r.Time() >= 0.25-1e-9 }, 1) {
		t.Fatal("RunUntil did not reach 0.25 s")
	}
	if math.Abs(r.Time()-0.25) > 1e-9 {
		t.Errorf("stopped at %g, want 0.25", r.Time())
	}

	start := r.Time()
	if r.RunUntil(func() bool { return false }, 0.5) {
		t.Fatal("RunUntil reported success for a condition that never holds")
	}
	if got := r.Time() - start; math.Abs(got-0.5) > 1e-6 {
		t.Errorf("timed out after %g s, want 0.5", got)
	}

	calls := 0
	r.OnStep(func(*Runner) { calls++ })
	r.Step()
	r.Step()
	if calls != 2 {
		t.Errorf("hook ran %d times, want 2", calls)
	}
}

func TestNewRunnerRejectsBadRates(t *testing.T) {
	m := dynamics.NewManager()
	if _, err := NewRunner(m, nil, 0, 0.01); err == nil {
		t.Error("expected error for zero dt")
	}
	if _, err := NewRunner(m, nil, 0.01, 0.001); err == nil {
		t.Error("expected error for a period shorter than dt")
	}
}
