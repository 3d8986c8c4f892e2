package sim

import (
	"fmt"

	"github.com/holla2040/hotfire/internal/dynamics"
	"github.com/holla2040/hotfire/internal/ecu"
)

// Controller is the slow side of the scheduler. *ecu.ECU satisfies it.
type Controller interface {
	Update(dt float64)
}

// Runner interleaves the fast physics tick and the slow controller tick on
// one simulated clock.
//
// Each Step advances physics by dt. The controller runs whenever the
// accumulated remainder reaches its period, and on that step it runs first,
// so its outputs take effect in the same physics tick.
type Runner struct {
	manager    *dynamics.Manager
	controller Controller
	dt         float64
	period     float64
	remainder  float64
	controls   uint64
	hooks      []func(r *Runner)
}

// NewRunner returns a runner stepping manager by dt and controller every
// period seconds.
func NewRunner(manager *dynamics.Manager, controller Controller, dt, period float64) (*Runner, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("runner: physics dt must be positive, got %g", dt)
	}
	if period < dt {
		return nil, fmt.Errorf("runner: controller period %g is shorter than physics dt %g", period, dt)
	}
	return &Runner{manager: manager, controller: controller, dt: dt, period: period}, nil
}

// OnStep registers fn to run after every physics step.
func (r *Runner) OnStep(fn func(r *Runner)) {
	r.hooks = append(r.hooks, fn)
}

// Time returns the simulated time in seconds.
func (r *Runner) Time() float64 { return r.manager.Time() }

// Dt returns the physics step.
func (r *Runner) Dt() float64 { return r.dt }

// Period returns the controller period.
func (r *Runner) Period() float64 { return r.period }

// ControlTicks returns how many times the controller has run.
func (r *Runner) ControlTicks() uint64 { return r.controls }

// Step advances the simulation by one physics tick.
func (r *Runner) Step() {
	r.remainder += r.dt
	if r.remainder >= r.period-1e-9 {
		r.remainder -= r.period
		if r.controller != nil {
			r.controller.Update(r.period)
		}
		r.controls++
	}
	r.manager.Update(r.dt)
	for _, fn := range r.hooks {
		fn(r)
	}
}

// RunFor steps until seconds of simulated time have passed.
func (r *Runner) RunFor(seconds float64) {
	end := r.Time() + seconds - r.dt/2
	for r.Time() < end {
		r.Step()
	}
}

// RunUntil steps until cond holds or timeout seconds pass. cond is checked
// before the first step and after every step.
func (r *Runner) RunUntil(cond func() bool, timeout float64) bool {
	end := r.Time() + timeout - r.dt/2
	for !cond() {
		if r.Time() >= end {
			return false
		}
		r.Step()
	}
	return true
}

var _ Controller = (*ecu.ECU)(nil)
