// Package orifice computes mass flow through a sharp-edged restriction and
// solves the inverse problems (orifice diameter or upstream pressure for a
// target flow).
//
// Diameters are in metres, pressures in pascals, densities in kg/m^3 and
// flows in kg/s. A non-positive pipe diameter describes a free orifice with
// no velocity-of-approach correction (beta = 0).
package orifice

import (
	"errors"
	"fmt"
	"math"
)

const (
	// Relaxation factor applied to each correction of the inverse solvers.
	damping = 0.1
	// Relative flow error at which the inverse solvers stop.
	tolerance = 1e-5
	// MaxIterations bounds the inverse solvers.
	MaxIterations = 1_000_000
)

var (
	// ErrNoConvergence is returned when an inverse solver hits MaxIterations.
	ErrNoConvergence = errors.New("orifice: solver did not converge")
	// ErrReversedFlow is returned when the downstream pressure exceeds the upstream pressure.
	ErrReversedFlow = errors.New("orifice: downstream pressure exceeds upstream pressure")
	// ErrInvalidGeometry is returned for non-positive diameters, discharge
	// coefficients or densities.
	ErrInvalidGeometry = errors.New("orifice: invalid geometry or fluid properties")
)

// Area returns the flow area of a circular orifice.
func Area(diameter float64) float64 {
	r := diameter / 2
	return math.Pi * r * r
}

// Beta returns the orifice-to-pipe diameter ratio (0 for a free orifice).
func Beta(do, dpipe float64) float64 {
	if dpipe <= 0 {
		return 0
	}
	return do / dpipe
}

// flowCoefficient is Cd corrected for velocity of approach.
func flowCoefficient(do, dpipe, cd float64) float64 {
	b := Beta(do, dpipe)
	return cd / math.Sqrt(1-math.Pow(b, 4))
}

// IncompressibleFlow returns the liquid mass flow through an orifice.
// It returns NaN when pUp < pDown; callers guard the flow direction.
func IncompressibleFlow(do, dpipe, cd, pUp, pDown, rho float64) float64 {
	cf := flowCoefficient(do, dpipe, cd)
	return cf * Area(do) * math.Sqrt(2*rho*(pUp-pDown))
}

// Expansibility is the ISO 5167 expansibility factor for an orifice plate.
// It loses accuracy as the pressure ratio approaches the choked regime.
func Expansibility(beta, pUp, pDown, kappa float64) float64 {
	b4 := math.Pow(beta, 4)
	b8 := b4 * b4
	return 1 - (0.351+0.256*b4+0.93*b8)*(1-math.Pow(pDown/pUp, 1/kappa))
}

// CompressibleFlow returns the gas mass flow through an orifice, with rhoUp
// the gas density at upstream conditions. It returns NaN when pUp < pDown.
func CompressibleFlow(do, dpipe, cd, pUp, pDown, rhoUp, kappa float64) float64 {
	eps := Expansibility(Beta(do, dpipe), pUp, pDown, kappa)
	return eps * IncompressibleFlow(do, dpipe, cd, pUp, pDown, rhoUp)
}

// IncompressibleDiameter returns the orifice diameter that passes massFlow.
// The closed form is exact, so no iteration is needed.
func IncompressibleDiameter(massFlow, dpipe, cd, pUp, pDown, rho float64) (float64, error) {
	if err := checkInputs(cd, rho, pUp, pDown); err != nil {
		return 0, err
	}
	if massFlow == 0 {
		return 0, nil
	}
	return incompressibleDiameter(massFlow, dpipe, cd, pUp, pDown, rho), nil
}

func incompressibleDiameter(m, dpipe, cd, pUp, pDown, rho float64) float64 {
	dp := pUp - pDown
	if dpipe <= 0 {
		return math.Pow(8*m*m/(math.Pi*math.Pi*cd*cd*rho*dp), 0.25)
	}
	d4 := math.Pow(dpipe, 4)
	denom := math.Pi*math.Pi*cd*cd*d4*dp*rho + 8*m*m
	return math.Pow(2, 0.75) * dpipe * math.Sqrt(m) / math.Pow(denom, 0.25)
}

// IncompressiblePressure returns the upstream pressure that drives massFlow
// through the orifice into pDown.
func IncompressiblePressure(massFlow, do, dpipe, cd, pDown, rho float64) (float64, error) {
	if do <= 0 || cd <= 0 || rho <= 0 {
		return 0, ErrInvalidGeometry
	}
	return incompressiblePressure(massFlow, do, dpipe, cd, pDown, rho), nil
}

func incompressiblePressure(m, do, dpipe, cd, pDown, rho float64) float64 {
	v := m / (flowCoefficient(do, dpipe, cd) * Area(do))
	return v*v/(2*rho) + pDown
}

// CompressibleDiameter solves for the orifice diameter that passes massFlow
// of gas, starting from the incompressible closed form and relaxing toward
// the compressible answer.
func CompressibleDiameter(massFlow, dpipe, cd, pUp, pDown, rhoUp, kappa float64) (float64, error) {
	if err := checkInputs(cd, rhoUp, pUp, pDown); err != nil {
		return 0, err
	}
	if massFlow == 0 {
		return 0, nil
	}
	d0 := incompressibleDiameter(massFlow, dpipe, cd, pUp, pDown, rhoUp)
	d, err := relax(massFlow, d0, 0, func(d float64) float64 {
		return CompressibleFlow(d, dpipe, cd, pUp, pDown, rhoUp, kappa)
	})
	if err != nil {
		return d, fmt.Errorf("compressible diameter: %w", err)
	}
	return d, nil
}

// CompressiblePressure solves for the upstream pressure that drives massFlow
// of gas into pDown. rhoDown is the gas density at downstream conditions;
// the upstream density is scaled from it with the previous trial pressure.
func CompressiblePressure(massFlow, do, dpipe, cd, pDown, rhoDown, kappa float64) (float64, error) {
	if do <= 0 || cd <= 0 || rhoDown <= 0 || pDown <= 0 {
		return 0, ErrInvalidGeometry
	}
	if massFlow == 0 {
		return pDown, nil
	}
	p0 := incompressiblePressure(massFlow, do, dpipe, cd, pDown, rhoDown)
	p, err := relax(massFlow, p0, pDown, laggedFlow(do, dpipe, cd, pDown, rhoDown, kappa, p0))
	if err != nil {
		return p, fmt.Errorf("compressible pressure: %w", err)
	}
	return p, nil
}

// laggedFlow returns the flow function for the pressure solver. Each call
// evaluates the trial pressure with the density of the call before it (the
// first with that of p0), then rescales the density to the trial pressure.
func laggedFlow(do, dpipe, cd, pDown, rhoDown, kappa, p0 float64) func(float64) float64 {
	rho := rhoDown * p0 / pDown
	return func(p float64) float64 {
		f := CompressibleFlow(do, dpipe, cd, p, pDown, rho, kappa)
		rho = rhoDown * p / pDown
		return f
	}
}

// relax adjusts x by (target-f)/target * x * damping until the flow error
// is within tolerance. floor is the value x must stay above. With a
// positive target and flow increasing in x the step never reaches it; a
// step that would (only outside that domain) halves the distance instead.
func relax(target, x, floor float64, flow func(float64) float64) (float64, error) {
	limit := math.Abs(target) * tolerance
	for i := 0; i < MaxIterations; i++ {
		f := flow(x)
		if math.IsNaN(f) {
			return x, ErrReversedFlow
		}
		if math.Abs(f-target) <= limit {
			return x, nil
		}
		next := x + (target-f)/target*x*damping
		if next <= floor {
			next = floor + (x-floor)/2
		}
		x = next
	}
	return x, ErrNoConvergence
}

func checkInputs(cd, rho, pUp, pDown float64) error {
	if cd <= 0 || rho <= 0 {
		return ErrInvalidGeometry
	}
	if pUp < pDown {
		return ErrReversedFlow
	}
	return nil
}
