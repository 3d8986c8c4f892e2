package dynamics

import "fmt"

// PumpConfig configures a Pump.
type PumpConfig struct {
	Name           string
	Inlet          ConnID
	Outlet         ConnID
	PressureRisePa float64 // rise at full duty
}

// Pump raises the pressure between its inlet and outlet connections. A
// stopped pump passes the inlet pressure straight through.
type Pump struct {
	cfg  PumpConfig
	net  *Network
	duty float64
}

// NewPump returns a stopped pump.
func NewPump(net *Network, cfg PumpConfig) (*Pump, error) {
	if cfg.PressureRisePa <= 0 {
		return nil, fmt.Errorf("pump %q: pressure rise must be positive", cfg.Name)
	}
	if cfg.Inlet == NoConn || cfg.Outlet == NoConn {
		return nil, fmt.Errorf("pump %q: inlet and outlet must be connected", cfg.Name)
	}
	return &Pump{cfg: cfg, net: net}, nil
}

// Name returns the configured name.
func (p *Pump) Name() string { return p.cfg.Name }

// SetDuty sets the pump duty in [0, 1]; zero stops the pump.
func (p *Pump) SetDuty(duty float64) {
	switch {
	case duty < 0:
		duty = 0
	case duty > 1:
		duty = 1
	}
	p.duty = duty
}

// Duty returns the current duty.
func (p *Pump) Duty() float64 { return p.duty }

// Enabled reports whether the pump is running.
func (p *Pump) Enabled() bool { return p.duty > 0 }

// InletPressure returns the pressure at the pump inlet.
func (p *Pump) InletPressure() float64 { return p.net.Pressure(p.cfg.Inlet) }

// OutletPressure returns the pressure at the pump outlet.
func (p *Pump) OutletPressure() float64 { return p.net.Pressure(p.cfg.Outlet) }

// Update implements Component.
func (p *Pump) Update(dt float64) {
	out := p.net.Pressure(p.cfg.Inlet)
	if p.Enabled() {
		out += p.cfg.PressureRisePa * p.duty
	}
	p.net.SetPressure(p.cfg.Outlet, out)
	p.net.SetFlow(p.cfg.Inlet, p.net.Flow(p.cfg.Outlet))
}
