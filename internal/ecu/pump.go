package ecu

import "log"

// PumpState is the reported mode of a pump controller.
type PumpState int

const (
	PumpIdle PumpState = iota
	PumpPumping
)

var pumpStateNames = []string{"Idle", "Pumping"}

func (s PumpState) String() string                { return textOf(s, pumpStateNames) }
func (s PumpState) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *PumpState) UnmarshalText(b []byte) error { return unmarshalInto(s, b, pumpStateNames) }

// PumpController switches one feed pump on and off.
type PumpController struct {
	id    PumpID
	cfg   PumpConfig
	state PumpState
	timer float64
}

func newPumpController(id PumpID, cfg PumpConfig) *PumpController {
	return &PumpController{id: id, cfg: cfg}
}

func (p *PumpController) State() PumpState     { return p.state }
func (p *PumpController) TimeInState() float64 { return p.timer }

func (p *PumpController) command(e *ECU, on bool) {
	next, duty := PumpIdle, 0.0
	if on {
		next, duty = PumpPumping, p.cfg.Duty
	}
	e.driver.SetPumpDuty(p.id, duty)
	if next != p.state {
		log.Printf("%s: %s -> %s (t=%.3fs)", p.id, p.state, next, e.time)
		p.state = next
		p.timer = 0
	}
}

func (p *PumpController) update(dt float64) {
	p.timer += dt
}
