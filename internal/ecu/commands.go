package ecu

import "fmt"

// CommandKind is the logical command vocabulary accepted from mission control.
type CommandKind int

const (
	CmdSetFuelTank CommandKind = iota
	CmdSetOxidizerTank
	CmdSetFuelPump
	CmdSetOxidizerPump
	CmdFireIgniter
	CmdFireEngine
	CmdShutdownEngine
	CmdArmVehicle
	CmdIgniteSolidMotor
)

var commandNames = []string{
	"set_fuel_tank",
	"set_oxidizer_tank",
	"set_fuel_pump",
	"set_oxidizer_pump",
	"fire_igniter",
	"fire_engine",
	"shutdown_engine",
	"arm_vehicle",
	"ignite_solid_motor",
}

func (k CommandKind) String() string                { return textOf(k, commandNames) }
func (k CommandKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *CommandKind) UnmarshalText(b []byte) error { return unmarshalInto(k, b, commandNames) }

// ParseCommandKind maps a command name to its kind.
func ParseCommandKind(s string) (CommandKind, error) {
	k, err := parseText[CommandKind](s, commandNames)
	if err != nil {
		return 0, fmt.Errorf("command: %w", err)
	}
	return k, nil
}

// CommandKinds lists every command name.
func CommandKinds() []string {
	return append([]string(nil), commandNames...)
}

// TakesEnable reports whether the command carries an on/off argument.
func (k CommandKind) TakesEnable() bool {
	switch k {
	case CmdSetFuelTank, CmdSetOxidizerTank, CmdSetFuelPump, CmdSetOxidizerPump:
		return true
	}
	return false
}

// Command is one instruction for a controller. Index selects which engine
// or igniter on a multi-unit vehicle it is addressed to.
type Command struct {
	Kind   CommandKind `json:"kind" yaml:"kind"`
	Index  int         `json:"index" yaml:"index"`
	Enable bool        `json:"enable,omitempty" yaml:"enable,omitempty"`
}

func (c Command) String() string {
	if c.Kind.TakesEnable() {
		state := "off"
		if c.Enable {
			state = "on"
		}
		return fmt.Sprintf("%s(%s)#%d", c.Kind, state, c.Index)
	}
	return fmt.Sprintf("%s#%d", c.Kind, c.Index)
}

// CommandSource supplies commands to the ECU. NextCommand must not block;
// it returns false when nothing is pending.
type CommandSource interface {
	NextCommand() (Command, bool)
}

// CommandQueue is a FIFO CommandSource. The ECU also uses one internally
// for commands its own controllers issue.
type CommandQueue struct {
	items []Command
}

// Push appends c to the queue.
func (q *CommandQueue) Push(c Command) { q.items = append(q.items, c) }

// Len returns the number of pending commands.
func (q *CommandQueue) Len() int { return len(q.items) }

// NextCommand pops the oldest command.
func (q *CommandQueue) NextCommand() (Command, bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return c, true
}

// take removes and returns everything pending.
func (q *CommandQueue) take() []Command {
	items := q.items
	q.items = nil
	return items
}

// MultiSource drains several sources in order: each is emptied before the
// next is asked.
type MultiSource []CommandSource

func (m MultiSource) NextCommand() (Command, bool) {
	for _, s := range m {
		if c, ok := s.NextCommand(); ok {
			return c, true
		}
	}
	return Command{}, false
}

// TelemetrySink receives telemetry frames and alert reports. Implementations
// are called from inside the control tick and must not block.
type TelemetrySink interface {
	SendTelemetry(t Telemetry)
	SendAlerts(r AlertReport)
}

// MultiSink fans out to several sinks in order.
type MultiSink []TelemetrySink

func (m MultiSink) SendTelemetry(t Telemetry) {
	for _, s := range m {
		s.SendTelemetry(t)
	}
}

func (m MultiSink) SendAlerts(r AlertReport) {
	for _, s := range m {
		s.SendAlerts(r)
	}
}

// DiscardSink drops everything.
type DiscardSink struct{}

func (DiscardSink) SendTelemetry(Telemetry) {}
func (DiscardSink) SendAlerts(AlertReport)  {}
