package stand

import (
	"errors"
	"log"

	"github.com/holla2040/hotfire/internal/ecu"
)

// ErrInterlocked is returned by Submit while the interlock holds.
var ErrInterlocked = errors.New("stand interlocked")

// WithInterlock installs a check consulted before every operator command.
// While it reports true, Submit refuses commands and anything arriving on
// the external command sources is drained and discarded. Safe still works.
func WithInterlock(locked func() bool) Option {
	return func(s *Service) { s.interlock = locked }
}

func (s *Service) interlocked() bool {
	return s.interlock != nil && s.interlock()
}

// gatedSource drops commands from src while the service is interlocked.
type gatedSource struct {
	src ecu.CommandSource
	s   *Service
}

func (s *Service) gate(src ecu.CommandSource) ecu.CommandSource {
	if s.interlock == nil {
		return src
	}
	return gatedSource{src: src, s: s}
}

func (g gatedSource) NextCommand() (ecu.Command, bool) {
	for {
		c, ok := g.src.NextCommand()
		if !ok {
			return c, false
		}
		if !g.s.interlocked() {
			return c, true
		}
		log.Printf("stand: interlocked, dropped %s", c)
	}
}

// safingCommands returns the commands that bring the current stand to a
// safe state: engine shut down, pumps stopped, tanks vented. Only
// subsystems the stand has are addressed.
func (s *Service) safingCommands() []ecu.Command {
	idx := s.stand.ECU.Index
	var cmds []ecu.Command
	if s.stand.Engine != nil {
		cmds = append(cmds, ecu.Command{Kind: ecu.CmdShutdownEngine, Index: idx})
	}
	if s.stand.FuelPump != nil {
		cmds = append(cmds, ecu.Command{Kind: ecu.CmdSetFuelPump, Index: idx})
	}
	if s.stand.OxidizerPump != nil {
		cmds = append(cmds, ecu.Command{Kind: ecu.CmdSetOxidizerPump, Index: idx})
	}
	if s.stand.FuelTank != nil {
		cmds = append(cmds, ecu.Command{Kind: ecu.CmdSetFuelTank, Index: idx})
	}
	if s.stand.OxidizerTank != nil {
		cmds = append(cmds, ecu.Command{Kind: ecu.CmdSetOxidizerTank, Index: idx})
	}
	return cmds
}

// Safe queues the safing sequence for the next control tick, bypassing the
// interlock, and returns what it queued.
func (s *Service) Safe(reason string) []ecu.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmds := s.safingCommands()
	for _, c := range cmds {
		s.manual.Push(c)
	}
	log.Printf("stand: safing %s (%s): %d commands queued", s.stand.Name, reason, len(cmds))
	return cmds
}
