// Package dynamics models the physical side of the test stand: tanks,
// feed lines, pumps and combustion chambers, advanced together one fixed
// timestep at a time by a Manager.
//
// Components never hold pointers to each other. Pressures and flows travel
// through a Network of connections addressed by ConnID; each connection has
// one producer, which writes its pressure, and one consumer, which writes the
// mass flow it draws.
package dynamics

import "fmt"

// ConnID addresses a connection inside a Network.
type ConnID int

// NoConn marks an unused connection slot. It is the zero value, so a
// config struct that leaves a ConnID unset is not connected.
const NoConn ConnID = 0

// Connection is a single pressure/flow node between a producer and a consumer.
type Connection struct {
	Name     string  `json:"name"`
	Pressure float64 `json:"pressure_pa"`
	MassFlow float64 `json:"mass_flow_kg_s"`
}

// Network is the arena that owns every connection of a scenario.
type Network struct {
	conns []Connection
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{}
}

// Add creates a connection at the given initial pressure and returns its ID.
func (n *Network) Add(name string, pressure float64) ConnID {
	n.conns = append(n.conns, Connection{Name: name, Pressure: pressure})
	return ConnID(len(n.conns))
}

// Valid reports whether id addresses a connection in this network.
func (n *Network) Valid(id ConnID) bool {
	return id > NoConn && int(id) <= len(n.conns)
}

// Pressure returns the connection's pressure, or 0 for NoConn.
func (n *Network) Pressure(id ConnID) float64 {
	if !n.Valid(id) {
		return 0
	}
	return n.conns[id-1].Pressure
}

// SetPressure is called by the connection's producer.
func (n *Network) SetPressure(id ConnID, p float64) {
	if n.Valid(id) {
		n.conns[id-1].Pressure = p
	}
}

// Flow returns the mass flow drawn through the connection, or 0 for NoConn.
func (n *Network) Flow(id ConnID) float64 {
	if !n.Valid(id) {
		return 0
	}
	return n.conns[id-1].MassFlow
}

// SetFlow is called by the connection's consumer.
func (n *Network) SetFlow(id ConnID, mdot float64) {
	if n.Valid(id) {
		n.conns[id-1].MassFlow = mdot
	}
}

// Name returns the connection's name.
func (n *Network) Name(id ConnID) string {
	if !n.Valid(id) {
		return fmt.Sprintf("conn(%d)", id)
	}
	return n.conns[id-1].Name
}

// Len returns the number of connections.
func (n *Network) Len() int {
	return len(n.conns)
}

// Snapshot returns a copy of every connection, in ID order.
func (n *Network) Snapshot() []Connection {
	out := make([]Connection, len(n.conns))
	copy(out, n.conns)
	return out
}

// Splitter is a common-pressure node: it copies the upstream pressure to
// every downstream tap and reports the summed tap demand upstream.
type Splitter struct {
	net  *Network
	in   ConnID
	outs []ConnID
}

// NewSplitter joins one upstream connection to outs.
func NewSplitter(net *Network, in ConnID, outs ...ConnID) *Splitter {
	return &Splitter{net: net, in: in, outs: outs}
}

// Update implements Component.
func (s *Splitter) Update(dt float64) {
	p := s.net.Pressure(s.in)
	total := 0.0
	for _, out := range s.outs {
		s.net.SetPressure(out, p)
		total += s.net.Flow(out)
	}
	s.net.SetFlow(s.in, total)
}
