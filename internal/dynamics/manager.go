package dynamics

// Component is anything the Manager advances once per tick.
type Component interface {
	Update(dt float64)
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(dt float64)

// Update calls f(dt).
func (f ComponentFunc) Update(dt float64) { f(dt) }

// Manager advances registered components in registration order.
//
// Registration order is dependency order: a component registered after
// another sees that component's output from the current tick, one registered
// before it sees the previous tick's output.
type Manager struct {
	names      []string
	components []Component
	time       float64
	ticks      uint64
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register appends c to the update order.
func (m *Manager) Register(name string, c Component) {
	m.names = append(m.names, name)
	m.components = append(m.components, c)
}

// Update advances every component exactly once.
func (m *Manager) Update(dt float64) {
	for _, c := range m.components {
		c.Update(dt)
	}
	m.time += dt
	m.ticks++
}

// Time returns the simulated time in seconds.
func (m *Manager) Time() float64 { return m.time }

// Ticks returns how many times Update has run.
func (m *Manager) Ticks() uint64 { return m.ticks }

// Names returns the component names in update order.
func (m *Manager) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}
