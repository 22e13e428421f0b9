package tunnel

import "sync"

// Manager owns one Container per remote device, the process-wide
// singleton the rest of the stack (stream, datagram, ndn, snclient)
// sends packages through.
type Manager struct {
	mu         sync.Mutex
	containers map[string]*Container
	discover   func(remoteId string) (Sender, error)
}

// NewManager creates an empty Manager. discover is shared by every
// Container it creates and implements the SN Call escalation
func NewManager(discover func(string) (Sender, error)) *Manager {
	return &Manager{containers: make(map[string]*Container), discover: discover}
}

// GetOrCreate returns the Container for remoteId, creating it in the
// Connecting state on first reference's lazy-creation lifecycle
// rule that tunnels are created on first message to a remote.
func (m *Manager) GetOrCreate(remoteId string) *Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[remoteId]
	if !ok {
		c = NewContainer(remoteId, m.discover)
		m.containers[remoteId] = c
	}
	return c
}

// Get returns the existing Container for remoteId, if any.
func (m *Manager) Get(remoteId string) (*Container, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[remoteId]
	return c, ok
}

// Remove drops a remote's container entirely, e.g. on an explicit peer
// teardown.
func (m *Manager) Remove(remoteId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, remoteId)
}

// List returns every remote id with a live container, for the control
// surface's tunnel listing (C10).
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.containers))
	for id := range m.containers {
		out = append(out, id)
	}
	return out
}
