package stream

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// Listener accepts inbound stream sessions bound to one local vport, per
// listen(vport) -> listener.
type Listener struct {
	vport  uint16
	accept chan *Session
	closed chan struct{}
}

// Accept blocks until a session
// completes its handshake against this vport.
func (l *Listener) Accept() (*Session, error) {
	select {
	case s, ok := <-l.accept:
		if !ok {
			return nil, buckyerr.New(buckyerr.CodeConnectionAborted, "stream: listener closed")
		}
		return s, nil
	case <-l.closed:
		return nil, buckyerr.New(buckyerr.CodeConnectionAborted, "stream: listener closed")
	}
}

// Close stops the listener; subsequent Accept calls return
// ConnectionAborted.
func (l *Listener) Close() {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}

// Manager is the per-endpoint stream_manager, exposing
// listen/accept/connect over a tunnel.Container sender and dispatching
// inbound SessionData packets to the owning Session by session id.
type Manager struct {
	mu sync.Mutex

	listeners map[uint16]*Listener
	sessions  map[uint32]*Session
	nextSessionId uint32

	newSender func(remoteId string) (Sender, error)
}

// NewManager creates a stream manager. newSender resolves a remote
// device id to the tunnel.Container (or other Sender) used to reach it —
// injected so this package stays decoupled from pkg/tunnel's concrete type.
func NewManager(newSender func(remoteId string) (Sender, error)) *Manager {
	return &Manager{
		listeners: make(map[uint16]*Listener),
		sessions:  make(map[uint32]*Session),
		newSender: newSender,
	}
}

// Listen implements listen(vport) -> listener.
func (m *Manager) Listen(vport uint16) (*Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listeners[vport]; exists {
		return nil, buckyerr.New(buckyerr.CodeAlreadyExists, "stream: vport already listening")
	}
	l := &Listener{vport: vport, accept: make(chan *Session, 16), closed: make(chan struct{})}
	m.listeners[vport] = l
	return l, nil
}

// Connect implements connect(remote_device, vport, question_bytes)
// -> stream: resolves a Sender for the remote device, allocates a
// caller-chosen session id, and sends a SYN.
func (m *Manager) Connect(remoteId string, remoteVPort uint16, question []byte) (*Session, error) {
	sender, err := m.newSender(remoteId)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	sessionId := m.nextSessionId
	m.nextSessionId++
	s := NewSession(sessionId, 0, remoteVPort, remoteId, sender)
	m.sessions[sessionId] = s
	m.mu.Unlock()

	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// OnSessionData is the tunnel layer's entry point for an inbound
// SessionData: it dispatches by session id to an existing session, or —
// for a bare SYN with no existing session — creates a new passive-side
// session and hands it to the matching listener's Accept queue.
func (m *Manager) OnSessionData(remoteId string, sender Sender, pkt *SessionData) error {
	m.mu.Lock()
	s, exists := m.sessions[pkt.SessionId]
	if !exists && pkt.Flags.Has(FlagSYN) {
		l, hasListener := m.listeners[pkt.ToVPort]
		if !hasListener {
			m.mu.Unlock()
			return buckyerr.New(buckyerr.CodeNotFound, "stream: no listener on vport")
		}
		s = NewSession(pkt.SessionId, pkt.ToVPort, pkt.FromVPort, remoteId, sender)
		m.sessions[pkt.SessionId] = s
		m.mu.Unlock()
		if err := s.OnSyn(); err != nil {
			return err
		}
		select {
		case l.accept <- s:
		default:
		}
		return nil
	}
	m.mu.Unlock()
	if !exists {
		return buckyerr.New(buckyerr.CodeNotFound, "stream: no session for packet")
	}
	return s.OnPackage(time.Now(), pkt)
}

// Reap removes sessions that have reached Closed from the manager's
// table. Sessions that are idle but not closed are not removed; there
// is no idle timeout.
func (m *Manager) Reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.State() == StateClosed {
			delete(m.sessions, id)
		}
	}
}
