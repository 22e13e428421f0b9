package stream

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// State is a stream session's lifecycle state:
// Init -> SynSent -> Establish -> {FinSent, FinRecv} -> Closed; Reset is
// a shortcut to Closed from any state.
type State int

const (
	StateInit State = iota
	StateSynSent
	StateEstablish
	StateFinSent
	StateFinRecv
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSynSent:
		return "syn_sent"
	case StateEstablish:
		return "establish"
	case StateFinSent:
		return "fin_sent"
	case StateFinRecv:
		return "fin_recv"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender is the minimal egress the Session needs; pkg/tunnel.Container
// satisfies it.
type Sender interface {
	SendPackage(pkg []byte) error
}

// Session is one stream: a (local-vport, remote-device,
// remote-vport, session-id) tuple with read/write providers and their
// window/pacing state.
type Session struct {
	mu sync.Mutex

	SessionId  uint32
	LocalVPort uint16
	RemoteVPort uint16
	RemoteId   string

	state State

	send  Sender
	queue *SendQueue
	read  *ReadProvider
	cc    *Congestion
	pacer *Pacer

	rto time.Duration

	finSentAcked bool
	finRecvd     bool

	waiters []chan struct{}
	closeErr error
}

// NewSession creates a stream session in Init state, owning its own
// send/read/congestion/pacer state (sessions are created lazily on
// first use).
func NewSession(sessionId uint32, localVPort, remoteVPort uint16, remoteId string, send Sender) *Session {
	return &Session{
		SessionId:   sessionId,
		LocalVPort:  localVPort,
		RemoteVPort: remoteVPort,
		RemoteId:    remoteId,
		state:       StateInit,
		send:        send,
		queue:       NewSendQueue(0),
		read:        NewReadProvider(),
		cc:          NewCongestion(),
		pacer:       NewPacer(),
		rto:         200 * time.Millisecond,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect sends a SYN and transitions Init -> SynSent, the active-open
// half of the handshake.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return buckyerr.New(buckyerr.CodeErrorState, "stream: connect from non-init state")
	}
	s.state = StateSynSent
	s.mu.Unlock()
	return s.sendControl(FlagSYN, 0)
}

// OnSyn handles an inbound SYN on the passive side, replying SYN_ACK and
// transitioning straight to Establish (the listener has already accepted
// by the time a SYN reaches the session).
func (s *Session) OnSyn() error {
	s.mu.Lock()
	s.state = StateEstablish
	s.mu.Unlock()
	return s.sendControl(FlagSynAck, 0)
}

// OnSynAck completes the active-open handshake: SynSent -> Establish.
func (s *Session) OnSynAck() error {
	s.mu.Lock()
	if s.state != StateSynSent {
		s.mu.Unlock()
		return nil
	}
	s.state = StateEstablish
	s.mu.Unlock()
	return nil
}

// Write queues application bytes for send, returning the number of bytes
// actually accepted (per backpressure rule).
func (s *Session) Write(p []byte, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablish {
		return 0, buckyerr.New(buckyerr.CodeErrorState, "stream: write outside Establish")
	}
	return s.queue.AllocBlocks(p, now), nil
}

// Read drains in-order received bytes into p.
func (s *Session) Read(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read.Read(p)
}

// Buffered reports how many in-order read bytes are waiting.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read.Buffered()
}

// OnPackage dispatches one decoded SessionData packet addressed to this
// session — the tagged-union-dispatch idiom's design notes applied
// to the stream session's own packet types.
func (s *Session) OnPackage(now time.Time, pkt *SessionData) error {
	switch {
	case pkt.Flags.Has(FlagReset):
		return s.onReset()
	case pkt.Flags.Has(FlagSYN):
		return s.OnSyn()
	case pkt.Flags.Has(FlagSynAck):
		return s.OnSynAck()
	case pkt.Flags.Has(FlagACK):
		s.onAck(pkt.AckPos, pkt.Flags.Has(FlagFINACK))
		return nil
	case pkt.Flags.Has(FlagFIN):
		return s.onFin(now, pkt)
	case pkt.Flags.Has(FlagPayload):
		return s.onPayload(now, pkt)
	default:
		return nil
	}
}

func (s *Session) onPayload(now time.Time, pkt *SessionData) error {
	s.mu.Lock()
	if s.state != StateEstablish && s.state != StateFinSent {
		s.mu.Unlock()
		return nil
	}
	ackNow, err := s.read.OnPayload(now, pkt.StreamPos, pkt.Payload)
	ackPos := s.read.AckPos()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if ackNow {
		return s.sendAck(ackPos, false)
	}
	return nil
}

func (s *Session) onAck(ackPos uint64, finAck bool) {
	s.mu.Lock()
	before := s.queue.Flight()
	s.queue.Confirm(ackPos, finAck)
	acked := before - s.queue.Flight()
	if acked > 0 {
		s.cc.OnAck(acked)
	}
	if finAck {
		s.finSentAcked = true
	}
	s.maybeCloseLocked()
	s.mu.Unlock()
}

func (s *Session) onFin(now time.Time, pkt *SessionData) error {
	s.mu.Lock()
	if _, err := s.read.OnPayload(now, pkt.StreamPos, pkt.Payload); err != nil {
		s.mu.Unlock()
		return err
	}
	s.finRecvd = true
	if s.state == StateEstablish {
		s.state = StateFinRecv
	}
	ackPos := s.read.AckPos()
	s.maybeCloseLocked()
	s.mu.Unlock()
	return s.sendAck(ackPos, true)
}

// maybeCloseLocked implements the simultaneous-close rule: both FIN
// and FINACK are required before transitioning to Closed.
// Must be called with s.mu held.
func (s *Session) maybeCloseLocked() {
	if s.state == StateClosed {
		return
	}
	sentSideDone := s.state != StateFinSent || s.finSentAcked
	recvSideDone := s.finRecvd
	if sentSideDone && recvSideDone && (s.state == StateFinSent || s.state == StateFinRecv) {
		s.transitionClosedLocked(nil)
	}
}

func (s *Session) onReset() error {
	s.mu.Lock()
	s.transitionClosedLocked(buckyerr.New(buckyerr.CodeConnectionAborted, "stream: reset by peer"))
	s.mu.Unlock()
	return nil
}

// Close initiates an active close: flush the nagle tail, queue a FIN,
// and move Establish -> FinSent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateEstablish && s.state != StateFinRecv {
		s.mu.Unlock()
		return buckyerr.New(buckyerr.CodeErrorState, "stream: close from non-open state")
	}
	s.queue.QueueFin()
	if s.state == StateEstablish {
		s.state = StateFinSent
	}
	s.mu.Unlock()
	return nil
}

// Reset sends RESET and immediately transitions to Closed from any state,
//'s shortcut rule and cancellation contract: "Cancelling a
// stream sends a RESET and wakes readers/writers with ErrorState.
func (s *Session) Reset() error {
	s.mu.Lock()
	s.transitionClosedLocked(buckyerr.New(buckyerr.CodeErrorState, "stream: reset by local cancellation"))
	s.mu.Unlock()
	return s.sendControl(FlagReset, 0)
}

func (s *Session) transitionClosedLocked(err error) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.closeErr = err
	waiters := s.waiters
	s.waiters = nil
	for _, ch := range waiters {
		close(ch)
	}
}

// WaitClosed blocks until the session reaches Closed, returning the
// terminal error (nil for a clean close).
func (s *Session) WaitClosed() error {
	s.mu.Lock()
	if s.state == StateClosed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	<-ch
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Tick drives the send side on the shared time-escape clock: nagle
// flush, CheckWnd promotion/retransmit, pacer-gated egress, and timer
// ACKs, advancing each state machine in one place.
func (s *Session) Tick(now time.Time) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	if s.read.CheckOvertime(now) {
		err := buckyerr.New(buckyerr.CodeErrorState, "stream: break_overtime exceeded")
		s.transitionClosedLocked(err)
		s.mu.Unlock()
		return err
	}
	s.queue.MaybeFlushNagle(now)
	blocks := s.queue.CheckWnd(now, s.rto, s.cc.Cwnd())
	sessionId, fromVPort, toVPort := s.SessionId, s.LocalVPort, s.RemoteVPort
	sender := s.send
	dueAck := s.read.DueForTimerAck(now)
	ackPos := s.read.AckPos()
	if dueAck {
		s.read.MarkAckSent(now)
	}
	s.mu.Unlock()

	for _, b := range blocks {
		if ok, wait := s.pacer.Allow(now); !ok {
			time.Sleep(wait)
		}
		flags := FlagPayload
		if b.Fin {
			flags |= FlagFIN
		}
		pkt := &SessionData{SessionId: sessionId, FromVPort: fromVPort, ToVPort: toVPort, Flags: flags, StreamPos: b.StartOffset, Payload: b.Data}
		if err := sender.SendPackage(pkt.Encode()); err != nil {
			s.cc.OnLoss()
			return err
		}
		s.pacer.MarkSent(now)
	}

	if dueAck {
		return s.sendAck(ackPos, false)
	}
	return nil
}

func (s *Session) sendAck(ackPos uint64, finAck bool) error {
	flags := FlagACK
	if finAck {
		flags |= FlagFINACK
	}
	return s.sendControlAck(flags, ackPos)
}

func (s *Session) sendControl(flags Flag, streamPos uint64) error {
	pkt := &SessionData{SessionId: s.SessionId, FromVPort: s.LocalVPort, ToVPort: s.RemoteVPort, Flags: flags, StreamPos: streamPos}
	return s.send.SendPackage(pkt.Encode())
}

func (s *Session) sendControlAck(flags Flag, ackPos uint64) error {
	pkt := &SessionData{SessionId: s.SessionId, FromVPort: s.LocalVPort, ToVPort: s.RemoteVPort, Flags: flags, AckPos: ackPos}
	return s.send.SendPackage(pkt.Encode())
}
