package snclient

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// CallState is a call session's lifecycle state. To reach a peer whose
// endpoints are unknown, the caller sends an SnCall via the SN; the SN
// forwards it, and the callee answers with its current endpoint list —
// possibly empty, in which case NAT hole-punch packets are emitted by
// both sides toward the SN-observed addresses.
type CallState int

const (
	CallInit CallState = iota
	CallRequesting
	CallRespondedWithEndpoints
	CallRespondedEmptyHolePunch
	CallTimeout
	CallCanceled
)

func (s CallState) String() string {
	switch s {
	case CallInit:
		return "init"
	case CallRequesting:
		return "requesting"
	case CallRespondedWithEndpoints:
		return "responded_with_endpoints"
	case CallRespondedEmptyHolePunch:
		return "responded_empty_hole_punch"
	case CallTimeout:
		return "timeout"
	case CallCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// CallResult is what a call session resolves to.
type CallResult struct {
	// Endpoints is P's reported endpoint list. It is nil when the SN
	// reported no known endpoints for P; HolePunch is then set and both
	// sides emit hole-punch packets toward SNObserved instead.
	Endpoints    []string
	HolePunch    bool
	SNObserved   string
	Err          error
}

// CallSession is one SnCall rendezvous attempt against a single SN. It
// reuses the same mutex-guarded state machine and
// single-timer on_time_escape / lock-free waiter-wake contract as
// PingSession.
type CallSession struct {
	mu sync.Mutex

	FromPeerId string
	ToPeerId   string
	SnPeerId   string

	state CallState

	seq uint32

	startedAt      time.Time
	lastSendAt     time.Time
	resendInterval time.Duration
	resendTimeout  time.Duration

	result  *CallResult
	waiters []chan struct{}

	send func(seq uint32) error
}

// NewCallSession creates a session in the Init state.
func NewCallSession(fromPeerId, toPeerId, snPeerId string, seq uint32, resendInterval, resendTimeout time.Duration, send func(seq uint32) error) *CallSession {
	return &CallSession{
		FromPeerId:     fromPeerId,
		ToPeerId:       toPeerId,
		SnPeerId:       snPeerId,
		seq:            seq,
		state:          CallInit,
		resendInterval: resendInterval,
		resendTimeout:  resendTimeout,
		send:           send,
	}
}

// Start transitions Init -> Requesting and emits the first SnCall.
func (s *CallSession) Start(now time.Time) error {
	s.mu.Lock()
	if s.state != CallInit {
		s.mu.Unlock()
		return buckyerr.New(buckyerr.CodeErrorState, "snclient: call session already started")
	}
	s.state = CallRequesting
	s.startedAt = now
	s.lastSendAt = now
	s.mu.Unlock()
	return s.send(s.seq)
}

// OnTimeEscape resends the SnCall on resend_interval and times out the
// session on resend_timeout, matching PingSession's contract.
func (s *CallSession) OnTimeEscape(now time.Time) error {
	s.mu.Lock()
	if s.state != CallRequesting {
		s.mu.Unlock()
		return nil
	}
	if now.Sub(s.startedAt) >= s.resendTimeout {
		s.state = CallTimeout
		s.result = &CallResult{Err: buckyerr.New(buckyerr.CodeTimeout, "snclient: call session timed out")}
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()
		wakeAll(waiters)
		return nil
	}
	due := s.lastSendAt.Add(s.resendInterval)
	if !now.Before(due) {
		s.lastSendAt = now
		s.mu.Unlock()
		return s.send(s.seq)
	}
	s.mu.Unlock()
	return nil
}

// OnCallResp processes the SN's forwarded reply from P. An empty endpoint
// list means both sides must now emit hole-punch packets to snObserved.
func (s *CallSession) OnCallResp(endpoints []string, snObserved string) {
	s.mu.Lock()
	if s.state != CallRequesting {
		s.mu.Unlock()
		return
	}
	if len(endpoints) == 0 {
		s.state = CallRespondedEmptyHolePunch
		s.result = &CallResult{HolePunch: true, SNObserved: snObserved}
	} else {
		s.state = CallRespondedWithEndpoints
		s.result = &CallResult{Endpoints: endpoints}
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	wakeAll(waiters)
}

// Cancel wakes any waiters with Interrupted.
func (s *CallSession) Cancel() {
	s.mu.Lock()
	if s.state == CallRespondedWithEndpoints || s.state == CallRespondedEmptyHolePunch ||
		s.state == CallTimeout || s.state == CallCanceled {
		s.mu.Unlock()
		return
	}
	s.state = CallCanceled
	s.result = &CallResult{Err: buckyerr.New(buckyerr.CodeInterrupted, "snclient: call session canceled")}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	wakeAll(waiters)
}

// State returns the session's current state.
func (s *CallSession) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until the session reaches a terminal state.
func (s *CallSession) Wait() CallResult {
	s.mu.Lock()
	if s.result != nil {
		r := *s.result
		s.mu.Unlock()
		return r
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	<-ch

	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.result
}
