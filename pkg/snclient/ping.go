// Package snclient implements the SN (super-node) client protocol:
// ping-session registration against a rendezvous node and call-session
// NAT-traversal rendezvous.
package snclient

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// PingState is a ping session's lifecycle state
type PingState int

const (
	PingInit PingState = iota
	PingRequesting
	PingResponsed
	PingTimeout
	PingCanceled
)

func (s PingState) String() string {
	switch s {
	case PingInit:
		return "init"
	case PingRequesting:
		return "requesting"
	case PingResponsed:
		return "responsed"
	case PingTimeout:
		return "timeout"
	case PingCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// PingResult is what a ping session resolves to: the SN's observed
// endpoint set for this peer, or a terminal error.
type PingResult struct {
	Endpoints []string
	Err       error
}

// PingSession is one (local endpoint × SN) registration session: the
// initiator emits an SnPing and resends on resend_interval until
// resend_timeout. The session completes on the first matching SnPingResp
// whose seq falls in [first_sent_seq, last_sent_seq].
type PingSession struct {
	mu sync.Mutex

	FromPeerId string
	SnPeerId   string
	snEndpoints []string

	state PingState

	firstSentSeq uint32
	lastSentSeq  uint32
	nextSeq      uint32

	startedAt      time.Time
	lastSendAt     time.Time
	resendInterval time.Duration
	resendTimeout  time.Duration

	result  *PingResult
	waiters []chan struct{}

	// send transmits one SnPing to every known SN endpoint from
	// FromPeerId, with the given sequence number. Injected so the session
	// object stays transport-agnostic and unit-testable.
	send func(seq uint32, endpoints []string) error
}

// NewPingSession creates a session in the Init state.
func NewPingSession(fromPeerId, snPeerId string, snEndpoints []string, resendInterval, resendTimeout time.Duration, send func(seq uint32, endpoints []string) error) *PingSession {
	return &PingSession{
		FromPeerId:     fromPeerId,
		SnPeerId:       snPeerId,
		snEndpoints:    snEndpoints,
		state:          PingInit,
		resendInterval: resendInterval,
		resendTimeout:  resendTimeout,
		send:           send,
	}
}

// Start transitions Init -> Requesting and sends the first SnPing.
func (s *PingSession) Start(now time.Time) error {
	s.mu.Lock()
	if s.state != PingInit {
		s.mu.Unlock()
		return buckyerr.New(buckyerr.CodeErrorState, "snclient: ping session already started")
	}
	s.state = PingRequesting
	s.startedAt = now
	s.firstSentSeq = s.nextSeq
	s.mu.Unlock()
	return s.sendOnce(now)
}

func (s *PingSession) sendOnce(now time.Time) error {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.lastSentSeq = seq
	s.lastSendAt = now
	endpoints := s.snEndpoints
	s.mu.Unlock()
	return s.send(seq, endpoints)
}

// OnTimeEscape is invoked by the single shared timer task: it either
// sends a packet or wakes waiters on timeout. It resends
// if resend_interval has elapsed, or transitions to Timeout and wakes
// waiters if resend_timeout has elapsed.
func (s *PingSession) OnTimeEscape(now time.Time) error {
	s.mu.Lock()
	if s.state != PingRequesting {
		s.mu.Unlock()
		return nil
	}
	if now.Sub(s.startedAt) >= s.resendTimeout {
		s.state = PingTimeout
		s.result = &PingResult{Err: buckyerr.New(buckyerr.CodeTimeout, "snclient: ping session timed out")}
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()
		wakeAll(waiters)
		return nil
	}
	due := s.lastSendAt.Add(s.resendInterval)
	s.mu.Unlock()
	if !now.Before(due) {
		return s.sendOnce(now)
	}
	return nil
}

// OnResp processes an incoming SnPingResp. It only completes the session
// if seq falls in [first_sent_seq, last_sent_seq]
func (s *PingSession) OnResp(seq uint32, endpoints []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != PingRequesting {
		return false
	}
	if seq < s.firstSentSeq || seq > s.lastSentSeq {
		return false
	}
	s.state = PingResponsed
	s.result = &PingResult{Endpoints: endpoints}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	wakeAll(waiters)
	s.mu.Lock()
	return true
}

// Cancel moves the session to Canceled and wakes any waiters with
// Interrupted.
func (s *PingSession) Cancel() {
	s.mu.Lock()
	if s.state == PingResponsed || s.state == PingTimeout || s.state == PingCanceled {
		s.mu.Unlock()
		return
	}
	s.state = PingCanceled
	s.result = &PingResult{Err: buckyerr.New(buckyerr.CodeInterrupted, "snclient: ping session canceled")}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	wakeAll(waiters)
}

// State returns the session's current state.
func (s *PingSession) State() PingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until the session reaches a terminal state, implementing
// callers suspend on a per-call close-once channel; wake happens
// at most once per state transition.
func (s *PingSession) Wait() PingResult {
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

func wakeAll(waiters []chan struct{}) {
	for _, ch := range waiters {
		close(ch)
	}
}
