package ndn

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// Channel is the downloader's view of a tunnel-backed channel to one
// remote: send an interest or a control, addressed by the remote's id.
type Channel interface {
	RemoteId() string
	SendInterest(i *Interest) error
	SendControl(c *PieceControl) error
}

// DownloadState is a download session's lifecycle state.
type DownloadState int

const (
	DownloadPending DownloadState = iota
	DownloadDownloading
	DownloadFinished
	DownloadError
)

func (s DownloadState) String() string {
	switch s {
	case DownloadPending:
		return "pending"
	case DownloadDownloading:
		return "downloading"
	case DownloadFinished:
		return "finished"
	case DownloadError:
		return "error"
	default:
		return "invalid"
	}
}

// DownloadSession pulls one chunk over one channel. Pieces are pushed in
// by the package dispatcher; a shared timer drives resend controls and
// the silence timeout through OnTimeEscape.
type DownloadSession struct {
	mu sync.Mutex

	SessionId uint32
	ChunkId   objectid.ChunkId

	channel Channel
	decoder *RangeDecoder

	state          DownloadState
	err            *buckyerr.Error
	redirectTarget string

	startedAt  time.Time
	lastRecvAt time.Time
	ctrlSeq    uint32

	resendInterval time.Duration
	resendTimeout  time.Duration

	waiters []chan struct{}
}

// NewDownloadSession creates a session in the Pending state.
func NewDownloadSession(sessionId uint32, chunkId objectid.ChunkId, channel Channel, pieceSize uint32, resendInterval, resendTimeout time.Duration) *DownloadSession {
	return &DownloadSession{
		SessionId:      sessionId,
		ChunkId:        chunkId,
		channel:        channel,
		decoder:        NewRangeDecoder(chunkId, pieceSize),
		state:          DownloadPending,
		resendInterval: resendInterval,
		resendTimeout:  resendTimeout,
	}
}

// Start sends the interest that opens the session.
func (s *DownloadSession) Start(now time.Time, referer, preferTarget string) error {
	s.mu.Lock()
	s.startedAt = now
	s.lastRecvAt = now
	i := &Interest{
		SessionId:    s.SessionId,
		ChunkId:      s.ChunkId,
		SessionType:  PieceSessionStream,
		Referer:      referer,
		PreferTarget: preferTarget,
	}
	s.mu.Unlock()
	return s.channel.SendInterest(i)
}

// State returns the current state.
func (s *DownloadSession) State() DownloadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PushPieceData feeds one received piece into the decoder. It returns
// true when the chunk is complete; the session then emits a Finish
// control and wakes waiters. A piece that advances the decoder resets
// the silence clock.
func (s *DownloadSession) PushPieceData(now time.Time, p *PieceData) (bool, error) {
	s.mu.Lock()
	if s.state == DownloadFinished {
		s.mu.Unlock()
		return true, nil
	}
	if s.state == DownloadError {
		s.mu.Unlock()
		return false, s.err
	}
	changed, err := s.decoder.PushPiece(p)
	if err != nil {
		s.mu.Unlock()
		// A malformed piece is fatal to the decode of that packet, not to
		// the session; the caller drops it and the session keeps waiting.
		return false, err
	}
	s.state = DownloadDownloading
	if changed {
		s.lastRecvAt = now
	}
	if !s.decoder.Ready() {
		s.mu.Unlock()
		return false, nil
	}
	s.state = DownloadFinished
	fin := s.buildControlLocked(ControlFinish)
	s.wakeLocked()
	s.mu.Unlock()
	_ = s.channel.SendControl(fin)
	return true, nil
}

// Data returns the reassembled chunk bytes; valid once Finished.
func (s *DownloadSession) Data() []byte {
	return s.decoder.Data()
}

// OnTimeEscape drives resend and timeout from the shared tick: after
// resendInterval of silence with holes outstanding a Continue control is
// emitted; after resendTimeout of cumulative silence the session breaks
// with Timeout.
func (s *DownloadSession) OnTimeEscape(now time.Time) {
	s.mu.Lock()
	if s.state != DownloadPending && s.state != DownloadDownloading {
		s.mu.Unlock()
		return
	}
	silent := now.Sub(s.lastRecvAt)
	if silent >= s.resendTimeout {
		s.state = DownloadError
		s.err = buckyerr.Newf(buckyerr.CodeTimeout, "ndn: chunk %s silent for %v", s.ChunkId, silent)
		s.wakeLocked()
		s.mu.Unlock()
		return
	}
	if silent < s.resendInterval {
		s.mu.Unlock()
		return
	}
	ctrl := s.buildControlLocked(ControlContinue)
	s.mu.Unlock()
	_ = s.channel.SendControl(ctrl)
}

func (s *DownloadSession) buildControlLocked(cmd ControlCommand) *PieceControl {
	s.ctrlSeq++
	max, lost := s.decoder.Snapshot()
	return &PieceControl{
		Sequence:  s.ctrlSeq,
		SessionId: s.SessionId,
		ChunkId:   s.ChunkId,
		Command:   cmd,
		MaxIndex:  max,
		LostIndex: lost,
	}
}

// Cancel breaks the session with Interrupted and tells the uploader to
// stop.
func (s *DownloadSession) Cancel() {
	s.breakWith(buckyerr.New(buckyerr.CodeInterrupted, "ndn: download canceled"), "")
	s.mu.Lock()
	ctrl := s.buildControlLocked(ControlCancel)
	s.mu.Unlock()
	_ = s.channel.SendControl(ctrl)
}

// Break moves the session to Error with the given cause. The channel
// owner calls this when the underlying tunnel reports a failure; a
// Redirect cause may carry the target the downloader should respawn
// against.
func (s *DownloadSession) Break(err *buckyerr.Error, redirectTarget string) {
	s.breakWith(err, redirectTarget)
}

func (s *DownloadSession) breakWith(err *buckyerr.Error, redirectTarget string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == DownloadFinished || s.state == DownloadError {
		return
	}
	s.state = DownloadError
	s.err = err
	s.redirectTarget = redirectTarget
	s.wakeLocked()
}

// Err returns the terminal error and any redirect target attached to it.
func (s *DownloadSession) Err() (*buckyerr.Error, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err, s.redirectTarget
}

// Wait blocks until the session reaches Finished or Error.
func (s *DownloadSession) Wait() DownloadState {
	for {
		s.mu.Lock()
		if s.state == DownloadFinished || s.state == DownloadError {
			st := s.state
			s.mu.Unlock()
			return st
		}
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		<-ch
	}
}

func (s *DownloadSession) wakeLocked() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}
