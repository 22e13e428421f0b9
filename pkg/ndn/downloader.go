package ndn

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// ChannelOpener opens (or reuses) a channel to the named remote.
type ChannelOpener func(target string) (Channel, error)

// DownloaderConfig carries the chunk downloader's tunables; zero values
// fall back to the stack defaults.
type DownloaderConfig struct {
	PieceSize           uint32
	ResendInterval      time.Duration
	ResendTimeout       time.Duration
	WaitRedirectTimeout time.Duration
	MaxRespawns         int
}

func (c *DownloaderConfig) withDefaults() DownloaderConfig {
	out := *c
	if out.PieceSize == 0 {
		out.PieceSize = constants.NdnPieceSize
	}
	if out.ResendInterval == 0 {
		out.ResendInterval = constants.NdnResendInterval
	}
	if out.ResendTimeout == 0 {
		out.ResendTimeout = constants.NdnResendTimeout
	}
	if out.WaitRedirectTimeout == 0 {
		out.WaitRedirectTimeout = constants.NdnWaitRedirectTimeout
	}
	if out.MaxRespawns == 0 {
		out.MaxRespawns = constants.NdnMaxSessionRespawns
	}
	return out
}

// ChunkDownloader coordinates one or more download sessions for the same
// chunk. Single-source mode runs one session; double-source mode races
// two and cancels the slower once either finishes. Session failures
// classified as retriable respawn a fresh session, against the redirect
// target when one was supplied.
type ChunkDownloader struct {
	mu sync.Mutex

	chunkId objectid.ChunkId
	opener  ChannelOpener
	config  DownloaderConfig

	nextSessionId uint32
	sessions      []*DownloadSession

	state   DownloadState
	data    []byte
	err     *buckyerr.Error
	waiters []chan struct{}

	wg sync.WaitGroup
}

// NewChunkDownloader creates a downloader; Run starts it.
func NewChunkDownloader(chunkId objectid.ChunkId, opener ChannelOpener, config DownloaderConfig) *ChunkDownloader {
	return &ChunkDownloader{
		chunkId: chunkId,
		opener:  opener,
		config:  config.withDefaults(),
		state:   DownloadPending,
	}
}

// Run starts one racing session per source target. It returns after the
// sessions are launched; Wait observes completion.
func (d *ChunkDownloader) Run(now time.Time, targets ...string) error {
	if len(targets) == 0 {
		return buckyerr.New(buckyerr.CodeInvalidParam, "ndn: downloader needs at least one source")
	}
	for _, target := range targets {
		session, err := d.spawn(now, target)
		if err != nil {
			return err
		}
		d.wg.Add(1)
		go d.drive(session, target, 0)
	}
	return nil
}

func (d *ChunkDownloader) spawn(now time.Time, target string) (*DownloadSession, error) {
	ch, err := d.opener(target)
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeNotConnected, "ndn: open channel to %s: %v", target, err)
	}
	d.mu.Lock()
	d.nextSessionId++
	session := NewDownloadSession(d.nextSessionId, d.chunkId, ch, d.config.PieceSize, d.config.ResendInterval, d.config.ResendTimeout)
	d.sessions = append(d.sessions, session)
	d.mu.Unlock()
	if err := session.Start(now, "", target); err != nil {
		session.Break(buckyerr.Newf(buckyerr.CodeNotConnected, "ndn: send interest: %v", err), "")
	}
	return session, nil
}

// drive waits for one session's outcome and applies the
// retriable-vs-fatal classification, respawning when appropriate.
func (d *ChunkDownloader) drive(session *DownloadSession, target string, respawns int) {
	defer d.wg.Done()
	if session.Wait() == DownloadFinished {
		d.finish(session)
		return
	}
	err, redirect := session.Err()
	if d.State() == DownloadFinished {
		return
	}
	if err == nil {
		err = buckyerr.New(buckyerr.CodeFailed, "ndn: session broke without a cause")
	}
	if respawns >= d.config.MaxRespawns || !retriableSession(err.Code) {
		d.fail(err)
		return
	}
	next := target
	switch err.Code {
	case buckyerr.CodeRedirect, buckyerr.CodeNotConnected:
		if redirect != "" {
			next = redirect
		}
	case buckyerr.CodePending:
		time.Sleep(d.config.WaitRedirectTimeout)
	}
	if d.State() == DownloadFinished {
		return
	}
	fresh, spawnErr := d.spawn(time.Now(), next)
	if spawnErr != nil {
		d.fail(buckyerr.Newf(buckyerr.CodeNotConnected, "ndn: respawn against %s: %v", next, spawnErr))
		return
	}
	d.wg.Add(1)
	go d.drive(fresh, next, respawns+1)
}

// retriableSession classifies a session error: Pending, Redirect and
// NotConnected reschedule; Timeout, NotMatch, InvalidSignature and the
// rest propagate.
func retriableSession(code buckyerr.Code) bool {
	switch code {
	case buckyerr.CodePending, buckyerr.CodeRedirect, buckyerr.CodeNotConnected:
		return true
	default:
		return false
	}
}

func (d *ChunkDownloader) finish(winner *DownloadSession) {
	d.mu.Lock()
	if d.state == DownloadFinished {
		d.mu.Unlock()
		return
	}
	d.state = DownloadFinished
	d.data = winner.Data()
	losers := make([]*DownloadSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		if s != winner {
			losers = append(losers, s)
		}
	}
	d.wakeLocked()
	d.mu.Unlock()
	for _, s := range losers {
		s.Cancel()
	}
}

func (d *ChunkDownloader) fail(err *buckyerr.Error) {
	d.mu.Lock()
	if d.state == DownloadFinished || d.state == DownloadError {
		d.mu.Unlock()
		return
	}
	d.state = DownloadError
	d.err = err
	d.wakeLocked()
	d.mu.Unlock()
}

// PushPieceData routes a received piece to the session it belongs to.
func (d *ChunkDownloader) PushPieceData(now time.Time, p *PieceData) (bool, error) {
	d.mu.Lock()
	var session *DownloadSession
	for _, s := range d.sessions {
		if s.SessionId == p.SessionId {
			session = s
			break
		}
	}
	d.mu.Unlock()
	if session == nil {
		return false, buckyerr.Newf(buckyerr.CodeNotFound, "ndn: no session %d for chunk %s", p.SessionId, p.ChunkId)
	}
	return session.PushPieceData(now, p)
}

// OnTimeEscape fans the shared tick out to every live session.
func (d *ChunkDownloader) OnTimeEscape(now time.Time) {
	d.mu.Lock()
	sessions := append([]*DownloadSession(nil), d.sessions...)
	d.mu.Unlock()
	for _, s := range sessions {
		s.OnTimeEscape(now)
	}
}

// Cancel aborts every session and fails the downloader with Interrupted.
func (d *ChunkDownloader) Cancel() {
	d.mu.Lock()
	sessions := append([]*DownloadSession(nil), d.sessions...)
	d.mu.Unlock()
	for _, s := range sessions {
		s.Cancel()
	}
	d.fail(buckyerr.New(buckyerr.CodeInterrupted, "ndn: download canceled"))
}

// State returns the downloader state.
func (d *ChunkDownloader) State() DownloadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Wait blocks until the download finishes or fails, returning the chunk
// bytes on success.
func (d *ChunkDownloader) Wait() ([]byte, error) {
	for {
		d.mu.Lock()
		switch d.state {
		case DownloadFinished:
			data := d.data
			d.mu.Unlock()
			return data, nil
		case DownloadError:
			err := d.err
			d.mu.Unlock()
			return nil, err
		}
		ch := make(chan struct{})
		d.waiters = append(d.waiters, ch)
		d.mu.Unlock()
		<-ch
	}
}

func (d *ChunkDownloader) wakeLocked() {
	for _, ch := range d.waiters {
		close(ch)
	}
	d.waiters = nil
}
