package ndn

import (
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// UploadState is an upload session's lifecycle state.
type UploadState int

const (
	UploadSending UploadState = iota
	UploadFinished
	UploadCanceled
)

// UploadSession answers one Interest: it splits the chunk into pieces,
// streams them lowest-index-first, and folds the downloader's Continue
// controls back into its index queue for retransmission. The session is
// driven by its owner calling NextPiece in a pacing loop.
type UploadSession struct {
	mu sync.Mutex

	SessionId uint32
	ChunkId   objectid.ChunkId

	data      []byte
	pieceSize uint32
	count     uint32
	queue     *IndexQueue
	state     UploadState
}

// NewUploadSession creates a session over chunk data already verified to
// match the interest's chunk id.
func NewUploadSession(interest *Interest, data []byte, pieceSize uint32) (*UploadSession, error) {
	if err := interest.ChunkId.Verify(data); err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeNotMatch, "ndn: upload data does not match %s: %v", interest.ChunkId, err)
	}
	count := PieceCount(interest.ChunkId.Length(), pieceSize)
	return &UploadSession{
		SessionId: interest.SessionId,
		ChunkId:   interest.ChunkId,
		data:      data,
		pieceSize: pieceSize,
		count:     count,
		queue:     NewIndexQueue(0, count-1),
	}, nil
}

// State returns the session state.
func (u *UploadSession) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// NextPiece pops the lowest pending index and builds its PieceData. It
// returns nil when the queue is drained (the session then idles until a
// control merges indices back or finishes it) or the session is terminal.
func (u *UploadSession) NextPiece() *PieceData {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != UploadSending {
		return nil
	}
	idx, ok := u.queue.Next()
	if !ok {
		return nil
	}
	start := uint64(idx) * uint64(u.pieceSize)
	end := start + uint64(u.pieceSize)
	if end > uint64(len(u.data)) {
		end = uint64(len(u.data))
	}
	return &PieceData{
		SessionId: u.SessionId,
		ChunkId:   u.ChunkId,
		Desc:      PieceDesc{Index: idx, RangeSize: uint16(end - start)},
		Payload:   u.data[start:end],
	}
}

// OnControl applies a downloader control: Continue merges the reported
// holes for retransmission, Cancel and Finish end the session.
func (u *UploadSession) OnControl(c *PieceControl) error {
	if c.SessionId != u.SessionId || c.ChunkId != u.ChunkId {
		return buckyerr.New(buckyerr.CodeNotMatch, "ndn: control for a different session")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != UploadSending {
		return nil
	}
	switch c.Command {
	case ControlContinue:
		if c.MaxIndex != nil {
			u.queue.Merge(*c.MaxIndex, c.LostIndex)
		}
	case ControlCancel:
		u.state = UploadCanceled
	case ControlFinish:
		u.state = UploadFinished
	}
	return nil
}
