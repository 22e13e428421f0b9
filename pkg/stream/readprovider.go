package stream

import (
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
)

// pendingSeg is an out-of-order payload segment buffered until the bytes
// before it have arrived.
type pendingSeg struct {
	offset uint64
	data   []byte
}

// ReadProvider is the read side: it accumulates in-order payload
// into a ring buffer, emits ACKs (either on every other packet or on
// timer), and enforces break_overtime — if no packet arrives for longer
// than that bound the stream transitions to Error.
type ReadProvider struct {
	recvPos  uint64 // next in-order byte offset expected
	buf      []byte // in-order bytes not yet consumed by the reader
	pending  []pendingSeg

	packetsSinceAck int
	lastAckAt       time.Time
	lastRecvAt      time.Time

	breakOvertime time.Duration
	ackEveryN     int
	ackTimer      time.Duration

	errored bool
}

// NewReadProvider creates a read provider starting at offset 0.
func NewReadProvider() *ReadProvider {
	return &ReadProvider{
		breakOvertime: constants.StreamBreakOvertime,
		ackEveryN:     constants.StreamAckEveryN,
		ackTimer:      constants.StreamAckTimer,
	}
}

// OnPayload ingests one payload block. Blocks at or past recvPos are
// merged in-order; blocks beyond a gap are buffered in pending until the
// gap closes. Returns whether an ACK should be sent now per the cadence
// rule (every ackEveryN packets, else left to the ack timer).
func (r *ReadProvider) OnPayload(now time.Time, offset uint64, data []byte) (ackNow bool, err error) {
	if r.errored {
		return false, buckyerr.New(buckyerr.CodeErrorState, "stream: read provider already in error state")
	}
	r.lastRecvAt = now
	r.ingest(offset, data)
	r.drainPending()

	r.packetsSinceAck++
	if r.packetsSinceAck >= r.ackEveryN {
		r.packetsSinceAck = 0
		r.lastAckAt = now
		return true, nil
	}
	return false, nil
}

func (r *ReadProvider) ingest(offset uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	end := offset + uint64(len(data))
	if end <= r.recvPos {
		return // fully duplicate
	}
	if offset < r.recvPos {
		data = data[r.recvPos-offset:]
		offset = r.recvPos
	}
	if offset == r.recvPos {
		r.buf = append(r.buf, data...)
		r.recvPos += uint64(len(data))
		return
	}
	r.pending = append(r.pending, pendingSeg{offset: offset, data: data})
}

// drainPending folds any buffered out-of-order segments that have become
// contiguous with recvPos after the latest ingest.
func (r *ReadProvider) drainPending() {
	progressed := true
	for progressed {
		progressed = false
		for i, seg := range r.pending {
			if seg.offset > r.recvPos {
				continue
			}
			r.ingest(seg.offset, seg.data)
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			progressed = true
			break
		}
	}
}

// AckPos returns the cumulative in-order byte count acknowledged so far.
func (r *ReadProvider) AckPos() uint64 { return r.recvPos }

// Read drains up to len(p) bytes of in-order payload into p.
func (r *ReadProvider) Read(p []byte) int {
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n
}

// Buffered reports how many in-order bytes are waiting to be read.
func (r *ReadProvider) Buffered() int { return len(r.buf) }

// DueForTimerAck reports whether the ack timer has elapsed since the last
// ACK, the timer half of the every-other-packet-or-on-timer cadence.
func (r *ReadProvider) DueForTimerAck(now time.Time) bool {
	if r.packetsSinceAck == 0 {
		return false
	}
	return now.Sub(r.lastAckAt) >= r.ackTimer
}

// MarkAckSent resets the cadence counters after an ACK (timer-driven or
// otherwise) is actually sent.
func (r *ReadProvider) MarkAckSent(now time.Time) {
	r.packetsSinceAck = 0
	r.lastAckAt = now
}

// CheckOvertime enforces break_overtime: if no packet has arrived for
// longer than the configured bound, the stream transitions to Error.
func (r *ReadProvider) CheckOvertime(now time.Time) bool {
	if r.errored {
		return true
	}
	if r.lastRecvAt.IsZero() {
		return false
	}
	if now.Sub(r.lastRecvAt) > r.breakOvertime {
		r.errored = true
		return true
	}
	return false
}
