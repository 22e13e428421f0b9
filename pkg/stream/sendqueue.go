package stream

import (
	"time"

	"github.com/cyfs-go/cyfscore/pkg/constants"
)

// BlockState is a send-queue block's lifecycle state
type BlockState int

const (
	BlockWait BlockState = iota
	BlockOnAir
)

// Block is one MSS-sized (or nagle-flushed sub-MSS tail) unit of the
// SendQueue: data, a start offset, a Wait/OnAir state, and a fin mark.
type Block struct {
	Data       []byte
	StartOffset uint64
	State      BlockState
	SentAt     time.Time
	Fin        bool
}

func (b *Block) end() uint64 { return b.StartOffset + uint64(len(b.Data)) }

// SendQueue holds the outstanding send-side blocks for one stream
// alloc_blocks slices a write buffer into MSS blocks (sub-MSS tails sit in
// a nagle buffer until flushed); confirm drops acked blocks; check_wnd walks
// the queue promoting Wait blocks into the congestion window and re-arming
// timed-out OnAir blocks.
type SendQueue struct {
	Capacity int // backpressure: explicit queue capacity

	blocks      []*Block
	nextOffset  uint64
	flight      int // bytes currently OnAir

	nagleBuf    []byte
	nagleStart  uint64
	nagleSince  time.Time

	finQueued bool
}

// NewSendQueue creates an empty send queue with the given backpressure
// capacity in bytes.
func NewSendQueue(capacity int) *SendQueue {
	if capacity <= 0 {
		capacity = constants.StreamSendQueueCap
	}
	return &SendQueue{Capacity: capacity}
}

// Remain reports how many more bytes alloc_blocks may currently accept
// before hitting Capacity; AllocBlocks accepts at most this many
// bytes, which may be less than requested.
func (q *SendQueue) Remain() int {
	used := len(q.nagleBuf)
	for _, b := range q.blocks {
		used += len(b.Data)
	}
	remain := q.Capacity - used
	if remain < 0 {
		return 0
	}
	return remain
}

// AllocBlocks implements alloc_blocks(buf): copies up to Remain()
// bytes into fixed-size MSS blocks; a sub-MSS tail is held in the nagle
// buffer rather than queued immediately. It returns the number of bytes
// accepted.
func (q *SendQueue) AllocBlocks(buf []byte, now time.Time) int {
	remain := q.Remain()
	if remain <= 0 || len(buf) == 0 {
		return 0
	}
	if len(buf) > remain {
		buf = buf[:remain]
	}
	accepted := len(buf)

	// First top up any pending nagle tail.
	if len(q.nagleBuf) > 0 {
		space := constants.StreamMSS - len(q.nagleBuf)
		if space > len(buf) {
			space = len(buf)
		}
		q.nagleBuf = append(q.nagleBuf, buf[:space]...)
		buf = buf[space:]
		if len(q.nagleBuf) == constants.StreamMSS {
			q.queueBlock(q.nagleBuf, q.nagleStart, false)
			q.nagleBuf = nil
		}
	}

	for len(buf) >= constants.StreamMSS {
		data := make([]byte, constants.StreamMSS)
		copy(data, buf[:constants.StreamMSS])
		q.queueBlock(data, q.nextOffset, false)
		buf = buf[constants.StreamMSS:]
	}

	if len(buf) > 0 {
		if len(q.nagleBuf) == 0 {
			q.nagleStart = q.nextOffset
			q.nagleSince = now
		}
		q.nagleBuf = append(q.nagleBuf, buf...)
		q.nextOffset += uint64(len(buf))
	}

	return accepted
}

func (q *SendQueue) queueBlock(data []byte, offset uint64, fin bool) {
	q.blocks = append(q.blocks, &Block{Data: data, StartOffset: offset, State: BlockWait, Fin: fin})
	q.nextOffset = offset + uint64(len(data))
}

// FlushNagle forces the pending sub-MSS tail into the queue, either because
// nagle_timeout elapsed or the caller wants to close the stream:
// flushed when either MSS is reached or the nagle timeout elapses.
func (q *SendQueue) FlushNagle() {
	if len(q.nagleBuf) == 0 {
		return
	}
	q.queueBlock(q.nagleBuf, q.nagleStart, false)
	q.nagleBuf = nil
}

// MaybeFlushNagle flushes the pending tail if nagle_timeout has elapsed.
func (q *SendQueue) MaybeFlushNagle(now time.Time) {
	if len(q.nagleBuf) == 0 {
		return
	}
	if now.Sub(q.nagleSince) >= constants.StreamNagleTimeout {
		q.FlushNagle()
	}
}

// QueueFin flushes the nagle tail and appends a zero-length FIN-marked
// block, so the FIN rides the same ack-driven confirm/retransmit path as
// payload blocks.
func (q *SendQueue) QueueFin() {
	if q.finQueued {
		return
	}
	q.FlushNagle()
	q.blocks = append(q.blocks, &Block{StartOffset: q.nextOffset, State: BlockWait, Fin: true})
	q.finQueued = true
}

// Confirm implements confirm(ack_pos, fin_ack): drops every block
// whose end <= ack_pos; decrements flight for any dropped block that was
// OnAir.
func (q *SendQueue) Confirm(ackPos uint64, finAck bool) {
	kept := q.blocks[:0]
	for _, b := range q.blocks {
		if b.end() <= ackPos && (!b.Fin || finAck) {
			if b.State == BlockOnAir {
				q.flight -= len(b.Data)
			}
			continue
		}
		kept = append(kept, b)
	}
	q.blocks = kept
}

// CheckWnd implements check_wnd(now, rto, cwnd, out_packets): walks
// blocks in order, re-arming OnAir blocks past RTO, promoting Wait blocks
// whose cumulative flight+length <= cwnd to OnAir and emitting them. The
// walk stops at the first block that would exceed cwnd, forcing all
// remaining OnAir blocks back to Wait — forcing all
// remaining OnAir blocks back to Wait (this is not a bug:
// a single congestion-window budget governs the whole queue each tick).
func (q *SendQueue) CheckWnd(now time.Time, rto time.Duration, cwnd int) []*Block {
	var out []*Block
	flight := 0
	capped := false

	for _, b := range q.blocks {
		if capped {
			b.State = BlockWait
			continue
		}
		switch b.State {
		case BlockOnAir:
			if now.Sub(b.SentAt) >= rto {
				b.SentAt = now
				out = append(out, b)
			}
			flight += len(b.Data)
		case BlockWait:
			if flight+len(b.Data) > cwnd {
				capped = true
				continue
			}
			b.State = BlockOnAir
			b.SentAt = now
			flight += len(b.Data)
			out = append(out, b)
		}
	}
	q.flight = flight
	return out
}

// Flight returns the current bytes-in-flight, tracked incrementally by
// Confirm/CheckWnd.
func (q *SendQueue) Flight() int { return q.flight }

// Empty reports whether every block has been confirmed and no nagle tail
// remains — the send-side half of a clean close.
func (q *SendQueue) Empty() bool {
	return len(q.blocks) == 0 && len(q.nagleBuf) == 0
}
