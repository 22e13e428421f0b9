package ndn

import (
	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// PieceCount returns how many fixed-size pieces a chunk of the given
// length splits into. A zero-length chunk still has one (empty) piece so
// the protocol always exchanges at least one PieceData.
func PieceCount(chunkLen uint32, pieceSize uint32) uint32 {
	if chunkLen == 0 {
		return 1
	}
	return (chunkLen + pieceSize - 1) / pieceSize
}

// RangeDecoder reassembles a chunk from pieces received in any order. It
// records which indices have arrived, reports (max_index, lost_index)
// snapshots for Continue controls, and transitions to Ready when every
// piece is present and the assembled bytes verify against the chunk id.
type RangeDecoder struct {
	chunkId   objectid.ChunkId
	pieceSize uint32
	count     uint32

	received []bool
	got      uint32
	maxSeen  uint32
	any      bool

	data  []byte
	ready bool
}

// NewRangeDecoder creates a decoder for one chunk. The piece size must
// match the uploader's split.
func NewRangeDecoder(chunkId objectid.ChunkId, pieceSize uint32) *RangeDecoder {
	count := PieceCount(chunkId.Length(), pieceSize)
	return &RangeDecoder{
		chunkId:   chunkId,
		pieceSize: pieceSize,
		count:     count,
		received:  make([]bool, count),
		data:      make([]byte, chunkId.Length()),
	}
}

// PushPiece records one received piece. The first return is true when
// the decoder's visible state changed (a new index arrived or the
// decoder became Ready); duplicates return false.
func (d *RangeDecoder) PushPiece(p *PieceData) (bool, error) {
	if p.ChunkId != d.chunkId {
		return false, buckyerr.Newf(buckyerr.CodeNotMatch, "ndn: piece for %s on decoder for %s", p.ChunkId, d.chunkId)
	}
	if p.Desc.Index >= d.count {
		return false, buckyerr.Newf(buckyerr.CodeOutOfLimit, "ndn: piece index %d out of %d", p.Desc.Index, d.count)
	}
	want := d.pieceLen(p.Desc.Index)
	if uint32(len(p.Payload)) != want {
		return false, buckyerr.Newf(buckyerr.CodeInvalidData, "ndn: piece %d has %d bytes, want %d", p.Desc.Index, len(p.Payload), want)
	}
	if d.received[p.Desc.Index] {
		return false, nil
	}
	d.received[p.Desc.Index] = true
	d.got++
	if !d.any || p.Desc.Index > d.maxSeen {
		d.maxSeen = p.Desc.Index
	}
	d.any = true
	copy(d.data[uint64(p.Desc.Index)*uint64(d.pieceSize):], p.Payload)

	if d.got == d.count {
		if err := d.chunkId.Verify(d.data); err != nil {
			return false, buckyerr.Newf(buckyerr.CodeInvalidData, "ndn: reassembled chunk failed verification: %v", err)
		}
		d.ready = true
	}
	return true, nil
}

func (d *RangeDecoder) pieceLen(index uint32) uint32 {
	if index+1 < d.count {
		return d.pieceSize
	}
	tail := d.chunkId.Length() - (d.count-1)*d.pieceSize
	return tail
}

// Ready reports whether every piece is present and verified.
func (d *RangeDecoder) Ready() bool {
	return d.ready
}

// Data returns the reassembled chunk; valid only once Ready.
func (d *RangeDecoder) Data() []byte {
	return d.data
}

// Snapshot computes the progress report for a Continue control: the
// highest index received (nil before any piece arrives) and the inclusive
// hole ranges at or below it.
func (d *RangeDecoder) Snapshot() (*uint32, []IndexRange) {
	if !d.any {
		return nil, nil
	}
	max := d.maxSeen
	var lost []IndexRange
	var cur *IndexRange
	for i := uint32(0); i < max; i++ {
		if d.received[i] {
			cur = nil
			continue
		}
		if cur != nil && cur.End+1 == i {
			cur.End = i
			continue
		}
		lost = append(lost, IndexRange{Start: i, End: i})
		cur = &lost[len(lost)-1]
	}
	return &max, lost
}
