// Package ndn implements chunked content distribution: the
// interest/piece/control wire protocol, the uploader's retransmission
// index queue, the downloader's windowed range decoder, and the
// download sessions and chunk-list tasks built on top of them.
package ndn

import (
	"encoding/binary"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// ChunkState is a chunk's local availability state.
type ChunkState uint8

const (
	ChunkUnknown ChunkState = iota
	ChunkNotFound
	ChunkPending
	ChunkOnAir
	ChunkReady
	ChunkIgnore
)

func (s ChunkState) String() string {
	switch s {
	case ChunkUnknown:
		return "unknown"
	case ChunkNotFound:
		return "not-found"
	case ChunkPending:
		return "pending"
	case ChunkOnAir:
		return "on-air"
	case ChunkReady:
		return "ready"
	case ChunkIgnore:
		return "ignore"
	default:
		return "invalid"
	}
}

// PieceSessionType selects how piece payloads are produced. Only the
// plain stream layout is implemented; the raptor-q layout is an external
// collaborator and its tag is reserved here so the wire form is stable.
type PieceSessionType uint8

const (
	PieceSessionStream PieceSessionType = iota
	PieceSessionRaptorQ
)

// PieceDesc identifies one piece of a chunk: its index in the fixed-size
// split and the payload size of that piece (only the final piece may be
// short).
type PieceDesc struct {
	Index     uint32
	RangeSize uint16
}

// Interest asks a remote to start streaming a chunk's pieces.
type Interest struct {
	SessionId    uint32
	ChunkId      objectid.ChunkId
	SessionType  PieceSessionType
	Referer      string
	PreferTarget string
}

// Encode serializes the interest with little-endian fixed fields and
// u8-length-prefixed strings.
func (i *Interest) Encode() []byte {
	buf := make([]byte, 4+objectid.Size+1+1+len(i.Referer)+1+len(i.PreferTarget))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], i.SessionId)
	off += 4
	off += copy(buf[off:], i.ChunkId[:])
	buf[off] = byte(i.SessionType)
	off++
	buf[off] = uint8(len(i.Referer))
	off++
	off += copy(buf[off:], i.Referer)
	buf[off] = uint8(len(i.PreferTarget))
	off++
	off += copy(buf[off:], i.PreferTarget)
	return buf[:off]
}

// DecodeInterest parses an Interest from raw tunnel payload.
func DecodeInterest(buf []byte) (*Interest, error) {
	if len(buf) < 4+objectid.Size+1+1 {
		return nil, buckyerr.New(buckyerr.CodeOutOfLimit, "ndn: interest truncated")
	}
	i := &Interest{}
	off := 0
	i.SessionId = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(i.ChunkId[:], buf[off:off+objectid.Size])
	off += objectid.Size
	i.SessionType = PieceSessionType(buf[off])
	off++
	var err error
	i.Referer, off, err = getShortString(buf, off)
	if err != nil {
		return nil, err
	}
	i.PreferTarget, off, err = getShortString(buf, off)
	if err != nil {
		return nil, err
	}
	return i, nil
}

// PieceData carries one piece's payload from uploader to downloader.
type PieceData struct {
	SessionId uint32
	ChunkId   objectid.ChunkId
	Desc      PieceDesc
	Payload   []byte
}

// Encode serializes the piece. The payload length is carried in
// Desc.RangeSize, so no separate length prefix is needed.
func (p *PieceData) Encode() []byte {
	buf := make([]byte, 4+objectid.Size+4+2+len(p.Payload))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], p.SessionId)
	off += 4
	off += copy(buf[off:], p.ChunkId[:])
	binary.LittleEndian.PutUint32(buf[off:], p.Desc.Index)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], p.Desc.RangeSize)
	off += 2
	off += copy(buf[off:], p.Payload)
	return buf[:off]
}

// DecodePieceData parses a PieceData from raw tunnel payload.
func DecodePieceData(buf []byte) (*PieceData, error) {
	if len(buf) < 4+objectid.Size+4+2 {
		return nil, buckyerr.New(buckyerr.CodeOutOfLimit, "ndn: piece data truncated")
	}
	p := &PieceData{}
	off := 0
	p.SessionId = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(p.ChunkId[:], buf[off:off+objectid.Size])
	off += objectid.Size
	p.Desc.Index = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	p.Desc.RangeSize = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	if len(buf)-off != int(p.Desc.RangeSize) {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData,
			"ndn: piece payload length %d does not match range size %d", len(buf)-off, p.Desc.RangeSize)
	}
	p.Payload = append([]byte(nil), buf[off:]...)
	return p, nil
}

// ControlCommand is the downloader's verdict carried in a PieceControl.
type ControlCommand uint8

const (
	ControlContinue ControlCommand = iota
	ControlCancel
	ControlFinish
)

func (c ControlCommand) String() string {
	switch c {
	case ControlContinue:
		return "continue"
	case ControlCancel:
		return "cancel"
	case ControlFinish:
		return "finish"
	default:
		return "invalid"
	}
}

// IndexRange is an inclusive range of piece indices.
type IndexRange struct {
	Start uint32
	End   uint32
}

// PieceControl reports the downloader's receive progress back to the
// uploader: the highest index seen plus the holes to retransmit, or a
// terminal Cancel/Finish.
type PieceControl struct {
	Sequence  uint32
	SessionId uint32
	ChunkId   objectid.ChunkId
	Command   ControlCommand
	MaxIndex  *uint32
	LostIndex []IndexRange
}

const hasMaxIndex = 1 << 0

// Encode serializes the control message.
func (c *PieceControl) Encode() []byte {
	size := 4 + 4 + objectid.Size + 1 + 1 + 2 + 8*len(c.LostIndex)
	if c.MaxIndex != nil {
		size += 4
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], c.Sequence)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.SessionId)
	off += 4
	off += copy(buf[off:], c.ChunkId[:])
	buf[off] = byte(c.Command)
	off++
	var flags uint8
	if c.MaxIndex != nil {
		flags |= hasMaxIndex
	}
	buf[off] = flags
	off++
	if c.MaxIndex != nil {
		binary.LittleEndian.PutUint32(buf[off:], *c.MaxIndex)
		off += 4
	}
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(c.LostIndex)))
	off += 2
	for _, r := range c.LostIndex {
		binary.LittleEndian.PutUint32(buf[off:], r.Start)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], r.End)
		off += 4
	}
	return buf[:off]
}

// DecodePieceControl parses a PieceControl from raw tunnel payload.
func DecodePieceControl(buf []byte) (*PieceControl, error) {
	if len(buf) < 4+4+objectid.Size+1+1+2 {
		return nil, buckyerr.New(buckyerr.CodeOutOfLimit, "ndn: piece control truncated")
	}
	c := &PieceControl{}
	off := 0
	c.Sequence = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	c.SessionId = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(c.ChunkId[:], buf[off:off+objectid.Size])
	off += objectid.Size
	c.Command = ControlCommand(buf[off])
	off++
	if c.Command > ControlFinish {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "ndn: unknown control command %d", c.Command)
	}
	flags := buf[off]
	off++
	if flags&hasMaxIndex != 0 {
		if len(buf)-off < 4 {
			return nil, buckyerr.New(buckyerr.CodeInvalidData, "ndn: control max index truncated")
		}
		v := binary.LittleEndian.Uint32(buf[off:])
		c.MaxIndex = &v
		off += 4
	}
	if len(buf)-off < 2 {
		return nil, buckyerr.New(buckyerr.CodeInvalidData, "ndn: control lost count truncated")
	}
	count := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if len(buf)-off < 8*count {
		return nil, buckyerr.New(buckyerr.CodeInvalidData, "ndn: control lost ranges truncated")
	}
	c.LostIndex = make([]IndexRange, count)
	for i := 0; i < count; i++ {
		c.LostIndex[i].Start = binary.LittleEndian.Uint32(buf[off:])
		off += 4
		c.LostIndex[i].End = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	return c, nil
}

func getShortString(buf []byte, off int) (string, int, error) {
	if len(buf)-off < 1 {
		return "", off, buckyerr.New(buckyerr.CodeInvalidData, "ndn: truncated string length")
	}
	n := int(buf[off])
	off++
	if len(buf)-off < n {
		return "", off, buckyerr.New(buckyerr.CodeInvalidData, "ndn: truncated string body")
	}
	s := string(buf[off : off+n])
	return s, off + n, nil
}
