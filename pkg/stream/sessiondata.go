// Package stream implements the BDT stream transport: a
// packet-stream with windowing/nagle/pacing riding over the tunnel layer
// (pkg/tunnel), addressed by (local-vport, remote-device, remote-vport,
// session-id)'s Stream session model.
package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// Flag bits carried by every SessionData packet
type Flag uint16

const (
	FlagPayload Flag = 1 << iota
	FlagACK
	FlagFIN
	FlagFINACK
	FlagReset
	FlagSYN
	FlagSynAck
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// SessionData is the wire form of every stream-transport packet:
// Each stream has a 32-bit session id chosen by the caller and echoed
// by the callee. The header is a fixed little-endian layout, matching the rest of
// the BDT wire format.
type SessionData struct {
	SessionId   uint32
	FromVPort   uint16
	ToVPort     uint16
	Flags       Flag
	StreamPos   uint64 // payload: this block's start offset
	AckPos      uint64 // ack: cumulative bytes acknowledged
	Payload     []byte
}

const sessionDataHeaderLen = 4 + 2 + 2 + 2 + 8 + 8 // 26 bytes

// Encode serializes a SessionData packet. Payload is appended verbatim
// after the fixed header, bounded by StreamMSS at the call site.
func (s *SessionData) Encode() []byte {
	buf := make([]byte, sessionDataHeaderLen+len(s.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], s.SessionId)
	binary.LittleEndian.PutUint16(buf[4:6], s.FromVPort)
	binary.LittleEndian.PutUint16(buf[6:8], s.ToVPort)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(s.Flags))
	binary.LittleEndian.PutUint64(buf[10:18], s.StreamPos)
	binary.LittleEndian.PutUint64(buf[18:26], s.AckPos)
	copy(buf[sessionDataHeaderLen:], s.Payload)
	return buf
}

// DecodeSessionData parses a SessionData packet from raw tunnel payload.
func DecodeSessionData(buf []byte) (*SessionData, error) {
	if len(buf) < sessionDataHeaderLen {
		return nil, fmt.Errorf("%w: session data header truncated", buckyerr.New(buckyerr.CodeOutOfLimit, "stream"))
	}
	s := &SessionData{
		SessionId: binary.LittleEndian.Uint32(buf[0:4]),
		FromVPort: binary.LittleEndian.Uint16(buf[4:6]),
		ToVPort:   binary.LittleEndian.Uint16(buf[6:8]),
		Flags:     Flag(binary.LittleEndian.Uint16(buf[8:10])),
		StreamPos: binary.LittleEndian.Uint64(buf[10:18]),
		AckPos:    binary.LittleEndian.Uint64(buf[18:26]),
	}
	if len(buf) > sessionDataHeaderLen {
		payload := make([]byte, len(buf)-sessionDataHeaderLen)
		copy(payload, buf[sessionDataHeaderLen:])
		s.Payload = payload
	}
	return s, nil
}
