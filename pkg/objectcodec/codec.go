// Package objectcodec implements the canonical binary layer: the
// Desc/Body/ObjectSigns triple that makes up a Named Object, the
// purpose-flagged measure/encode/decode discipline, and id computation.
//
// Encoding is a hand-rolled little-endian layout rather than CBOR: the
// byte stream feeding id computation must stay exactly reproducible
// across versions, and the purpose flag changes which fields are even
// visible to the encoder.
package objectcodec

import (
	"encoding/binary"
	"fmt"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// Purpose distinguishes the two encoding modes: computing the
// content-addressable id (which excludes mutable fields) from plain
// serialization (which includes everything).
type Purpose uint8

const (
	// PurposeHash selects the subset of fields that feed CalculateID:
	// Desc content only, never Body, never signatures.
	PurposeHash Purpose = iota
	// PurposeSerialize selects the full wire representation.
	PurposeSerialize
)

// Failure modes named
var (
	ErrOutOfLimit    = buckyerr.New(buckyerr.CodeOutOfLimit, "objectcodec: buffer too small")
	ErrInvalidFormat = buckyerr.New(buckyerr.CodeInvalidFormat, "objectcodec: unknown tag")
	ErrNotMatch      = buckyerr.New(buckyerr.CodeNotMatch, "objectcodec: decoded id does not match")
	ErrInvalidData   = buckyerr.New(buckyerr.CodeInvalidData, "objectcodec: length field exceeds remaining buffer")
)

// outOfLimit reports whether buf has at least n bytes remaining.
func outOfLimit(buf []byte, n int) error {
	if len(buf) < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrOutOfLimit, n, len(buf))
	}
	return nil
}

// --- fixed-width primitive helpers -----------------------------------

func putUint8(buf []byte, v uint8) []byte  { buf[0] = v; return buf[1:] }
func putUint16(buf []byte, v uint16) []byte {
	binary.LittleEndian.PutUint16(buf, v)
	return buf[2:]
}
func putUint32(buf []byte, v uint32) []byte {
	binary.LittleEndian.PutUint32(buf, v)
	return buf[4:]
}
func putUint64(buf []byte, v uint64) []byte {
	binary.LittleEndian.PutUint64(buf, v)
	return buf[8:]
}

func getUint8(buf []byte) (uint8, []byte, error) {
	if err := outOfLimit(buf, 1); err != nil {
		return 0, buf, err
	}
	return buf[0], buf[1:], nil
}

func getUint16(buf []byte) (uint16, []byte, error) {
	if err := outOfLimit(buf, 2); err != nil {
		return 0, buf, err
	}
	return binary.LittleEndian.Uint16(buf), buf[2:], nil
}

func getUint32(buf []byte) (uint32, []byte, error) {
	if err := outOfLimit(buf, 4); err != nil {
		return 0, buf, err
	}
	return binary.LittleEndian.Uint32(buf), buf[4:], nil
}

func getUint64(buf []byte) (uint64, []byte, error) {
	if err := outOfLimit(buf, 8); err != nil {
		return 0, buf, err
	}
	return binary.LittleEndian.Uint64(buf), buf[8:], nil
}

// --- length-prefixed byte strings --------------------------------------
//
// Variable-length collections are length-prefixed with the smallest
// integer type that can hold their bound. Fixed-size domain content (a
// device's endpoint list, a body's content blob) each declare their own
// bound; this package offers one prefix width per bound class used by the
// object model.

// putBytesU8 writes a byte string shorter than 256 bytes with a 1-byte
// length prefix. Used for embedded public keys: a Desc's single key and a
// key-sourced signature's key value.
func putBytesU8(buf []byte, v []byte) ([]byte, error) {
	if len(v) > 0xff {
		return buf, fmt.Errorf("objectcodec: u8-prefixed value too long (%d bytes)", len(v))
	}
	buf = putUint8(buf, uint8(len(v)))
	n := copy(buf, v)
	return buf[n:], nil
}

func getBytesU8(buf []byte) ([]byte, []byte, error) {
	n, rest, err := getUint8(buf)
	if err != nil {
		return nil, buf, err
	}
	if err := outOfLimit(rest, int(n)); err != nil {
		return nil, buf, fmt.Errorf("%w", ErrInvalidData)
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

// putBytesU16 writes a byte string shorter than 65536 bytes with a 2-byte
// length prefix. Used for a People body's display name.
func putBytesU16(buf []byte, v []byte) ([]byte, error) {
	if len(v) > 0xffff {
		return buf, fmt.Errorf("objectcodec: u16-prefixed value too long (%d bytes)", len(v))
	}
	buf = putUint16(buf, uint16(len(v)))
	n := copy(buf, v)
	return buf[n:], nil
}

func getBytesU16(buf []byte) ([]byte, []byte, error) {
	n, rest, err := getUint16(buf)
	if err != nil {
		return nil, buf, err
	}
	if err := outOfLimit(rest, int(n)); err != nil {
		return nil, buf, fmt.Errorf("%w", ErrInvalidData)
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

// putBytesU32 writes an arbitrarily large byte string with a 4-byte length
// prefix. Used for Body content, which may carry a full directory listing.
func putBytesU32(buf []byte, v []byte) []byte {
	buf = putUint32(buf, uint32(len(v)))
	n := copy(buf, v)
	return buf[n:]
}

func getBytesU32(buf []byte) ([]byte, []byte, error) {
	n, rest, err := getUint32(buf)
	if err != nil {
		return nil, buf, err
	}
	if err := outOfLimit(rest, int(n)); err != nil {
		return nil, buf, fmt.Errorf("%w", ErrInvalidData)
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}
