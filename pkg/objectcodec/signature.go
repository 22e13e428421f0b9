package objectcodec

import (
	"fmt"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// SignSourceKind is the signature-kind tag packed into the low 2 bits of a
// signature's tag byte
type SignSourceKind uint8

const (
	SignSourceRefIndex SignSourceKind = 0
	SignSourceObject   SignSourceKind = 1
	SignSourceKey      SignSourceKind = 2
)

// Reserved ref-index values: a ref-index in [0,127] points into the
// signing object's ref_objs list; values above that are reserved logical
// refs.
const (
	RefIndexSelf      uint8 = 255
	RefIndexOwner     uint8 = 254
	RefIndexAuthor    uint8 = 253
	RefObjsRangeBegin uint8 = 0
	RefObjsRangeEnd   uint8 = 127
)

// Signature is one entry in an ObjectSigns list: a source, a key index, a
// microsecond timestamp, and the algorithm-fixed-width signature bytes.
type Signature struct {
	SourceKind SignSourceKind
	RefIndex   uint8             // valid when SourceKind == SignSourceRefIndex
	ObjectLink objectid.ObjectId // valid when SourceKind == SignSourceObject
	KeyValue   []byte            // valid when SourceKind == SignSourceKey: raw embedded public key bytes

	KeyIndex uint8
	SignTime uint64 // microseconds, per bucky_time_now in the original

	Algorithm keyring.Algorithm
	SignBytes keyring.SignData
}

// CompareSource reports whether two signatures share the same (source,
// key_index) identity. The merge rule keys on it: for each (source,
// key_index) pair only the signature with the greatest sign_time is
// retained.
func (s Signature) CompareSource(other Signature) bool {
	if s.KeyIndex != other.KeyIndex || s.SourceKind != other.SourceKind {
		return false
	}
	switch s.SourceKind {
	case SignSourceRefIndex:
		return s.RefIndex == other.RefIndex
	case SignSourceObject:
		return s.ObjectLink == other.ObjectLink
	case SignSourceKey:
		return string(s.KeyValue) == string(other.KeyValue)
	default:
		return false
	}
}

// Measure returns the encoded byte length of this signature.
func (s Signature) Measure() int {
	n := 1 // tag byte
	switch s.SourceKind {
	case SignSourceRefIndex:
		n += 1
	case SignSourceObject:
		n += objectid.Size
	case SignSourceKey:
		n += 1 + len(s.KeyValue) // u8 length prefix
	}
	n += 8 // sign_time
	n += 1 // algorithm tag
	n += len(s.SignBytes)
	return n
}

func packTag(kind SignSourceKind, keyIndex uint8) byte {
	return byte(kind&0x3) | (keyIndex << 2)
}

func unpackTag(tag byte) (SignSourceKind, uint8) {
	return SignSourceKind(tag & 0x3), tag >> 2
}

// Encode writes the signature's wire form into buf, returning the unused
// remainder.
func (s Signature) Encode(buf []byte) ([]byte, error) {
	if err := outOfLimit(buf, s.Measure()); err != nil {
		return buf, err
	}
	buf = putUint8(buf, packTag(s.SourceKind, s.KeyIndex))
	var err error
	switch s.SourceKind {
	case SignSourceRefIndex:
		buf = putUint8(buf, s.RefIndex)
	case SignSourceObject:
		n := copy(buf, s.ObjectLink[:])
		buf = buf[n:]
	case SignSourceKey:
		buf, err = putBytesU8(buf, s.KeyValue)
		if err != nil {
			return buf, err
		}
	default:
		return buf, fmt.Errorf("%w: unknown sign source kind %d", ErrInvalidFormat, s.SourceKind)
	}
	buf = putUint64(buf, s.SignTime)
	buf = putUint8(buf, uint8(s.Algorithm))
	n := copy(buf, s.SignBytes)
	buf = buf[n:]
	return buf, nil
}

// DecodeSignature parses a signature from buf, returning the unused
// remainder.
func DecodeSignature(buf []byte) (Signature, []byte, error) {
	var s Signature
	tag, rest, err := getUint8(buf)
	if err != nil {
		return s, buf, err
	}
	s.SourceKind, s.KeyIndex = unpackTag(tag)

	switch s.SourceKind {
	case SignSourceRefIndex:
		s.RefIndex, rest, err = getUint8(rest)
		if err != nil {
			return s, buf, err
		}
	case SignSourceObject:
		if err := outOfLimit(rest, objectid.Size); err != nil {
			return s, buf, err
		}
		copy(s.ObjectLink[:], rest[:objectid.Size])
		rest = rest[objectid.Size:]
	case SignSourceKey:
		s.KeyValue, rest, err = getBytesU8(rest)
		if err != nil {
			return s, buf, err
		}
	default:
		return s, buf, fmt.Errorf("%w: unknown sign source kind %d", ErrInvalidFormat, s.SourceKind)
	}

	s.SignTime, rest, err = getUint64(rest)
	if err != nil {
		return s, buf, err
	}

	algo, rest2, err := getUint8(rest)
	if err != nil {
		return s, buf, err
	}
	s.Algorithm = keyring.Algorithm(algo)
	width := s.Algorithm.SignatureSize()
	if width == 0 {
		return s, buf, fmt.Errorf("%w: unknown signature algorithm %d", ErrInvalidFormat, algo)
	}
	if err := outOfLimit(rest2, width); err != nil {
		return s, buf, err
	}
	s.SignBytes = append(keyring.SignData(nil), rest2[:width]...)
	rest2 = rest2[width:]

	return s, rest2, nil
}
