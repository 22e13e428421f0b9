// Package objectid implements the content-addressable identifier scheme
// a 32-byte ObjectId whose first byte encodes object
// type and flags and whose remaining bytes are derived from the object's
// canonical descriptor, plus the ChunkId specialization for content chunks.
package objectid

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
)

// Size is the fixed byte length of every ObjectId.
const Size = 32

// ObjType is the object-type code packed into the top 3 bits of the flags
// byte; only codes 0-7 survive the packing (ObjTypeDir does not).
type ObjType uint8

// Object categories
const (
	ObjTypeStandard ObjType = 0
	ObjTypeCore     ObjType = 1
	ObjTypeDECApp   ObjType = 2
	ObjTypeChunk    ObjType = 3
	ObjTypeDevice   ObjType = 4
	ObjTypePeople   ObjType = 5
	ObjTypeSimpleGroup ObjType = 6
	ObjTypeFile     ObjType = 7
	ObjTypeDir      ObjType = 8
)

// Flags packed alongside ObjType in the id's first byte.
type Flags struct {
	IsStandard  bool
	HasOwner    bool
	HasArea     bool
	HasSingleKey bool
	HasRefObjs  bool
}

// ObjectId is the 32-byte content-addressable identifier
type ObjectId [Size]byte

// flagByte packs (is_standard, has_owner, has_area, has_single_key,
// has_ref_objs, obj_type_code) into a single byte: bits 0-4 carry the five
// boolean flags in that order and bits 5-7 the object-type code. Chunk ids
// set only the type code in this byte and no flags (see NewChunkID).
func flagByte(objType ObjType, f Flags) byte {
	var b byte
	if f.IsStandard {
		b |= 1 << 0
	}
	if f.HasOwner {
		b |= 1 << 1
	}
	if f.HasArea {
		b |= 1 << 2
	}
	if f.HasSingleKey {
		b |= 1 << 3
	}
	if f.HasRefObjs {
		b |= 1 << 4
	}
	b |= byte(objType) << 5
	return b
}

// New computes an ObjectId from a 31-byte (or longer, truncated) hash and
// the descriptor's type/flag bits: the SHA-256 is truncated to 31
// bytes behind the leading type/flags byte.
func New(objType ObjType, f Flags, hash []byte) ObjectId {
	var id ObjectId
	id[0] = flagByte(objType, f)
	n := copy(id[1:], hash)
	_ = n
	return id
}

// ObjType extracts the object-type code from the id's flag byte.
func (id ObjectId) ObjType() ObjType {
	return ObjType(id[0] >> 5)
}

// IsChunk reports whether this id addresses a Chunk rather than a named object.
func (id ObjectId) IsChunk() bool {
	return id.ObjType() == ObjTypeChunk
}

// Bytes returns a copy of the raw 32 bytes.
func (id ObjectId) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// String renders the canonical Base58 text form.
func (id ObjectId) String() string {
	return base58.Encode(id[:])
}

// ToHex renders the id as lowercase hex, for debug/log contexts.
func (id ObjectId) ToHex() string {
	return hex.EncodeToString(id[:])
}

// FromHex parses a hex-encoded ObjectId.
func FromHex(s string) (ObjectId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ObjectId{}, fmt.Errorf("objectid: invalid hex: %w", err)
	}
	return fromBytes(b)
}

// FromBase58 parses the canonical Base58 text form of an ObjectId.
func FromBase58(s string) (ObjectId, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return ObjectId{}, fmt.Errorf("objectid: invalid base58: %w", err)
	}
	return fromBytes(b)
}

// FromBase36 parses the narrow-length-window Base36 text form mentioned in
// (used when a shorter, case-insensitive representation is needed, e.g.
// embedding in DNS-label-safe names).
func FromBase36(s string) (ObjectId, error) {
	n, ok := new(big.Int).SetString(strings.ToLower(s), 36)
	if !ok {
		return ObjectId{}, fmt.Errorf("objectid: invalid base36: %s", s)
	}
	b := n.Bytes()
	if len(b) > Size {
		return ObjectId{}, fmt.Errorf("objectid: base36 value too large")
	}
	var id ObjectId
	copy(id[Size-len(b):], b)
	return id, nil
}

// ToBase36 renders the id using Base36, left-padded implicitly by the
// decoder (leading zero bytes collapse, matching FromBase36's big.Int
// round-trip within the documented narrow length window).
func (id ObjectId) ToBase36() string {
	n := new(big.Int).SetBytes(id[:])
	return n.Text(36)
}

func fromBytes(b []byte) (ObjectId, error) {
	if len(b) != Size {
		return ObjectId{}, fmt.Errorf("objectid: expected %d bytes, got %d", Size, len(b))
	}
	var id ObjectId
	copy(id[:], b)
	return id, nil
}

// Equal compares two ids for byte equality.
func (id ObjectId) Equal(other ObjectId) bool {
	return id == other
}

// IsZero reports whether the id is the all-zero value (used as a sentinel
// for "no owner"/"no ref" fields during decode).
func (id ObjectId) IsZero() bool {
	return id == ObjectId{}
}
