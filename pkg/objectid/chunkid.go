package objectid

import (
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"
)

// ChunkId is an ObjectId whose first byte encodes type=Chunk, followed
// by a 4-byte little-endian length and 27 bytes of the content hash.
// Unlike named-object ids there is no SHA-256 step over a descriptor.
type ChunkId ObjectId

// chunkHashBytes is the number of leading content-hash bytes kept in a
// ChunkId's trailing 27 bytes (32 - 1 flag byte - 4 length bytes).
const chunkHashBytes = Size - 1 - 4

// NewChunkID builds a ChunkId from raw chunk bytes: byte 0 is the chunk
// flag, bytes 1..5 are the length (LE), bytes 5..32 are the first 27
// bytes of BLAKE3-256(bytes).
func NewChunkID(data []byte) ChunkId {
	h := blake3.Sum256(data)
	return newChunkIDFromHash(uint32(len(data)), h[:])
}

func newChunkIDFromHash(length uint32, hash []byte) ChunkId {
	var id ChunkId
	id[0] = byte(ObjTypeChunk) << 5
	binary.LittleEndian.PutUint32(id[1:5], length)
	copy(id[5:], hash[:chunkHashBytes])
	return id
}

// Length returns the chunk's declared byte length from the id itself.
func (c ChunkId) Length() uint32 {
	return binary.LittleEndian.Uint32(c[1:5])
}

// HashPrefix returns the 27-byte content-hash prefix embedded in the id.
func (c ChunkId) HashPrefix() []byte {
	out := make([]byte, chunkHashBytes)
	copy(out, c[5:])
	return out
}

// AsObjectId reinterprets the ChunkId as a plain ObjectId (they share layout).
func (c ChunkId) AsObjectId() ObjectId {
	return ObjectId(c)
}

// ChunkIDFromObjectId reinterprets an ObjectId known to address a chunk.
func ChunkIDFromObjectId(id ObjectId) (ChunkId, error) {
	if id.ObjType() != ObjTypeChunk {
		return ChunkId{}, fmt.Errorf("objectid: %s is not a chunk id", id)
	}
	return ChunkId(id), nil
}

// String renders the canonical Base58 text form, identical in encoding to
// ObjectId.String — the invariant C.to_string() == C.as_object_id().to_string()
// falls out of sharing the same byte layout and encoder.
func (c ChunkId) String() string {
	return ObjectId(c).String()
}

// FromStringChunkID parses a ChunkId's Base58 text form, verifying the
// decoded id actually carries the chunk type tag.
func FromStringChunkID(s string) (ChunkId, error) {
	id, err := FromBase58(s)
	if err != nil {
		return ChunkId{}, err
	}
	return ChunkIDFromObjectId(id)
}

// Verify checks that data hashes to the ChunkId's embedded length+hash
// prefix.
func (c ChunkId) Verify(data []byte) error {
	if uint32(len(data)) != c.Length() {
		return fmt.Errorf("objectid: chunk length mismatch: id says %d, got %d", c.Length(), len(data))
	}
	want := NewChunkID(data)
	if want != c {
		return fmt.Errorf("objectid: chunk hash mismatch for %s", c)
	}
	return nil
}
