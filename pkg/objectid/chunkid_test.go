package objectid

import "testing"

func TestChunkIDRoundTrip(t *testing.T) {
	hash := make([]byte, 32)
	c := newChunkIDFromHash(100, hash)

	if c.String() != c.AsObjectId().String() {
		t.Fatalf("chunk id string %q != object id string %q", c.String(), c.AsObjectId().String())
	}

	got, err := FromStringChunkID(c.String())
	if err != nil {
		t.Fatalf("FromStringChunkID: %v", err)
	}
	if got != c {
		t.Fatalf("round trip mismatch: got %v want %v", got, c)
	}
	if got.Length() != 100 {
		t.Fatalf("length mismatch: got %d want 100", got.Length())
	}
}

func TestChunkIDVerify(t *testing.T) {
	data := []byte("hello, cyfs chunk engine")
	id := NewChunkID(data)

	if id.Length() != uint32(len(data)) {
		t.Fatalf("length mismatch: got %d want %d", id.Length(), len(data))
	}
	if err := id.Verify(data); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := id.Verify(append(data, 'x')); err == nil {
		t.Fatalf("expected Verify to fail on tampered data")
	}
}

func TestChunkIDNotObjectId(t *testing.T) {
	id := New(ObjTypeStandard, Flags{}, make([]byte, 31))
	if _, err := ChunkIDFromObjectId(id); err == nil {
		t.Fatalf("expected error converting non-chunk ObjectId to ChunkId")
	}
}

func TestObjectIdBase58RoundTrip(t *testing.T) {
	id := New(ObjTypeStandard, Flags{IsStandard: true, HasOwner: true}, []byte{1, 2, 3, 4, 5})
	s := id.String()
	got, err := FromBase58(s)
	if err != nil {
		t.Fatalf("FromBase58: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: got %v want %v", got, id)
	}
}

func TestObjectIdHexRoundTrip(t *testing.T) {
	id := New(ObjTypeDevice, Flags{HasOwner: true}, []byte{9, 9, 9})
	s := id.ToHex()
	got, err := FromHex(s)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: got %v want %v", got, id)
	}
}
