package ndn

import (
	"testing"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

func objectListChunk(t *testing.T, ids ...objectid.ObjectId) (objectid.ChunkId, []byte) {
	t.Helper()
	var data []byte
	for _, id := range ids {
		data = append(data, id[:]...)
	}
	return objectid.NewChunkID(data), data
}

func someObjectId(seed byte) objectid.ObjectId {
	var h [32]byte
	for i := range h {
		h[i] = seed
	}
	return objectid.New(objectid.ObjTypePeople, objectid.Flags{}, h[:])
}

func TestDirSyncerChunkedWalk(t *testing.T) {
	bodyRefs := []objectid.ObjectId{someObjectId(1), someObjectId(2)}
	descRefs := []objectid.ObjectId{someObjectId(3)}
	bodyChunk, bodyData := objectListChunk(t, bodyRefs...)
	descChunk, descData := objectListChunk(t, descRefs...)

	store := map[objectid.ChunkId][]byte{bodyChunk: bodyData, descChunk: descData}
	fetch := func(id objectid.ChunkId) ([]byte, error) {
		data, ok := store[id]
		if !ok {
			return nil, buckyerr.Newf(buckyerr.CodeNotFound, "no chunk %s", id)
		}
		return data, nil
	}

	s := NewDirSyncer(DirSource{BodyChunk: &bodyChunk, DescChunk: &descChunk}, fetch, NewMissingCache())
	wantStates := []DirSyncState{
		DirSyncBodyChunkPending,
		DirSyncBodyChunkComplete,
		DirSyncDescChunkPending,
		DirSyncDescChunkComplete,
		DirSyncComplete,
	}
	for _, want := range wantStates {
		got, err := s.Step()
		if err != nil {
			t.Fatalf("step to %v: %v", want, err)
		}
		if got != want {
			t.Fatalf("state %v, want %v", got, want)
		}
	}

	assoc := s.Associations()
	if len(assoc) != 3 {
		t.Fatalf("got %d associations, want 3", len(assoc))
	}
	for i, want := range append(bodyRefs, descRefs...) {
		if assoc[i] != want {
			t.Fatalf("association %d mismatch", i)
		}
	}
}

func TestDirSyncerInlineList(t *testing.T) {
	refs := []objectid.ObjectId{someObjectId(7), someObjectId(8)}
	s := NewDirSyncer(DirSource{InlineObjects: refs}, nil, NewMissingCache())
	if err := s.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.State() != DirSyncComplete {
		t.Fatalf("state %v", s.State())
	}
	if got := s.Associations(); len(got) != 2 || got[0] != refs[0] {
		t.Fatalf("associations %v", got)
	}
}

func TestDirSyncerMissingShortCircuit(t *testing.T) {
	bodyChunk, bodyData := objectListChunk(t, someObjectId(1))
	missing := NewMissingCache()

	fetches := 0
	fetch := func(id objectid.ChunkId) ([]byte, error) {
		fetches++
		if id == bodyChunk {
			return bodyData, nil
		}
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "no chunk %s", id)
	}

	gone, _ := makeChunk(t, 33)
	s := NewDirSyncer(DirSource{BodyChunk: &gone}, fetch, missing)
	if err := s.Run(); err == nil {
		t.Fatalf("missing chunk must fail the walk")
	}
	if !missing.IsMissing(gone.AsObjectId()) {
		t.Fatalf("missing chunk must be recorded in the shared cache")
	}

	// A second syncer referencing the same chunk short-circuits without
	// another fetch.
	before := fetches
	s2 := NewDirSyncer(DirSource{BodyChunk: &gone}, fetch, missing)
	if err := s2.Run(); err == nil {
		t.Fatalf("known-missing chunk must fail immediately")
	}
	if fetches != before {
		t.Fatalf("known-missing chunk must not be fetched again")
	}

	// And known-missing member objects are filtered from enumeration.
	memberGone := someObjectId(9)
	missing.MarkMissing(memberGone)
	listChunk, listData := objectListChunk(t, someObjectId(1), memberGone)
	store := map[objectid.ChunkId][]byte{listChunk: listData}
	s3 := NewDirSyncer(DirSource{BodyChunk: &listChunk}, func(id objectid.ChunkId) ([]byte, error) {
		return store[id], nil
	}, missing)
	if err := s3.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := s3.Associations(); len(got) != 1 || got[0] != someObjectId(1) {
		t.Fatalf("known-missing member must be filtered, got %v", got)
	}
}

func TestRangeDecoderSnapshotAndReady(t *testing.T) {
	id, data := makeChunk(t, 100)
	d := NewRangeDecoder(id, 32)

	max, lost := d.Snapshot()
	if max != nil || lost != nil {
		t.Fatalf("empty decoder snapshot must be nil")
	}

	ps := pieces(t, id, data, 1, 32)
	if _, err := d.PushPiece(ps[2]); err != nil {
		t.Fatalf("push: %v", err)
	}
	max, lost = d.Snapshot()
	if max == nil || *max != 2 {
		t.Fatalf("max %v, want 2", max)
	}
	if len(lost) != 1 || lost[0] != (IndexRange{0, 1}) {
		t.Fatalf("lost %v, want [0..1]", lost)
	}

	// Duplicates don't change state.
	if changed, _ := d.PushPiece(ps[2]); changed {
		t.Fatalf("duplicate piece must not change state")
	}

	for _, p := range []*PieceData{ps[0], ps[1], ps[3]} {
		if _, err := d.PushPiece(p); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if !d.Ready() {
		t.Fatalf("decoder must be ready with all pieces")
	}
}

func TestUploadSessionControl(t *testing.T) {
	id, data := makeChunk(t, 100)
	interest := &Interest{SessionId: 5, ChunkId: id}
	up, err := NewUploadSession(interest, data, 32)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for up.NextPiece() != nil {
	}

	max := uint32(3)
	if err := up.OnControl(&PieceControl{SessionId: 5, ChunkId: id, Command: ControlContinue, MaxIndex: &max, LostIndex: []IndexRange{{1, 1}}}); err != nil {
		t.Fatalf("control: %v", err)
	}
	p := up.NextPiece()
	if p == nil || p.Desc.Index != 1 {
		t.Fatalf("expected retransmission of piece 1, got %+v", p)
	}

	if err := up.OnControl(&PieceControl{SessionId: 5, ChunkId: id, Command: ControlFinish}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if up.State() != UploadFinished {
		t.Fatalf("state %v", up.State())
	}
	if up.NextPiece() != nil {
		t.Fatalf("finished session must not emit pieces")
	}
}
