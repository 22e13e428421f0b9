package noc

import (
	"testing"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/objectcodec"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

func testObject(t *testing.T, updateTime uint64, signs ...objectcodec.Signature) (*objectcodec.Object, objectid.ObjectId, []byte) {
	t.Helper()
	obj := &objectcodec.Object{
		Desc: &objectcodec.Desc{
			ObjType: objectid.ObjTypeCore,
			Content: []byte("noc test object"),
		},
		Body:  &objectcodec.Body{UpdateTime: updateTime, Content: []byte("body")},
		Signs: &objectcodec.ObjectSigns{},
	}
	for _, s := range signs {
		obj.Signs.PushDescSign(s)
	}
	id, err := obj.CalculateID()
	if err != nil {
		t.Fatalf("calculate id: %v", err)
	}
	raw, err := obj.ToBytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return obj, id, raw
}

func refSign(refIndex uint8, keyIndex uint8, signTime uint64) objectcodec.Signature {
	sig := objectcodec.Signature{
		SourceKind: objectcodec.SignSourceRefIndex,
		RefIndex:   refIndex,
		KeyIndex:   keyIndex,
		SignTime:   signTime,
		Algorithm:  keyring.AlgorithmRSA1024,
		SignBytes:  make(keyring.SignData, keyring.AlgorithmRSA1024.SignatureSize()),
	}
	for i := range sig.SignBytes {
		sig.SignBytes[i] = byte(signTime) + byte(i)
	}
	return sig
}

func TestInsertFreshThenMergeSignatures(t *testing.T) {
	n := New(NewMemStorage())

	_, id, raw1 := testObject(t, 1000, refSign(objectcodec.RefIndexOwner, 0, 10))
	res1, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res1.Outcome != InsertAccept {
		t.Fatalf("outcome %v, want accept", res1.Outcome)
	}

	// Same update_time, a second signature from another key.
	_, _, raw2 := testObject(t, 1000, refSign(objectcodec.RefIndexOwner, 1, 20))
	res2, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw2})
	if err != nil {
		t.Fatalf("merge insert: %v", err)
	}
	if res2.Outcome != InsertMerged {
		t.Fatalf("outcome %v, want merged", res2.Outcome)
	}
	if res2.InsertTime <= res1.InsertTime {
		t.Fatalf("insert_time must advance: %d then %d", res1.InsertTime, res2.InsertTime)
	}

	row, err := n.GetObject(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	merged, err := objectcodec.FromBytes(row.Raw)
	if err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	if len(merged.Signs.DescSigns) != 2 {
		t.Fatalf("got %d desc signs, want both", len(merged.Signs.DescSigns))
	}
}

func TestMergeKeepsLatestSignTimePerSource(t *testing.T) {
	n := New(NewMemStorage())
	_, id, raw1 := testObject(t, 1000, refSign(objectcodec.RefIndexOwner, 0, 10))
	if _, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same (source, key_index), later sign_time: replaces.
	_, _, raw2 := testObject(t, 1000, refSign(objectcodec.RefIndexOwner, 0, 99))
	if _, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw2}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	row, _ := n.GetObject(id)
	merged, _ := objectcodec.FromBytes(row.Raw)
	if len(merged.Signs.DescSigns) != 1 || merged.Signs.DescSigns[0].SignTime != 99 {
		t.Fatalf("signs %+v, want single sign with time 99", merged.Signs.DescSigns)
	}

	// Earlier sign_time for the same source adds nothing; no rewrite.
	before := row.InsertTime
	res, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw1})
	if err != nil {
		t.Fatalf("stale merge: %v", err)
	}
	if res.Outcome != InsertMerged || res.InsertTime != before {
		t.Fatalf("no-op merge must not rewrite the row: %+v", res)
	}
}

func TestBodyUpdateTimeDoesNotAffectId(t *testing.T) {
	n := New(NewMemStorage())
	_, id, _ := testObject(t, 1000)
	_, id2, rawNew := testObject(t, 2000)
	if id != id2 {
		t.Fatalf("body update_time must not change the id without mut_body_hash")
	}

	res, err := n.InsertObject(&PutRequest{ObjectId: id2, Raw: rawNew})
	if err != nil || res.Outcome != InsertAccept {
		t.Fatalf("insert: %v %v", res, err)
	}
	// An identical reinsert adds nothing: a no-op merge.
	res2, err := n.InsertObject(&PutRequest{ObjectId: id2, Raw: rawNew})
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if res2.Outcome != InsertMerged {
		t.Fatalf("identical reinsert should merge, got %v", res2.Outcome)
	}
}

func TestInsertNewerReplacesOlder(t *testing.T) {
	// A mutable-object id stays fixed while the body changes only when
	// the desc does not embed a body hash, so build two bodies on one
	// desc and insert under the desc-computed id.
	desc := &objectcodec.Desc{ObjType: objectid.ObjTypeCore, Content: []byte("versioned")}
	v1 := &objectcodec.Object{Desc: desc, Body: &objectcodec.Body{UpdateTime: 100, Content: []byte("v1")}, Signs: &objectcodec.ObjectSigns{}}
	v2 := &objectcodec.Object{Desc: desc, Body: &objectcodec.Body{UpdateTime: 200, Content: []byte("v2")}, Signs: &objectcodec.ObjectSigns{}}
	id, err := v1.CalculateID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	raw1, _ := v1.ToBytes()
	raw2, _ := v2.ToBytes()

	n := New(NewMemStorage())
	if _, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw1}); err != nil {
		t.Fatalf("insert v1: %v", err)
	}
	res, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw2})
	if err != nil {
		t.Fatalf("insert v2: %v", err)
	}
	if res.Outcome != InsertUpdated {
		t.Fatalf("outcome %v, want updated", res.Outcome)
	}

	// Re-offering the stale v1 yields AlreadyExists with the row's times.
	res3, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw1})
	if err != nil {
		t.Fatalf("stale insert: %v", err)
	}
	if res3.Outcome != InsertAlreadyExists || res3.UpdateTime != 200 {
		t.Fatalf("stale insert result %+v", res3)
	}
}

func TestInsertTimeMonotonicUnderClockRollback(t *testing.T) {
	n := New(NewMemStorage())
	clock := uint64(5000)
	n.nowMicro = func() uint64 { return clock }

	desc := &objectcodec.Desc{ObjType: objectid.ObjTypeCore, Content: []byte("clock")}
	v1 := &objectcodec.Object{Desc: desc, Body: &objectcodec.Body{UpdateTime: 100, Content: []byte("v1")}, Signs: &objectcodec.ObjectSigns{}}
	v2 := &objectcodec.Object{Desc: desc, Body: &objectcodec.Body{UpdateTime: 200, Content: []byte("v2")}, Signs: &objectcodec.ObjectSigns{}}
	id, _ := v1.CalculateID()
	raw1, _ := v1.ToBytes()
	raw2, _ := v2.ToBytes()

	res1, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	clock = 100 // the wall clock rolled back
	res2, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res2.InsertTime != res1.InsertTime+1 {
		t.Fatalf("insert_time %d, want previous+1 = %d", res2.InsertTime, res1.InsertTime+1)
	}
}

func TestPrePutVeto(t *testing.T) {
	n := New(NewMemStorage())
	n.OnPrePut(func(req *PutRequest, obj *objectcodec.Object) *buckyerr.Error {
		return buckyerr.New(buckyerr.CodePermissionDenied, "vetoed")
	})
	_, id, raw := testObject(t, 1000)
	_, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw})
	be, ok := err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodePermissionDenied {
		t.Fatalf("err %v, want the veto", err)
	}
	if _, err := n.GetObject(id); err == nil {
		t.Fatalf("vetoed object must not be cached")
	}
}

// contendedStorage makes every conditional write miss, as if another
// writer always got there first.
type contendedStorage struct {
	*MemStorage
}

func (s *contendedStorage) ReplaceIf(id objectid.ObjectId, expect uint64, row *ObjectCacheData) bool {
	return false
}

func TestInsertRetryBudgetExhaustion(t *testing.T) {
	store := &contendedStorage{MemStorage: NewMemStorage()}
	n := New(store)

	desc := &objectcodec.Desc{ObjType: objectid.ObjTypeCore, Content: []byte("contended")}
	v1 := &objectcodec.Object{Desc: desc, Body: &objectcodec.Body{UpdateTime: 100, Content: []byte("v1")}, Signs: &objectcodec.ObjectSigns{}}
	v2 := &objectcodec.Object{Desc: desc, Body: &objectcodec.Body{UpdateTime: 200, Content: []byte("v2")}, Signs: &objectcodec.ObjectSigns{}}
	id, _ := v1.CalculateID()
	raw1, _ := v1.ToBytes()
	raw2, _ := v2.ToBytes()

	if _, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := n.InsertObject(&PutRequest{ObjectId: id, Raw: raw2})
	be, ok := err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodeInternalError {
		t.Fatalf("err %v, want InternalError after budget exhaustion", err)
	}
	if be.RetryAfterCount != constants.NocInsertMaxRetry {
		t.Fatalf("RetryAfterCount %d, want %d", be.RetryAfterCount, constants.NocInsertMaxRetry)
	}
}

func TestSelectAndStat(t *testing.T) {
	n := New(NewMemStorage())
	_, id1, raw1 := testObject(t, 1000)
	if _, err := n.InsertObject(&PutRequest{ObjectId: id1, Raw: raw1, DecId: "dec-a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	desc := &objectcodec.Desc{ObjType: objectid.ObjTypeCore, Content: []byte("second")}
	obj := &objectcodec.Object{Desc: desc, Body: &objectcodec.Body{UpdateTime: 1, Content: []byte("b")}, Signs: &objectcodec.ObjectSigns{}}
	id2, _ := obj.CalculateID()
	raw2, _ := obj.ToBytes()
	if _, err := n.InsertObject(&PutRequest{ObjectId: id2, Raw: raw2, DecId: "dec-b"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got := n.SelectObject(SelectFilter{DecId: "dec-a"}, SelectPage{}); len(got) != 1 || got[0].ObjectId != id1 {
		t.Fatalf("select by dec_id: %v", got)
	}
	if got := n.SelectObject(SelectFilter{}, SelectPage{Offset: 1, Limit: 5}); len(got) != 1 {
		t.Fatalf("paging: %v", got)
	}
	s := n.Stat()
	if s.Count != 2 || s.TotalBytes == 0 {
		t.Fatalf("stat %+v", s)
	}

	if err := n.DeleteObject(id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := n.GetObject(id1); err == nil {
		t.Fatalf("deleted object must be gone")
	}
}
