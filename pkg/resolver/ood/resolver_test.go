package ood

import (
	"testing"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectcodec"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

type memSource struct {
	objects map[objectid.ObjectId]*objectcodec.Object
}

func (s *memSource) GetObject(id objectid.ObjectId) (*objectcodec.Object, error) {
	obj, ok := s.objects[id]
	if !ok {
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "no object %s", id)
	}
	return obj, nil
}

func idOf(t *testing.T, objType objectid.ObjType, seed byte) objectid.ObjectId {
	t.Helper()
	var h [32]byte
	for i := range h {
		h[i] = seed
	}
	return objectid.New(objType, objectid.Flags{}, h[:])
}

func peopleWithOODs(t *testing.T, oods ...objectid.ObjectId) *objectcodec.Object {
	t.Helper()
	content, err := (&objectcodec.PeopleBodyContent{
		WorkMode: objectcodec.WorkModeStandalone,
		OODList:  oods,
	}).Encode()
	if err != nil {
		t.Fatalf("encode people body: %v", err)
	}
	return &objectcodec.Object{
		Desc: objectcodec.NewPeopleDesc(nil),
		Body: &objectcodec.Body{UpdateTime: 1, Content: content},
	}
}

func TestResolveDeviceIsItself(t *testing.T) {
	r := NewResolver(&memSource{})
	dev := idOf(t, objectid.ObjTypeDevice, 1)
	got, err := r.ResolveOOD(dev, nil)
	if err != nil || len(got) != 1 || got[0] != dev {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestResolvePeopleOODList(t *testing.T) {
	people := idOf(t, objectid.ObjTypePeople, 2)
	ood1 := idOf(t, objectid.ObjTypeDevice, 3)
	ood2 := idOf(t, objectid.ObjTypeDevice, 4)
	src := &memSource{objects: map[objectid.ObjectId]*objectcodec.Object{
		people: peopleWithOODs(t, ood1, ood2),
	}}
	r := NewResolver(src)
	got, err := r.ResolveOOD(people, nil)
	if err != nil || len(got) != 2 || got[0] != ood1 || got[1] != ood2 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestResolveClimbsToOwner(t *testing.T) {
	people := idOf(t, objectid.ObjTypePeople, 2)
	ood1 := idOf(t, objectid.ObjTypeDevice, 3)
	fileId := idOf(t, objectid.ObjTypeFile, 5)

	fileObj := &objectcodec.Object{
		Desc: &objectcodec.Desc{ObjType: objectid.ObjTypeFile, Owner: &people, Content: []byte("f")},
	}
	src := &memSource{objects: map[objectid.ObjectId]*objectcodec.Object{
		fileId: fileObj,
		people: peopleWithOODs(t, ood1),
	}}
	r := NewResolver(src)
	got, err := r.ResolveOOD(fileId, nil)
	if err != nil || len(got) != 1 || got[0] != ood1 {
		t.Fatalf("got %v, %v", got, err)
	}

	// The hint skips the first fetch entirely.
	src2 := &memSource{objects: map[objectid.ObjectId]*objectcodec.Object{
		people: peopleWithOODs(t, ood1),
	}}
	got, err = NewResolver(src2).ResolveOOD(fileId, &people)
	if err != nil || len(got) != 1 {
		t.Fatalf("hinted resolve: %v, %v", got, err)
	}
}

func TestResolveMissingOwnerAndCycles(t *testing.T) {
	fileId := idOf(t, objectid.ObjTypeFile, 6)
	orphan := &objectcodec.Object{
		Desc: &objectcodec.Desc{ObjType: objectid.ObjTypeFile, Content: []byte("f")},
	}
	r := NewResolver(&memSource{objects: map[objectid.ObjectId]*objectcodec.Object{fileId: orphan}})
	_, err := r.ResolveOOD(fileId, nil)
	be, ok := err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodeNotFound {
		t.Fatalf("orphan: %v, want NotFound", err)
	}

	// Self-owner.
	selfOwned := &objectcodec.Object{
		Desc: &objectcodec.Desc{ObjType: objectid.ObjTypeFile, Owner: &fileId, Content: []byte("f")},
	}
	r = NewResolver(&memSource{objects: map[objectid.ObjectId]*objectcodec.Object{fileId: selfOwned}})
	_, err = r.ResolveOOD(fileId, nil)
	be, ok = err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodeNotFound {
		t.Fatalf("self-owner: %v, want NotFound", err)
	}

	// Two files owning each other.
	a := idOf(t, objectid.ObjTypeFile, 7)
	b := idOf(t, objectid.ObjTypeFile, 8)
	r = NewResolver(&memSource{objects: map[objectid.ObjectId]*objectcodec.Object{
		a: {Desc: &objectcodec.Desc{ObjType: objectid.ObjTypeFile, Owner: &b, Content: []byte("a")}},
		b: {Desc: &objectcodec.Desc{ObjType: objectid.ObjTypeFile, Owner: &a, Content: []byte("b")}},
	}})
	_, err = r.ResolveOOD(a, nil)
	be, ok = err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodeNotFound {
		t.Fatalf("mutual ownership: %v, want NotFound", err)
	}
}
