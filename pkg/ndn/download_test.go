package ndn

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

type fakeChannel struct {
	mu        sync.Mutex
	remote    string
	interests []*Interest
	controls  []*PieceControl
}

func (c *fakeChannel) RemoteId() string { return c.remote }

func (c *fakeChannel) SendInterest(i *Interest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interests = append(c.interests, i)
	return nil
}

func (c *fakeChannel) SendControl(pc *PieceControl) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, pc)
	return nil
}

func (c *fakeChannel) lastControl() *PieceControl {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.controls) == 0 {
		return nil
	}
	return c.controls[len(c.controls)-1]
}

func makeChunk(t *testing.T, size int) (objectid.ChunkId, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return objectid.NewChunkID(data), data
}

func pieces(t *testing.T, id objectid.ChunkId, data []byte, sessionId uint32, pieceSize uint32) []*PieceData {
	t.Helper()
	interest := &Interest{SessionId: sessionId, ChunkId: id}
	up, err := NewUploadSession(interest, data, pieceSize)
	if err != nil {
		t.Fatalf("upload session: %v", err)
	}
	var out []*PieceData
	for {
		p := up.NextPiece()
		if p == nil {
			break
		}
		out = append(out, p)
	}
	return out
}

func TestDownloadSessionInOrder(t *testing.T) {
	id, data := makeChunk(t, 100)
	ch := &fakeChannel{remote: "peer"}
	s := NewDownloadSession(1, id, ch, 32, time.Second, 10*time.Second)
	now := time.Now()
	if err := s.Start(now, "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(ch.interests) != 1 {
		t.Fatalf("expected one interest, got %d", len(ch.interests))
	}

	for i, p := range pieces(t, id, data, 1, 32) {
		fin, err := s.PushPieceData(now, p)
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if fin != (i == 3) {
			t.Fatalf("push %d: finished=%v", i, fin)
		}
	}
	if s.State() != DownloadFinished {
		t.Fatalf("state %v", s.State())
	}
	if !bytes.Equal(s.Data(), data) {
		t.Fatalf("reassembled data mismatch")
	}
	if c := ch.lastControl(); c == nil || c.Command != ControlFinish {
		t.Fatalf("expected a finish control, got %+v", c)
	}
}

func TestDownloadSessionResendControlCarriesHoles(t *testing.T) {
	id, data := makeChunk(t, 100)
	ch := &fakeChannel{remote: "peer"}
	s := NewDownloadSession(1, id, ch, 32, time.Second, 10*time.Second)
	start := time.Now()
	_ = s.Start(start, "", "")

	ps := pieces(t, id, data, 1, 32)
	// Deliver pieces 0 and 3, leaving 1..2 as holes.
	if _, err := s.PushPieceData(start, ps[0]); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := s.PushPieceData(start, ps[3]); err != nil {
		t.Fatalf("push: %v", err)
	}

	s.OnTimeEscape(start.Add(2 * time.Second))
	c := ch.lastControl()
	if c == nil || c.Command != ControlContinue {
		t.Fatalf("expected a continue control, got %+v", c)
	}
	if c.MaxIndex == nil || *c.MaxIndex != 3 {
		t.Fatalf("max index %v, want 3", c.MaxIndex)
	}
	if len(c.LostIndex) != 1 || c.LostIndex[0] != (IndexRange{Start: 1, End: 2}) {
		t.Fatalf("lost %v, want [1..2]", c.LostIndex)
	}
}

func TestDownloadSessionBreaksOnSilence(t *testing.T) {
	id, _ := makeChunk(t, 10)
	ch := &fakeChannel{remote: "peer"}
	s := NewDownloadSession(1, id, ch, 32, time.Second, 5*time.Second)
	start := time.Now()
	_ = s.Start(start, "", "")

	s.OnTimeEscape(start.Add(6 * time.Second))
	if s.State() != DownloadError {
		t.Fatalf("state %v, want error", s.State())
	}
	err, _ := s.Err()
	if err == nil || err.Code != buckyerr.CodeTimeout {
		t.Fatalf("err %v, want Timeout", err)
	}
}

func TestChunkDownloaderSingleSource(t *testing.T) {
	id, data := makeChunk(t, 80)
	ch := &fakeChannel{remote: "peer"}
	d := NewChunkDownloader(id, func(string) (Channel, error) { return ch, nil }, DownloaderConfig{PieceSize: 32})
	now := time.Now()
	if err := d.Run(now, "peer"); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, p := range pieces(t, id, data, 1, 32) {
		if _, err := d.PushPieceData(now, p); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got, err := d.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data mismatch")
	}
}

func TestChunkDownloaderDoubleSourceCancelsLoser(t *testing.T) {
	id, data := makeChunk(t, 80)
	chans := map[string]*fakeChannel{
		"a": {remote: "a"},
		"b": {remote: "b"},
	}
	d := NewChunkDownloader(id, func(target string) (Channel, error) { return chans[target], nil }, DownloaderConfig{PieceSize: 32})
	now := time.Now()
	if err := d.Run(now, "a", "b"); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Only source "a" (session 1) delivers.
	for _, p := range pieces(t, id, data, 1, 32) {
		if _, err := d.PushPieceData(now, p); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if _, err := d.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// The slower session against "b" gets canceled.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if c := chans["b"].lastControl(); c != nil && c.Command == ControlCancel {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loser session was not canceled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChunkDownloaderRedirectRespawns(t *testing.T) {
	id, data := makeChunk(t, 40)
	first := &fakeChannel{remote: "first"}
	second := &fakeChannel{remote: "second"}
	opened := make(chan string, 4)
	d := NewChunkDownloader(id, func(target string) (Channel, error) {
		opened <- target
		if target == "second" {
			return second, nil
		}
		return first, nil
	}, DownloaderConfig{PieceSize: 32, WaitRedirectTimeout: time.Millisecond})
	now := time.Now()
	if err := d.Run(now, "first"); err != nil {
		t.Fatalf("run: %v", err)
	}
	<-opened

	// The first session is told to go elsewhere.
	d.mu.Lock()
	session := d.sessions[0]
	d.mu.Unlock()
	session.Break(buckyerr.New(buckyerr.CodeRedirect, "go elsewhere"), "second")

	select {
	case target := <-opened:
		if target != "second" {
			t.Fatalf("respawned against %q, want second", target)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no respawn after redirect")
	}

	// Session ids are allocated in order: the respawned session is 2.
	for _, p := range pieces(t, id, data, 2, 32) {
		deadline := time.Now().Add(2 * time.Second)
		for {
			if _, err := d.PushPieceData(time.Now(), p); err == nil {
				break
			} else if time.Now().After(deadline) {
				t.Fatalf("push to respawned session: %v", err)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
	got, err := d.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data mismatch after redirect")
	}
}

func TestWireRoundTrips(t *testing.T) {
	id, _ := makeChunk(t, 16)
	i := &Interest{SessionId: 9, ChunkId: id, SessionType: PieceSessionStream, Referer: "ref", PreferTarget: "peer"}
	gotI, err := DecodeInterest(i.Encode())
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if *gotI != *i {
		t.Fatalf("interest mismatch: %+v", gotI)
	}

	p := &PieceData{SessionId: 9, ChunkId: id, Desc: PieceDesc{Index: 3, RangeSize: 4}, Payload: []byte("abcd")}
	gotP, err := DecodePieceData(p.Encode())
	if err != nil {
		t.Fatalf("piece: %v", err)
	}
	if gotP.Desc != p.Desc || !bytes.Equal(gotP.Payload, p.Payload) {
		t.Fatalf("piece mismatch: %+v", gotP)
	}

	max := uint32(7)
	c := &PieceControl{Sequence: 1, SessionId: 9, ChunkId: id, Command: ControlContinue, MaxIndex: &max, LostIndex: []IndexRange{{2, 3}, {5, 5}}}
	gotC, err := DecodePieceControl(c.Encode())
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	if gotC.Command != ControlContinue || *gotC.MaxIndex != max || len(gotC.LostIndex) != 2 || gotC.LostIndex[0] != (IndexRange{2, 3}) {
		t.Fatalf("control mismatch: %+v", gotC)
	}
}
