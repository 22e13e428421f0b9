package ndn

import (
	"bytes"
	"testing"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

func TestChunkListLocate(t *testing.T) {
	var ids []objectid.ChunkId
	sizes := []int{100, 50, 200}
	for _, n := range sizes {
		id, _ := makeChunk(t, n)
		ids = append(ids, id)
	}
	l := NewChunkList(ids)
	if l.Total() != 350 {
		t.Fatalf("total %d", l.Total())
	}

	cases := []struct {
		offset     uint64
		wantChunk  int
		wantIntra  uint64
	}{
		{0, 0, 0},
		{99, 0, 99},
		{100, 1, 0},
		{149, 1, 49},
		{150, 2, 0},
		{349, 2, 199},
	}
	for _, c := range cases {
		chunk, intra, err := l.Locate(c.offset)
		if err != nil {
			t.Fatalf("locate(%d): %v", c.offset, err)
		}
		if chunk != c.wantChunk || intra != c.wantIntra {
			t.Fatalf("locate(%d) = (%d, %d), want (%d, %d)", c.offset, chunk, intra, c.wantChunk, c.wantIntra)
		}
	}
	if _, _, err := l.Locate(350); err == nil {
		t.Fatalf("locate past the end must fail")
	}
}

// uploaderLoop feeds every chunk's pieces into the task as its
// downloaders come up, standing in for the remote side.
func uploaderLoop(t *testing.T, task *ChunkListTask, data map[objectid.ChunkId][]byte, stop <-chan struct{}) {
	t.Helper()
	sent := make(map[*ChunkDownloader]bool)
	for {
		select {
		case <-stop:
			return
		default:
		}
		task.mu.Lock()
		d := task.current
		task.mu.Unlock()
		if d == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		d.mu.Lock()
		var session *DownloadSession
		if len(d.sessions) > 0 {
			session = d.sessions[0]
		}
		chunkId := d.chunkId
		d.mu.Unlock()
		if session == nil || sent[d] {
			time.Sleep(time.Millisecond)
			continue
		}
		payload, ok := data[chunkId]
		if !ok {
			t.Errorf("no data for chunk %s", chunkId)
			return
		}
		for _, p := range pieces(t, chunkId, payload, session.SessionId, 32) {
			_, _ = d.PushPieceData(time.Now(), p)
		}
		sent[d] = true
	}
}

func TestChunkListTaskSequential(t *testing.T) {
	data := make(map[objectid.ChunkId][]byte)
	var ids []objectid.ChunkId
	for _, n := range []int{64, 96, 32} {
		id, payload := makeChunk(t, n)
		data[id] = payload
		ids = append(ids, id)
	}
	list := NewChunkList(ids)
	ch := &fakeChannel{remote: "src"}
	task := NewChunkListTask(list, "src", nil, func(string) (Channel, error) { return ch, nil }, DownloaderConfig{PieceSize: 32})

	stop := make(chan struct{})
	go uploaderLoop(t, task, data, stop)
	err := task.Run()
	close(stop)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var lastIndex = -1
	var lastBytes uint64
	for p := range task.Progress() {
		if p.ChunkIndex <= lastIndex {
			t.Fatalf("progress out of order: %d after %d", p.ChunkIndex, lastIndex)
		}
		if p.DownloadedBytes < lastBytes {
			t.Fatalf("downloaded bytes went backwards")
		}
		lastIndex = p.ChunkIndex
		lastBytes = p.DownloadedBytes
	}
	if lastBytes != list.Total() {
		t.Fatalf("downloaded %d bytes, want %d", lastBytes, list.Total())
	}
	for i, id := range ids {
		if !bytes.Equal(task.Chunk(i), data[id]) {
			t.Fatalf("chunk %d mismatch", i)
		}
	}
}

func TestChunkListTaskRangeRestriction(t *testing.T) {
	data := make(map[objectid.ChunkId][]byte)
	var ids []objectid.ChunkId
	for _, n := range []int{64, 96, 32} {
		id, payload := makeChunk(t, n)
		data[id] = payload
		ids = append(ids, id)
	}
	list := NewChunkList(ids)
	ch := &fakeChannel{remote: "src"}
	// Bytes 64..160 cover only the middle chunk.
	task := NewChunkListTask(list, "src", []ByteRange{{Start: 64, End: 160}}, func(string) (Channel, error) { return ch, nil }, DownloaderConfig{PieceSize: 32})

	stop := make(chan struct{})
	go uploaderLoop(t, task, data, stop)
	err := task.Run()
	close(stop)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if task.Chunk(0) != nil || task.Chunk(2) != nil {
		t.Fatalf("chunks outside the range must be skipped")
	}
	if !bytes.Equal(task.Chunk(1), data[ids[1]]) {
		t.Fatalf("middle chunk mismatch")
	}
}

func TestChunkListTaskCancel(t *testing.T) {
	id, _ := makeChunk(t, 64)
	list := NewChunkList([]objectid.ChunkId{id})
	ch := &fakeChannel{remote: "src"}
	task := NewChunkListTask(list, "src", nil, func(string) (Channel, error) { return ch, nil }, DownloaderConfig{PieceSize: 32})

	done := make(chan error, 1)
	go func() { done <- task.Run() }()
	// Wait for the first downloader to come up, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for {
		task.mu.Lock()
		running := task.current != nil
		task.mu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("downloader never started")
		}
		time.Sleep(time.Millisecond)
	}
	task.Cancel()
	if err := <-done; err == nil {
		t.Fatalf("canceled task must return an error")
	}
}
