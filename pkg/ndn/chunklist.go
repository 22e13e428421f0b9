package ndn

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// ChunkList is an ordered sequence of chunk ids with a prefix-sum index
// mapping byte offsets into (chunk index, intra-chunk range). A file
// object references its content through one of these.
type ChunkList struct {
	ids     []objectid.ChunkId
	offsets []uint64 // offsets[i] is the byte offset where ids[i] starts
	total   uint64
}

// NewChunkList builds the list and its prefix-sum index.
func NewChunkList(ids []objectid.ChunkId) *ChunkList {
	l := &ChunkList{
		ids:     append([]objectid.ChunkId(nil), ids...),
		offsets: make([]uint64, len(ids)),
	}
	var off uint64
	for i, id := range ids {
		l.offsets[i] = off
		off += uint64(id.Length())
	}
	l.total = off
	return l
}

// Len returns the number of chunks.
func (l *ChunkList) Len() int {
	return len(l.ids)
}

// Total returns the total byte length across all chunks.
func (l *ChunkList) Total() uint64 {
	return l.total
}

// At returns the chunk id at the given index.
func (l *ChunkList) At(i int) objectid.ChunkId {
	return l.ids[i]
}

// Locate maps a byte offset to (chunk index, offset within that chunk)
// by binary search over the prefix sums.
func (l *ChunkList) Locate(offset uint64) (int, uint64, error) {
	if offset >= l.total {
		return 0, 0, buckyerr.Newf(buckyerr.CodeOutOfLimit, "ndn: offset %d beyond chunk list total %d", offset, l.total)
	}
	lo, hi := 0, len(l.ids)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if l.offsets[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, offset - l.offsets[lo], nil
}

// ByteRange constrains a chunk-list task to a [Start, End) slice of the
// list's byte space.
type ByteRange struct {
	Start uint64
	End   uint64
}

// Progress is one statistics sample reported by a chunk-list task.
type Progress struct {
	ChunkIndex      int
	TotalBytes      uint64
	DownloadedBytes uint64
	Percent         float64
	SpeedBytesPerS  float64
}

// ChunkListTask downloads a sequence of chunks strictly sequentially:
// each completion spawns the next chunk's downloader. Progress samples
// go out on a statistics channel; cancellation propagates to whichever
// chunk downloader is currently running.
type ChunkListTask struct {
	mu sync.Mutex

	list   *ChunkList
	ranges []ByteRange
	opener ChannelOpener
	config DownloaderConfig
	source string

	current  *ChunkDownloader
	chunks   [][]byte
	canceled bool

	progress chan Progress
	done     chan struct{}
	err      error
}

// NewChunkListTask creates a task downloading every chunk in the list
// from the given source. A nil ranges slice means the whole list; a
// non-empty slice restricts the task to the chunks overlapping any range.
func NewChunkListTask(list *ChunkList, source string, ranges []ByteRange, opener ChannelOpener, config DownloaderConfig) *ChunkListTask {
	return &ChunkListTask{
		list:     list,
		ranges:   ranges,
		opener:   opener,
		config:   config,
		source:   source,
		chunks:   make([][]byte, list.Len()),
		progress: make(chan Progress, list.Len()+1),
		done:     make(chan struct{}),
	}
}

// Progress returns the statistics channel. It is closed when the task
// ends.
func (t *ChunkListTask) Progress() <-chan Progress {
	return t.progress
}

// wanted reports whether chunk i overlaps the task's byte ranges.
func (t *ChunkListTask) wanted(i int) bool {
	if len(t.ranges) == 0 {
		return true
	}
	start := t.list.offsets[i]
	end := start + uint64(t.list.ids[i].Length())
	for _, r := range t.ranges {
		if r.Start < end && start < r.End {
			return true
		}
	}
	return false
}

// Run downloads the chunks in order, blocking until done or canceled.
func (t *ChunkListTask) Run() error {
	defer close(t.done)
	defer close(t.progress)

	var downloaded uint64
	started := time.Now()
	for i := 0; i < t.list.Len(); i++ {
		if !t.wanted(i) {
			continue
		}
		t.mu.Lock()
		if t.canceled {
			t.mu.Unlock()
			t.err = buckyerr.New(buckyerr.CodeInterrupted, "ndn: chunk list task canceled")
			return t.err
		}
		d := NewChunkDownloader(t.list.At(i), t.opener, t.config)
		t.current = d
		t.mu.Unlock()

		if err := d.Run(time.Now(), t.source); err != nil {
			t.err = err
			return err
		}
		data, err := d.Wait()
		if err != nil {
			t.err = err
			return err
		}
		t.mu.Lock()
		t.chunks[i] = data
		t.current = nil
		t.mu.Unlock()

		downloaded += uint64(len(data))
		elapsed := time.Since(started).Seconds()
		sample := Progress{
			ChunkIndex:      i,
			TotalBytes:      t.list.Total(),
			DownloadedBytes: downloaded,
			Percent:         float64(downloaded) / float64(t.list.Total()) * 100,
		}
		if elapsed > 0 {
			sample.SpeedBytesPerS = float64(downloaded) / elapsed
		}
		select {
		case t.progress <- sample:
		default:
		}
	}
	return nil
}

// OnTimeEscape forwards the shared tick to the running chunk downloader.
func (t *ChunkListTask) OnTimeEscape(now time.Time) {
	t.mu.Lock()
	d := t.current
	t.mu.Unlock()
	if d != nil {
		d.OnTimeEscape(now)
	}
}

// PushPieceData routes a piece to the running chunk downloader.
func (t *ChunkListTask) PushPieceData(now time.Time, p *PieceData) (bool, error) {
	t.mu.Lock()
	d := t.current
	t.mu.Unlock()
	if d == nil {
		return false, buckyerr.New(buckyerr.CodeNotFound, "ndn: no chunk download in flight")
	}
	return d.PushPieceData(now, p)
}

// Cancel aborts the task, propagating to the running chunk downloader.
func (t *ChunkListTask) Cancel() {
	t.mu.Lock()
	t.canceled = true
	d := t.current
	t.mu.Unlock()
	if d != nil {
		d.Cancel()
	}
}

// Chunk returns the downloaded bytes for chunk i (nil if skipped or not
// yet downloaded).
func (t *ChunkListTask) Chunk(i int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks[i]
}
