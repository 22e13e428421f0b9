package ndn

import (
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// DirSyncState is the replication state of one composite object.
type DirSyncState int

const (
	DirSyncInit DirSyncState = iota
	DirSyncBodyChunkPending
	DirSyncBodyChunkComplete
	DirSyncDescChunkPending
	DirSyncDescChunkComplete
	DirSyncComplete
)

func (s DirSyncState) String() string {
	switch s {
	case DirSyncInit:
		return "init"
	case DirSyncBodyChunkPending:
		return "body-chunk-pending"
	case DirSyncBodyChunkComplete:
		return "body-chunk-complete"
	case DirSyncDescChunkPending:
		return "desc-chunk-pending"
	case DirSyncDescChunkComplete:
		return "desc-chunk-complete"
	case DirSyncComplete:
		return "complete"
	default:
		return "invalid"
	}
}

// ChunkFetcher pulls one chunk's bytes, typically via a ChunkDownloader.
type ChunkFetcher func(id objectid.ChunkId) ([]byte, error)

// MissingCache is shared across syncers: objects already known missing
// upstream are short-circuited instead of re-fetched by every syncer
// that references them.
type MissingCache struct {
	mu      sync.Mutex
	missing map[objectid.ObjectId]struct{}
}

// NewMissingCache creates an empty cache.
func NewMissingCache() *MissingCache {
	return &MissingCache{missing: make(map[objectid.ObjectId]struct{})}
}

// MarkMissing records an object as missing upstream.
func (c *MissingCache) MarkMissing(id objectid.ObjectId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missing[id] = struct{}{}
}

// IsMissing reports whether an object was recorded missing.
func (c *MissingCache) IsMissing(id objectid.ObjectId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.missing[id]
	return ok
}

// DirSource describes the composite object being replicated: where its
// member-object list lives. Large directories store the list in chunks
// (body first, then desc); small ones carry it inline.
type DirSource struct {
	BodyChunk     *objectid.ChunkId
	DescChunk     *objectid.ChunkId
	InlineObjects []objectid.ObjectId
}

// DirSyncer walks one composite object through the replication state
// machine, fetching its body/desc chunks and enumerating every
// referenced object into the association queue for the caller to
// replicate.
type DirSyncer struct {
	mu sync.Mutex

	source  DirSource
	fetch   ChunkFetcher
	missing *MissingCache

	state DirSyncState
	assoc []objectid.ObjectId

	bodyData []byte
	descData []byte
}

// NewDirSyncer creates a syncer in the Init state.
func NewDirSyncer(source DirSource, fetch ChunkFetcher, missing *MissingCache) *DirSyncer {
	return &DirSyncer{
		source:  source,
		fetch:   fetch,
		missing: missing,
	}
}

// State returns the current state.
func (d *DirSyncer) State() DirSyncState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Associations returns the object ids enumerated so far, in discovery
// order, with already-known-missing ids filtered out.
func (d *DirSyncer) Associations() []objectid.ObjectId {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]objectid.ObjectId(nil), d.assoc...)
}

// Step advances the state machine by one transition. It returns the new
// state; Run drives it to Complete.
func (d *DirSyncer) Step() (DirSyncState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case DirSyncInit:
		if d.source.BodyChunk != nil {
			d.state = DirSyncBodyChunkPending
		} else {
			// No body chunk: the inline list is the body's enumeration.
			d.enumerateLocked(d.source.InlineObjects)
			d.state = DirSyncBodyChunkComplete
		}
	case DirSyncBodyChunkPending:
		data, err := d.fetchChunkLocked(*d.source.BodyChunk)
		if err != nil {
			return d.state, err
		}
		d.bodyData = data
		ids, err := parseObjectList(data)
		if err != nil {
			return d.state, err
		}
		d.enumerateLocked(ids)
		d.state = DirSyncBodyChunkComplete
	case DirSyncBodyChunkComplete:
		if d.source.DescChunk != nil {
			d.state = DirSyncDescChunkPending
		} else {
			d.state = DirSyncDescChunkComplete
		}
	case DirSyncDescChunkPending:
		data, err := d.fetchChunkLocked(*d.source.DescChunk)
		if err != nil {
			return d.state, err
		}
		d.descData = data
		ids, err := parseObjectList(data)
		if err != nil {
			return d.state, err
		}
		d.enumerateLocked(ids)
		d.state = DirSyncDescChunkComplete
	case DirSyncDescChunkComplete:
		d.state = DirSyncComplete
	case DirSyncComplete:
	}
	return d.state, nil
}

// Run drives the machine until Complete or a fetch/parse error.
func (d *DirSyncer) Run() error {
	for {
		state, err := d.Step()
		if err != nil {
			return err
		}
		if state == DirSyncComplete {
			return nil
		}
	}
}

func (d *DirSyncer) fetchChunkLocked(id objectid.ChunkId) ([]byte, error) {
	if d.missing != nil && d.missing.IsMissing(id.AsObjectId()) {
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ndn: chunk %s known missing", id)
	}
	data, err := d.fetch(id)
	if err != nil {
		if d.missing != nil {
			var be *buckyerr.Error
			if ok := asBucky(err, &be); ok && be.Code == buckyerr.CodeNotFound {
				d.missing.MarkMissing(id.AsObjectId())
			}
		}
		return nil, err
	}
	if err := id.Verify(data); err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "ndn: fetched chunk mismatch: %v", err)
	}
	return data, nil
}

func (d *DirSyncer) enumerateLocked(ids []objectid.ObjectId) {
	for _, id := range ids {
		if d.missing != nil && d.missing.IsMissing(id) {
			continue
		}
		d.assoc = append(d.assoc, id)
	}
}

func asBucky(err error, out **buckyerr.Error) bool {
	be, ok := err.(*buckyerr.Error)
	if ok {
		*out = be
	}
	return ok
}

// parseObjectList reads a chunk holding a packed list of 32-byte object
// ids.
func parseObjectList(data []byte) ([]objectid.ObjectId, error) {
	if len(data)%objectid.Size != 0 {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "ndn: object list length %d not a multiple of %d", len(data), objectid.Size)
	}
	ids := make([]objectid.ObjectId, 0, len(data)/objectid.Size)
	for off := 0; off < len(data); off += objectid.Size {
		var id objectid.ObjectId
		copy(id[:], data[off:off+objectid.Size])
		ids = append(ids, id)
	}
	return ids, nil
}
