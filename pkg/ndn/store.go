package ndn

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// LocalChunkStore keeps verified chunks on disk, one file per chunk id,
// and serves the upload side's reads. Chunk file I/O blocks, so bulk
// reads fan out over a bounded worker pool instead of the session
// goroutines.
type LocalChunkStore struct {
	mu   sync.Mutex
	dir  string
	mem  map[objectid.ChunkId]ChunkState
	conc int
}

// NewLocalChunkStore opens (creating if needed) a store rooted at dir.
func NewLocalChunkStore(dir string) (*LocalChunkStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeIO, "ndn: create chunk dir: %v", err)
	}
	return &LocalChunkStore{
		dir:  dir,
		mem:  make(map[objectid.ChunkId]ChunkState),
		conc: constants.ChunkStoreConcurrency,
	}, nil
}

func (s *LocalChunkStore) path(id objectid.ChunkId) string {
	return filepath.Join(s.dir, id.String())
}

// State returns the chunk's local availability.
func (s *LocalChunkStore) State(id objectid.ChunkId) ChunkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.mem[id]; ok {
		return st
	}
	if _, err := os.Stat(s.path(id)); err == nil {
		s.mem[id] = ChunkReady
		return ChunkReady
	}
	return ChunkUnknown
}

// SetState overrides a chunk's recorded state, e.g. Ignore for chunks
// the stack refuses to serve or NotFound after an upstream miss.
func (s *LocalChunkStore) SetState(id objectid.ChunkId, st ChunkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[id] = st
}

// Put verifies and persists a chunk.
func (s *LocalChunkStore) Put(id objectid.ChunkId, data []byte) error {
	if err := id.Verify(data); err != nil {
		return buckyerr.Newf(buckyerr.CodeInvalidData, "ndn: store rejects chunk: %v", err)
	}
	if err := os.WriteFile(s.path(id), data, 0644); err != nil {
		return buckyerr.Newf(buckyerr.CodeIO, "ndn: write chunk: %v", err)
	}
	s.mu.Lock()
	s.mem[id] = ChunkReady
	s.mu.Unlock()
	return nil
}

// Get reads one chunk, verifying it against its id.
func (s *LocalChunkStore) Get(id objectid.ChunkId) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ndn: no chunk %s", id)
		}
		return nil, buckyerr.Newf(buckyerr.CodeIO, "ndn: read chunk: %v", err)
	}
	if err := id.Verify(data); err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "ndn: stored chunk corrupt: %v", err)
	}
	return data, nil
}

// GetAll reads every chunk of a list concurrently on the bounded pool,
// returning the chunks in list order. The first failure cancels the
// remaining reads.
func (s *LocalChunkStore) GetAll(ctx context.Context, list *ChunkList) ([][]byte, error) {
	out := make([][]byte, list.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.conc)
	for i := 0; i < list.Len(); i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := s.Get(list.At(i))
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete drops a chunk from disk and memory.
func (s *LocalChunkStore) Delete(id objectid.ChunkId) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return buckyerr.Newf(buckyerr.CodeIO, "ndn: delete chunk: %v", err)
	}
	s.mu.Lock()
	delete(s.mem, id)
	s.mu.Unlock()
	return nil
}
