package noc

import (
	"sort"
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// ObjectCacheData is one cached-object row: the raw bytes plus the
// bookkeeping columns the insertion protocol's conditional writes key on.
type ObjectCacheData struct {
	ObjectId       objectid.ObjectId
	Raw            []byte
	DecId          string
	CreateTime     uint64
	UpdateTime     uint64
	InsertTime     uint64
	Rank           uint8
	SourceDevice   string
	SourceProtocol string
	Flags          uint32
}

func (r *ObjectCacheData) clone() *ObjectCacheData {
	out := *r
	out.Raw = append([]byte(nil), r.Raw...)
	return &out
}

// Storage is the NOC's persistence contract. The production backend is
// the external SQL archive; the in-memory implementation below serves
// tests and diskless stacks. Conditional writes are guarded by the row's
// insert_time so concurrent writers detect each other and retry.
type Storage interface {
	Get(id objectid.ObjectId) (*ObjectCacheData, bool)
	// InsertNew adds a row only if no row exists for the id.
	InsertNew(row *ObjectCacheData) bool
	// ReplaceIf overwrites the row only if its current insert_time still
	// equals expectInsertTime.
	ReplaceIf(id objectid.ObjectId, expectInsertTime uint64, row *ObjectCacheData) bool
	Delete(id objectid.ObjectId) bool
	List() []*ObjectCacheData
	Count() int
}

// MemStorage is the in-memory Storage used by tests and diskless stacks.
type MemStorage struct {
	mu   sync.Mutex
	rows map[objectid.ObjectId]*ObjectCacheData
}

// NewMemStorage creates an empty store.
func NewMemStorage() *MemStorage {
	return &MemStorage{rows: make(map[objectid.ObjectId]*ObjectCacheData)}
}

func (s *MemStorage) Get(id objectid.ObjectId) (*ObjectCacheData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return row.clone(), true
}

func (s *MemStorage) InsertNew(row *ObjectCacheData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[row.ObjectId]; exists {
		return false
	}
	s.rows[row.ObjectId] = row.clone()
	return true
}

func (s *MemStorage) ReplaceIf(id objectid.ObjectId, expectInsertTime uint64, row *ObjectCacheData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok || cur.InsertTime != expectInsertTime {
		return false
	}
	s.rows[id] = row.clone()
	return true
}

func (s *MemStorage) Delete(id objectid.ObjectId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return false
	}
	delete(s.rows, id)
	return true
}

func (s *MemStorage) List() []*ObjectCacheData {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ObjectCacheData, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InsertTime != out[j].InsertTime {
			return out[i].InsertTime < out[j].InsertTime
		}
		return out[i].ObjectId.String() < out[j].ObjectId.String()
	})
	return out
}

func (s *MemStorage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
