// Package noc implements the named-object cache: insertion with
// update-time ordering and signature merging, conditional-write retry
// against concurrent writers, and the pre/post-put event hooks the
// router-handler pipeline subscribes to.
package noc

import (
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/objectcodec"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// InsertOutcome says what an insertion did.
type InsertOutcome int

const (
	InsertAccept InsertOutcome = iota
	InsertMerged
	InsertUpdated
	InsertAlreadyExists
)

func (o InsertOutcome) String() string {
	switch o {
	case InsertAccept:
		return "accept"
	case InsertMerged:
		return "merged"
	case InsertUpdated:
		return "updated"
	case InsertAlreadyExists:
		return "already-exists"
	default:
		return "invalid"
	}
}

// PutRequest is one insertion. Raw must decode to an object whose
// computed id equals ObjectId. CreateTime is the caller's view of the
// object's creation instant (the decoded descriptor is immutable, so it
// travels alongside rather than inside it).
type PutRequest struct {
	ObjectId       objectid.ObjectId
	Raw            []byte
	DecId          string
	CreateTime     uint64
	Rank           uint8
	SourceDevice   string
	SourceProtocol string
	Flags          uint32
}

// PutResult reports the outcome plus the row times the caller may need
// (AlreadyExists carries the existing row's times so the caller can see
// how stale it was).
type PutResult struct {
	Outcome    InsertOutcome
	UpdateTime uint64
	InsertTime uint64
}

// PrePutHandler may veto an insertion; a non-nil error propagates as the
// insert result.
type PrePutHandler func(req *PutRequest, obj *objectcodec.Object) *buckyerr.Error

// PostPutHandler observes a completed insertion.
type PostPutHandler func(req *PutRequest, result *PutResult)

// SelectFilter narrows SelectObject results.
type SelectFilter struct {
	ObjType *objectid.ObjType
	DecId   string
}

// SelectPage is an offset/limit window over the filtered, insert-time
// ordered rows.
type SelectPage struct {
	Offset int
	Limit  int
}

// Stat is the cache summary.
type Stat struct {
	Count      int
	TotalBytes uint64
}

// Noc is the named-object cache.
type Noc struct {
	storage Storage

	mu       sync.Mutex
	prePut   []PrePutHandler
	postPut  []PostPutHandler
	nowMicro func() uint64
}

// New creates a cache over the given storage.
func New(storage Storage) *Noc {
	return &Noc{storage: storage, nowMicro: objectcodec.NowMicros}
}

// OnPrePut subscribes a veto hook.
func (n *Noc) OnPrePut(h PrePutHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prePut = append(n.prePut, h)
}

// OnPostPut subscribes a completion observer.
func (n *Noc) OnPostPut(h PostPutHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.postPut = append(n.postPut, h)
}

// InsertObject runs the update-time + sign-merge insertion protocol:
//
//	no row                       -> insert fresh, Accept
//	equal update_time            -> merge signatures, Merged
//	older row                    -> conditional replace, Updated
//	newer row                    -> AlreadyExists with the row's times
//
// Conditional writes are guarded by the row's insert_time; a guard miss
// means a concurrent writer got there first and the whole decision is
// retried, up to a fixed budget so the loop cannot spin forever.
func (n *Noc) InsertObject(req *PutRequest) (*PutResult, error) {
	obj, err := objectcodec.FromBytes(req.Raw)
	if err != nil {
		return nil, err
	}
	if err := obj.VerifyID(req.ObjectId); err != nil {
		return nil, err
	}

	n.mu.Lock()
	pre := append([]PrePutHandler(nil), n.prePut...)
	post := append([]PostPutHandler(nil), n.postPut...)
	n.mu.Unlock()
	for _, h := range pre {
		if verr := h(req, obj); verr != nil {
			return nil, verr
		}
	}

	var newUpdateTime uint64
	if obj.Body != nil {
		newUpdateTime = obj.Body.UpdateTime
	}

	for attempt := 0; attempt < constants.NocInsertMaxRetry; attempt++ {
		row, exists := n.storage.Get(req.ObjectId)
		if !exists {
			fresh := n.buildRow(req, req.Raw, newUpdateTime, 0)
			if !n.storage.InsertNew(fresh) {
				continue // concurrent first writer; re-read and decide again
			}
			result := &PutResult{Outcome: InsertAccept, UpdateTime: newUpdateTime, InsertTime: fresh.InsertTime}
			n.firePostPut(post, req, result)
			return result, nil
		}

		switch {
		case row.UpdateTime == newUpdateTime:
			existing, err := objectcodec.FromBytes(row.Raw)
			if err != nil {
				return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "noc: cached row for %s undecodable: %v", req.ObjectId, err)
			}
			added := 0
			if existing.Signs == nil {
				existing.Signs = &objectcodec.ObjectSigns{}
			}
			if obj.Signs != nil {
				added += existing.Signs.MergeDescSigns(obj.Signs)
				added += existing.Signs.MergeBodySigns(obj.Signs)
			}
			if added == 0 {
				result := &PutResult{Outcome: InsertMerged, UpdateTime: row.UpdateTime, InsertTime: row.InsertTime}
				n.firePostPut(post, req, result)
				return result, nil
			}
			raw, err := existing.ToBytes()
			if err != nil {
				return nil, err
			}
			merged := n.buildRow(req, raw, row.UpdateTime, row.InsertTime)
			merged.CreateTime = row.CreateTime
			if !n.storage.ReplaceIf(req.ObjectId, row.InsertTime, merged) {
				continue
			}
			result := &PutResult{Outcome: InsertMerged, UpdateTime: merged.UpdateTime, InsertTime: merged.InsertTime}
			n.firePostPut(post, req, result)
			return result, nil

		case row.UpdateTime < newUpdateTime:
			fresh := n.buildRow(req, req.Raw, newUpdateTime, row.InsertTime)
			if !n.storage.ReplaceIf(req.ObjectId, row.InsertTime, fresh) {
				continue
			}
			result := &PutResult{Outcome: InsertUpdated, UpdateTime: newUpdateTime, InsertTime: fresh.InsertTime}
			n.firePostPut(post, req, result)
			return result, nil

		default:
			result := &PutResult{Outcome: InsertAlreadyExists, UpdateTime: row.UpdateTime, InsertTime: row.InsertTime}
			n.firePostPut(post, req, result)
			return result, nil
		}
	}

	err2 := buckyerr.Newf(buckyerr.CodeInternalError, "noc: insert of %s lost %d conditional-write races", req.ObjectId, constants.NocInsertMaxRetry)
	err2.RetryAfterCount = constants.NocInsertMaxRetry
	return nil, err2
}

// buildRow assembles a row with a monotonic insert_time: if the clock has
// rolled back past the previous row's insert_time, the writer uses
// previous+1.
func (n *Noc) buildRow(req *PutRequest, raw []byte, updateTime, prevInsertTime uint64) *ObjectCacheData {
	insertTime := n.nowMicro()
	if insertTime <= prevInsertTime {
		insertTime = prevInsertTime + 1
	}
	return &ObjectCacheData{
		ObjectId:       req.ObjectId,
		Raw:            append([]byte(nil), raw...),
		DecId:          req.DecId,
		CreateTime:     req.CreateTime,
		UpdateTime:     updateTime,
		InsertTime:     insertTime,
		Rank:           req.Rank,
		SourceDevice:   req.SourceDevice,
		SourceProtocol: req.SourceProtocol,
		Flags:          req.Flags,
	}
}

func (n *Noc) firePostPut(post []PostPutHandler, req *PutRequest, result *PutResult) {
	for _, h := range post {
		h(req, result)
	}
}

// GetObject returns the cached row for an id.
func (n *Noc) GetObject(id objectid.ObjectId) (*ObjectCacheData, error) {
	row, ok := n.storage.Get(id)
	if !ok {
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "noc: no object %s", id)
	}
	return row, nil
}

// SelectObject returns the rows matching the filter, ordered by
// insert_time, windowed by the page.
func (n *Noc) SelectObject(filter SelectFilter, page SelectPage) []*ObjectCacheData {
	var out []*ObjectCacheData
	for _, row := range n.storage.List() {
		if filter.ObjType != nil && row.ObjectId.ObjType() != *filter.ObjType {
			continue
		}
		if filter.DecId != "" && row.DecId != filter.DecId {
			continue
		}
		out = append(out, row)
	}
	if page.Offset >= len(out) {
		return nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out
}

// DeleteObject removes a row.
func (n *Noc) DeleteObject(id objectid.ObjectId) error {
	if !n.storage.Delete(id) {
		return buckyerr.Newf(buckyerr.CodeNotFound, "noc: no object %s", id)
	}
	return nil
}

// Stat summarizes the cache.
func (n *Noc) Stat() Stat {
	var s Stat
	for _, row := range n.storage.List() {
		s.Count++
		s.TotalBytes += uint64(len(row.Raw))
	}
	return s
}
