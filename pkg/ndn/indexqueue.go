package ndn

// IndexQueue tracks which piece indices remain to be sent, as a sorted
// list of inclusive ranges. The uploader pops the lowest pending index
// for each outgoing piece; a downloader's Continue control merges its
// reported holes (and everything past its max received index) back in.
type IndexQueue struct {
	ranges []IndexRange
	end    uint32
}

// NewIndexQueue creates a queue covering the inclusive index range
// [start, end].
func NewIndexQueue(start, end uint32) *IndexQueue {
	return &IndexQueue{
		ranges: []IndexRange{{Start: start, End: end}},
		end:    end,
	}
}

// Next pops the lowest pending index. The second return is false when the
// queue is empty.
func (q *IndexQueue) Next() (uint32, bool) {
	if len(q.ranges) == 0 {
		return 0, false
	}
	r := &q.ranges[0]
	idx := r.Start
	if r.Start == r.End {
		q.ranges = q.ranges[1:]
	} else {
		r.Start++
	}
	return idx, true
}

// Empty reports whether every index has been popped and not merged back.
func (q *IndexQueue) Empty() bool {
	return len(q.ranges) == 0
}

// Merge reinserts indices the downloader has not received: every index
// above maxIndex (the highest the downloader has seen) plus each
// explicitly lost range. Overlapping and adjacent ranges coalesce so the
// queue stays a minimal sorted set.
func (q *IndexQueue) Merge(maxIndex uint32, lost []IndexRange) {
	if maxIndex < q.end {
		q.insert(IndexRange{Start: maxIndex + 1, End: q.end})
	}
	for _, r := range lost {
		if r.Start > r.End || r.Start > q.end {
			continue
		}
		if r.End > q.end {
			r.End = q.end
		}
		q.insert(r)
	}
}

// insert adds one inclusive range, keeping q.ranges sorted and disjoint.
// Four cases against each existing range: fully contained (drop),
// adjacent/overlapping on the left (extend in place), strictly before
// (splice in), past everything (append); a coalescing pass then folds
// any ranges the extension has bridged.
func (q *IndexQueue) insert(r IndexRange) {
	for i := range q.ranges {
		cur := &q.ranges[i]
		if r.Start >= cur.Start && r.End <= cur.End {
			return
		}
		// Adjacent or overlapping: widen cur to cover both. Comparisons in
		// uint64 so End+1 cannot wrap.
		if uint64(r.Start) <= uint64(cur.End)+1 && uint64(cur.Start) <= uint64(r.End)+1 {
			if r.Start < cur.Start {
				cur.Start = r.Start
			}
			if r.End > cur.End {
				cur.End = r.End
			}
			q.coalesce(i)
			return
		}
		if r.End < cur.Start {
			q.ranges = append(q.ranges, IndexRange{})
			copy(q.ranges[i+1:], q.ranges[i:])
			q.ranges[i] = r
			return
		}
	}
	q.ranges = append(q.ranges, r)
}

// coalesce folds ranges following i that the widened range now touches.
func (q *IndexQueue) coalesce(i int) {
	cur := &q.ranges[i]
	j := i + 1
	for j < len(q.ranges) && uint64(q.ranges[j].Start) <= uint64(cur.End)+1 {
		if q.ranges[j].End > cur.End {
			cur.End = q.ranges[j].End
		}
		j++
	}
	if j > i+1 {
		q.ranges = append(q.ranges[:i+1], q.ranges[j:]...)
	}
}
