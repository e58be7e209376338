package iomultiplex

import (
	"container/heap"
	"time"
)

// timeoutHeap is the timeout index of spec.md §4.7: keyed by absolute
// deadline, supporting insert, erase-by-back-reference, pop-all-expired
// and peek-earliest. It is a min-heap with each operation carrying its
// own heap index (operation.timeoutIdx), the "lazy deletion" alternative
// the spec allows — except deletion here is eager (heap.Remove), since
// operations already carry the index needed for O(log n) removal.
//
// Ties (equal deadlines) fire in insertion order: each entry additionally
// carries a monotonically increasing sequence number used as a tiebreak.
type timeoutHeap struct {
	entries []*operation
	seq     uint64
}

func (h *timeoutHeap) Len() int { return len(h.entries) }

func (h *timeoutHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.deadline.Equal(b.deadline) {
		return a.id < b.id
	}
	return a.deadline.Before(b.deadline)
}

func (h *timeoutHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].timeoutIdx = i
	h.entries[j].timeoutIdx = j
}

func (h *timeoutHeap) Push(x any) {
	op := x.(*operation)
	op.timeoutIdx = len(h.entries)
	h.entries = append(h.entries, op)
}

func (h *timeoutHeap) Pop() any {
	old := h.entries
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	op.timeoutIdx = -1
	h.entries = old[:n-1]
	return op
}

// insert adds op to the index. Every operation with a finite timeout has
// exactly one entry here (spec.md §3 invariant); callers must not insert
// the same operation twice.
func (h *timeoutHeap) insert(op *operation) {
	heap.Push(h, op)
}

// remove erases op's entry, if present. A no-op if op has no entry
// (timeoutIdx == -1), so callers can call it unconditionally on
// completion/cancellation.
func (h *timeoutHeap) remove(op *operation) {
	if op.timeoutIdx < 0 || op.timeoutIdx >= len(h.entries) {
		return
	}
	heap.Remove(h, op.timeoutIdx)
}

// earliest returns the operation with the smallest deadline, or nil if empty.
func (h *timeoutHeap) earliest() *operation {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0]
}

// popExpired removes and returns every entry with deadline <= now, in
// deadline (then insertion) order.
func (h *timeoutHeap) popExpired(now time.Time) []*operation {
	var expired []*operation
	for len(h.entries) > 0 {
		top := h.entries[0]
		if top.deadline.After(now) {
			break
		}
		expired = append(expired, heap.Pop(h).(*operation))
	}
	return expired
}
