// Package freelist tracks free byte ranges inside a table's pages: an
// empty-link registry that coalesces adjacent holes and serves largest-fit
// reuse to the page allocator, adapted from the teacher's index/btree.go
// locking idiom (short operation mutex, ordered maps) and grounded
// algorithmically on the original empty_link_registry.rs.
package freelist

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rowkeep/rowkeep/pkg/rowpage"
)

// PerPageInfo reports one page's fragmentation, used by vacuum to rank
// pages for compaction.
type PerPageInfo struct {
	PageID           rowpage.PageID
	EmptyBytes       uint32
	FilledEmptyRatio float64 // (capacity - EmptyBytes) / EmptyBytes, 0 when EmptyBytes == 0
}

// Registry is the empty-link registry: three indexes kept in lock-step over
// the same set of free links, plus an atomic length sum, a short operation
// mutex, and a long-lived vacuum mutex.
type Registry struct {
	capacity uint32

	opMu sync.Mutex
	// byOffset is kept sorted by absolute offset for O(log n) neighbor
	// lookups during coalescing.
	byOffset []rowpage.Link
	byLength map[uint32][]rowpage.Link
	byPage   map[rowpage.PageID][]rowpage.Link

	sumLen atomic.Uint64

	vacuumMu sync.Mutex
}

// New creates an empty registry for a table whose pages have the given
// capacity (DATA_LENGTH), used to compute absolute offsets for ordering.
func New(capacity uint32) *Registry {
	return &Registry{
		capacity: capacity,
		byLength: make(map[uint32][]rowpage.Link),
		byPage:   make(map[rowpage.PageID][]rowpage.Link),
	}
}

func (r *Registry) less(a, b rowpage.Link) bool { return rowpage.Less(a, b, r.capacity) }

// searchOffset returns the index of the first link in byOffset whose
// absolute offset is >= link's.
func (r *Registry) searchOffset(link rowpage.Link) int {
	return sort.Search(len(r.byOffset), func(i int) bool {
		return !r.less(r.byOffset[i], link)
	})
}

func (r *Registry) insertIndexes(link rowpage.Link) {
	i := r.searchOffset(link)
	r.byOffset = append(r.byOffset, rowpage.Link{})
	copy(r.byOffset[i+1:], r.byOffset[i:])
	r.byOffset[i] = link

	r.byLength[link.Length] = append(r.byLength[link.Length], link)
	r.byPage[link.PageID] = append(r.byPage[link.PageID], link)

	r.sumLen.Add(uint64(link.Length))
}

func (r *Registry) removeIndexes(link rowpage.Link) {
	i := r.searchOffset(link)
	if i < len(r.byOffset) && rowpage.Equal(r.byOffset[i], link, r.capacity) {
		r.byOffset = append(r.byOffset[:i], r.byOffset[i+1:]...)
	}
	r.byLength[link.Length] = removeOne(r.byLength[link.Length], link, r.capacity)
	if len(r.byLength[link.Length]) == 0 {
		delete(r.byLength, link.Length)
	}
	r.byPage[link.PageID] = removeOne(r.byPage[link.PageID], link, r.capacity)
	if len(r.byPage[link.PageID]) == 0 {
		delete(r.byPage, link.PageID)
	}
	r.sumLen.Add(-uint64(link.Length))
}

func removeOne(links []rowpage.Link, target rowpage.Link, capacity uint32) []rowpage.Link {
	for i, l := range links {
		if rowpage.Equal(l, target, capacity) {
			return append(links[:i], links[i+1:]...)
		}
	}
	return links
}

// Push coalesces link with its immediate left neighbor (if its end abuts
// link's start) and then, independently, with the resulting link's right
// neighbor (if its start abuts the result's end), then inserts the outcome.
// Only the immediate predecessor/successor are examined: the registry's
// invariant that present links never overlap or sit adjacent guarantees
// nothing further merges.
func (r *Registry) Push(link rowpage.Link) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	merged := link
	i := r.searchOffset(merged)

	if i > 0 {
		left := r.byOffset[i-1]
		if left.PageID == merged.PageID && left.Offset+left.Length == merged.Offset {
			r.removeIndexes(left)
			merged = rowpage.Link{PageID: left.PageID, Offset: left.Offset, Length: left.Length + merged.Length}
			i = r.searchOffset(merged)
		}
	}

	if i < len(r.byOffset) {
		right := r.byOffset[i]
		if right.PageID == merged.PageID && merged.Offset+merged.Length == right.Offset {
			r.removeIndexes(right)
			merged = rowpage.Link{PageID: merged.PageID, Offset: merged.Offset, Length: merged.Length + right.Length}
		}
	}

	r.insertIndexes(merged)
}

// PopMax returns and removes the single longest link across all pages. It
// returns ok == false without blocking if the vacuum mutex is currently
// held, or if the registry is empty.
func (r *Registry) PopMax() (link rowpage.Link, ok bool) {
	if !r.vacuumMu.TryLock() {
		return rowpage.Link{}, false
	}
	r.vacuumMu.Unlock()

	r.opMu.Lock()
	defer r.opMu.Unlock()

	maxLen := uint32(0)
	for length := range r.byLength {
		if length > maxLen {
			maxLen = length
		}
	}
	bucket := r.byLength[maxLen]
	if len(bucket) == 0 {
		return rowpage.Link{}, false
	}
	link = bucket[len(bucket)-1]
	r.removeIndexes(link)
	return link, true
}

// RemoveLinkForPage drains and drops every link belonging to page, called
// once vacuum has fully emptied it.
func (r *Registry) RemoveLinkForPage(id rowpage.PageID) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	for _, link := range append([]rowpage.Link(nil), r.byPage[id]...) {
		r.removeIndexes(link)
	}
}

// SumLen returns the total length of all free links, for fragmentation
// metrics.
func (r *Registry) SumLen() uint64 { return r.sumLen.Load() }

// GetPerPageInfo reports empty-byte totals and fill ratio per page.
func (r *Registry) GetPerPageInfo() []PerPageInfo {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	out := make([]PerPageInfo, 0, len(r.byPage))
	for id, links := range r.byPage {
		var empty uint32
		for _, l := range links {
			empty += l.Length
		}
		ratio := 0.0
		if empty > 0 {
			ratio = float64(r.capacity-empty) / float64(empty)
		}
		out = append(out, PerPageInfo{PageID: id, EmptyBytes: empty, FilledEmptyRatio: ratio})
	}
	return out
}

// LockVacuum acquires the long-lived mutex that suppresses PopMax for the
// duration of a defragmentation pass. Callers must not hold it across
// writes that themselves need PopMax.
func (r *Registry) LockVacuum() func() {
	r.vacuumMu.Lock()
	return r.vacuumMu.Unlock
}
