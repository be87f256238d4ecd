package rowindex

import (
	"sync"
	"sync/atomic"

	"github.com/rowkeep/rowkeep/pkg/changelog"
	"github.com/rowkeep/rowkeep/pkg/rowpage"
)

// PrimaryIndex is the bidirectional pk<->Link map: forward (pk->Link) drives
// point lookups and ordered iteration, reverse (Link->pk, ordered by
// offset-equality) drives vacuum's per-page range scans. Only the forward
// map's mutation emits CDC events; the reverse map is always kept in sync
// with plain operations, per the original's insert/insert_cdc
// implementations.
type PrimaryIndex[K comparable] struct {
	mu       sync.RWMutex
	forward  *ordered[K, rowpage.Link]
	reverse  *ordered[rowpage.Link, K]
	eventSeq atomic.Uint64
}

// NewPrimaryIndex creates an empty primary index. capacity is the table's
// DATA_LENGTH, used to compute the reverse map's offset-equality ordering.
// keyLess orders the forward map's keys for point lookups and restartable
// iteration.
func NewPrimaryIndex[K comparable](capacity uint32, keyLess func(a, b K) bool) *PrimaryIndex[K] {
	return &PrimaryIndex[K]{
		forward: newOrdered[K, rowpage.Link](keyLess),
		reverse: newOrdered[rowpage.Link, K](func(a, b rowpage.Link) bool { return rowpage.Less(a, b, capacity) }),
	}
}

func (p *PrimaryIndex[K]) nextEventID() uint64 { return p.eventSeq.Add(1) }

// Get returns the Link for key, if present.
func (p *PrimaryIndex[K]) Get(key K) (rowpage.Link, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forward.Get(key)
}

// Insert replaces-and-returns the old Link for key, updating both maps.
func (p *PrimaryIndex[K]) Insert(key K, link rowpage.Link) (old rowpage.Link, had bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, had = p.forward.Insert(key, link)
	if had {
		p.reverse.Remove(old)
	}
	p.reverse.Insert(link, key)
	return old, had
}

// InsertChecked fails (ok=false) if key already exists in the forward map,
// without touching the reverse map at all.
func (p *PrimaryIndex[K]) InsertChecked(key K, link rowpage.Link) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.forward.Get(key); exists {
		return false
	}
	p.forward.Insert(key, link)
	p.reverse.Insert(link, key)
	return true
}

// Remove deletes key, using the forward map's removed value to clean the
// reverse map. Removal is always key-driven, mirroring the original's
// remove(value, _): a caller-supplied link is never consulted.
func (p *PrimaryIndex[K]) Remove(key K) (rowpage.Link, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, had := p.forward.Remove(key)
	if !had {
		return rowpage.Link{}, false
	}
	p.reverse.Remove(old)
	return old, true
}

// InsertCDC is Insert's CDC-capturing counterpart: the forward mutation
// emits events, the reverse update is plain.
func (p *PrimaryIndex[K]) InsertCDC(key K, link rowpage.Link) (old rowpage.Link, had bool, events []changelog.IndexChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, had = p.forward.Insert(key, link)
	if had {
		p.reverse.Remove(old)
	}
	p.reverse.Insert(link, key)
	events = []changelog.IndexChangeEvent{{EventID: p.nextEventID(), Kind: changelog.EventInsertAt, Key: key, Link: link}}
	return old, had, events
}

// InsertCheckedCDC is InsertChecked's CDC counterpart. No event is produced
// on failure.
func (p *PrimaryIndex[K]) InsertCheckedCDC(key K, link rowpage.Link) (ok bool, events []changelog.IndexChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.forward.Get(key); exists {
		return false, nil
	}
	p.forward.Insert(key, link)
	p.reverse.Insert(link, key)
	return true, []changelog.IndexChangeEvent{{EventID: p.nextEventID(), Kind: changelog.EventInsertAt, Key: key, Link: link}}
}

// RemoveCDC is Remove's CDC counterpart.
func (p *PrimaryIndex[K]) RemoveCDC(key K) (rowpage.Link, bool, []changelog.IndexChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, had := p.forward.Remove(key)
	if !had {
		return rowpage.Link{}, false, nil
	}
	p.reverse.Remove(old)
	return old, true, []changelog.IndexChangeEvent{{EventID: p.nextEventID(), Kind: changelog.EventRemoveAt, Key: key, Link: old}}
}

// ReverseLookup returns the primary key whose reverse entry is offset-equal
// to link.
func (p *PrimaryIndex[K]) ReverseLookup(link rowpage.Link) (K, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reverse.Get(link)
}

// RangeByPage calls fn for every (link, key) pair whose page is id, in
// ascending offset order. Used by vacuum to find candidates on a source
// page.
func (p *PrimaryIndex[K]) RangeByPage(id rowpage.PageID, fn func(rowpage.Link, K) bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.reverse.Range(rowpage.PageStart(id), rowpage.PageEnd(id), fn)
}

// SeekKeyGreater returns the smallest key strictly greater than key, for
// iter_with's restartable walk: after yielding a row for key k, the next
// step seeks the smallest key > k, tolerating intervening inserts/deletes.
func (p *PrimaryIndex[K]) SeekKeyGreater(key K) (K, rowpage.Link, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forward.SeekGreater(key)
}

// First returns the smallest primary key and its Link, the entry point for
// a restartable full-table iteration.
func (p *PrimaryIndex[K]) First() (K, rowpage.Link, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forward.First()
}

func (p *PrimaryIndex[K]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forward.Len()
}
