// Package pagestore implements the data-pages manager: a multi-page
// allocator/selector/updater for serialized rows, grounded on the teacher's
// storage/pager.go manager shape (RWMutex-guarded vector, atomic page-id
// counters, fmt.Errorf-wrapped errors) and algorithmically on the original
// in_memory/pages.rs.
package pagestore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rowkeep/rowkeep/pkg/freelist"
	"github.com/rowkeep/rowkeep/pkg/rowpage"
	"github.com/rowkeep/rowkeep/pkg/rowtype"
)

var (
	ErrGhosted  = errors.New("pagestore: row is ghosted")
	ErrNotFound = errors.New("pagestore: page not found")
)

// PagesError wraps any error escaping the manager, named per the spec's
// error table so the table façade can surface it as PagesError(inner).
type PagesError struct{ Err error }

func (e *PagesError) Error() string { return fmt.Sprintf("pagestore: %v", e.Err) }
func (e *PagesError) Unwrap() error { return e.Err }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &PagesError{Err: err}
}

// Pages is the data-pages manager for one table: a lock-protected vector of
// pages, an empty_pages reuse FIFO, the current/last page id counters, and
// the table's empty-link registry.
type Pages[K comparable, R rowtype.Row[K]] struct {
	capacity uint32
	codec    rowtype.Codec[K, R]

	mu    sync.RWMutex
	pages map[rowpage.PageID]*rowpage.Page

	registry *freelist.Registry

	emptyMu    sync.Mutex
	emptyPages []rowpage.PageID

	currentPageID atomic.Uint32
	lastPageID    atomic.Uint32
	rowCount      atomic.Uint64
}

// New creates a data-pages manager with one initial page, matching the
// teacher's pattern of pre-sizing the pager's first page on open.
func New[K comparable, R rowtype.Row[K]](capacity uint32, codec rowtype.Codec[K, R]) *Pages[K, R] {
	p := &Pages[K, R]{
		capacity: capacity,
		codec:    codec,
		pages:    make(map[rowpage.PageID]*rowpage.Page),
		registry: freelist.New(capacity),
	}
	first := rowpage.PageID(1)
	p.pages[first] = rowpage.NewPage(first, capacity)
	p.currentPageID.Store(uint32(first))
	p.lastPageID.Store(uint32(first))
	return p
}

// Registry exposes the empty-link registry, used by vacuum.
func (p *Pages[K, R]) Registry() *freelist.Registry { return p.registry }

// Capacity returns DATA_LENGTH.
func (p *Pages[K, R]) Capacity() uint32 { return p.capacity }

// RowCount returns the number of rows ever inserted (not decremented on
// delete; matches the teacher's append-only counters).
func (p *Pages[K, R]) RowCount() uint64 { return p.rowCount.Load() }

func (p *Pages[K, R]) getPage(id rowpage.PageID) (*rowpage.Page, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pg, ok := p.pages[id]
	return pg, ok
}

// GetPage exposes a page by id, used by vacuum to read/reset raw pages.
func (p *Pages[K, R]) GetPage(id rowpage.PageID) (*rowpage.Page, bool) { return p.getPage(id) }

func (p *Pages[K, R]) addPage() *rowpage.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := rowpage.PageID(p.lastPageID.Add(1))
	pg := rowpage.NewPage(id, p.capacity)
	p.pages[id] = pg
	return pg
}

// Insert allocates a Link for row and writes its encoded bytes, trying the
// freelist's largest-fit hole first and falling back to the current page /
// a fresh page otherwise.
func (p *Pages[K, R]) Insert(row R) (rowpage.Link, error) {
	encoded, err := p.codec.Encode(row)
	if err != nil {
		return rowpage.Link{}, wrap(err)
	}

	if link, ok := p.registry.PopMax(); ok {
		if uint32(len(encoded)) <= link.Length {
			sub := rowpage.Link{PageID: link.PageID, Offset: link.Offset, Length: uint32(len(encoded))}
			pg, ok := p.getPage(link.PageID)
			if ok {
				if err := pg.SaveRowByLink(sub, encoded); err == nil {
					if sub.Length < link.Length {
						p.registry.Push(rowpage.Link{
							PageID: link.PageID,
							Offset: link.Offset + sub.Length,
							Length: link.Length - sub.Length,
						})
					}
					p.rowCount.Add(1)
					return sub, nil
				}
			}
		}
		// Row is longer than the hole (or the page vanished, or the write
		// failed); return the hole to the registry and fall through to the
		// current-page path.
		p.registry.Push(link)
	}

	for {
		curID := rowpage.PageID(p.currentPageID.Load())
		pg, ok := p.getPage(curID)
		if !ok {
			return rowpage.Link{}, wrap(fmt.Errorf("%w: current page %d", ErrNotFound, curID))
		}
		link, err := pg.SaveRow(encoded)
		if err == nil {
			p.rowCount.Add(1)
			return link, nil
		}
		var full *rowpage.PageIsFullError
		if !errors.As(err, &full) {
			return rowpage.Link{}, wrap(err)
		}

		p.mu.Lock()
		if rowpage.PageID(p.currentPageID.Load()) == curID {
			next := p.popEmptyPageLocked()
			if next == 0 {
				id := rowpage.PageID(p.lastPageID.Add(1))
				fresh := rowpage.NewPage(id, p.capacity)
				p.pages[id] = fresh
				next = id
			}
			p.currentPageID.Store(uint32(next))
		}
		p.mu.Unlock()
	}
}

func (p *Pages[K, R]) popEmptyPageLocked() rowpage.PageID {
	p.emptyMu.Lock()
	defer p.emptyMu.Unlock()
	if len(p.emptyPages) == 0 {
		return 0
	}
	id := p.emptyPages[0]
	p.emptyPages = p.emptyPages[1:]
	return id
}

// Select deserializes the row at link.
func (p *Pages[K, R]) Select(link rowpage.Link) (R, error) {
	var zero R
	pg, ok := p.getPage(link.PageID)
	if !ok {
		return zero, wrap(fmt.Errorf("%w: page %d", ErrNotFound, link.PageID))
	}
	raw, err := pg.GetRaw(link)
	if err != nil {
		return zero, wrap(err)
	}
	row, err := p.codec.Decode(raw)
	if err != nil {
		return zero, wrap(err)
	}
	return row, nil
}

// SelectNonGhosted additionally rejects rows whose ghost flag is still set,
// so readers never observe a row before its indexes are fully populated.
func (p *Pages[K, R]) SelectNonGhosted(link rowpage.Link) (R, error) {
	row, err := p.Select(link)
	var zero R
	if err != nil {
		return zero, err
	}
	if row.Flags().Ghosted {
		return zero, wrap(ErrGhosted)
	}
	return row, nil
}

// GetRaw returns the raw encoded bytes at link, for change events and
// vacuum's zero-copy-ish moves.
func (p *Pages[K, R]) GetRaw(link rowpage.Link) ([]byte, error) {
	pg, ok := p.getPage(link.PageID)
	if !ok {
		return nil, wrap(fmt.Errorf("%w: page %d", ErrNotFound, link.PageID))
	}
	raw, err := pg.GetRaw(link)
	if err != nil {
		return nil, wrap(err)
	}
	return raw, nil
}

// AppendRaw writes pre-encoded bytes onto the current/target page's normal
// insert path, used by vacuum to move a row's bytes without a decode/
// re-encode round trip.
func (p *Pages[K, R]) AppendRaw(id rowpage.PageID, raw []byte) (rowpage.Link, error) {
	pg, ok := p.getPage(id)
	if !ok {
		return rowpage.Link{}, wrap(fmt.Errorf("%w: page %d", ErrNotFound, id))
	}
	return pg.SaveRow(raw)
}

// Update tries the in-place fast path: it succeeds only if newRow's encoded
// length matches link.Length exactly.
func (p *Pages[K, R]) Update(link rowpage.Link, newRow R) error {
	encoded, err := p.codec.Encode(newRow)
	if err != nil {
		return wrap(err)
	}
	if uint32(len(encoded)) != link.Length {
		return wrap(rowpage.ErrInvalidLink)
	}
	pg, ok := p.getPage(link.PageID)
	if !ok {
		return wrap(fmt.Errorf("%w: page %d", ErrNotFound, link.PageID))
	}
	if err := pg.SaveRowByLink(link, encoded); err != nil {
		return wrap(err)
	}
	return nil
}

// SetFlags flips the flags header of the row at link in place, the fast
// path used to unghost a row or mark it vacuum-in-progress without a full
// decode/re-encode.
func (p *Pages[K, R]) SetFlags(link rowpage.Link, flags rowtype.RowFlags) error {
	pg, ok := p.getPage(link.PageID)
	if !ok {
		return wrap(fmt.Errorf("%w: page %d", ErrNotFound, link.PageID))
	}
	raw, err := pg.GetRaw(link)
	if err != nil {
		return wrap(err)
	}
	patched, err := p.codec.PatchFlags(raw, flags)
	if err != nil {
		return wrap(err)
	}
	if err := pg.SaveRowByLink(link, patched); err != nil {
		return wrap(err)
	}
	return nil
}

// Delete pushes link into the registry. The bytes remain until overwritten;
// the table façade is responsible for having already removed the primary
// index entry before calling this.
func (p *Pages[K, R]) Delete(link rowpage.Link) {
	p.registry.Push(link)
}

// AllocateNewOrPopFree returns a spare page to vacuum without advancing
// currentPageID, reusing a vacuum-freed page if one is queued.
func (p *Pages[K, R]) AllocateNewOrPopFree() *rowpage.Page {
	p.mu.Lock()
	if id := p.popEmptyPageLocked(); id != 0 {
		pg := p.pages[id]
		p.mu.Unlock()
		return pg
	}
	p.mu.Unlock()
	return p.addPage()
}

// MarkPageEmpty enqueues id into the reuse FIFO, but only if it is not the
// current writer target: ordinary inserts must never silently start writing
// into a page vacuum just drained out from under them mid-pass.
func (p *Pages[K, R]) MarkPageEmpty(id rowpage.PageID) {
	if rowpage.PageID(p.currentPageID.Load()) == id {
		return
	}
	p.emptyMu.Lock()
	p.emptyPages = append(p.emptyPages, id)
	p.emptyMu.Unlock()
}

// MarkPageFull is a no-op placeholder kept for symmetry with vacuum's
// defragmented-page bookkeeping: a page that stays in the pages vector and
// out of the empty queue is already "full" from the allocator's point of
// view.
func (p *Pages[K, R]) MarkPageFull(rowpage.PageID) {}
