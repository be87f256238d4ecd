package rowlock

import (
	"github.com/rowkeep/rowkeep/pkg/rowpage"
)

// TableLock is the unified lock manager for one table: row-level locks
// keyed by primary key, plus page-level locks (for vacuum) keyed by page
// id, both backed by the same LockMap shape.
type TableLock[K comparable] struct {
	columns   []string
	RowLocks  *LockMap[K, *RowLock]
	PageLocks *LockMap[rowpage.PageID, *RowLock]
}

// NewTableLock creates an empty lock manager. columns lists every column
// name a composite row lock must carry a slot for.
func NewTableLock[K comparable](columns []string) *TableLock[K] {
	return &TableLock[K]{
		columns:   columns,
		RowLocks:  NewLockMap[K, *RowLock](),
		PageLocks: NewLockMap[rowpage.PageID, *RowLock](),
	}
}

// Guard is an acquired lock over a primary key (or page id): the op Lock
// to release and the key to remove-if-idle afterward.
type Guard[K comparable] struct {
	key      K
	op       *Lock
	lockMap  *LockMap[K, *RowLock]
}

// Release unlocks the op lock and removes the map entry if no other slot
// is still held.
func (g *Guard[K]) Release() {
	g.op.Unlock()
	g.lockMap.RemoveWithLockCheck(g.key)
}

// AcquireRow acquires the full composite row lock for pk: bump a lock id,
// and either join an existing entry's Lock() call (awaiting its priors) or
// install a fresh RowLock, merging in a racing insert if one occurred.
func (t *TableLock[K]) AcquireRow(pk K) *Guard[K] {
	if existing, ok := t.RowLocks.Get(pk); ok {
		priors, fresh := existing.Lock()
		awaitAll(priors)
		return &Guard[K]{key: pk, op: fresh, lockMap: t.RowLocks}
	}

	fresh, op := WithLock(t.columns)
	prev, had := t.RowLocks.Insert(pk, fresh)
	if had && prev != fresh {
		conflicts := fresh.Merge(prev)
		awaitAll(conflicts)
	}
	return &Guard[K]{key: pk, op: op, lockMap: t.RowLocks}
}

// AcquireRowColumns acquires only the named columns' slots (plus the pk
// slot when full is true), allowing disjoint-column updates on the same
// row to proceed concurrently.
func (t *TableLock[K]) AcquireRowColumns(pk K, columns []string, full bool) *Guard[K] {
	if existing, ok := t.RowLocks.Get(pk); ok {
		priors, fresh := existing.LockColumns(columns, full)
		awaitAll(priors)
		return &Guard[K]{key: pk, op: fresh, lockMap: t.RowLocks}
	}
	fresh, op := WithLock(t.columns)
	prev, had := t.RowLocks.Insert(pk, fresh)
	if had && prev != fresh {
		conflicts := fresh.Merge(prev)
		awaitAll(conflicts)
	}
	return &Guard[K]{key: pk, op: op, lockMap: t.RowLocks}
}

// LockPage returns the page-level lock for id, creating it if absent, and
// returns the same *RowLock on repeated calls for the same page.
func (t *TableLock[K]) LockPage(id rowpage.PageID) *RowLock {
	if lock, ok := t.PageLocks.Get(id); ok {
		return lock
	}
	fresh := NewRowLock(nil)
	prev, had := t.PageLocks.Insert(id, fresh)
	if had {
		return prev
	}
	return fresh
}

// AcquirePageLock locks a fresh op-lock on page id's vacuum lock, for the
// duration of a vacuum move.
func (t *TableLock[K]) AcquirePageLock(id rowpage.PageID) *Guard[rowpage.PageID] {
	rl := t.LockPage(id)
	priors, fresh := rl.Lock()
	awaitAll(priors)
	return &Guard[rowpage.PageID]{key: id, op: fresh, lockMap: t.PageLocks}
}

// RemovePageLock drops the page lock entry for id if it is currently idle.
func (t *TableLock[K]) RemovePageLock(id rowpage.PageID) {
	t.PageLocks.RemoveWithLockCheck(id)
}

// AwaitPageLock blocks until page id's vacuum lock (if any) clears, and
// reports whether it actually waited. Callers must re-read any cached Link
// after a true return, since vacuum may have relocated the row.
func (t *TableLock[K]) AwaitPageLock(id rowpage.PageID) bool {
	lock, ok := t.PageLocks.Get(id)
	if !ok {
		return false
	}
	current := lock.CurrentLocks()
	if len(current) == 0 {
		return false
	}
	awaitAll(current)
	return true
}
