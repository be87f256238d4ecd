// Package table implements the table façade: the single entry point that
// wires the data-pages manager, primary and secondary indexes, and the
// per-row lock manager into consistent Insert/Select/Update/Delete
// operations, with the precise rollback ordering the original table/mod.rs
// follows. Grounded on the teacher's storage.Pager as the composition
// style (one struct owning a handful of focused managers, logging through
// zerolog) and algorithmically on table/mod.rs's insert/reinsert/select.
package table

import (
	"context"

	"github.com/rowkeep/rowkeep/pkg/changelog"
	"github.com/rowkeep/rowkeep/pkg/pagestore"
	"github.com/rowkeep/rowkeep/pkg/rowindex"
	"github.com/rowkeep/rowkeep/pkg/rowlock"
	"github.com/rowkeep/rowkeep/pkg/rowpage"
	"github.com/rowkeep/rowkeep/pkg/rowtype"
	"github.com/rowkeep/rowkeep/pkg/tableconfig"
)

// Table is the façade over one row type's storage, indexes and locks.
type Table[K comparable, R rowtype.Row[K]] struct {
	name string
	cfg  tableconfig.Config

	data    *pagestore.Pages[K, R]
	primary *rowindex.PrimaryIndex[K]
	indexes *rowindex.Bundle[K, R]
	locks   *rowlock.TableLock[K]

	queue *changelog.Queue
}

// New creates a table named name. keyLess orders the primary key for
// ordered iteration and range scans; defs lists every secondary index to
// maintain (empty defs is the "no secondary indexes" unit case).
func New[K comparable, R rowtype.Row[K]](
	name string,
	cfg tableconfig.Config,
	codec rowtype.Codec[K, R],
	keyLess func(a, b K) bool,
	defs []rowindex.IndexDef,
) *Table[K, R] {
	return &Table[K, R]{
		name:    name,
		cfg:     cfg,
		data:    pagestore.New[K, R](cfg.PageSize, codec),
		primary: rowindex.NewPrimaryIndex[K](cfg.PageSize, keyLess),
		indexes: rowindex.NewBundle[K, R](cfg.PageSize, defs),
		locks:   rowlock.NewTableLock[K](cfg.Columns),
	}
}

// WithChangeQueue attaches a bounded event queue; every subsequent *CDC
// operation publishes its event there instead of only returning it.
func (t *Table[K, R]) WithChangeQueue(capacity int) *Table[K, R] {
	t.queue = changelog.NewQueue(capacity)
	return t
}

// Name returns the table's name, used in logging and vacuum scheduling.
func (t *Table[K, R]) Name() string { return t.name }

// Data exposes the data-pages manager, used by vacuum.
func (t *Table[K, R]) Data() *pagestore.Pages[K, R] { return t.data }

// Primary exposes the primary index, used by vacuum's per-page range scans.
func (t *Table[K, R]) Primary() *rowindex.PrimaryIndex[K] { return t.primary }

// Locks exposes the lock manager, used by vacuum to take page locks.
func (t *Table[K, R]) Locks() *rowlock.TableLock[K] { return t.locks }

// resolveLink looks up pk's link, awaiting any in-flight vacuum move on its
// page and re-reading the link if one occurred.
func (t *Table[K, R]) resolveLink(pk K) (rowpage.Link, bool) {
	link, ok := t.primary.Get(pk)
	if !ok {
		return rowpage.Link{}, false
	}
	if t.locks.AwaitPageLock(link.PageID) {
		return t.primary.Get(pk)
	}
	return link, true
}

func unghost(flags rowtype.RowFlags) rowtype.RowFlags {
	flags.Ghosted = false
	return flags
}

// Select returns the row at pk, skipping ghosted rows.
func (t *Table[K, R]) Select(pk K) (R, error) {
	var zero R
	link, ok := t.resolveLink(pk)
	if !ok {
		return zero, ErrNotFound
	}
	row, err := t.data.SelectNonGhosted(link)
	if err != nil {
		return zero, err
	}
	return row, nil
}

// Insert stores row under its own primary key. row must start ghosted (the
// codec's default for a newly constructed row); Insert unghosts it only
// after both the primary and every secondary index have accepted it,
// matching the original's insert/save_row/unghost ordering and rollback.
func (t *Table[K, R]) Insert(row R) (rowpage.Link, error) {
	link, err := t.data.Insert(row)
	if err != nil {
		return rowpage.Link{}, err
	}

	if !t.primary.InsertChecked(row.PrimaryKey(), link) {
		t.data.Delete(link)
		return rowpage.Link{}, alreadyExists("primary")
	}

	populated, err := t.indexes.SaveRow(row, link)
	if err != nil {
		t.primary.Remove(row.PrimaryKey())
		t.indexes.DeleteFromIndexes(row, link, populated)
		t.data.Delete(link)
		return rowpage.Link{}, secondaryIndexErr(err)
	}

	if err := t.data.SetFlags(link, unghost(row.Flags())); err != nil {
		t.primary.Remove(row.PrimaryKey())
		t.indexes.DeleteRow(row, link)
		t.data.Delete(link)
		return rowpage.Link{}, err
	}

	return link, nil
}

// InsertCDC mirrors Insert, returning the produced changelog.Event (and
// publishing it if a change queue is attached).
func (t *Table[K, R]) InsertCDC(ctx context.Context, row R) (rowpage.Link, *changelog.Event, error) {
	link, err := t.data.Insert(row)
	if err != nil {
		return rowpage.Link{}, nil, err
	}

	ok, pkEvents := t.primary.InsertCheckedCDC(row.PrimaryKey(), link)
	if !ok {
		t.data.Delete(link)
		return rowpage.Link{}, nil, alreadyExists("primary")
	}

	env, populated, err := t.indexes.SaveRowCDC(row, link)
	if err != nil {
		t.primary.Remove(row.PrimaryKey())
		t.indexes.DeleteFromIndexes(row, link, populated)
		t.data.Delete(link)
		return rowpage.Link{}, nil, secondaryIndexErr(err)
	}

	if err := t.data.SetFlags(link, unghost(row.Flags())); err != nil {
		t.primary.Remove(row.PrimaryKey())
		t.indexes.DeleteRow(row, link)
		t.data.Delete(link)
		return rowpage.Link{}, nil, err
	}

	raw, _ := t.data.GetRaw(link)
	ev := &changelog.Event{Insert: &changelog.InsertEvent{
		ID:               changelog.NewSingleID(),
		PrimaryKeyEvents: pkEvents,
		SecondaryEvents:  env,
		Bytes:            raw,
		Link:             link,
	}}
	t.publish(ctx, *ev)
	return link, ev, nil
}

// reinsertLocked is Reinsert's body, assuming the caller already holds pk's
// row lock (Reinsert itself, or Update's fast-path fallback).
func (t *Table[K, R]) reinsertLocked(pk K, newRow R) (rowpage.Link, error) {
	oldLink, ok := t.resolveLink(pk)
	if !ok {
		return rowpage.Link{}, ErrNotFound
	}
	oldRow, err := t.data.Select(oldLink)
	if err != nil {
		return rowpage.Link{}, err
	}

	newLink, err := t.data.Insert(newRow)
	if err != nil {
		return rowpage.Link{}, err
	}
	if err := t.data.SetFlags(newLink, unghost(newRow.Flags())); err != nil {
		t.data.Delete(newLink)
		return rowpage.Link{}, err
	}

	t.primary.Insert(pk, newLink)

	populated, err := t.indexes.ReinsertRow(oldRow, oldLink, newRow, newLink)
	if err != nil {
		t.primary.Insert(pk, oldLink)
		t.indexes.DeleteFromIndexes(newRow, newLink, populated)
		t.indexes.SaveRow(oldRow, oldLink)
		t.data.Delete(newLink)
		return rowpage.Link{}, secondaryIndexErr(err)
	}

	t.data.Delete(oldLink)
	return newLink, nil
}

// reinsertLockedCDC mirrors reinsertLocked, additionally building the
// changelog.Event an update that falls back to reinsert must still publish.
func (t *Table[K, R]) reinsertLockedCDC(pk K, newRow R) (rowpage.Link, *changelog.Event, error) {
	oldLink, ok := t.resolveLink(pk)
	if !ok {
		return rowpage.Link{}, nil, ErrNotFound
	}
	oldRow, err := t.data.Select(oldLink)
	if err != nil {
		return rowpage.Link{}, nil, err
	}

	newLink, err := t.data.Insert(newRow)
	if err != nil {
		return rowpage.Link{}, nil, err
	}
	if err := t.data.SetFlags(newLink, unghost(newRow.Flags())); err != nil {
		t.data.Delete(newLink)
		return rowpage.Link{}, nil, err
	}

	t.primary.Insert(pk, newLink)

	env, populated, err := t.indexes.ReinsertRowCDC(oldRow, oldLink, newRow, newLink)
	if err != nil {
		t.primary.Insert(pk, oldLink)
		t.indexes.DeleteFromIndexes(newRow, newLink, populated)
		t.indexes.SaveRow(oldRow, oldLink)
		t.data.Delete(newLink)
		return rowpage.Link{}, nil, secondaryIndexErr(err)
	}

	t.data.Delete(oldLink)
	raw, _ := t.data.GetRaw(newLink)
	ev := &changelog.Event{Update: &changelog.UpdateEvent{
		ID:              changelog.NewSingleID(),
		SecondaryEvents: env,
		Bytes:           raw,
		Link:            newLink,
	}}
	return newLink, ev, nil
}

// Reinsert replaces the row at pk with newRow under a freshly allocated
// Link, the grow-in-place fallback used when newRow no longer fits its
// current Link's exact length. The primary key must not change.
func (t *Table[K, R]) Reinsert(pk K, newRow R) (rowpage.Link, error) {
	if newRow.PrimaryKey() != pk {
		return rowpage.Link{}, ErrPrimaryUpdateTry
	}
	guard := t.locks.AcquireRow(pk)
	defer guard.Release()
	return t.reinsertLocked(pk, newRow)
}

// Update applies newRow's values over pk's existing row. It tries the
// exact-length-in-place fast path first (via the data-pages manager's
// Update); when the encoded length changed, it falls back to reinsert, per
// the spec's decision that any length change triggers a reinsert rather
// than an in-place patch.
func (t *Table[K, R]) Update(pk K, newRow R) (rowpage.Link, error) {
	if newRow.PrimaryKey() != pk {
		return rowpage.Link{}, ErrPrimaryUpdateTry
	}

	guard := t.locks.AcquireRow(pk)
	defer guard.Release()

	link, ok := t.resolveLink(pk)
	if !ok {
		return rowpage.Link{}, ErrNotFound
	}
	oldRow, err := t.data.Select(link)
	if err != nil {
		return rowpage.Link{}, err
	}

	// The in-place write keeps the stored row's flags (it is already visible).
	newRow.SetFlags(oldRow.Flags())
	diffs := rowindex.Diff[K, R](oldRow, newRow)
	applied, err := t.indexes.ProcessDifferenceInsert(link, diffs)
	if err != nil {
		t.indexes.UndoDifferenceInsert(link, applied)
		return rowpage.Link{}, secondaryIndexErr(err)
	}

	if err := t.data.Update(link, newRow); err != nil {
		t.indexes.UndoDifferenceInsert(link, applied)
		return t.reinsertLocked(pk, newRow)
	}

	t.indexes.ProcessDifferenceRemove(link, diffs)
	return link, nil
}

// UpdateCDC mirrors Update, returning the produced changelog.Event (and
// publishing it if a change queue is attached). The fast path emits an
// Update event carrying the re-read raw bytes; the reinsert fallback still
// emits an Update event, since the operation's identity stays "update" even
// when it has to relocate the row.
func (t *Table[K, R]) UpdateCDC(ctx context.Context, pk K, newRow R) (rowpage.Link, *changelog.Event, error) {
	if newRow.PrimaryKey() != pk {
		return rowpage.Link{}, nil, ErrPrimaryUpdateTry
	}

	guard := t.locks.AcquireRow(pk)
	defer guard.Release()

	link, ok := t.resolveLink(pk)
	if !ok {
		return rowpage.Link{}, nil, ErrNotFound
	}
	oldRow, err := t.data.Select(link)
	if err != nil {
		return rowpage.Link{}, nil, err
	}

	// The in-place write keeps the stored row's flags (it is already visible).
	newRow.SetFlags(oldRow.Flags())
	diffs := rowindex.Diff[K, R](oldRow, newRow)
	insertEnv, applied, err := t.indexes.ProcessDifferenceInsertCDC(link, diffs)
	if err != nil {
		t.indexes.UndoDifferenceInsert(link, applied)
		return rowpage.Link{}, nil, secondaryIndexErr(err)
	}

	if err := t.data.Update(link, newRow); err != nil {
		t.indexes.UndoDifferenceInsert(link, applied)
		newLink, ev, err := t.reinsertLockedCDC(pk, newRow)
		if err != nil {
			return rowpage.Link{}, nil, err
		}
		t.publish(ctx, *ev)
		return newLink, ev, nil
	}

	removeEnv := t.indexes.ProcessDifferenceRemoveCDC(link, diffs)
	for column, events := range removeEnv.ByColumn {
		insertEnv.Extend(column, events)
	}

	raw, _ := t.data.GetRaw(link)
	ev := &changelog.Event{Update: &changelog.UpdateEvent{
		ID:              changelog.NewSingleID(),
		SecondaryEvents: insertEnv,
		Bytes:           raw,
		Link:            link,
	}}
	t.publish(ctx, *ev)
	return link, ev, nil
}

// Delete removes pk's row from the primary index, every secondary index,
// and pushes its Link back into the data-pages manager's freelist.
func (t *Table[K, R]) Delete(pk K) error {
	guard := t.locks.AcquireRow(pk)
	defer guard.Release()

	link, ok := t.resolveLink(pk)
	if !ok {
		return ErrNotFound
	}
	row, err := t.data.Select(link)
	if err != nil {
		return err
	}

	t.primary.Remove(pk)
	t.indexes.DeleteRow(row, link)
	t.data.Delete(link)
	return nil
}

// DeleteCDC mirrors Delete, returning the produced changelog.Event.
func (t *Table[K, R]) DeleteCDC(ctx context.Context, pk K) (*changelog.Event, error) {
	guard := t.locks.AcquireRow(pk)
	defer guard.Release()

	link, ok := t.resolveLink(pk)
	if !ok {
		return nil, ErrNotFound
	}
	row, err := t.data.Select(link)
	if err != nil {
		return nil, err
	}

	_, _, pkEvents := t.primary.RemoveCDC(pk)
	env := t.indexes.DeleteRowCDC(row, link)
	t.data.Delete(link)

	ev := &changelog.Event{Delete: &changelog.DeleteEvent{
		ID:               changelog.NewSingleID(),
		PrimaryKeyEvents: pkEvents,
		SecondaryEvents:  env,
		Link:             link,
	}}
	t.publish(ctx, *ev)
	return ev, nil
}

// IterWith walks every non-ghosted row in ascending primary-key order,
// calling fn until it returns false or the table is exhausted. Each step
// re-seeks the smallest key strictly greater than the last one yielded, so
// concurrent inserts/deletes elsewhere in the key space never corrupt the
// walk (no key is visited twice; they only affect whether a key inserted or
// deleted mid-walk is visited).
func (t *Table[K, R]) IterWith(fn func(K, R) bool) {
	key, link, ok := t.primary.First()
	for ok {
		row, err := t.data.SelectNonGhosted(link)
		if err == nil {
			if !fn(key, row) {
				return
			}
		}
		key, link, ok = t.primary.SeekKeyGreater(key)
	}
}

func (t *Table[K, R]) publish(ctx context.Context, ev changelog.Event) {
	if t.queue == nil {
		return
	}
	if err := t.queue.TrySend(ev); err != nil {
		t.cfg.Logger.Warn().Str("table", t.name).Err(err).Msg("change event dropped")
	}
}
