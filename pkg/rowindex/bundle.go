package rowindex

import (
	"github.com/rowkeep/rowkeep/pkg/changelog"
	"github.com/rowkeep/rowkeep/pkg/rowpage"
	"github.com/rowkeep/rowkeep/pkg/rowtype"
)

// IndexDef declares one column this table indexes, and whether it enforces
// uniqueness.
type IndexDef struct {
	Column string
	Unique bool
}

// Bundle groups every secondary index for one table. It never rolls itself
// back on a partial failure: the table façade drives rollback via
// DeleteFromIndexes, keeping the bundle mechanical, per the spec's
// rollback-discipline note.
type Bundle[K comparable, R rowtype.Row[K]] struct {
	order   []string
	indexes map[string]*SecondaryIndex
}

// NewBundle creates a bundle with one SecondaryIndex per def, in the given
// order (the order that determines rollback subsets on partial failure).
func NewBundle[K comparable, R rowtype.Row[K]](capacity uint32, defs []IndexDef) *Bundle[K, R] {
	b := &Bundle[K, R]{indexes: make(map[string]*SecondaryIndex, len(defs))}
	for _, d := range defs {
		b.order = append(b.order, d.Column)
		b.indexes[d.Column] = NewSecondaryIndex(d.Column, d.Unique, capacity)
	}
	return b
}

// IsUnit reports whether the bundle has no secondary indexes at all.
func (b *Bundle[K, R]) IsUnit() bool { return len(b.order) == 0 }

func columnValue(row R, name string) any {
	for _, c := range row.Columns() {
		if c.Name == name {
			return c.Value
		}
	}
	return nil
}

// SaveRow inserts row's indexed columns into every index, in declaration
// order. On the i-th index rejecting with ErrAlreadyExists, it returns the
// indexes already populated (0..i-1, by name) and the error; the façade is
// responsible for driving rollback via DeleteFromIndexes.
func (b *Bundle[K, R]) SaveRow(row R, link rowpage.Link) (populated []string, err error) {
	for _, name := range b.order {
		key := ValueToKey(columnValue(row, name))
		if err := b.indexes[name].Insert(key, link); err != nil {
			return populated, err
		}
		populated = append(populated, name)
	}
	return populated, nil
}

// SaveRowCDC mirrors SaveRow, collecting per-column events into an
// envelope.
func (b *Bundle[K, R]) SaveRowCDC(row R, link rowpage.Link) (*changelog.Envelope, []string, error) {
	env := changelog.NewEnvelope()
	var populated []string
	for _, name := range b.order {
		key := ValueToKey(columnValue(row, name))
		events, err := b.indexes[name].InsertCDC(key, link)
		if err != nil {
			return env, populated, err
		}
		env.Extend(name, events)
		populated = append(populated, name)
	}
	return env, populated, nil
}

// DeleteRow removes row's indexed columns from every index.
func (b *Bundle[K, R]) DeleteRow(row R, link rowpage.Link) {
	for _, name := range b.order {
		key := ValueToKey(columnValue(row, name))
		b.indexes[name].Remove(key, link)
	}
}

// DeleteRowCDC mirrors DeleteRow, collecting events.
func (b *Bundle[K, R]) DeleteRowCDC(row R, link rowpage.Link) *changelog.Envelope {
	env := changelog.NewEnvelope()
	for _, name := range b.order {
		key := ValueToKey(columnValue(row, name))
		env.Extend(name, b.indexes[name].RemoveCDC(key, link))
	}
	return env
}

// ReinsertRow redirects every index entry from oldLink to newLink: for each
// column, the old key is removed and the new key inserted. On the i-th
// index rejecting the new key, it returns the subset already redirected to
// newLink (0..i-1), for the façade to pass to DeleteFromIndexes. The old keys
// of those columns, and of the failing column, have already been removed
// from oldLink at that point; restoring them is left to the façade.
func (b *Bundle[K, R]) ReinsertRow(oldRow R, oldLink rowpage.Link, newRow R, newLink rowpage.Link) (populated []string, err error) {
	for _, name := range b.order {
		oldKey := ValueToKey(columnValue(oldRow, name))
		newKey := ValueToKey(columnValue(newRow, name))
		b.indexes[name].Remove(oldKey, oldLink)
		if err := b.indexes[name].Insert(newKey, newLink); err != nil {
			return populated, err
		}
		populated = append(populated, name)
	}
	return populated, nil
}

// ReinsertRowCDC mirrors ReinsertRow, collecting events from both halves.
func (b *Bundle[K, R]) ReinsertRowCDC(oldRow R, oldLink rowpage.Link, newRow R, newLink rowpage.Link) (*changelog.Envelope, []string, error) {
	env := changelog.NewEnvelope()
	var populated []string
	for _, name := range b.order {
		oldKey := ValueToKey(columnValue(oldRow, name))
		newKey := ValueToKey(columnValue(newRow, name))
		env.Extend(name, b.indexes[name].RemoveCDC(oldKey, oldLink))
		events, err := b.indexes[name].InsertCDC(newKey, newLink)
		if err != nil {
			return env, populated, err
		}
		env.Extend(name, events)
		populated = append(populated, name)
	}
	return env, populated, nil
}

// DeleteFromIndexes is the rollback primitive: it removes link's entries
// from exactly the named subset of indexes, undoing a partial SaveRow or the
// newLink half of a partial ReinsertRow.
func (b *Bundle[K, R]) DeleteFromIndexes(row R, link rowpage.Link, subset []string) {
	for _, name := range subset {
		key := ValueToKey(columnValue(row, name))
		b.indexes[name].Remove(key, link)
	}
}

// Difference is one column's before/after value, as produced by diffing old
// vs. new during in-place update.
type Difference struct {
	Column   string
	OldValue any
	NewValue any
}

// Diff computes the per-column differences between oldRow and newRow, for
// the in-place update fast path.
func Diff[K comparable, R rowtype.Row[K]](oldRow, newRow R) []Difference {
	oldCols := oldRow.Columns()
	newByName := make(map[string]any, len(newRow.Columns()))
	for _, c := range newRow.Columns() {
		newByName[c.Name] = c.Value
	}
	var diffs []Difference
	for _, oc := range oldCols {
		nv, ok := newByName[oc.Name]
		if !ok {
			continue
		}
		if ValueToKey(oc.Value) != ValueToKey(nv) {
			diffs = append(diffs, Difference{Column: oc.Name, OldValue: oc.Value, NewValue: nv})
		}
	}
	return diffs
}

// ProcessDifferenceInsert inserts the new value for every changed, indexed
// column at link. On a unique conflict it returns the subset of diffs
// already applied, for rollback.
func (b *Bundle[K, R]) ProcessDifferenceInsert(link rowpage.Link, diffs []Difference) (applied []Difference, err error) {
	for _, d := range diffs {
		idx, ok := b.indexes[d.Column]
		if !ok {
			continue
		}
		if err := idx.Insert(ValueToKey(d.NewValue), link); err != nil {
			return applied, err
		}
		applied = append(applied, d)
	}
	return applied, nil
}

// ProcessDifferenceRemove prunes the old value for every changed, indexed
// column at link, called after ProcessDifferenceInsert succeeds.
func (b *Bundle[K, R]) ProcessDifferenceRemove(link rowpage.Link, diffs []Difference) {
	for _, d := range diffs {
		idx, ok := b.indexes[d.Column]
		if !ok {
			continue
		}
		idx.Remove(ValueToKey(d.OldValue), link)
	}
}

// UndoDifferenceInsert reverses a partial ProcessDifferenceInsert, removing
// the new-value association for each already-applied diff.
func (b *Bundle[K, R]) UndoDifferenceInsert(link rowpage.Link, applied []Difference) {
	for _, d := range applied {
		b.indexes[d.Column].Remove(ValueToKey(d.NewValue), link)
	}
}

// ProcessDifferenceInsertCDC mirrors ProcessDifferenceInsert, collecting the
// produced events into an envelope alongside the applied subset for
// rollback.
func (b *Bundle[K, R]) ProcessDifferenceInsertCDC(link rowpage.Link, diffs []Difference) (*changelog.Envelope, []Difference, error) {
	env := changelog.NewEnvelope()
	var applied []Difference
	for _, d := range diffs {
		idx, ok := b.indexes[d.Column]
		if !ok {
			continue
		}
		events, err := idx.InsertCDC(ValueToKey(d.NewValue), link)
		if err != nil {
			return env, applied, err
		}
		env.Extend(d.Column, events)
		applied = append(applied, d)
	}
	return env, applied, nil
}

// ProcessDifferenceRemoveCDC mirrors ProcessDifferenceRemove, collecting the
// produced events into an envelope.
func (b *Bundle[K, R]) ProcessDifferenceRemoveCDC(link rowpage.Link, diffs []Difference) *changelog.Envelope {
	env := changelog.NewEnvelope()
	for _, d := range diffs {
		idx, ok := b.indexes[d.Column]
		if !ok {
			continue
		}
		env.Extend(d.Column, idx.RemoveCDC(ValueToKey(d.OldValue), link))
	}
	return env
}
