// Package changelog defines the ordered change-event stream the core emits
// for every row-modifying operation, and a bounded lock-free queue wrapper
// used to hand batches to an external persistence engine. Grounded on
// calvinalkan-agent-task/internal/store/id.go for UUIDv7 event ids and on
// other_examples' hayabusa-cloud/lfq documentation for the queue shape.
package changelog

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rowkeep/rowkeep/pkg/rowpage"
)

// OperationID tags a batch of events as scoped to a single row (Single) or
// to a multi-row, query-driven operation (Multi). Both variants carry a
// time-ordered UUIDv7 so downstream consumers can order batches without a
// separate sequence number.
type OperationID struct {
	Multi bool
	ID    uuid.UUID
}

// NewSingleID creates a row-scoped operation id.
func NewSingleID() OperationID { return OperationID{ID: uuid.Must(uuid.NewV7())} }

// NewMultiID creates a multi-row, query-driven operation id.
func NewMultiID() OperationID { return OperationID{Multi: true, ID: uuid.Must(uuid.NewV7())} }

// IndexChangeEvent is one ordered record describing an index-level
// mutation, with a monotonic id scoped to the index that produced it.
type IndexChangeEvent struct {
	EventID uint64
	Kind    IndexEventKind
	Key     any
	Link    rowpage.Link
}

// IndexEventKind enumerates the index-level mutation kinds named in the
// glossary: insert-at, remove-at, split-node, create-node, remove-node.
type IndexEventKind int

const (
	EventInsertAt IndexEventKind = iota
	EventRemoveAt
	EventSplitNode
	EventCreateNode
	EventRemoveNode
)

// Envelope groups the per-column secondary-index events produced by a
// single row-modifying operation.
type Envelope struct {
	ByColumn map[string][]IndexChangeEvent
}

func NewEnvelope() *Envelope { return &Envelope{ByColumn: make(map[string][]IndexChangeEvent)} }

func (e *Envelope) Extend(column string, events []IndexChangeEvent) {
	e.ByColumn[column] = append(e.ByColumn[column], events...)
}

func (e *Envelope) Remove(column string) { delete(e.ByColumn, column) }

// IterEventIDs returns every event id in the envelope, for validation.
func (e *Envelope) IterEventIDs() []uint64 {
	var ids []uint64
	for _, events := range e.ByColumn {
		for _, ev := range events {
			ids = append(ids, ev.EventID)
		}
	}
	return ids
}

func (e *Envelope) ContainsEvent(id uint64) bool {
	for _, events := range e.ByColumn {
		for _, ev := range events {
			if ev.EventID == id {
				return true
			}
		}
	}
	return false
}

// IsEmpty reports whether the envelope carries no events at all.
func (e *Envelope) IsEmpty() bool {
	for _, events := range e.ByColumn {
		if len(events) > 0 {
			return false
		}
	}
	return true
}

// IsUnit is the marker an index bundle with no secondary indexes returns.
func (e *Envelope) IsUnit() bool { return len(e.ByColumn) == 0 }

// Sort orders each column's events by EventID ascending, in place.
func (e *Envelope) Sort() {
	for _, events := range e.ByColumn {
		sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
	}
}

// Validate reports whether every column's event ids are strictly increasing
// with no gap greater than 2 once sorted, the monotonicity property a
// downstream consumer checks before trusting a batch.
func (e *Envelope) Validate() bool {
	for _, events := range e.ByColumn {
		ids := make([]uint64, len(events))
		for i, ev := range events {
			ids[i] = ev.EventID
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i := 1; i < len(ids); i++ {
			if ids[i] <= ids[i-1] || ids[i]-ids[i-1] > 2 {
				return false
			}
		}
	}
	return true
}

// Event is the tagged union delivered to the persistence engine: exactly
// one of Insert, Update or Delete is non-nil.
type Event struct {
	Insert *InsertEvent
	Update *UpdateEvent
	Delete *DeleteEvent
}

type InsertEvent struct {
	ID                OperationID
	PrimaryKeyEvents  []IndexChangeEvent
	SecondaryEvents   *Envelope
	PrimaryKeyGenSeq  uint64
	Bytes             []byte
	Link              rowpage.Link
}

type UpdateEvent struct {
	ID              OperationID
	SecondaryEvents *Envelope
	Bytes           []byte
	Link            rowpage.Link
}

type DeleteEvent struct {
	ID               OperationID
	PrimaryKeyEvents []IndexChangeEvent
	SecondaryEvents  *Envelope
	Link             rowpage.Link
}
