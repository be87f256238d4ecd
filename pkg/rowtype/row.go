// Package rowtype defines the row/codec contract the core depends on and
// provides GenericRow, a column-generic row implementation adapted from the
// teacher's storage.Document model.
package rowtype

// RowFlags is the ghost/vacuum/deleted flag triple every row carries. It is
// encoded as a single header byte by Codec implementations so a flag flip
// can be applied in place without a full decode/re-encode round trip.
type RowFlags struct {
	Ghosted          bool
	VacuumInProgress bool
	Deleted          bool
}

const (
	flagGhosted = 1 << iota
	flagVacuumInProgress
	flagDeleted
)

func (f RowFlags) encode() byte {
	var b byte
	if f.Ghosted {
		b |= flagGhosted
	}
	if f.VacuumInProgress {
		b |= flagVacuumInProgress
	}
	if f.Deleted {
		b |= flagDeleted
	}
	return b
}

func decodeRowFlags(b byte) RowFlags {
	return RowFlags{
		Ghosted:          b&flagGhosted != 0,
		VacuumInProgress: b&flagVacuumInProgress != 0,
		Deleted:          b&flagDeleted != 0,
	}
}

// Column is one named, typed value of a row, used for secondary key
// derivation and for diffing old vs. new during in-place update.
type Column struct {
	Name  string
	Value any
}

// Row is the contract the core requires of an application-defined record.
// New rows default to Ghosted() == true; they become visible only once
// Unghost has been called after indexes are populated.
type Row[K comparable] interface {
	PrimaryKey() K
	Columns() []Column
	Clone() Row[K]

	Flags() RowFlags
	SetFlags(RowFlags)
}

// Ghosted, Unghost, VacuumInProgress, SetVacuumInProgress, Deleted and
// Delete are convenience wrappers over Flags/SetFlags, mirroring the three
// flag-mutator operations §6.1 of the spec requires of an archived row.

func Ghosted[K comparable](r Row[K]) bool { return r.Flags().Ghosted }

func Unghost[K comparable](r Row[K]) {
	f := r.Flags()
	f.Ghosted = false
	r.SetFlags(f)
}

func VacuumInProgress[K comparable](r Row[K]) bool { return r.Flags().VacuumInProgress }

func SetVacuumInProgress[K comparable](r Row[K], v bool) {
	f := r.Flags()
	f.VacuumInProgress = v
	r.SetFlags(f)
}

func Deleted[K comparable](r Row[K]) bool { return r.Flags().Deleted }

func Delete[K comparable](r Row[K]) {
	f := r.Flags()
	f.Deleted = true
	r.SetFlags(f)
}

// Codec serializes/deserializes rows and supports patching just the flags
// header without touching the rest of the encoded bytes, so the table
// façade can flip the ghost flag in place the way the original archived-row
// view does.
type Codec[K comparable, R Row[K]] interface {
	Encode(row R) ([]byte, error)
	Decode(data []byte) (R, error)
	EncodedLen(row R) int

	// PatchFlags returns data with its flags header rewritten to flags. The
	// returned slice has the same length as data.
	PatchFlags(data []byte, flags RowFlags) ([]byte, error)
	// PeekFlags reads the flags header without a full decode.
	PeekFlags(data []byte) (RowFlags, error)
}
