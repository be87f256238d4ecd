package table

import (
	"errors"
	"fmt"
)

// Sentinel errors mirror the original's WorkTableError variants: NotFound,
// AlreadyExists, SerializeError, SecondaryIndexError, PrimaryUpdateTry, and
// a PagesError wrapper for anything escaping the data-pages manager.
var (
	ErrNotFound         = errors.New("table: row not found")
	ErrAlreadyExists    = errors.New("table: row already exists")
	ErrSerialize        = errors.New("table: serialize error")
	ErrSecondaryIndex   = errors.New("table: secondary index error")
	ErrPrimaryUpdateTry = errors.New("table: primary key must not change on update")
)

func alreadyExists(at string) error {
	return fmt.Errorf("%w: %s", ErrAlreadyExists, at)
}

func secondaryIndexErr(err error) error {
	return fmt.Errorf("%w: %v", ErrSecondaryIndex, err)
}
