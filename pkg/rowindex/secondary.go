package rowindex

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rowkeep/rowkeep/pkg/changelog"
	"github.com/rowkeep/rowkeep/pkg/rowpage"
)

// ErrAlreadyExists is returned by a unique SecondaryIndex when the key is
// already mapped to a different Link.
var ErrAlreadyExists = errors.New("rowindex: unique constraint violated")

// SecondaryIndex is a per-column index, either a unique map (rejects
// duplicates) or a non-unique multimap (accepts duplicates), keyed by a
// string derived from the column's value.
type SecondaryIndex struct {
	Name     string
	Unique   bool
	capacity uint32

	mu       sync.RWMutex
	unique   map[string]rowpage.Link
	multi    map[string]map[rowpage.Link]struct{}
	eventSeq atomic.Uint64
}

func NewSecondaryIndex(name string, unique bool, capacity uint32) *SecondaryIndex {
	si := &SecondaryIndex{Name: name, Unique: unique, capacity: capacity}
	if unique {
		si.unique = make(map[string]rowpage.Link)
	} else {
		si.multi = make(map[string]map[rowpage.Link]struct{})
	}
	return si
}

func (si *SecondaryIndex) nextEventID() uint64 { return si.eventSeq.Add(1) }

// Insert adds key->link. For a unique index, it fails with
// ErrAlreadyExists if key already maps elsewhere.
func (si *SecondaryIndex) Insert(key string, link rowpage.Link) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.Unique {
		if existing, ok := si.unique[key]; ok && !rowpage.Equal(existing, link, si.capacity) {
			return fmt.Errorf("%w: index %q key %q", ErrAlreadyExists, si.Name, key)
		}
		si.unique[key] = link
		return nil
	}
	set, ok := si.multi[key]
	if !ok {
		set = make(map[rowpage.Link]struct{})
		si.multi[key] = set
	}
	set[link] = struct{}{}
	return nil
}

// InsertCDC mirrors Insert, additionally returning the produced event.
func (si *SecondaryIndex) InsertCDC(key string, link rowpage.Link) ([]changelog.IndexChangeEvent, error) {
	if err := si.Insert(key, link); err != nil {
		return nil, err
	}
	return []changelog.IndexChangeEvent{{EventID: si.nextEventID(), Kind: changelog.EventInsertAt, Key: key, Link: link}}, nil
}

// Remove deletes the key->link association.
func (si *SecondaryIndex) Remove(key string, link rowpage.Link) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.Unique {
		if existing, ok := si.unique[key]; ok && rowpage.Equal(existing, link, si.capacity) {
			delete(si.unique, key)
		}
		return
	}
	if set, ok := si.multi[key]; ok {
		delete(set, link)
		if len(set) == 0 {
			delete(si.multi, key)
		}
	}
}

// RemoveCDC mirrors Remove, additionally returning the produced event.
func (si *SecondaryIndex) RemoveCDC(key string, link rowpage.Link) []changelog.IndexChangeEvent {
	si.Remove(key, link)
	return []changelog.IndexChangeEvent{{EventID: si.nextEventID(), Kind: changelog.EventRemoveAt, Key: key, Link: link}}
}

// Lookup returns the links associated with key.
func (si *SecondaryIndex) Lookup(key string) []rowpage.Link {
	si.mu.RLock()
	defer si.mu.RUnlock()
	if si.Unique {
		if l, ok := si.unique[key]; ok {
			return []rowpage.Link{l}
		}
		return nil
	}
	set := si.multi[key]
	out := make([]rowpage.Link, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out
}
