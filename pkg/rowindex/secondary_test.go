package rowindex

import (
	"errors"
	"testing"

	"github.com/rowkeep/rowkeep/pkg/rowpage"
)

func TestSecondaryIndexUniqueRejectsConflict(t *testing.T) {
	si := NewSecondaryIndex("email", true, 4096)
	l1 := rowpage.Link{PageID: 1, Offset: 0, Length: 1}
	l2 := rowpage.Link{PageID: 1, Offset: 10, Length: 1}

	if err := si.Insert("a@x.com", l1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := si.Insert("a@x.com", l2); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	// re-inserting the same key/link pair is idempotent, not a conflict.
	if err := si.Insert("a@x.com", l1); err != nil {
		t.Fatalf("expected idempotent re-insert to succeed, got %v", err)
	}
}

func TestSecondaryIndexMultiAllowsDuplicates(t *testing.T) {
	si := NewSecondaryIndex("status", false, 4096)
	l1 := rowpage.Link{PageID: 1, Offset: 0, Length: 1}
	l2 := rowpage.Link{PageID: 1, Offset: 10, Length: 1}

	si.Insert("active", l1)
	si.Insert("active", l2)
	links := si.Lookup("active")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %v", links)
	}
}

func TestSecondaryIndexRemove(t *testing.T) {
	si := NewSecondaryIndex("status", false, 4096)
	link := rowpage.Link{PageID: 1, Offset: 0, Length: 1}
	si.Insert("active", link)
	si.Remove("active", link)
	if links := si.Lookup("active"); len(links) != 0 {
		t.Fatalf("expected empty after remove, got %v", links)
	}
}

func TestSecondaryIndexCDCProducesEvents(t *testing.T) {
	si := NewSecondaryIndex("status", false, 4096)
	link := rowpage.Link{PageID: 1, Offset: 0, Length: 1}

	events, err := si.InsertCDC("active", link)
	if err != nil {
		t.Fatalf("InsertCDC: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	removeEvents := si.RemoveCDC("active", link)
	if len(removeEvents) != 1 {
		t.Fatalf("expected 1 remove event, got %d", len(removeEvents))
	}
}
