package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rowkeep/rowkeep/pkg/pagestore"
	"github.com/rowkeep/rowkeep/pkg/rowindex"
	"github.com/rowkeep/rowkeep/pkg/rowtype"
	"github.com/rowkeep/rowkeep/pkg/tableconfig"
)

func stringLess(a, b string) bool { return a < b }

func newTestTable() *Table[string, *rowtype.GenericRow] {
	cfg := tableconfig.New([]string{"status", "email"})
	defs := []rowindex.IndexDef{
		{Column: "email", Unique: true},
		{Column: "status", Unique: false},
	}
	return New[string, *rowtype.GenericRow]("users", cfg, rowtype.DocumentCodec{}, stringLess, defs)
}

func newUserRow(id, email, status string) *rowtype.GenericRow {
	r := rowtype.NewGenericRow("id")
	r.Set("id", id)
	r.Set("email", email)
	r.Set("status", status)
	return r
}

func TestInsertSelectDelete(t *testing.T) {
	tbl := newTestTable()
	row := newUserRow("1", "a@x.com", "active")
	if _, err := tbl.Insert(row); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := tbl.Select("1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if rowtype.Ghosted[string](got) {
		t.Fatal("expected a selectable row to be unghosted")
	}
	email, _ := got.Get("email")
	if email != "a@x.com" {
		t.Fatalf("got %v", email)
	}

	if err := tbl.Delete("1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tbl.Select("1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestInsertRejectsDuplicatePrimaryKey(t *testing.T) {
	tbl := newTestTable()
	row1 := newUserRow("1", "a@x.com", "active")
	row2 := newUserRow("1", "b@x.com", "active")
	if _, err := tbl.Insert(row1); err != nil {
		t.Fatalf("Insert row1: %v", err)
	}
	if _, err := tbl.Insert(row2); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInsertRollsBackOnUniqueSecondaryConflict(t *testing.T) {
	tbl := newTestTable()
	row1 := newUserRow("1", "dup@x.com", "active")
	row2 := newUserRow("2", "dup@x.com", "active")
	if _, err := tbl.Insert(row1); err != nil {
		t.Fatalf("Insert row1: %v", err)
	}
	if _, err := tbl.Insert(row2); !errors.Is(err, ErrSecondaryIndex) {
		t.Fatalf("expected ErrSecondaryIndex, got %v", err)
	}
	// the rejected insert must not have left a dangling primary-key entry.
	if _, err := tbl.Select("2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected row 2 to not exist after rollback, got %v", err)
	}
	// and a fresh row reusing the same id must be free to insert again.
	row2Retry := newUserRow("2", "fresh@x.com", "active")
	if _, err := tbl.Insert(row2Retry); err != nil {
		t.Fatalf("expected retry insert to succeed after rollback: %v", err)
	}
}

func TestUpdateInPlaceSameLength(t *testing.T) {
	tbl := newTestTable()
	row := newUserRow("1", "a@x.com", "active")
	if _, err := tbl.Insert(row); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	originalLink, _ := tbl.Primary().Get("1")

	replacement := newUserRow("1", "a@x.com", "passiv") // same length as "active"
	newLink, err := tbl.Update("1", replacement)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if newLink != originalLink {
		t.Fatalf("expected in-place update to keep the same link, got %v want %v", newLink, originalLink)
	}
	got, _ := tbl.Select("1")
	status, _ := got.Get("status")
	if status != "passiv" {
		t.Fatalf("got status %v", status)
	}
}

func TestUpdateFallsBackToReinsertOnLengthChange(t *testing.T) {
	tbl := newTestTable()
	row := newUserRow("1", "a@x.com", "active")
	if _, err := tbl.Insert(row); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	originalLink, _ := tbl.Primary().Get("1")

	replacement := newUserRow("1", "a@x.com", "a-much-longer-status-value")
	newLink, err := tbl.Update("1", replacement)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if newLink == originalLink {
		t.Fatal("expected a length-changing update to allocate a new link")
	}
	got, err := tbl.Select("1")
	if err != nil {
		t.Fatalf("Select after reinsert: %v", err)
	}
	status, _ := got.Get("status")
	if status != "a-much-longer-status-value" {
		t.Fatalf("got status %v", status)
	}
}

func TestUpdateRejectsPrimaryKeyChange(t *testing.T) {
	tbl := newTestTable()
	row := newUserRow("1", "a@x.com", "active")
	tbl.Insert(row)
	replacement := newUserRow("2", "a@x.com", "active")
	if _, err := tbl.Update("1", replacement); !errors.Is(err, ErrPrimaryUpdateTry) {
		t.Fatalf("expected ErrPrimaryUpdateTry, got %v", err)
	}
}

func TestIterWithWalksAscendingOrder(t *testing.T) {
	tbl := newTestTable()
	for _, id := range []string{"c", "a", "b"} {
		tbl.Insert(newUserRow(id, id+"@x.com", "active"))
	}
	var seen []string
	tbl.IterWith(func(k string, _ *rowtype.GenericRow) bool {
		seen = append(seen, k)
		return true
	})
	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("got %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestIterWithStopsEarly(t *testing.T) {
	tbl := newTestTable()
	for _, id := range []string{"a", "b", "c"} {
		tbl.Insert(newUserRow(id, id+"@x.com", "active"))
	}
	count := 0
	tbl.IterWith(func(string, *rowtype.GenericRow) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("expected iteration to stop after 2 rows, got %d", count)
	}
}

func TestInsertCDCAndDeleteCDCPublishEvents(t *testing.T) {
	tbl := newTestTable().WithChangeQueue(8)
	ctx := context.Background()

	row := newUserRow("1", "a@x.com", "active")
	_, ev, err := tbl.InsertCDC(ctx, row)
	if err != nil {
		t.Fatalf("InsertCDC: %v", err)
	}
	if ev.Insert == nil {
		t.Fatal("expected an Insert event")
	}

	delEv, err := tbl.DeleteCDC(ctx, "1")
	if err != nil {
		t.Fatalf("DeleteCDC: %v", err)
	}
	if delEv.Delete == nil {
		t.Fatal("expected a Delete event")
	}
}

func TestUpdateCDCFastPathEmitsUpdateEvent(t *testing.T) {
	tbl := newTestTable().WithChangeQueue(8)
	ctx := context.Background()
	tbl.Insert(newUserRow("1", "a@x.com", "active"))
	originalLink, _ := tbl.Primary().Get("1")

	replacement := newUserRow("1", "a@x.com", "passiv") // same length as "active"
	newLink, ev, err := tbl.UpdateCDC(ctx, "1", replacement)
	if err != nil {
		t.Fatalf("UpdateCDC: %v", err)
	}
	if newLink != originalLink {
		t.Fatalf("expected the fast path to keep the same link, got %v want %v", newLink, originalLink)
	}
	if ev.Update == nil {
		t.Fatal("expected an Update event")
	}
	if len(ev.Update.Bytes) == 0 {
		t.Fatal("expected the Update event to carry the re-read raw bytes")
	}
}

func TestUpdateCDCFallsBackToReinsertAndStillEmitsUpdateEvent(t *testing.T) {
	tbl := newTestTable().WithChangeQueue(8)
	ctx := context.Background()
	tbl.Insert(newUserRow("1", "a@x.com", "active"))
	originalLink, _ := tbl.Primary().Get("1")

	replacement := newUserRow("1", "a@x.com", "a-much-longer-status-value")
	newLink, ev, err := tbl.UpdateCDC(ctx, "1", replacement)
	if err != nil {
		t.Fatalf("UpdateCDC: %v", err)
	}
	if newLink == originalLink {
		t.Fatal("expected a length-changing update to allocate a new link")
	}
	if ev.Update == nil {
		t.Fatal("expected an Update event even when falling back to reinsert")
	}
	got, err := tbl.Select("1")
	if err != nil {
		t.Fatalf("Select after UpdateCDC reinsert: %v", err)
	}
	status, _ := got.Get("status")
	if status != "a-much-longer-status-value" {
		t.Fatalf("got status %v", status)
	}
}

// TestSelectDuringConcurrentInsertNeverObservesGhostedRow exercises S6: a
// reader racing an in-flight Insert must never observe the row before its
// ghost flag is cleared — it either finds nothing yet, a wrapped
// pagestore.ErrGhosted, or the fully-populated row.
func TestSelectDuringConcurrentInsertNeverObservesGhostedRow(t *testing.T) {
	tbl := newTestTable()
	const n = 200
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("row-%d", i)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			tbl.Insert(newUserRow(id, id+"@x.com", "active"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, id := range ids {
			for i := 0; i < 10; i++ {
				row, err := tbl.Select(id)
				if err != nil {
					if !errors.Is(err, ErrNotFound) && !errors.Is(err, pagestore.ErrGhosted) {
						t.Errorf("unexpected Select error for %s: %v", id, err)
					}
					continue
				}
				if rowtype.Ghosted[string](row) {
					t.Errorf("Select(%s) returned a still-ghosted row", id)
				}
				break
			}
		}
	}()
	wg.Wait()
}
