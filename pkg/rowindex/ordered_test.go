package rowindex

import "testing"

func intLess(a, b int) bool { return a < b }

func TestOrderedInsertGetRemove(t *testing.T) {
	o := newOrdered[int, string](intLess)
	if _, had := o.Insert(5, "five"); had {
		t.Fatal("expected no prior value")
	}
	if _, had := o.Insert(5, "FIVE"); !had {
		t.Fatal("expected insert to report prior value")
	}
	v, ok := o.Get(5)
	if !ok || v != "FIVE" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
	if _, ok := o.Remove(5); !ok {
		t.Fatal("expected Remove to find the key")
	}
	if _, ok := o.Get(5); ok {
		t.Fatal("expected key gone after Remove")
	}
}

func TestOrderedMaintainsSortOrder(t *testing.T) {
	o := newOrdered[int, string](intLess)
	for _, k := range []int{5, 1, 3, 2, 4} {
		o.Insert(k, "")
	}
	var seen []int
	o.Range(0, 10, func(k int, _ string) bool {
		seen = append(seen, k)
		return true
	})
	want := []int{1, 2, 3, 4, 5}
	if len(seen) != len(want) {
		t.Fatalf("got %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestOrderedSeekGreater(t *testing.T) {
	o := newOrdered[int, string](intLess)
	o.Insert(1, "a")
	o.Insert(3, "c")
	o.Insert(5, "e")

	k, v, ok := o.SeekGreater(3)
	if !ok || k != 5 || v != "e" {
		t.Fatalf("got k=%d v=%q ok=%v", k, v, ok)
	}
	if _, _, ok := o.SeekGreater(5); ok {
		t.Fatal("expected no entry greater than the max key")
	}
}

func TestOrderedFirst(t *testing.T) {
	o := newOrdered[int, string](intLess)
	if _, _, ok := o.First(); ok {
		t.Fatal("expected First to report empty on an empty map")
	}
	o.Insert(7, "g")
	o.Insert(2, "b")
	k, v, ok := o.First()
	if !ok || k != 2 || v != "b" {
		t.Fatalf("got k=%d v=%q ok=%v", k, v, ok)
	}
}

func TestOrderedRangeStopsEarly(t *testing.T) {
	o := newOrdered[int, string](intLess)
	for i := 0; i < 5; i++ {
		o.Insert(i, "")
	}
	count := 0
	o.Range(0, 5, func(int, string) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("expected early stop after 2 entries, got %d", count)
	}
}
