package rowlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rowkeep/rowkeep/pkg/rowpage"
)

func TestAcquireRowSerializesSamePrimaryKey(t *testing.T) {
	tl := NewTableLock[string]([]string{"email"})

	var counter int32
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			g := tl.AcquireRow("pk")
			defer g.Release()
			cur := atomic.AddInt32(&counter, 1)
			if cur != 1 {
				t.Errorf("expected exclusive access, saw concurrent count %d", cur)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()
}

func TestAcquireRowDifferentKeysDoNotBlock(t *testing.T) {
	tl := NewTableLock[string]([]string{"email"})
	done := make(chan struct{})
	g1 := tl.AcquireRow("a")
	go func() {
		g2 := tl.AcquireRow("b")
		g2.Release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring a different row's lock should not block on 'a'")
	}
	g1.Release()
}

func TestAwaitPageLockReportsWhetherItWaited(t *testing.T) {
	tl := NewTableLock[string](nil)
	pid := rowpage.PageID(1)

	if tl.AwaitPageLock(pid) {
		t.Fatal("expected no wait when no page lock has ever been created")
	}

	g := tl.AcquirePageLock(pid)
	var waited int32
	go func() {
		if tl.AwaitPageLock(pid) {
			atomic.StoreInt32(&waited, 1)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	g.Release()
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&waited) != 1 {
		t.Fatal("expected AwaitPageLock to report true after waiting for a held page lock")
	}
}

func TestRemovePageLockOnlyDropsIdleEntries(t *testing.T) {
	tl := NewTableLock[string](nil)
	pid := rowpage.PageID(7)
	g := tl.AcquirePageLock(pid)

	tl.RemovePageLock(pid)
	if _, ok := tl.PageLocks.Get(pid); !ok {
		t.Fatal("expected the held page lock entry to survive RemovePageLock")
	}
	g.Release()
	if _, ok := tl.PageLocks.Get(pid); ok {
		t.Fatal("expected the idle page lock entry to be dropped on Release")
	}
}
