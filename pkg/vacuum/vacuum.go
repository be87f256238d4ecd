// Package vacuum implements the background compactor: fragmentation
// analysis and a defragmentation pass that moves live rows out of
// sparsely-filled pages so they can be recycled. Grounded algorithmically
// on the original table/vacuum/vacuum.rs's defragment/move_data_from, and
// structurally on the teacher's storage.Pager maintenance helpers (a
// focused type wrapping the managers it needs). It does no logging.
package vacuum

import (
	"sort"
	"time"

	"github.com/rowkeep/rowkeep/pkg/freelist"
	"github.com/rowkeep/rowkeep/pkg/pagestore"
	"github.com/rowkeep/rowkeep/pkg/rowindex"
	"github.com/rowkeep/rowkeep/pkg/rowlock"
	"github.com/rowkeep/rowkeep/pkg/rowpage"
	"github.com/rowkeep/rowkeep/pkg/rowtype"
	"github.com/rowkeep/rowkeep/pkg/tableconfig"
)

// Priority mirrors the original's VacuumPriority, used by a scheduler to
// order candidate tables.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Stats reports the outcome of one defragmentation pass.
type Stats struct {
	PagesProcessed int
	PagesFreed     int
	BytesFreed     uint64
	Duration       time.Duration
}

// Report is the result of analyzing a table's fragmentation, without
// moving anything.
type Report struct {
	Pages        []freelist.PerPageInfo
	TotalEmpty   uint64
	ShouldVacuum bool
	Priority     Priority
}

// Vacuumable is the narrow capability a scheduler needs: a name to log
// against, a cheap analysis step, and the compaction pass itself.
// Registering a Vacuumable with a concrete scheduler implementation is
// outside this package's scope; it exposes the shape only.
type Vacuumable interface {
	TableName() string
	AnalyzeFragmentation() Report
	Vacuum() (Stats, error)
}

// source is the subset of a table's managers vacuum needs: its data pages,
// its primary index (for per-page candidate scans) and its lock manager
// (for page-level exclusion and per-row locking during a move).
type source[K comparable, R rowtype.Row[K]] struct {
	name    string
	data    *pagestore.Pages[K, R]
	primary *rowindex.PrimaryIndex[K]
	locks   *rowlock.TableLock[K]
}

// Compactor runs fragmentation analysis and defragmentation for one table.
type Compactor[K comparable, R rowtype.Row[K]] struct {
	src source[K, R]
	cfg tableconfig.VacuumConfig
}

// TableAccess is the minimal façade surface Compactor needs, satisfied by
// *table.Table[K,R] without this package importing the table package, so
// neither package depends on the other's internals.
type TableAccess[K comparable, R rowtype.Row[K]] interface {
	Name() string
	Data() *pagestore.Pages[K, R]
	Primary() *rowindex.PrimaryIndex[K]
	Locks() *rowlock.TableLock[K]
}

// New creates a Compactor over t.
func New[K comparable, R rowtype.Row[K]](t TableAccess[K, R], cfg tableconfig.VacuumConfig) *Compactor[K, R] {
	return &Compactor[K, R]{
		src: source[K, R]{name: t.Name(), data: t.Data(), primary: t.Primary(), locks: t.Locks()},
		cfg: cfg,
	}
}

func (c *Compactor[K, R]) TableName() string { return c.src.name }

// AnalyzeFragmentation reports per-page fill ratios and whether a pass is
// worth running, per cfg's thresholds.
func (c *Compactor[K, R]) AnalyzeFragmentation() Report {
	infos := c.src.data.Registry().GetPerPageInfo()
	sort.Slice(infos, func(i, j int) bool { return infos[i].FilledEmptyRatio < infos[j].FilledEmptyRatio })

	capacity := float64(c.src.data.Capacity())
	candidates := 0
	for _, info := range infos {
		if (capacity-float64(info.EmptyBytes))/capacity < c.cfg.MinFillRatio {
			candidates++
		}
	}

	priority := PriorityLow
	switch {
	case candidates >= c.cfg.MinPagesToTrigger*4:
		priority = PriorityCritical
	case candidates >= c.cfg.MinPagesToTrigger*2:
		priority = PriorityHigh
	case candidates >= c.cfg.MinPagesToTrigger:
		priority = PriorityNormal
	}

	return Report{
		Pages:        infos,
		TotalEmpty:   c.src.data.Registry().SumLen(),
		ShouldVacuum: candidates >= c.cfg.MinPagesToTrigger,
		Priority:     priority,
	}
}

// Vacuum runs one defragmentation pass: source pages are visited from the
// emptiest forward, their live rows are moved under per-row lock into a
// rotation of destination pages (the spare and pages left partly filled
// first, then drained sources, then newly allocated pages), and fully
// drained sources are reset and handed back to the allocator. A page is a
// source when its fill fraction (filled bytes / page capacity) is below
// MinFillRatio.
func (c *Compactor[K, R]) Vacuum() (Stats, error) {
	start := timeNow()
	registry := c.src.data.Registry()
	unlock := registry.LockVacuum()
	defer unlock()

	report := c.AnalyzeFragmentation()
	if !report.ShouldVacuum {
		return Stats{Duration: timeSince(start)}, nil
	}

	spare := c.src.data.AllocateNewOrPopFree()
	destQueue := []rowpage.PageID{spare.ID()}
	var freeQueue []rowpage.PageID

	stats := Stats{}
	capacity := float64(c.src.data.Capacity())
	for _, info := range report.Pages {
		if (capacity-float64(info.EmptyBytes))/capacity >= c.cfg.MinFillRatio {
			continue
		}
		from := info.PageID

		var to rowpage.PageID
		switch {
		case len(destQueue) > 0:
			to, destQueue = destQueue[0], destQueue[1:]
		case len(freeQueue) > 0:
			to, freeQueue = freeQueue[0], freeQueue[1:]
		default:
			to = c.src.data.AllocateNewOrPopFree().ID()
		}
		if to == from {
			destQueue = append(destQueue, to)
			continue
		}

		fromDrained, toFilled, bytesFreed := c.moveDataFrom(from, to)
		stats.PagesProcessed++
		stats.BytesFreed += bytesFreed

		if fromDrained {
			registry.RemoveLinkForPage(from)
			freeQueue = append(freeQueue, from)
			stats.PagesFreed++
		} else {
			destQueue = append(destQueue, from)
		}
		if !toFilled {
			destQueue = append(destQueue, to)
		}
	}

	for _, id := range freeQueue {
		c.src.data.MarkPageEmpty(id)
	}
	for _, id := range destQueue {
		c.src.data.MarkPageFull(id)
	}

	stats.Duration = timeSince(start)
	return stats, nil
}

// moveDataFrom relocates as many of from's live rows as fit in to's
// remaining space, under a page-level lock on from (so Select/Update
// callers know to re-read their cached Link) plus a per-row lock for each
// moved row. It returns whether from ended up fully drained, whether to
// ended up full, and the number of bytes freed on from.
func (c *Compactor[K, R]) moveDataFrom(from, to rowpage.PageID) (fromDrained bool, toFilled bool, bytesFreed uint64) {
	guard := c.src.locks.AcquirePageLock(from)
	defer guard.Release()

	toPage, ok := c.src.data.GetPage(to)
	if !ok {
		return false, false, 0
	}
	fromPage, ok := c.src.data.GetPage(from)
	if !ok {
		return false, false, 0
	}

	type candidate struct {
		key  K
		link rowpage.Link
	}
	var candidates []candidate
	var planned uint32
	budget := toPage.FreeSpace()
	c.src.primary.RangeByPage(from, func(link rowpage.Link, key K) bool {
		if planned+link.Length > budget {
			return false
		}
		planned += link.Length
		candidates = append(candidates, candidate{key: key, link: link})
		return true
	})

	moved := 0
	for _, cand := range candidates {
		rowGuard := c.src.locks.AcquireRow(cand.key)
		curLink, ok := c.src.primary.Get(cand.key)
		if !ok || !rowpage.Equal(curLink, cand.link, c.src.data.Capacity()) {
			rowGuard.Release()
			continue
		}
		raw, err := c.src.data.GetRaw(curLink)
		if err != nil {
			rowGuard.Release()
			continue
		}
		newLink, err := c.src.data.AppendRaw(to, raw)
		if err != nil {
			rowGuard.Release()
			break
		}
		c.src.primary.Insert(cand.key, newLink)
		bytesFreed += uint64(curLink.Length)
		moved++
		rowGuard.Release()
	}

	remaining := 0
	c.src.primary.RangeByPage(from, func(rowpage.Link, K) bool {
		remaining++
		return true
	})
	if remaining == 0 {
		fromPage.Reset()
		fromDrained = true
	}
	toFilled = toPage.FreeSpace() == 0
	return fromDrained, toFilled, bytesFreed
}

// timeNow/timeSince are indirected through vars so tests can fake time
// without Date.now()-style nondeterminism leaking into the package itself.
var (
	timeNow   = time.Now
	timeSince = time.Since
)
