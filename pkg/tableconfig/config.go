// Package tableconfig holds the plain runtime knobs a table is built with:
// no CLI flag parsing or file-based config loading, per the spec's
// Non-goals — callers construct a Config directly.
package tableconfig

import (
	"time"

	"github.com/rs/zerolog"
)

// VacuumConfig tunes when the background compactor considers a table worth
// defragmenting.
type VacuumConfig struct {
	// Interval is how often the scheduler polls this table's fragmentation.
	Interval time.Duration
	// MinFillRatio is the fill fraction (filled bytes / page capacity)
	// below which a page is a defragmentation candidate.
	MinFillRatio float64
	// MinPagesToTrigger is the smallest fragmented-page count worth a pass.
	MinPagesToTrigger int
}

// DefaultVacuumConfig mirrors the original's VacuumPriority::Normal cadence.
func DefaultVacuumConfig() VacuumConfig {
	return VacuumConfig{
		Interval:          5 * time.Minute,
		MinFillRatio:      0.5,
		MinPagesToTrigger: 2,
	}
}

// Config is the set of parameters a table is constructed with.
type Config struct {
	// PageSize is DATA_LENGTH: the byte capacity of each data page.
	PageSize uint32
	// PrimaryIndexUnsized is stored on the Config only: no package in this
	// module reads it, and the primary index stores keys the same way
	// whichever value it holds.
	PrimaryIndexUnsized bool
	// Columns lists every column name the row locking scheme must carry a
	// slot for.
	Columns []string
	Vacuum  VacuumConfig
	Logger  zerolog.Logger
}

// DefaultPageSize mirrors the teacher's storage.PageSize default.
const DefaultPageSize = 4096

// New returns a Config with a silent logger and the default page size and
// vacuum cadence; callers override fields as needed.
func New(columns []string) Config {
	return Config{
		PageSize: DefaultPageSize,
		Columns:  columns,
		Vacuum:   DefaultVacuumConfig(),
		Logger:   zerolog.Nop(),
	}
}
