// Package pipeline runs the per-series ingestion state machine:
// fetch, normalize, store, staleness check, result.
package pipeline

import (
	"time"

	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/timeseries"
)

// Status is the terminal outcome of one series run.
type Status = providers.Status

const (
	StatusOK      = providers.StatusOK
	StatusWarn    = providers.StatusWarn
	StatusError   = providers.StatusError
	StatusMissing = providers.StatusMissing
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) { return providers.ParseStatus(s) }

// Error kinds recorded on failed runs.
const (
	ErrorKindProvider  = "provider"
	ErrorKindNormalize = "normalize"
	ErrorKindStorage   = "storage"
)

// DefaultLookbackDays bounds the fetch window when nothing else is configured.
const DefaultLookbackDays = 3650

// RunResult is the outcome of one series run. It is built once by RunSeries
// and treated as read-only afterwards.
type RunResult struct {
	SeriesID                 string
	Provider                 string
	Status                   Status
	Message                  string
	StoredPath               string
	NewPoints                int
	RevisionOverwritesCount  int
	RevisionOverwritesSample []timeseries.Overwrite
	ErrorKind                string
	ErrorMessage             string
	LastObservationDate      *time.Time
	RunAt                    time.Time
}

// StatusCounts tallies results per status. Every status is present, possibly zero.
func StatusCounts(results []RunResult) map[Status]int {
	counts := map[Status]int{
		StatusOK:      0,
		StatusWarn:    0,
		StatusError:   0,
		StatusMissing: 0,
	}
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}

// TotalNewPoints sums NewPoints over results.
func TotalNewPoints(results []RunResult) int {
	total := 0
	for _, r := range results {
		total += r.NewPoints
	}
	return total
}
