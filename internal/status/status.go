// Package status persists the per-series outcome ledger across runs.
//
// The document maps series id to its latest status, the date of the last ok
// run, the last run timestamp, the last observation date and the last error.
// Merging is deterministic: only series present in a batch are touched, and
// last_ok only ever moves on an ok outcome.
package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/roach88/macrolens/internal/canonical"
	"github.com/roach88/macrolens/internal/pipeline"
	"github.com/roach88/macrolens/internal/store"
	"github.com/roach88/macrolens/internal/timeseries"
)

// FileVersion is written into new documents.
const FileVersion = 1

// ErrDuplicateResult is returned by Merge when a batch names a series twice.
var ErrDuplicateResult = errors.New("status: duplicate series id in results")

// Entry is the persisted state of one series.
type Entry struct {
	Status              pipeline.Status `json:"status"`
	LastOK              *string         `json:"last_ok"`
	LastRunAt           *string         `json:"last_run_at"`
	LastObservationDate *string         `json:"last_observation_date"`
	LastError           *string         `json:"last_error"`
}

// File is the whole status document.
type File struct {
	Version   int              `json:"version"`
	UpdatedAt *string          `json:"updated_at"`
	Series    map[string]Entry `json:"series"`
}

// NewFile returns an empty document.
func NewFile() File {
	return File{Version: FileVersion, Series: map[string]Entry{}}
}

// MergeResult is the output of Merge.
type MergeResult struct {
	Merged File
	// UpdatedEntries counts touched entries whose serialized form changed.
	UpdatedEntries int
}

// Load reads the document at path. A missing or blank file yields NewFile().
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewFile(), nil
	}
	if err != nil {
		return File{}, fmt.Errorf("read matrix status: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return NewFile(), nil
	}
	if trimmed[0] != '{' {
		return File{}, fmt.Errorf("invalid matrix status file %s: top level must be a JSON object", path)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("invalid matrix status file %s: %w", path, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("invalid matrix status file %s: trailing data", path)
	}

	if f.Version == 0 {
		f.Version = FileVersion
	}
	if f.Series == nil {
		f.Series = map[string]Entry{}
	}
	for id, e := range f.Series {
		if _, err := pipeline.ParseStatus(string(e.Status)); err != nil {
			return File{}, fmt.Errorf("invalid matrix status file %s: series %s: %w", path, id, err)
		}
	}
	return f, nil
}

// Merge folds results into existing and returns a new document; existing is
// not modified. runAt is normalized to UTC.
func Merge(existing File, results []pipeline.RunResult, runAt time.Time) (MergeResult, error) {
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, dup := seen[r.SeriesID]; dup {
			return MergeResult{}, fmt.Errorf("%w: %s", ErrDuplicateResult, r.SeriesID)
		}
		seen[r.SeriesID] = struct{}{}
	}

	runAt = runAt.UTC()
	runAtISO := runAt.Format(time.RFC3339)
	runDate := runAt.Format(timeseries.DateLayout)

	merged := make(map[string]Entry, len(existing.Series)+len(results))
	for id, e := range existing.Series {
		merged[id] = e
	}

	updated := 0
	for _, r := range results {
		prev, hadPrev := existing.Series[r.SeriesID]
		next := nextEntry(prev, r, runAtISO, runDate)

		if !hadPrev {
			updated++
		} else {
			same, err := canonical.Equal(prev, next)
			if err != nil {
				return MergeResult{}, fmt.Errorf("compare status entry %s: %w", r.SeriesID, err)
			}
			if !same {
				updated++
			}
		}
		merged[r.SeriesID] = next
	}

	version := existing.Version
	if version == 0 {
		version = FileVersion
	}
	return MergeResult{
		Merged: File{
			Version:   version,
			UpdatedAt: &runAtISO,
			Series:    merged,
		},
		UpdatedEntries: updated,
	}, nil
}

// nextEntry builds the successor of prev for result r.
func nextEntry(prev Entry, r pipeline.RunResult, runAtISO, runDate string) Entry {
	next := Entry{
		Status:              r.Status,
		LastOK:              prev.LastOK,
		LastRunAt:           strPtr(runAtISO),
		LastObservationDate: prev.LastObservationDate,
		LastError:           prev.LastError,
	}

	if r.LastObservationDate != nil {
		next.LastObservationDate = strPtr(r.LastObservationDate.UTC().Format(timeseries.DateLayout))
	}

	if r.Status == pipeline.StatusOK {
		next.LastOK = strPtr(runDate)
		next.LastError = nil
		return next
	}

	msg := r.ErrorMessage
	if msg == "" {
		msg = r.Message
	}
	if msg != "" {
		next.LastError = strPtr(msg)
	}
	return next
}

// Save writes f as canonical indented JSON via temp file and rename.
func Save(path string, f File) error {
	if f.Series == nil {
		f.Series = map[string]Entry{}
	}
	data, err := canonical.MarshalIndent(f)
	if err != nil {
		return fmt.Errorf("encode matrix status: %w", err)
	}
	if err := store.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("save matrix status %s: %w", path, err)
	}
	return nil
}

// StaleSeries describes one series whose data has not advanced.
type StaleSeries struct {
	SeriesID            string          `json:"series_id"`
	LastObservationDate string          `json:"last_observation_date"`
	DeltaDays           int             `json:"delta_days"`
	Threshold           int             `json:"threshold"`
	Status              pipeline.Status `json:"status"`
}

// IdentifyStale lists entries whose last observation is more than their
// threshold days before refDate, oldest first then by id. Entries without an
// observation date are skipped.
func IdentifyStale(f File, refDate time.Time, defaultThreshold int, overrides map[string]int) ([]StaleSeries, error) {
	var stale []StaleSeries
	for id, e := range f.Series {
		if e.LastObservationDate == nil || *e.LastObservationDate == "" {
			continue
		}
		last, err := time.Parse(timeseries.DateLayout, *e.LastObservationDate)
		if err != nil {
			return nil, fmt.Errorf("series %s: bad last_observation_date: %w", id, err)
		}

		threshold := defaultThreshold
		if t, ok := overrides[id]; ok {
			threshold = t
		}
		age := DataAgeDays(last, refDate)
		if age > threshold {
			stale = append(stale, StaleSeries{
				SeriesID:            id,
				LastObservationDate: *e.LastObservationDate,
				DeltaDays:           age,
				Threshold:           threshold,
				Status:              e.Status,
			})
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		if stale[i].DeltaDays != stale[j].DeltaDays {
			return stale[i].DeltaDays > stale[j].DeltaDays
		}
		return stale[i].SeriesID < stale[j].SeriesID
	})
	return stale, nil
}

// DataAgeDays is the number of whole UTC days between last and now.
func DataAgeDays(last, now time.Time) int {
	return timeseries.DaysBetween(last, now)
}

// IsStale reports whether data last observed at last exceeds threshold days at now.
func IsStale(last, now time.Time, threshold int) bool {
	return DataAgeDays(last, now) > threshold
}

func strPtr(s string) *string { return &s }
