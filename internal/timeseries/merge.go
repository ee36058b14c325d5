package timeseries

import "time"

// RevisionSampleMax bounds the overwrite sample kept for diagnostics.
const RevisionSampleMax = 10

// Overwrite records a provider revision of an already stored date.
type Overwrite struct {
	Date time.Time
	Old  *float64
	New  *float64
}

// MergeResult is the outcome of merging incoming points into a stored series.
type MergeResult struct {
	Merged                   Series
	NewPoints                int
	RevisionOverwritesCount  int
	RevisionOverwritesSample []Overwrite
}

// Merge combines existing (nil on first run) with incoming. Incoming wins on shared dates.
func Merge(existing, incoming Series) MergeResult {
	ex := Dedupe(existing)
	if len(incoming) == 0 {
		return MergeResult{Merged: ex}
	}
	inc := Dedupe(incoming)
	if len(ex) == 0 {
		return MergeResult{Merged: inc, NewPoints: len(inc)}
	}

	res := MergeResult{Merged: make(Series, 0, len(ex)+len(inc))}

	// Both sides are sorted and unique, so a single pass yields the union in order.
	i, j := 0, 0
	for i < len(ex) || j < len(inc) {
		switch {
		case j >= len(inc) || (i < len(ex) && ex[i].Date.Before(inc[j].Date)):
			res.Merged = append(res.Merged, ex[i])
			i++
		case i >= len(ex) || inc[j].Date.Before(ex[i].Date):
			res.Merged = append(res.Merged, inc[j])
			res.NewPoints++
			j++
		default:
			if !sameValue(ex[i].Value, inc[j].Value) {
				res.RevisionOverwritesCount++
				if len(res.RevisionOverwritesSample) < RevisionSampleMax {
					res.RevisionOverwritesSample = append(res.RevisionOverwritesSample, Overwrite{
						Date: inc[j].Date,
						Old:  ex[i].Value,
						New:  inc[j].Value,
					})
				}
			}
			res.Merged = append(res.Merged, inc[j])
			i++
			j++
		}
	}

	return res
}
