// Package timeseries holds the canonical (date, value) series model.
//
// A Series is always sorted ascending by Date with no duplicate dates. Dates are
// anchored to midnight UTC; a nil Value is a missing observation reported by the
// provider and takes part in revision comparisons like any other value.
//
// # Merge Semantics
//
// Merge combines a stored series with freshly fetched points:
//   - the incoming value wins whenever both sides carry the same date
//   - NewPoints counts dates absent from the stored series
//   - a revision overwrite is a shared date whose value changed (nil/nil is equal,
//     nil/non-nil differs); the first RevisionSampleMax are kept for diagnostics
package timeseries
