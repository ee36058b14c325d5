// Package store persists one file per series under <dataDir>/series/<id>.tsz.
//
// # File Format
//
// Files are columnar and versioned:
//
//	"MLTS" | version | column names | row count | dates | values | validity | crc32
//
// Each of the three column blocks is zstd compressed. Dates are whole UTC days since
// the unix epoch written as delta-of-delta varints; values are XOR-encoded float64
// bits; the validity bitmap marks which rows carry a value (nil observations have a
// clear bit). A file whose column names are not exactly (date, value) is rejected
// with ErrSchemaMismatch rather than silently dropped.
//
// # Writes
//
// Writes go to a temp file in the same directory which is fsynced and renamed over
// the target, so a crash never leaves a truncated series behind. The store assumes
// a single writer per series.
package store
