package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/macrolens/internal/timeseries"
)

// FileExt is the extension of series files.
const FileExt = ".tsz"

// ErrInvalidID means a series id cannot be mapped to a file name.
var ErrInvalidID = errors.New("store: invalid series id")

// StorageError wraps any read or write failure of a series file.
type StorageError struct {
	Op   string // "load" | "write" | "store"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Result describes one StoreSeries call.
type Result struct {
	Path                     string
	RowsBefore               int
	RowsAfter                int
	NewPoints                int
	RevisionOverwritesCount  int
	RevisionOverwritesSample []timeseries.Overwrite
}

// Store reads and writes series files below a data directory.
type Store struct {
	dataDir string
	codec   *Codec
}

// Open creates a store rooted at dataDir. Directories are created lazily on write.
func Open(dataDir string, compressionLevel int) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("store: data dir is required")
	}
	codec, err := NewCodec(compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{dataDir: dataDir, codec: codec}, nil
}

// Close releases codec resources.
func (s *Store) Close() error {
	if s == nil || s.codec == nil {
		return nil
	}
	s.codec.Close()
	return nil
}

// Path returns the file for a series id: <dataDir>/series/<id>.tsz.
func (s *Store) Path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dataDir, "series", id+FileExt), nil
}

// Load reads a stored series. A missing file reports ok=false with no error.
// The stored data is re-normalized so ordering and UTC anchoring cannot drift.
func (s *Store) Load(id string) (timeseries.Series, bool, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, false, &StorageError{Op: "load", Path: id, Err: err}
	}
	return s.LoadPath(path)
}

// LoadPath is Load for an explicit file path.
func (s *Store) LoadPath(path string) (timeseries.Series, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "load", Path: path, Err: err}
	}
	series, err := s.codec.Decode(data)
	if err != nil {
		return nil, false, &StorageError{Op: "load", Path: path, Err: err}
	}
	return timeseries.Dedupe(series), true, nil
}

// Write replaces the stored series atomically.
func (s *Store) Write(id string, series timeseries.Series) error {
	path, err := s.Path(id)
	if err != nil {
		return &StorageError{Op: "write", Path: id, Err: err}
	}
	if err := WriteFileAtomic(path, s.codec.Encode(timeseries.Dedupe(series))); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// StoreSeries merges incoming into the stored series and writes the result.
// The returned Result carries Path even when an error occurs.
func (s *Store) StoreSeries(id string, incoming timeseries.Series) (Result, error) {
	path, err := s.Path(id)
	if err != nil {
		return Result{}, &StorageError{Op: "store", Path: id, Err: err}
	}
	res := Result{Path: path}

	existing, _, err := s.LoadPath(path)
	if err != nil {
		return res, err
	}
	res.RowsBefore = len(existing)

	merged := timeseries.Merge(existing, incoming)
	if err := WriteFileAtomic(path, s.codec.Encode(merged.Merged)); err != nil {
		return res, &StorageError{Op: "store", Path: path, Err: err}
	}

	res.RowsAfter = len(merged.Merged)
	res.NewPoints = merged.NewPoints
	res.RevisionOverwritesCount = merged.RevisionOverwritesCount
	res.RevisionOverwritesSample = merged.RevisionOverwritesSample
	return res, nil
}

func validateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case id == "." || id == ".." || strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	}
	return nil
}
