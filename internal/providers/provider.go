// Package providers defines the contract between the ingestion pipeline and the
// upstream data sources, plus a registry resolving provider ids to adapters.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/macrolens/internal/timeseries"
)

// Status is the outcome classification shared by fetches and series runs.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarn    Status = "warn"
	StatusError   Status = "error"
	StatusMissing Status = "missing"
)

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusOK, StatusWarn, StatusError, StatusMissing:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// ErrUnsupportedProvider is returned by Registry.Lookup for unknown ids.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// FetchResult is what an adapter hands back for one symbol.
//
// Data == nil means "no data to store"; Status and Message then explain why.
// A non-nil, empty Table is a valid answer (zero observations).
type FetchResult struct {
	Status       Status
	Message      string
	Data         *timeseries.Table
	ErrorKind    string
	ErrorMessage string
}

// Provider fetches one symbol's daily history for the inclusive date range [start, end].
//
// A returned error means the adapter itself failed (transport exhausted, bad payload);
// expected upstream conditions such as a missing API key are reported through
// FetchResult.Status instead.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string, start, end time.Time) (FetchResult, error)
}

// Registry maps provider ids to adapters.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers each provider under its Name().
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.Register(p.Name(), p)
	}
	return r
}

// Register adds or replaces the adapter for id.
func (r *Registry) Register(id string, p Provider) {
	r.providers[id] = p
}

// Lookup returns the adapter for id.
func (r *Registry) Lookup(id string) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[id]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, id)
}

// IDs returns registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
