package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/timeseries"
)

// FetchCall records one call to StubProvider.Fetch.
type FetchCall struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

// StubProvider is a scripted providers.Provider.
//
// Results are looked up by symbol; Default is used for unknown symbols.
// Setting Panic makes Fetch panic with that value.
type StubProvider struct {
	ID      string
	Results map[string]providers.FetchResult
	Errors  map[string]error
	Default providers.FetchResult
	Panic   any

	mu    sync.Mutex
	calls []FetchCall
}

// NewStubProvider creates a stub registered under id.
func NewStubProvider(id string) *StubProvider {
	return &StubProvider{
		ID:      id,
		Results: make(map[string]providers.FetchResult),
		Errors:  make(map[string]error),
		Default: providers.FetchResult{Status: providers.StatusMissing, Message: "no stub result"},
	}
}

func (p *StubProvider) Name() string { return p.ID }

// Fetch implements providers.Provider.
func (p *StubProvider) Fetch(_ context.Context, symbol string, start, end time.Time) (providers.FetchResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, FetchCall{Symbol: symbol, Start: start, End: end})
	p.mu.Unlock()

	if p.Panic != nil {
		panic(p.Panic)
	}
	if err, ok := p.Errors[symbol]; ok {
		return providers.FetchResult{}, err
	}
	if res, ok := p.Results[symbol]; ok {
		return res, nil
	}
	return p.Default, nil
}

// Calls returns a copy of the recorded calls.
func (p *StubProvider) Calls() []FetchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FetchCall(nil), p.calls...)
}

// OK builds an ok FetchResult from alternating date/value strings.
func OK(pairs ...string) providers.FetchResult {
	table := timeseries.NewTable()
	for i := 0; i+1 < len(pairs); i += 2 {
		table.Append(pairs[i], pairs[i+1])
	}
	return providers.FetchResult{Status: providers.StatusOK, Message: "ok", Data: table}
}
