// Package fred adapts the FRED series/observations API.
package fred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/timeseries"
)

const (
	// Name is the provider id used in the sources matrix.
	Name = "fred"

	defaultBaseURL = "https://api.stlouisfed.org/fred/"
)

// Config configures the adapter.
type Config struct {
	BaseURL string
	APIKey  string
}

// Provider fetches FRED observations.
type Provider struct {
	config Config
	client *providers.HTTPClient
}

// New builds a FRED adapter. An empty APIKey is allowed; fetches then report
// status missing instead of calling upstream.
func New(cfg Config, client *providers.HTTPClient) *Provider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &Provider{config: cfg, client: client}
}

func (p *Provider) Name() string { return Name }

type observationsResponse struct {
	Observations *[]observation `json:"observations"`
}

type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// Fetch implements providers.Provider.
func (p *Provider) Fetch(ctx context.Context, symbol string, start, end time.Time) (providers.FetchResult, error) {
	if p.config.APIKey == "" {
		return providers.FetchResult{Status: providers.StatusMissing, Message: "FRED_API_KEY missing"}, nil
	}

	params := url.Values{}
	params.Set("series_id", symbol)
	params.Set("api_key", p.config.APIKey)
	params.Set("file_type", "json")
	params.Set("sort_order", "asc")
	if !start.IsZero() {
		params.Set("observation_start", start.Format(timeseries.DateLayout))
	}
	if !end.IsZero() {
		params.Set("observation_end", end.Format(timeseries.DateLayout))
	}
	endpoint := p.config.BaseURL + "series/observations?" + params.Encode()

	body, err := p.client.Get(ctx, endpoint)
	if err != nil {
		var httpErr *providers.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return providers.FetchResult{
				Status:  providers.StatusMissing,
				Message: fmt.Sprintf("FRED series not found: %s", symbol),
			}, nil
		}
		return providers.FetchResult{}, fmt.Errorf("fred request failed: %w", err)
	}

	var payload observationsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return providers.FetchResult{
			Status:       providers.StatusError,
			Message:      fmt.Sprintf("FRED invalid JSON: %v", err),
			ErrorKind:    "provider",
			ErrorMessage: err.Error(),
		}, nil
	}
	if payload.Observations == nil {
		return providers.FetchResult{
			Status:    providers.StatusError,
			Message:   "FRED response missing observations list",
			ErrorKind: "provider",
		}, nil
	}

	table := timeseries.NewTable()
	for _, o := range *payload.Observations {
		if o.Date == "" {
			continue
		}
		// FRED marks missing observations with "."; ParseValue maps it to nil.
		table.Append(o.Date, o.Value)
	}
	if len(table.Rows) == 0 {
		return providers.FetchResult{
			Status:  providers.StatusWarn,
			Message: "FRED returned 0 observations",
			Data:    table,
		}, nil
	}
	return providers.FetchResult{Status: providers.StatusOK, Message: "ok", Data: table}, nil
}
