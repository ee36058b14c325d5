// Package yahoo adapts the Yahoo Finance chart API (daily close prices).
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/timeseries"
)

const (
	// Name is the provider id used in the sources matrix.
	Name = "yfinance"

	defaultBaseURL = "https://query1.finance.yahoo.com/"
)

// Config configures the adapter.
type Config struct {
	BaseURL string
}

// Provider fetches daily closes from the chart endpoint.
type Provider struct {
	config Config
	client *providers.HTTPClient
}

// New builds a Yahoo adapter.
func New(cfg Config, client *providers.HTTPClient) *Provider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	return &Provider{config: cfg, client: client}
}

func (p *Provider) Name() string { return Name }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		GMTOffset int64 `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// Fetch implements providers.Provider. end is inclusive; the chart API's
// period2 is exclusive, so one day is added.
func (p *Provider) Fetch(ctx context.Context, symbol string, start, end time.Time) (providers.FetchResult, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("events", "history")
	params.Set("period1", strconv.FormatInt(timeseries.Day(start).Unix(), 10))
	params.Set("period2", strconv.FormatInt(timeseries.Day(end).AddDate(0, 0, 1).Unix(), 10))
	endpoint := p.config.BaseURL + "v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	body, err := p.client.Get(ctx, endpoint)
	if err != nil {
		var httpErr *providers.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return providers.FetchResult{
				Status:  providers.StatusMissing,
				Message: fmt.Sprintf("yahoo symbol not found: %s", symbol),
			}, nil
		}
		return providers.FetchResult{}, fmt.Errorf("yahoo request failed: %w", err)
	}

	var payload chartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return providers.FetchResult{
			Status:       providers.StatusError,
			Message:      fmt.Sprintf("yahoo invalid JSON: %v", err),
			ErrorKind:    "provider",
			ErrorMessage: err.Error(),
		}, nil
	}
	if e := payload.Chart.Error; e != nil {
		return providers.FetchResult{
			Status:       providers.StatusError,
			Message:      fmt.Sprintf("yahoo chart error: %s", e.Code),
			ErrorKind:    "provider",
			ErrorMessage: e.Description,
		}, nil
	}

	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Timestamp) == 0 {
		return providers.FetchResult{
			Status:  providers.StatusWarn,
			Message: "yahoo returned 0 rows",
			Data:    timeseries.NewTable(),
		}, nil
	}

	res := payload.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 || res.Indicators.Quote[0].Close == nil {
		return providers.FetchResult{
			Status:    providers.StatusError,
			Message:   "yahoo missing close series",
			ErrorKind: "provider",
		}, nil
	}
	closes := res.Indicators.Quote[0].Close

	table := timeseries.NewTable()
	for i, ts := range res.Timestamp {
		// Session timestamps are shifted into exchange-local time so the
		// trading day does not slip across midnight UTC.
		day := time.Unix(ts+res.Meta.GMTOffset, 0).UTC().Format(timeseries.DateLayout)
		value := ""
		if i < len(closes) && closes[i] != nil {
			value = strconv.FormatFloat(*closes[i], 'g', -1, 64)
		}
		table.Append(day, value)
	}
	return providers.FetchResult{Status: providers.StatusOK, Message: "ok", Data: table}, nil
}
