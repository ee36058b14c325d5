package fred

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/retry"
	"github.com/roach88/macrolens/internal/timeseries"
)

func newProvider(t *testing.T, apiKey string, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client := providers.NewHTTPClient(5*time.Second, retry.DefaultConfig(), nil)
	client.Sleeper = func(context.Context, time.Duration) error { return nil }
	return New(Config{BaseURL: srv.URL, APIKey: apiKey}, client)
}

var (
	start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func TestFetch_OK(t *testing.T) {
	p := newProvider(t, "key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/observations", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "DGS10", q.Get("series_id"))
		assert.Equal(t, "key", q.Get("api_key"))
		assert.Equal(t, "json", q.Get("file_type"))
		assert.Equal(t, "2024-01-01", q.Get("observation_start"))
		assert.Equal(t, "2024-01-31", q.Get("observation_end"))
		_, _ = w.Write([]byte(`{"observations":[
			{"date":"2024-01-02","value":"3.95"},
			{"date":"2024-01-03","value":"."},
			{"date":"","value":"1"}
		]}`))
	})

	res, err := p.Fetch(context.Background(), "DGS10", start, end)
	require.NoError(t, err)
	assert.Equal(t, providers.StatusOK, res.Status)
	require.NotNil(t, res.Data)

	s, err := timeseries.Normalize(*res.Data)
	require.NoError(t, err)
	require.Len(t, s, 2)
	require.NotNil(t, s[0].Value)
	assert.Equal(t, 3.95, *s[0].Value)
	assert.Nil(t, s[1].Value)
}

func TestFetch_MissingAPIKey(t *testing.T) {
	p := newProvider(t, "  ", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called without an API key")
	})

	res, err := p.Fetch(context.Background(), "DGS10", start, end)
	require.NoError(t, err)
	assert.Equal(t, providers.StatusMissing, res.Status)
	assert.Equal(t, "FRED_API_KEY missing", res.Message)
	assert.Nil(t, res.Data)
}

func TestFetch_NotFoundIsMissing(t *testing.T) {
	p := newProvider(t, "key", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	res, err := p.Fetch(context.Background(), "NOPE", start, end)
	require.NoError(t, err)
	assert.Equal(t, providers.StatusMissing, res.Status)
	assert.Equal(t, "FRED series not found: NOPE", res.Message)
}

func TestFetch_ZeroObservationsIsWarn(t *testing.T) {
	p := newProvider(t, "key", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"observations":[]}`))
	})

	res, err := p.Fetch(context.Background(), "DGS10", start, end)
	require.NoError(t, err)
	assert.Equal(t, providers.StatusWarn, res.Status)
	require.NotNil(t, res.Data)
	assert.Empty(t, res.Data.Rows)
}

func TestFetch_MissingObservationsList(t *testing.T) {
	p := newProvider(t, "key", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error_message":"nope"}`))
	})

	res, err := p.Fetch(context.Background(), "DGS10", start, end)
	require.NoError(t, err)
	assert.Equal(t, providers.StatusError, res.Status)
	assert.Nil(t, res.Data)
}

func TestFetch_ServerErrorAfterRetries(t *testing.T) {
	calls := 0
	p := newProvider(t, "key", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := p.Fetch(context.Background(), "DGS10", start, end)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.NotContains(t, err.Error(), "api_key")
}
