package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/macrolens/internal/retry"
)

// maxErrorBody caps how much of a failed response body ends up in an error message.
const maxErrorBody = 256

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s", e.Status)
	}
	return fmt.Sprintf("http %s: %s", e.Status, e.Body)
}

// IsRetryable reports whether err is worth another attempt: rate limiting,
// server errors and transport failures. Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}

// HTTPClient performs GET requests with retry and a shared user agent.
type HTTPClient struct {
	Client    *http.Client
	Retry     retry.Config
	UserAgent string
	Logger    *slog.Logger

	// Sleeper overrides the backoff sleep; tests set it to skip waiting.
	Sleeper retry.Sleeper
}

// NewHTTPClient returns a client with the given timeout and retry policy.
func NewHTTPClient(timeout time.Duration, cfg retry.Config, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		Client:    &http.Client{Timeout: timeout},
		Retry:     cfg,
		UserAgent: "macrolens/0.1",
		Logger:    logger,
	}
}

// Get fetches endpoint and returns the body of a 2xx response.
// Non-2xx responses come back as *HTTPError after retries are exhausted.
func (c *HTTPClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	opts := []retry.Option{
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.Logger.Warn("retrying request",
				"url", redact(endpoint),
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	}
	if c.Sleeper != nil {
		opts = append(opts, retry.WithSleeper(c.Sleeper))
	}
	return retry.Do(ctx, c.Retry, func(ctx context.Context) ([]byte, error) {
		return c.getOnce(ctx, endpoint)
	}, IsRetryable, opts...)
}

func (c *HTTPClient) getOnce(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redact(urlErr.URL)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: snippet}
	}
	return body, nil
}

// redact strips the query string so API keys never reach the logs.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
