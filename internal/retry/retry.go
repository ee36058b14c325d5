// Package retry runs fallible operations with deterministic exponential backoff.
//
// Delays are computed as min(MaxDelay, BaseDelay * Multiplier^(attempt-1)) with no
// jitter, so two runs with the same failures sleep for exactly the same durations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned when a Config cannot be used.
var ErrInvalidConfig = errors.New("retry: invalid config")

// Config controls attempts and backoff.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// DefaultConfig returns the backoff used by provider adapters.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2.0,
	}
}

// Validate checks the config. MaxAttempts below 1 is an error, never an implicit single run.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	if c.Multiplier < 0 || math.IsNaN(c.Multiplier) {
		return fmt.Errorf("%w: multiplier must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Delay returns the sleep before the retry that follows the given failed attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) || math.IsInf(d, 1) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// OnRetryFunc observes a failed attempt that is about to be retried.
// attempt is the 1-based index of the attempt that failed.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

type options struct {
	sleep   Sleeper
	onRetry OnRetryFunc
}

// Option customizes Do.
type Option func(*options)

// WithSleeper replaces the real sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithOnRetry registers an observer for retries. It cannot change control flow.
func WithOnRetry(fn OnRetryFunc) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do calls fn until it succeeds, shouldRetry rejects the error, or attempts run out.
// The final error is returned as-is.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error), shouldRetry func(error) bool, opts ...Option) (T, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, err
	}

	o := options{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxAttempts || shouldRetry == nil || !shouldRetry(err) {
			return zero, err
		}

		delay := cfg.Delay(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
