package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/macrolens/internal/config"
	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/sources"
	"github.com/roach88/macrolens/internal/store"
	"github.com/roach88/macrolens/internal/timeseries"
)

// Clock supplies the default reference time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// SeriesStore is the persistence the runner needs.
type SeriesStore interface {
	Path(id string) (string, error)
	Load(id string) (timeseries.Series, bool, error)
	StoreSeries(id string, incoming timeseries.Series) (store.Result, error)
}

// Runner executes series runs against a provider registry and a store.
type Runner struct {
	Settings config.Settings
	Registry *providers.Registry
	Store    SeriesStore
	Clock    Clock
	Logger   *slog.Logger
}

// RunOptions tune a single run or batch.
type RunOptions struct {
	// AsOf overrides the reference time; zero means Clock.Now().
	AsOf time.Time
	// LookbackDays overrides Settings.LookbackDays when positive.
	LookbackDays int
	// Concurrency bounds parallel series in RunAll; values below 2 run sequentially.
	Concurrency int
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) referenceTime(opts RunOptions) time.Time {
	if !opts.AsOf.IsZero() {
		return opts.AsOf.UTC()
	}
	clock := r.Clock
	if clock == nil {
		clock = SystemClock
	}
	return clock.Now().UTC()
}

func (r *Runner) lookbackDays(opts RunOptions) int {
	if opts.LookbackDays > 0 {
		return opts.LookbackDays
	}
	if r.Settings.LookbackDays > 0 {
		return r.Settings.LookbackDays
	}
	return DefaultLookbackDays
}

// RunSeries fetches, normalizes and stores one series and classifies the outcome.
// It never returns an error; every failure is folded into the result.
func (r *Runner) RunSeries(ctx context.Context, spec sources.SeriesSpec, opts RunOptions) RunResult {
	runAt := r.referenceTime(opts)
	refDate := timeseries.Day(runAt)
	start := refDate.AddDate(0, 0, -r.lookbackDays(opts))

	base := RunResult{
		SeriesID: spec.ID,
		Provider: spec.Provider,
		RunAt:    runAt,
	}
	log := r.logger().With("series_id", spec.ID, "provider", spec.Provider)

	provider, err := r.Registry.Lookup(spec.Provider)
	if err != nil {
		base.Status = StatusError
		base.Message = fmt.Sprintf("unsupported provider: %s", spec.Provider)
		return base
	}

	log.Debug("fetching", "symbol", spec.ProviderSymbol, "start", start.Format(timeseries.DateLayout))
	fetched, err := safeFetch(ctx, provider, spec.ProviderSymbol, start, refDate)
	if err != nil {
		base.Status = StatusError
		base.Message = "provider fetch failed"
		base.ErrorKind = ErrorKindProvider
		base.ErrorMessage = err.Error()
		return base
	}

	if fetched.Data == nil {
		base.Status = fetched.Status
		base.Message = fetched.Message
		base.ErrorKind = fetched.ErrorKind
		base.ErrorMessage = fetched.ErrorMessage
		return base
	}

	normalized, err := timeseries.Normalize(*fetched.Data)
	if err != nil {
		base.Status = StatusError
		base.Message = fmt.Sprintf("normalize failed: %v", err)
		base.ErrorKind = ErrorKindNormalize
		base.ErrorMessage = err.Error()
		return base
	}

	if len(normalized) == 0 {
		if fetched.Status == StatusOK {
			base.Status = StatusWarn
			base.Message = "empty after normalize"
		} else {
			base.Status = fetched.Status
			base.Message = fetched.Message
		}
		return base
	}

	stored, err := r.Store.StoreSeries(spec.ID, normalized)
	if err != nil {
		base.Status = StatusError
		base.Message = fmt.Sprintf("store failed: %v", err)
		base.StoredPath = stored.Path
		base.ErrorKind = ErrorKindStorage
		base.ErrorMessage = err.Error()
		return base
	}
	base.StoredPath = stored.Path

	final, _, err := r.Store.Load(spec.ID)
	if err != nil {
		base.Status = StatusError
		base.Message = fmt.Sprintf("store failed: %v", err)
		base.ErrorKind = ErrorKindStorage
		base.ErrorMessage = err.Error()
		return base
	}

	base.Status = fetched.Status
	base.Message = "ok"
	base.NewPoints = stored.NewPoints
	base.RevisionOverwritesCount = stored.RevisionOverwritesCount
	base.RevisionOverwritesSample = stored.RevisionOverwritesSample

	if last, ok := final.Last(); ok {
		d := last.Date
		base.LastObservationDate = &d

		if base.Status == StatusOK {
			threshold := r.Settings.StaleDaysDefault
			if spec.StaleDays != nil {
				threshold = *spec.StaleDays
			}
			age := timeseries.DaysBetween(d, refDate)
			if age > threshold {
				base.Status = StatusWarn
				base.Message = fmt.Sprintf("stale: last data %d days ago (threshold: %d)", age, threshold)
			}
		}
	}

	if base.RevisionOverwritesCount > 0 {
		log.Info("provider revised history", "overwrites", base.RevisionOverwritesCount)
	}
	return base
}

// RunAll runs every enabled spec. Results come back in input order and a
// failing series never stops the batch.
func (r *Runner) RunAll(ctx context.Context, specs []sources.SeriesSpec, opts RunOptions) []RunResult {
	enabled := make([]sources.SeriesSpec, 0, len(specs))
	for _, s := range specs {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	// Pin the reference time so every series in the batch shares it.
	opts.AsOf = r.referenceTime(opts)

	results := make([]RunResult, len(enabled))
	if opts.Concurrency < 2 {
		for i, s := range enabled {
			results[i] = r.RunSeries(ctx, s, opts)
		}
		return results
	}

	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	for i, s := range enabled {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, s sources.SeriesSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.RunSeries(ctx, s, opts)
		}(i, s)
	}
	wg.Wait()
	return results
}

// safeFetch converts a provider panic into an error.
func safeFetch(ctx context.Context, p providers.Provider, symbol string, start, end time.Time) (res providers.FetchResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = providers.FetchResult{}
			err = fmt.Errorf("provider panic: %v", rec)
		}
	}()
	return p.Fetch(ctx, symbol, start, end)
}
