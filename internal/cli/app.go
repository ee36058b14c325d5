package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/macrolens/internal/config"
	"github.com/roach88/macrolens/internal/eventlog"
	"github.com/roach88/macrolens/internal/metadata"
	"github.com/roach88/macrolens/internal/pipeline"
	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/providers/cache"
	"github.com/roach88/macrolens/internal/providers/fred"
	"github.com/roach88/macrolens/internal/providers/yahoo"
	"github.com/roach88/macrolens/internal/sources"
	"github.com/roach88/macrolens/internal/store"
)

// app is the per-invocation environment shared by commands: settings,
// operator logger, clock and output formatter.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	clock    pipeline.Clock
	ids      eventlog.IDGenerator
	out      *OutputFormatter
}

func newApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	for _, dir := range []string{settings.Paths.DataDir, settings.Paths.LogsDir, settings.Paths.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to create directory "+dir, err)
		}
	}

	clock := opts.Clock
	if clock == nil {
		clock = pipeline.SystemClock
	}
	ids := opts.IDs
	if ids == nil {
		ids = eventlog.UUIDv7Generator{}
	}

	return &app{settings: settings, logger: logger, clock: clock, ids: ids, out: out}, nil
}

// openEventLog starts a run context and opens its log file.
func (a *app) openEventLog() (*eventlog.Logger, string, error) {
	run := eventlog.NewRunContext(a.ids, a.clock.Now())
	path := eventlog.DefaultPath(a.settings.Paths.LogsDir, run.StartedAt)
	events, err := eventlog.Open(path, run, a.clock.Now)
	if err != nil {
		return nil, "", a.out.Fail(ExitCommandError, ErrCodeRuntime, "failed to open run log", err)
	}
	a.logger.Debug("run log opened", "path", path, "run_id", run.RunID)
	return events, path, nil
}

// loadMatrix reads the configured sources matrix. Structural problems are
// command errors.
func (a *app) loadMatrix() (*sources.Matrix, error) {
	m, err := sources.Load(a.settings.SourcesMatrixPath)
	if err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeMatrix, "failed to load sources matrix", err)
	}
	a.logger.Debug("sources matrix loaded", "path", m.Path, "series", len(m.Series))
	return m, nil
}

// resources are the stores and adapters a series run needs.
type resources struct {
	store    *store.Store
	registry *providers.Registry
	metadata *metadata.DB
	cache    *cache.Cache
}

func (a *app) openResources() (*resources, error) {
	st, err := store.Open(a.settings.Paths.DataDir, a.settings.CompressionLevel)
	if err != nil {
		return nil, a.out.Fail(ExitCommandError, ErrCodeRuntime, "failed to open series store", err)
	}
	rt := &resources{store: st}

	rt.metadata, err = metadata.Open(a.settings.Paths.MetadataDB)
	if err != nil {
		rt.close(a.logger)
		return nil, a.out.Fail(ExitCommandError, ErrCodeRuntime, "failed to open metadata database", err)
	}

	if a.settings.Cache.Enabled {
		rt.cache, err = cache.Open(cache.Options{
			Dir:    a.settings.Cache.Dir,
			TTL:    a.settings.Cache.TTL,
			Logger: a.logger,
		})
		if err != nil {
			rt.close(a.logger)
			return nil, a.out.Fail(ExitCommandError, ErrCodeRuntime, "failed to open provider cache", err)
		}
	}

	rt.registry = a.buildRegistry(rt.cache)
	return rt, nil
}

func (a *app) buildRegistry(c *cache.Cache) *providers.Registry {
	client := providers.NewHTTPClient(a.settings.HTTPTimeout, a.settings.Retry, a.logger)
	adapters := []providers.Provider{
		fred.New(fred.Config{BaseURL: a.settings.FredBaseURL, APIKey: a.settings.FredAPIKey}, client),
		yahoo.New(yahoo.Config{BaseURL: a.settings.YahooBaseURL}, client),
	}
	if c != nil {
		for i, p := range adapters {
			adapters[i] = c.Wrap(p)
		}
	}
	return providers.NewRegistry(adapters...)
}

func (rt *resources) close(logger *slog.Logger) {
	var errs []error
	if rt.cache != nil {
		stats := rt.cache.Stats()
		logger.Debug("provider cache", "hits", stats.Hits, "misses", stats.Misses)
		errs = append(errs, rt.cache.Close())
	}
	if rt.metadata != nil {
		errs = append(errs, rt.metadata.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("error closing resources", "error", err)
	}
}

func (rt *resources) runner(a *app) *pipeline.Runner {
	return &pipeline.Runner{
		Settings: a.settings,
		Registry: rt.registry,
		Store:    rt.store,
		Clock:    a.clock,
		Logger:   a.logger,
	}
}

// parseAsOf accepts YYYY-MM-DD (midnight UTC) or an RFC3339 timestamp.
// An empty value returns the zero time.
func parseAsOf(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}
