package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/macrolens/internal/eventlog"
	"github.com/roach88/macrolens/internal/metadata"
	"github.com/roach88/macrolens/internal/pipeline"
	"github.com/roach88/macrolens/internal/sources"
	"github.com/roach88/macrolens/internal/status"
	"github.com/roach88/macrolens/internal/timeseries"
)

// RunAllOptions holds flags for the run-all command.
type RunAllOptions struct {
	*RootOptions
	LookbackDays int
	AsOf         string
	Concurrency  int
}

// RunOneOptions holds flags for the run-one command.
type RunOneOptions struct {
	*RootOptions
	SeriesID     string
	LookbackDays int
	AsOf         string
}

// NewRunAllCommand creates the run-all command.
func NewRunAllCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunAllOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Ingest every enabled series",
		Long: `Fetch, normalize and store every enabled series of the sources matrix.

A failing series never stops the batch. Each outcome is written to the run log
and the metadata database, and the matrix status file is updated once at the end.

Example:
  macrolens run-all
  macrolens run-all --as-of 2024-03-01 --lookback-days 30 --concurrency 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAll(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.LookbackDays, "lookback-days", 0, "days to backfill per series (default from config)")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "reference date YYYY-MM-DD (default: now, UTC)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 1, "series fetched in parallel")

	return cmd
}

// NewRunOneCommand creates the run-one command.
func NewRunOneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run-one",
		Short: "Ingest a single series",
		Long: `Fetch, normalize and store one series by id.

Exits 2 when the id is not in the sources matrix and 3 when the series is disabled.

Example:
  macrolens run-one --id us_10y
  macrolens run-one --id vix --as-of 2024-03-01`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SeriesID, "id", "", "series id (required)")
	cmd.Flags().IntVar(&opts.LookbackDays, "lookback-days", 0, "days to backfill (default from config)")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "reference date YYYY-MM-DD (default: now, UTC)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runAll(cmd *cobra.Command, opts *RunAllOptions) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.LookbackDays < 0 {
		return a.out.Fail(ExitCommandError, ErrCodeArgs, "--lookback-days must not be negative", nil)
	}
	if opts.Concurrency < 1 {
		return a.out.Fail(ExitCommandError, ErrCodeArgs, "--concurrency must be at least 1", nil)
	}
	asOf, err := parseAsOf(opts.AsOf)
	if err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeArgs, "invalid arguments", err)
	}

	events, logPath, err := a.openEventLog()
	if err != nil {
		return err
	}
	defer events.Close()

	ref := a.referenceTime(asOf)
	events.CommandStart("run-all", a.commandArgs(ref, map[string]any{
		"lookback_days": a.lookback(opts.LookbackDays),
		"concurrency":   opts.Concurrency,
	}))

	matrix, err := a.loadMatrix()
	if err != nil {
		return err
	}
	enabled := matrix.Enabled()
	events.MatrixLoaded(matrix.Path, len(matrix.Series), len(enabled))

	rt, err := a.openResources()
	if err != nil {
		return err
	}
	defer rt.close(a.logger)

	ctx := commandContext(cmd)
	a.logger.Info("running series", "enabled", len(enabled), "as_of", ref.Format(time.RFC3339))
	results := rt.runner(a).RunAll(ctx, enabled, pipeline.RunOptions{
		AsOf:         ref,
		LookbackDays: opts.LookbackDays,
		Concurrency:  opts.Concurrency,
	})

	return a.finishRun(ctx, "run-all", rt, events, logPath, enabled, results, ref)
}

func runOne(cmd *cobra.Command, opts *RunOneOptions) error {
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.LookbackDays < 0 {
		return a.out.Fail(ExitCommandError, ErrCodeArgs, "--lookback-days must not be negative", nil)
	}
	asOf, err := parseAsOf(opts.AsOf)
	if err != nil {
		return a.out.Fail(ExitCommandError, ErrCodeArgs, "invalid arguments", err)
	}

	events, logPath, err := a.openEventLog()
	if err != nil {
		return err
	}
	defer events.Close()

	ref := a.referenceTime(asOf)
	events.CommandStart("run-one", a.commandArgs(ref, map[string]any{
		"series_id":     opts.SeriesID,
		"lookback_days": a.lookback(opts.LookbackDays),
	}))

	matrix, err := a.loadMatrix()
	if err != nil {
		return err
	}

	spec, ok := matrix.Find(opts.SeriesID)
	if !ok {
		events.SeriesNotFound(opts.SeriesID, matrix.Path)
		return a.out.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("unknown series id: %s", opts.SeriesID), nil)
	}
	if !spec.Enabled {
		events.SeriesDisabled(spec.ID)
		return a.out.Fail(ExitDisabled, ErrCodeDisabled, fmt.Sprintf("series is disabled: %s", spec.ID), nil)
	}
	events.SeriesSelected(spec)

	rt, err := a.openResources()
	if err != nil {
		return err
	}
	defer rt.close(a.logger)

	ctx := commandContext(cmd)
	result := rt.runner(a).RunSeries(ctx, spec, pipeline.RunOptions{
		AsOf:         ref,
		LookbackDays: opts.LookbackDays,
	})

	specs := []sources.SeriesSpec{spec}
	return a.finishRun(ctx, "run-one", rt, events, logPath, specs, []pipeline.RunResult{result}, ref)
}

// finishRun persists metadata and matrix status for results (aligned with
// specs), writes the summary event and prints the outcome.
func (a *app) finishRun(
	ctx context.Context,
	command string,
	rt *resources,
	events *eventlog.Logger,
	logPath string,
	specs []sources.SeriesSpec,
	results []pipeline.RunResult,
	ref time.Time,
) error {
	for i, r := range results {
		if err := rt.metadata.Upsert(ctx, metadataRecord(specs[i], r)); err != nil {
			a.logger.Error("metadata upsert failed", "series_id", r.SeriesID, "error", err)
			events.MetadataSaveFailed(r.SeriesID, err)
		}
		events.SeriesRun(r)
		a.logger.Debug("series finished", "series_id", r.SeriesID, "status", r.Status, "message", r.Message)
	}

	persisted := a.persistStatus(events, results, ref)
	events.Summary(results)

	summary := newRunSummary(command, ref, results, persisted, logPath)
	return a.out.SuccessWithRun(events.Run().RunID, summary)
}

type statusOutcome struct {
	Path           string
	UpdatedEntries int
	Persisted      bool
}

// persistStatus merges results into the matrix status file. A failure is
// logged and reported in the outcome but does not fail the command.
func (a *app) persistStatus(events *eventlog.Logger, results []pipeline.RunResult, runAt time.Time) statusOutcome {
	path := a.settings.Paths.StatusFile()
	out := statusOutcome{Path: path}

	err := func() error {
		existing, err := status.Load(path)
		if err != nil {
			return err
		}
		merged, err := status.Merge(existing, results, runAt)
		if err != nil {
			return err
		}
		if err := status.Save(path, merged.Merged); err != nil {
			return err
		}
		out.UpdatedEntries = merged.UpdatedEntries
		return nil
	}()
	if err != nil {
		a.logger.Error("matrix status not saved", "path", path, "error", err)
		events.StatusSaveFailed(path, err)
		return out
	}

	out.Persisted = true
	events.StatusSaved(path, out.UpdatedEntries)
	return out
}

func metadataRecord(spec sources.SeriesSpec, r pipeline.RunResult) metadata.Record {
	rec := metadata.Record{
		SeriesID:            spec.ID,
		Provider:            spec.Provider,
		ProviderSymbol:      spec.ProviderSymbol,
		Category:            spec.Category,
		FrequencyTarget:     spec.FrequencyTarget,
		Timezone:            spec.Timezone,
		Units:               spec.Units,
		Transform:           spec.Transform,
		Notes:               spec.Notes,
		Enabled:             spec.Enabled,
		Status:              string(r.Status),
		Message:             r.Message,
		LastRunAt:           r.RunAt,
		LastObservationDate: r.LastObservationDate,
		StoredPath:          r.StoredPath,
		NewPoints:           r.NewPoints,
		RevisionOverwrites:  r.RevisionOverwritesCount,
	}
	if r.Status == pipeline.StatusOK {
		okAt := r.RunAt
		rec.LastOKAt = &okAt
	}
	return rec
}

func (a *app) referenceTime(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return a.clock.Now().UTC()
	}
	return asOf.UTC()
}

func (a *app) lookback(flag int) int {
	if flag > 0 {
		return flag
	}
	return a.settings.LookbackDays
}

func (a *app) commandArgs(ref time.Time, extra map[string]any) map[string]any {
	args := map[string]any{
		"data_tz":             a.settings.DataTZ,
		"report_tz":           a.settings.ReportTZ,
		"sources_matrix_path": a.settings.SourcesMatrixPath,
		"as_of":               ref.Format(time.RFC3339),
	}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// seriesOutcome is the printable form of a RunResult.
type seriesOutcome struct {
	ID                  string `json:"id"`
	Provider            string `json:"provider"`
	Status              string `json:"status"`
	Message             string `json:"message"`
	NewPoints           int    `json:"new_points"`
	RevisionOverwrites  int    `json:"revision_overwrites"`
	LastObservationDate string `json:"last_observation_date,omitempty"`
	StoredPath          string `json:"stored_path,omitempty"`
	ErrorKind           string `json:"error_kind,omitempty"`
	ErrorMessage        string `json:"error_message,omitempty"`
}

type runSummary struct {
	Command             string          `json:"command"`
	AsOf                string          `json:"as_of"`
	Series              []seriesOutcome `json:"series"`
	StatusCounts        map[string]int  `json:"status_counts"`
	TotalNewPoints      int             `json:"total_new_points"`
	MatrixStatusPath    string          `json:"matrix_status_path"`
	MatrixStatusUpdated int             `json:"matrix_status_entries_updated"`
	MatrixStatusSaved   bool            `json:"matrix_status_persisted"`
	LogPath             string          `json:"log_path"`
}

func newRunSummary(command string, ref time.Time, results []pipeline.RunResult, st statusOutcome, logPath string) runSummary {
	s := runSummary{
		Command:             command,
		AsOf:                ref.Format(time.RFC3339),
		Series:              make([]seriesOutcome, 0, len(results)),
		StatusCounts:        make(map[string]int),
		TotalNewPoints:      pipeline.TotalNewPoints(results),
		MatrixStatusPath:    st.Path,
		MatrixStatusUpdated: st.UpdatedEntries,
		MatrixStatusSaved:   st.Persisted,
		LogPath:             logPath,
	}
	for k, n := range pipeline.StatusCounts(results) {
		s.StatusCounts[string(k)] = n
	}
	for _, r := range results {
		o := seriesOutcome{
			ID:                 r.SeriesID,
			Provider:           r.Provider,
			Status:             string(r.Status),
			Message:            r.Message,
			NewPoints:          r.NewPoints,
			RevisionOverwrites: r.RevisionOverwritesCount,
			StoredPath:         r.StoredPath,
			ErrorKind:          r.ErrorKind,
			ErrorMessage:       r.ErrorMessage,
		}
		if r.LastObservationDate != nil {
			o.LastObservationDate = r.LastObservationDate.Format(timeseries.DateLayout)
		}
		s.Series = append(s.Series, o)
	}
	return s
}

func (s runSummary) renderText(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNEW\tREVISED\tLAST\tMESSAGE")
	for _, o := range s.Series {
		last := o.LastObservationDate
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", o.ID, o.Status, o.NewPoints, o.RevisionOverwrites, last, o.Message)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nok=%d warn=%d error=%d missing=%d new_points=%d\n",
		s.StatusCounts["ok"], s.StatusCounts["warn"], s.StatusCounts["error"], s.StatusCounts["missing"], s.TotalNewPoints)
	if s.MatrixStatusSaved {
		fmt.Fprintf(w, "matrix status: %s (%d updated)\n", s.MatrixStatusPath, s.MatrixStatusUpdated)
	} else {
		fmt.Fprintf(w, "matrix status: %s (not saved, see log)\n", s.MatrixStatusPath)
	}
	fmt.Fprintf(w, "run log: %s\n", s.LogPath)
}
