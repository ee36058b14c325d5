// Package eventlog writes the append-only JSON-lines run log.
//
// Each line is one event carrying the run id, an event name and a UTC
// timestamp. Files are named run-YYYYMMDD.jsonl after the run's start date.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/macrolens/internal/pipeline"
	"github.com/roach88/macrolens/internal/sources"
	"github.com/roach88/macrolens/internal/timeseries"
)

// Event names.
const (
	EventCommandStart           = "command_start"
	EventMatrixLoaded           = "matrix_loaded"
	EventSeriesNotFound         = "series_not_found"
	EventSeriesDisabled         = "series_disabled"
	EventSeriesSelected         = "series_selected"
	EventSeriesRun              = "series_run"
	EventMatrixStatusSaved      = "matrix_status_saved"
	EventMatrixStatusSaveFailed = "matrix_status_save_failed"
	EventMetadataSaveFailed     = "metadata_save_failed"
	EventReportGenerated        = "report_generated"
	EventRunSummary             = "run_summary"
)

// IDGenerator produces run ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RunContext identifies one process invocation.
type RunContext struct {
	RunID     string
	StartedAt time.Time
}

// NewRunContext starts a run at now.
func NewRunContext(gen IDGenerator, now time.Time) RunContext {
	return RunContext{RunID: gen.Generate(), StartedAt: now.UTC()}
}

// DefaultPath is <logsDir>/run-YYYYMMDD.jsonl for the UTC date of now.
func DefaultPath(logsDir string, now time.Time) string {
	return filepath.Join(logsDir, "run-"+now.UTC().Format("20060102")+".jsonl")
}

// Logger appends events to a JSONL file.
type Logger struct {
	file   *os.File
	logger *slog.Logger
	run    RunContext
	now    func() time.Time
}

// Open creates or appends to the log at path. now stamps each event; nil uses
// the wall clock.
func Open(path string, run RunContext, now func() time.Time) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	if now == nil {
		now = time.Now
	}

	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				// Replaced by the injectable "ts" attribute.
				return slog.Attr{}
			case slog.MessageKey:
				a.Key = "event"
			}
			return a
		},
	})

	return &Logger{
		file:   f,
		logger: slog.New(handler).With("run_id", run.RunID),
		run:    run,
		now:    now,
	}, nil
}

// Close closes the file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Run returns the run context.
func (l *Logger) Run() RunContext { return l.run }

func (l *Logger) emit(level slog.Level, event string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	attrs = append([]slog.Attr{slog.String("ts", l.now().UTC().Format(time.RFC3339Nano))}, attrs...)
	l.logger.LogAttrs(context.Background(), level, event, attrs...)
}

// CommandStart records the command name and its effective arguments.
func (l *Logger) CommandStart(command string, args map[string]any) {
	if l == nil {
		return
	}
	l.emit(slog.LevelInfo, EventCommandStart,
		slog.String("command", command),
		slog.Any("args", args),
		slog.String("started_at", l.run.StartedAt.Format(time.RFC3339Nano)),
	)
}

// MatrixLoaded records the sources matrix that was read.
func (l *Logger) MatrixLoaded(path string, total, enabled int) {
	l.emit(slog.LevelInfo, EventMatrixLoaded,
		slog.String("path", path),
		slog.Int("series_total", total),
		slog.Int("series_enabled", enabled),
	)
}

// SeriesNotFound records a run-one request for an id the matrix lacks.
func (l *Logger) SeriesNotFound(seriesID, matrixPath string) {
	l.emit(slog.LevelError, EventSeriesNotFound,
		slog.String("series_id", seriesID),
		slog.String("path", matrixPath),
	)
}

// SeriesDisabled records a run-one request for a disabled series.
func (l *Logger) SeriesDisabled(seriesID string) {
	l.emit(slog.LevelWarn, EventSeriesDisabled, slog.String("series_id", seriesID))
}

// SeriesSelected records the series run-one is about to fetch.
func (l *Logger) SeriesSelected(spec sources.SeriesSpec) {
	l.emit(slog.LevelInfo, EventSeriesSelected,
		slog.String("series_id", spec.ID),
		slog.String("provider", spec.Provider),
		slog.String("provider_symbol", spec.ProviderSymbol),
	)
}

type overwriteRecord struct {
	Date string   `json:"date"`
	Old  *float64 `json:"old"`
	New  *float64 `json:"new"`
}

// SeriesRun records one series outcome.
func (l *Logger) SeriesRun(r pipeline.RunResult) {
	attrs := []slog.Attr{
		slog.String("series_id", r.SeriesID),
		slog.String("provider", r.Provider),
		slog.String("status", string(r.Status)),
		slog.String("message", r.Message),
		slog.Int("new_points", r.NewPoints),
		slog.Int("revision_overwrites_count", r.RevisionOverwritesCount),
	}
	if len(r.RevisionOverwritesSample) > 0 {
		sample := make([]overwriteRecord, 0, len(r.RevisionOverwritesSample))
		for _, o := range r.RevisionOverwritesSample {
			sample = append(sample, overwriteRecord{Date: o.Date.Format(timeseries.DateLayout), Old: o.Old, New: o.New})
		}
		attrs = append(attrs, slog.Any("revision_overwrites_sample", sample))
	}
	if r.StoredPath != "" {
		attrs = append(attrs, slog.String("stored_path", r.StoredPath))
	}
	if r.LastObservationDate != nil {
		attrs = append(attrs, slog.String("last_observation_date", r.LastObservationDate.Format(timeseries.DateLayout)))
	}
	if r.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_type", r.ErrorKind))
	}
	if r.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error_message", r.ErrorMessage))
	}
	l.emit(levelFor(r.Status), EventSeriesRun, attrs...)
}

// StatusSaved records a successful matrix status write.
func (l *Logger) StatusSaved(path string, updated int) {
	l.emit(slog.LevelInfo, EventMatrixStatusSaved,
		slog.String("path", path),
		slog.Int("updated_entries", updated),
	)
}

// StatusSaveFailed records a failed matrix status merge or write.
func (l *Logger) StatusSaveFailed(path string, err error) {
	l.emit(slog.LevelError, EventMatrixStatusSaveFailed,
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// MetadataSaveFailed records a failed metadata upsert.
func (l *Logger) MetadataSaveFailed(seriesID string, err error) {
	l.emit(slog.LevelError, EventMetadataSaveFailed,
		slog.String("series_id", seriesID),
		slog.String("error", err.Error()),
	)
}

// ReportGenerated records the written report artifacts.
func (l *Logger) ReportGenerated(asOf, markdownPath, jsonPath string) {
	l.emit(slog.LevelInfo, EventReportGenerated,
		slog.String("as_of", asOf),
		slog.String("markdown_path", markdownPath),
		slog.String("json_path", jsonPath),
	)
}

// Summary records status counts, total new points and duration for the run.
func (l *Logger) Summary(results []pipeline.RunResult) {
	if l == nil {
		return
	}
	counts := make(map[string]int)
	for st, n := range pipeline.StatusCounts(results) {
		counts[string(st)] = n
	}
	ended := l.now().UTC()
	l.emit(slog.LevelInfo, EventRunSummary,
		slog.String("started_at", l.run.StartedAt.Format(time.RFC3339Nano)),
		slog.String("ended_at", ended.Format(time.RFC3339Nano)),
		slog.Float64("duration_s", ended.Sub(l.run.StartedAt).Seconds()),
		slog.Int("series_total", len(results)),
		slog.Int("total_new_points", pipeline.TotalNewPoints(results)),
		slog.Any("status_counts", counts),
	)
}

func levelFor(s pipeline.Status) slog.Level {
	switch s {
	case pipeline.StatusOK:
		return slog.LevelInfo
	case pipeline.StatusError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
