package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/roach88/macrolens/internal/config"
	"github.com/roach88/macrolens/internal/pipeline"
	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/status"
	"github.com/roach88/macrolens/internal/store"
	"github.com/roach88/macrolens/internal/testutil"
	"github.com/roach88/macrolens/internal/timeseries"
)

// StatusFileName is the status document written under the data directory.
const StatusFileName = "matrix_status.json"

// Result contains the outcome of running a scenario.
type Result struct {
	// Pass is true if every run expectation and assertion held.
	Pass bool

	// Runs holds one trace per run step, in order.
	Runs []RunTrace

	// Status is the final matrix status document.
	Status status.File

	// Errors contains all expectation and assertion failures.
	Errors []string
}

// RunTrace records the results of one run step.
type RunTrace struct {
	AsOf    string         `json:"as_of"`
	Results []ResultRecord `json:"results"`
}

// ResultRecord is the deterministic form of a pipeline.RunResult.
type ResultRecord struct {
	SeriesID            string            `json:"series_id"`
	Provider            string            `json:"provider"`
	Status              string            `json:"status"`
	Message             string            `json:"message"`
	NewPoints           int               `json:"new_points"`
	RevisionOverwrites  int               `json:"revision_overwrites"`
	RevisionSample      []OverwriteRecord `json:"revision_sample,omitempty"`
	LastObservationDate *string           `json:"last_observation_date"`
	ErrorKind           string            `json:"error_kind,omitempty"`
	ErrorMessage        string            `json:"error_message,omitempty"`
}

// OverwriteRecord is one revised observation.
type OverwriteRecord struct {
	Date string   `json:"date"`
	Old  *float64 `json:"old"`
	New  *float64 `json:"new"`
}

// env is the state shared by all runs of one scenario.
type env struct {
	scenario *Scenario
	store    *store.Store
	stubs    map[string]*testutil.StubProvider
	runner   *pipeline.Runner
	status   string
}

// Run executes a scenario in workDir, which should be empty.
//
// Execution flow:
//  1. Open a store under workDir/data and one stub provider per provider id
//  2. For each run: script the stubs, run every enabled series at as_of,
//     check expectations and merge the results into the status file
//  3. Evaluate assertions against the store, the status file and the stubs
//
// The returned error covers setup and I/O failures only; expectation and
// assertion failures are reported in Result.Errors.
func Run(scenario *Scenario, workDir string) (*Result, error) {
	if scenario.matrix == nil {
		return nil, errors.New("scenario was not loaded through ParseScenario")
	}

	dataDir := filepath.Join(workDir, "data")
	st, err := store.Open(dataDir, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	settings := config.Defaults()
	settings.Paths.DataDir = dataDir
	if scenario.StaleDaysDefault != nil {
		settings.StaleDaysDefault = *scenario.StaleDaysDefault
	}

	e := &env{
		scenario: scenario,
		store:    st,
		stubs:    make(map[string]*testutil.StubProvider),
		status:   filepath.Join(dataDir, StatusFileName),
	}
	registry := providers.NewRegistry()
	for _, spec := range scenario.matrix.Series {
		if _, ok := e.stubs[spec.Provider]; ok {
			continue
		}
		stub := testutil.NewStubProvider(spec.Provider)
		e.stubs[spec.Provider] = stub
		registry.Register(spec.Provider, stub)
	}
	e.runner = &pipeline.Runner{
		Settings: settings,
		Registry: registry,
		Store:    st,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := &Result{Pass: true}
	for i, step := range scenario.Runs {
		trace, failures, err := e.runStep(step)
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}
		result.Runs = append(result.Runs, trace)
		for _, f := range failures {
			result.Errors = append(result.Errors, fmt.Sprintf("runs[%d] (%s): %s", i, step.AsOf, f))
		}
	}

	final, err := status.Load(e.status)
	if err != nil {
		return nil, fmt.Errorf("failed to load final status: %w", err)
	}
	result.Status = final

	for i, a := range scenario.Assertions {
		if err := e.evaluate(a, final); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	result.Pass = len(result.Errors) == 0
	return result, nil
}

// runStep scripts the stubs, runs the batch and persists status.
func (e *env) runStep(step RunStep) (RunTrace, []string, error) {
	for _, stub := range e.stubs {
		stub.Results = make(map[string]providers.FetchResult)
		stub.Errors = make(map[string]error)
	}
	for id, fs := range step.Fetch {
		spec, _ := e.scenario.matrix.Find(id)
		stub := e.stubs[spec.Provider]
		if fs.Error != "" {
			stub.Errors[spec.ProviderSymbol] = errors.New(fs.Error)
			continue
		}
		res, err := fs.fetchResult()
		if err != nil {
			return RunTrace{}, nil, fmt.Errorf("fetch %s: %w", id, err)
		}
		stub.Results[spec.ProviderSymbol] = res
	}

	results := e.runner.RunAll(context.Background(), e.scenario.matrix.Series, pipeline.RunOptions{AsOf: step.asOf})

	existing, err := status.Load(e.status)
	if err != nil {
		return RunTrace{}, nil, err
	}
	merged, err := status.Merge(existing, results, step.asOf)
	if err != nil {
		return RunTrace{}, nil, err
	}
	if err := status.Save(e.status, merged.Merged); err != nil {
		return RunTrace{}, nil, err
	}

	trace := RunTrace{AsOf: step.AsOf, Results: make([]ResultRecord, 0, len(results))}
	var failures []string
	for _, r := range results {
		rec := newResultRecord(r)
		trace.Results = append(trace.Results, rec)
		if want, ok := step.Expect[r.SeriesID]; ok {
			failures = append(failures, want.check(rec)...)
		}
	}
	for id := range step.Expect {
		if !hasResult(results, id) {
			failures = append(failures, fmt.Sprintf("%s: no result (series disabled?)", id))
		}
	}
	return trace, failures, nil
}

func (fs FetchStub) fetchResult() (providers.FetchResult, error) {
	st := providers.StatusOK
	if fs.Status != "" {
		parsed, err := providers.ParseStatus(fs.Status)
		if err != nil {
			return providers.FetchResult{}, err
		}
		st = parsed
	}
	msg := fs.Message
	if msg == "" {
		msg = string(st)
	}
	res := providers.FetchResult{Status: st, Message: msg}
	if fs.NoData {
		return res, nil
	}

	table := timeseries.NewTable()
	if len(fs.Columns) > 0 {
		table.Columns = append([]string(nil), fs.Columns...)
	}
	for _, row := range fs.Rows {
		table.Rows = append(table.Rows, append([]string(nil), row...))
	}
	res.Data = table
	return res, nil
}

func (want Expect) check(got ResultRecord) []string {
	var failures []string
	mismatch := func(field string, w, g any) {
		failures = append(failures, fmt.Sprintf("%s: %s expected %v, got %v", got.SeriesID, field, w, g))
	}
	if want.Status != "" && want.Status != got.Status {
		mismatch("status", want.Status, got.Status)
	}
	if want.Message != "" && want.Message != got.Message {
		mismatch("message", want.Message, got.Message)
	}
	if want.NewPoints != nil && *want.NewPoints != got.NewPoints {
		mismatch("new_points", *want.NewPoints, got.NewPoints)
	}
	if want.RevisionOverwrites != nil && *want.RevisionOverwrites != got.RevisionOverwrites {
		mismatch("revision_overwrites", *want.RevisionOverwrites, got.RevisionOverwrites)
	}
	if want.LastObservationDate != "" {
		last := "<nil>"
		if got.LastObservationDate != nil {
			last = *got.LastObservationDate
		}
		if want.LastObservationDate != last {
			mismatch("last_observation_date", want.LastObservationDate, last)
		}
	}
	if want.ErrorKind != "" && want.ErrorKind != got.ErrorKind {
		mismatch("error_kind", want.ErrorKind, got.ErrorKind)
	}
	return failures
}

func newResultRecord(r pipeline.RunResult) ResultRecord {
	rec := ResultRecord{
		SeriesID:           r.SeriesID,
		Provider:           r.Provider,
		Status:             string(r.Status),
		Message:            r.Message,
		NewPoints:          r.NewPoints,
		RevisionOverwrites: r.RevisionOverwritesCount,
		ErrorKind:          r.ErrorKind,
		ErrorMessage:       r.ErrorMessage,
	}
	for _, o := range r.RevisionOverwritesSample {
		rec.RevisionSample = append(rec.RevisionSample, OverwriteRecord{
			Date: o.Date.Format(timeseries.DateLayout),
			Old:  o.Old,
			New:  o.New,
		})
	}
	if r.LastObservationDate != nil {
		d := r.LastObservationDate.Format(timeseries.DateLayout)
		rec.LastObservationDate = &d
	}
	return rec
}

func hasResult(results []pipeline.RunResult, id string) bool {
	for _, r := range results {
		if r.SeriesID == id {
			return true
		}
	}
	return false
}
