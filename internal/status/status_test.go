package status

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/macrolens/internal/pipeline"
)

var runAt = time.Date(2025, 1, 2, 6, 30, 0, 0, time.UTC)

func sp(s string) *string { return &s }

func result(id string, st pipeline.Status, msg string) pipeline.RunResult {
	return pipeline.RunResult{SeriesID: id, Provider: "fred", Status: st, Message: msg}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "matrix_status.json"))
	require.NoError(t, err)
	assert.Equal(t, NewFile(), f)
}

func TestLoad_BlankFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix_status.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, NewFile(), f)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"array", `[1,2]`},
		{"null", `null`},
		{"unknown field", `{"version":1,"series":{},"extra":true}`},
		{"unknown status", `{"version":1,"series":{"a":{"status":"great"}}}`},
		{"missing status", `{"version":1,"series":{"a":{}}}`},
		{"trailing", `{"version":1,"series":{}} {}`},
		{"garbage", `{"version":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestMerge_NewEntry(t *testing.T) {
	obs := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := result("a", pipeline.StatusOK, "ok")
	r.LastObservationDate = &obs

	res, err := Merge(NewFile(), []pipeline.RunResult{r}, runAt)
	require.NoError(t, err)

	assert.Equal(t, 1, res.UpdatedEntries)
	assert.Equal(t, "2025-01-02T06:30:00Z", *res.Merged.UpdatedAt)
	assert.Equal(t, Entry{
		Status:              pipeline.StatusOK,
		LastOK:              sp("2025-01-02"),
		LastRunAt:           sp("2025-01-02T06:30:00Z"),
		LastObservationDate: sp("2025-01-01"),
	}, res.Merged.Series["a"])
}

func TestMerge_LastOKSurvivesNonOKRuns(t *testing.T) {
	existing := NewFile()
	existing.Series["a"] = Entry{Status: pipeline.StatusError, LastOK: sp("2024-12-31"), LastError: sp("boom")}

	res, err := Merge(existing, []pipeline.RunResult{result("a", pipeline.StatusWarn, "stale")}, runAt)
	require.NoError(t, err)
	e := res.Merged.Series["a"]
	assert.Equal(t, pipeline.StatusWarn, e.Status)
	assert.Equal(t, "2024-12-31", *e.LastOK)
	assert.Equal(t, "stale", *e.LastError)

	for i := 0; i < 5; i++ {
		res, err = Merge(res.Merged, []pipeline.RunResult{result("a", pipeline.StatusError, "provider fetch failed")}, runAt.AddDate(0, 0, i+1))
		require.NoError(t, err)
	}
	assert.Equal(t, "2024-12-31", *res.Merged.Series["a"].LastOK)
}

func TestMerge_OKSetsLastOKAndClearsError(t *testing.T) {
	existing := NewFile()
	existing.Series["a"] = Entry{Status: pipeline.StatusMissing, LastError: sp("FRED_API_KEY missing")}

	res, err := Merge(existing, []pipeline.RunResult{result("a", pipeline.StatusOK, "ok")}, runAt)
	require.NoError(t, err)

	e := res.Merged.Series["a"]
	assert.Equal(t, "2025-01-02", *e.LastOK)
	assert.Nil(t, e.LastError)
}

func TestMerge_ErrorMessagePreferredOverMessage(t *testing.T) {
	r := result("a", pipeline.StatusError, "provider fetch failed")
	r.ErrorMessage = "dial tcp: timeout"

	res, err := Merge(NewFile(), []pipeline.RunResult{r}, runAt)
	require.NoError(t, err)
	assert.Equal(t, "dial tcp: timeout", *res.Merged.Series["a"].LastError)
}

func TestMerge_EmptyMessageKeepsPreviousError(t *testing.T) {
	existing := NewFile()
	existing.Series["a"] = Entry{Status: pipeline.StatusError, LastError: sp("old")}

	res, err := Merge(existing, []pipeline.RunResult{result("a", pipeline.StatusWarn, "")}, runAt)
	require.NoError(t, err)
	assert.Equal(t, "old", *res.Merged.Series["a"].LastError)
}

func TestMerge_UntouchedEntriesCarriedOver(t *testing.T) {
	existing := NewFile()
	other := Entry{Status: pipeline.StatusWarn, LastOK: sp("2020-01-01"), LastError: sp("x")}
	existing.Series["other"] = other

	res, err := Merge(existing, []pipeline.RunResult{result("a", pipeline.StatusOK, "ok")}, runAt)
	require.NoError(t, err)
	assert.Equal(t, other, res.Merged.Series["other"])
	assert.Equal(t, 1, res.UpdatedEntries)
}

func TestMerge_DoesNotMutateExisting(t *testing.T) {
	existing := NewFile()
	existing.Series["a"] = Entry{Status: pipeline.StatusError, LastError: sp("old")}

	_, err := Merge(existing, []pipeline.RunResult{result("a", pipeline.StatusOK, "ok"), result("b", pipeline.StatusOK, "ok")}, runAt)
	require.NoError(t, err)

	assert.Len(t, existing.Series, 1)
	assert.Equal(t, pipeline.StatusError, existing.Series["a"].Status)
	assert.Equal(t, "old", *existing.Series["a"].LastError)
	assert.Nil(t, existing.UpdatedAt)
}

func TestMerge_Idempotent(t *testing.T) {
	results := []pipeline.RunResult{
		result("a", pipeline.StatusOK, "ok"),
		result("b", pipeline.StatusError, "boom"),
	}

	first, err := Merge(NewFile(), results, runAt)
	require.NoError(t, err)
	assert.Equal(t, 2, first.UpdatedEntries)

	second, err := Merge(first.Merged, results, runAt)
	require.NoError(t, err)
	assert.Equal(t, 0, second.UpdatedEntries)
	assert.Equal(t, first.Merged, second.Merged)
}

func TestMerge_OrderIndependent(t *testing.T) {
	a := result("a", pipeline.StatusOK, "ok")
	b := result("b", pipeline.StatusWarn, "stale")

	x, err := Merge(NewFile(), []pipeline.RunResult{a, b}, runAt)
	require.NoError(t, err)
	y, err := Merge(NewFile(), []pipeline.RunResult{b, a}, runAt)
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestMerge_DuplicateResult(t *testing.T) {
	_, err := Merge(NewFile(), []pipeline.RunResult{
		result("a", pipeline.StatusOK, "ok"),
		result("a", pipeline.StatusError, "boom"),
	}, runAt)
	assert.True(t, errors.Is(err, ErrDuplicateResult))
}

func TestMerge_RunAtNormalizedToUTC(t *testing.T) {
	vienna := time.FixedZone("CET", 3600)
	res, err := Merge(NewFile(), []pipeline.RunResult{result("a", pipeline.StatusOK, "ok")},
		time.Date(2025, 1, 3, 0, 30, 0, 0, vienna))
	require.NoError(t, err)

	e := res.Merged.Series["a"]
	assert.Equal(t, "2025-01-02T23:30:00Z", *e.LastRunAt)
	assert.Equal(t, "2025-01-02", *e.LastOK)
}

func TestSave_RoundTripAndFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "matrix_status.json")

	res, err := Merge(NewFile(), []pipeline.RunResult{result("b", pipeline.StatusOK, "ok"), result("a", pipeline.StatusError, "boom")}, runAt)
	require.NoError(t, err)
	require.NoError(t, Save(path, res.Merged))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := `{
  "series": {
    "a": {
      "last_error": "boom",
      "last_observation_date": null,
      "last_ok": null,
      "last_run_at": "2025-01-02T06:30:00Z",
      "status": "error"
    },
    "b": {
      "last_error": null,
      "last_observation_date": null,
      "last_ok": "2025-01-02",
      "last_run_at": "2025-01-02T06:30:00Z",
      "status": "ok"
    }
  },
  "updated_at": "2025-01-02T06:30:00Z",
  "version": 1
}
`
	assert.Equal(t, want, string(data))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, res.Merged, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestIdentifyStale(t *testing.T) {
	f := NewFile()
	f.Series["fresh"] = Entry{Status: pipeline.StatusOK, LastObservationDate: sp("2025-01-01")}
	f.Series["old"] = Entry{Status: pipeline.StatusWarn, LastObservationDate: sp("2024-12-01")}
	f.Series["older"] = Entry{Status: pipeline.StatusWarn, LastObservationDate: sp("2024-11-01")}
	f.Series["tie"] = Entry{Status: pipeline.StatusOK, LastObservationDate: sp("2024-12-01")}
	f.Series["monthly"] = Entry{Status: pipeline.StatusOK, LastObservationDate: sp("2024-12-01")}
	f.Series["never"] = Entry{Status: pipeline.StatusMissing}

	ref := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	stale, err := IdentifyStale(f, ref, 7, map[string]int{"monthly": 45})
	require.NoError(t, err)

	require.Len(t, stale, 3)
	assert.Equal(t, "older", stale[0].SeriesID)
	assert.Equal(t, 62, stale[0].DeltaDays)
	assert.Equal(t, "old", stale[1].SeriesID)
	assert.Equal(t, "tie", stale[2].SeriesID)
	assert.Equal(t, 32, stale[2].DeltaDays)
	assert.Equal(t, 7, stale[2].Threshold)
}

func TestIdentifyStale_BadDate(t *testing.T) {
	f := NewFile()
	f.Series["a"] = Entry{Status: pipeline.StatusOK, LastObservationDate: sp("01/02/2025")}

	_, err := IdentifyStale(f, runAt, 7, nil)
	assert.Error(t, err)
}

func TestIsStale(t *testing.T) {
	now := time.Date(2025, 1, 10, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, 5, DataAgeDays(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), now))
	assert.False(t, IsStale(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), now, 5))
	assert.True(t, IsStale(time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC), now, 5))
}
