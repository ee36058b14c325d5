package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/macrolens/internal/sources"
	"github.com/roach88/macrolens/internal/store"
	"github.com/roach88/macrolens/internal/timeseries"
)

type mapLoader map[string]timeseries.Series

func (m mapLoader) Load(id string) (timeseries.Series, bool, error) {
	s, ok := m[id]
	return s, ok, nil
}

type failingLoader struct{}

func (failingLoader) Load(string) (timeseries.Series, bool, error) {
	return nil, false, errors.New("corrupt")
}

func d(s string) time.Time {
	t, err := time.Parse(timeseries.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func pt(date string, v float64) timeseries.Point {
	return timeseries.Point{Date: d(date), Value: timeseries.Float(v)}
}

var (
	now    = time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	vienna = mustLoc("Europe/Vienna")
)

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func fixtureSpecs() []sources.SeriesSpec {
	return []sources.SeriesSpec{
		{ID: "sp500", Category: "equities", Enabled: true},
		{ID: "us_10y", Category: "rates", Enabled: true},
		{ID: "us_cpi", Category: "inflation", Enabled: false},
		{ID: "vix", Category: "volatility", Enabled: true},
	}
}

func fixtureLoader() mapLoader {
	return mapLoader{
		"sp500": {
			pt("2024-02-05", 5000),
			pt("2024-02-25", 5150),
			pt("2024-02-29", 5090),
			pt("2024-03-01", 5100.25),
		},
		"vix": {
			pt("2024-02-09", 15.125),
			pt("2024-02-25", 13),
			pt("2024-02-29", 13.75),
			pt("2024-03-01", 14.5),
			{Date: d("2024-03-02")},
		},
		"us_cpi": {pt("2024-01-01", 300)},
	}
}

func fixtureReport(t *testing.T) Report {
	t.Helper()
	r, err := Build(fixtureSpecs(), fixtureLoader(), now, vienna)
	require.NoError(t, err)
	return r
}

func TestBuild_Golden(t *testing.T) {
	r := fixtureReport(t)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report_markdown", []byte(RenderMarkdown(r)))

	dir := t.TempDir()
	mdPath, jsonPath, err := Write(r, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report-20240302.md"), mdPath)
	assert.Equal(t, filepath.Join(dir, "report-20240302.json"), jsonPath)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	g.Assert(t, "report_json", data)
}

func TestBuild_SkipsDisabledAndKeepsOrder(t *testing.T) {
	r := fixtureReport(t)

	require.Len(t, r.Table, 3)
	assert.Equal(t, "sp500", r.Table[0].ID)
	assert.Equal(t, "us_10y", r.Table[1].ID)
	assert.Equal(t, "vix", r.Table[2].ID)
	assert.Equal(t, "2024-03-02", r.Meta.AsOfDate)
}

func TestBuild_LoadErrorIsReturned(t *testing.T) {
	_, err := Build(fixtureSpecs(), failingLoader{}, now, time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sp500")
}

func TestBuild_FromStore(t *testing.T) {
	st, err := store.Open(t.TempDir(), 2)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Write("vix", fixtureLoader()["vix"]))

	r, err := Build([]sources.SeriesSpec{{ID: "vix", Category: "volatility", Enabled: true}}, st, now, time.UTC)
	require.NoError(t, err)
	require.Len(t, r.Table, 1)
	assert.Equal(t, 14.5, *r.Table[0].Last)
	assert.Equal(t, RegimeUnknown, r.RiskFlags["risk_regime"])
	assert.Equal(t, "2024-03-01", r.Meta.AsOfDate)
}

func TestLastAndDeltas_ExactDayOnly(t *testing.T) {
	s := timeseries.Series{pt("2024-01-01", 1), pt("2024-01-03", 4)}

	last, deltas := LastAndDeltas(s, []int{1, 2})
	require.NotNil(t, last)
	assert.Equal(t, 4.0, *last.Value)
	assert.Nil(t, deltas[1], "no observation exactly one day earlier")
	require.NotNil(t, deltas[2])
	assert.Equal(t, 3.0, *deltas[2])
}

func TestLastAndDeltas_NullTargetIsNil(t *testing.T) {
	s := timeseries.Series{{Date: d("2024-01-01")}, pt("2024-01-02", 4)}

	_, deltas := LastAndDeltas(s, []int{1})
	assert.Nil(t, deltas[1])
}

func TestLastAndDeltas_AllNull(t *testing.T) {
	s := timeseries.Series{{Date: d("2024-01-01")}}

	last, deltas := LastAndDeltas(s, Windows)
	assert.Nil(t, last)
	assert.Len(t, deltas, 3)
	for _, v := range deltas {
		assert.Nil(t, v)
	}
}

func TestRiskRegime(t *testing.T) {
	row := func(id string, d5 *float64) Row {
		return Row{ID: id, Deltas: map[string]*float64{"d5": d5}}
	}
	f := timeseries.Float

	tests := []struct {
		name string
		rows map[string]Row
		want string
	}{
		{"risk off", map[string]Row{"vix": row("vix", f(1)), "sp500": row("sp500", f(-1))}, RegimeRiskOff},
		{"risk on", map[string]Row{"vix": row("vix", f(-1)), "sp500": row("sp500", f(1))}, RegimeRiskOn},
		{"both up", map[string]Row{"vix": row("vix", f(1)), "sp500": row("sp500", f(1))}, RegimeNeutral},
		{"flat", map[string]Row{"vix": row("vix", f(0)), "sp500": row("sp500", f(-1))}, RegimeNeutral},
		{"missing delta", map[string]Row{"vix": row("vix", nil), "sp500": row("sp500", f(1))}, RegimeUnknown},
		{"missing series", map[string]Row{"vix": row("vix", f(1))}, RegimeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskRegime(tt.rows))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	f := timeseries.Float
	assert.Equal(t, "—", FormatNumber(nil))
	assert.Equal(t, "1", FormatNumber(f(1)))
	assert.Equal(t, "1.5", FormatNumber(f(1.5)))
	assert.Equal(t, "0.333333", FormatNumber(f(1.0/3)))
	assert.Equal(t, "-2.25", FormatNumber(f(-2.25)))
	assert.Equal(t, "0", FormatNumber(f(0)))
}
