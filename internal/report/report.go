// Package report builds the daily delta report from stored series.
//
// For each enabled series the report carries the last non-null value and the
// absolute change against the value exactly 1, 5 and 21 calendar days earlier,
// plus a coarse risk regime derived from VIX and S&P 500 five-day moves.
package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/macrolens/internal/canonical"
	"github.com/roach88/macrolens/internal/sources"
	"github.com/roach88/macrolens/internal/store"
	"github.com/roach88/macrolens/internal/timeseries"
)

// Windows are the delta lookbacks in calendar days.
var Windows = []int{1, 5, 21}

// Series ids the risk regime reads.
const (
	VolatilitySeriesID = "vix"
	EquitySeriesID     = "sp500"
)

// Risk regimes.
const (
	RegimeRiskOff = "risk_off"
	RegimeRiskOn  = "risk_on"
	RegimeNeutral = "neutral"
	RegimeUnknown = "unknown"
)

// Meta describes when and for which day the report was produced.
type Meta struct {
	AsOfDate       string `json:"as_of_date"`
	GeneratedAtUTC string `json:"generated_at_utc"`
}

// Row is one series line.
type Row struct {
	ID       string              `json:"id"`
	Category string              `json:"category"`
	LastDate *string             `json:"last_date"`
	Last     *float64            `json:"last"`
	Deltas   map[string]*float64 `json:"deltas"`
}

// Report is the complete document.
type Report struct {
	Meta      Meta              `json:"meta"`
	Table     []Row             `json:"table"`
	RiskFlags map[string]string `json:"risk_flags"`
}

// SeriesLoader reads stored series.
type SeriesLoader interface {
	Load(id string) (timeseries.Series, bool, error)
}

// Build computes the report for specs (disabled ones are skipped) as of now,
// with the as-of date taken in loc.
func Build(specs []sources.SeriesSpec, loader SeriesLoader, now time.Time, loc *time.Location) (Report, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := Report{
		Meta: Meta{
			AsOfDate:       now.In(loc).Format(timeseries.DateLayout),
			GeneratedAtUTC: now.UTC().Format(time.RFC3339),
		},
		Table: []Row{},
	}

	byID := make(map[string]Row)
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		s, _, err := loader.Load(spec.ID)
		if err != nil {
			return Report{}, fmt.Errorf("load series %s: %w", spec.ID, err)
		}
		row := buildRow(spec, s)
		r.Table = append(r.Table, row)
		byID[row.ID] = row
	}

	r.RiskFlags = map[string]string{"risk_regime": RiskRegime(byID)}
	return r, nil
}

func buildRow(spec sources.SeriesSpec, s timeseries.Series) Row {
	row := Row{ID: spec.ID, Category: spec.Category, Deltas: make(map[string]*float64, len(Windows))}
	last, deltas := LastAndDeltas(s, Windows)
	for _, w := range Windows {
		row.Deltas[deltaKey(w)] = deltas[w]
	}
	if last != nil {
		d := last.Date.Format(timeseries.DateLayout)
		row.LastDate = &d
		row.Last = last.Value
	}
	return row
}

func deltaKey(w int) string { return "d" + strconv.Itoa(w) }

// LastAndDeltas returns the last non-null point and, per window, last minus the
// value exactly w days before it. A window whose target day is absent or null
// yields nil.
func LastAndDeltas(s timeseries.Series, windows []int) (*timeseries.Point, map[int]*float64) {
	deltas := make(map[int]*float64, len(windows))
	last, ok := s.LastValid()
	if !ok {
		for _, w := range windows {
			deltas[w] = nil
		}
		return nil, deltas
	}

	for _, w := range windows {
		prev, ok := s.ValueOn(last.Date.AddDate(0, 0, -w))
		if !ok {
			deltas[w] = nil
			continue
		}
		deltas[w] = timeseries.Float(*last.Value - prev)
	}
	return &last, deltas
}

// RiskRegime classifies the five-day VIX and S&P 500 moves.
func RiskRegime(rows map[string]Row) string {
	vix, ok1 := rows[VolatilitySeriesID]
	spx, ok2 := rows[EquitySeriesID]
	if !ok1 || !ok2 {
		return RegimeUnknown
	}
	vd, sd := vix.Deltas["d5"], spx.Deltas["d5"]
	if vd == nil || sd == nil {
		return RegimeUnknown
	}
	switch {
	case *vd > 0 && *sd < 0:
		return RegimeRiskOff
	case *vd < 0 && *sd > 0:
		return RegimeRiskOn
	default:
		return RegimeNeutral
	}
}

// FormatNumber renders v with up to six decimals and no trailing zeros; nil is "—".
func FormatNumber(v *float64) string {
	if v == nil {
		return "—"
	}
	s := strconv.FormatFloat(*v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// RenderMarkdown renders the report as Markdown.
func RenderMarkdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# macrolens Report (%s)\n\n", r.Meta.AsOfDate)
	fmt.Fprintf(&b, "Generated at (UTC): %s\n\n", r.Meta.GeneratedAtUTC)

	b.WriteString("## Risk Flags\n")
	for _, k := range sortedKeys(r.RiskFlags) {
		fmt.Fprintf(&b, "- %s: %s\n", k, r.RiskFlags[k])
	}
	b.WriteString("\n")

	b.WriteString("## Series Table\n\n")
	b.WriteString("| id | category | last | Δ1d | Δ5d | Δ21d |\n")
	b.WriteString("|---|---|---:|---:|---:|---:|\n")
	for _, row := range r.Table {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			row.ID, row.Category,
			FormatNumber(row.Last),
			FormatNumber(row.Deltas["d1"]),
			FormatNumber(row.Deltas["d5"]),
			FormatNumber(row.Deltas["d21"]),
		)
	}
	return b.String()
}

// Paths returns the Markdown and JSON file paths for an as-of date.
func Paths(dir, asOfDate string) (mdPath, jsonPath string) {
	stamp := strings.ReplaceAll(asOfDate, "-", "")
	return filepath.Join(dir, "report-"+stamp+".md"), filepath.Join(dir, "report-"+stamp+".json")
}

// Write stores the report under dir, replacing any report for the same day.
func Write(r Report, dir string) (mdPath, jsonPath string, err error) {
	mdPath, jsonPath = Paths(dir, r.Meta.AsOfDate)

	if err := store.WriteFileAtomic(mdPath, []byte(RenderMarkdown(r))); err != nil {
		return "", "", fmt.Errorf("write report markdown: %w", err)
	}
	data, err := canonical.MarshalIndent(r)
	if err != nil {
		return "", "", fmt.Errorf("encode report json: %w", err)
	}
	if err := store.WriteFileAtomic(jsonPath, data); err != nil {
		return "", "", fmt.Errorf("write report json: %w", err)
	}
	return mdPath, jsonPath, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
