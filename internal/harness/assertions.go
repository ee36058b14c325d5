package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/macrolens/internal/status"
	"github.com/roach88/macrolens/internal/timeseries"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Series   string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s %s: expected %s, got %s", e.Type, e.Series, e.Expected, e.Actual)
}

func (e *env) evaluate(a Assertion, final status.File) error {
	switch a.Type {
	case AssertStatusEntry:
		return assertStatusEntry(final, a)
	case AssertStoredPoints:
		return e.assertStoredPoints(a)
	case AssertStoredValue:
		return e.assertStoredValue(a)
	case AssertFetchCount:
		return e.assertFetchCount(a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertStatusEntry subset-matches the series entry of the final status file.
// An expected null requires the field to be null.
func assertStatusEntry(f status.File, a Assertion) error {
	entry, ok := f.Series[a.Series]
	if !ok {
		return &AssertionError{Type: a.Type, Series: a.Series, Expected: "a status entry", Actual: "none"}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	var actual map[string]any
	if err := json.Unmarshal(raw, &actual); err != nil {
		return err
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []string
	for _, k := range keys {
		got, present := actual[k]
		if !present {
			diffs = append(diffs, fmt.Sprintf("%s missing", k))
			continue
		}
		want := scalar(a.Expect[k])
		if want != scalar(got) {
			diffs = append(diffs, fmt.Sprintf("%s=%v", k, formatScalar(got)))
		}
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Series:   a.Series,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   strings.Join(diffs, ", "),
		}
	}
	return nil
}

func (e *env) assertStoredPoints(a Assertion) error {
	series, _, err := e.store.Load(a.Series)
	if err != nil {
		return err
	}
	if series.Len() != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Series:   a.Series,
			Expected: fmt.Sprintf("%d points", a.Count),
			Actual:   fmt.Sprintf("%d points", series.Len()),
		}
	}
	return nil
}

func (e *env) assertStoredValue(a Assertion) error {
	series, _, err := e.store.Load(a.Series)
	if err != nil {
		return err
	}
	day, err := time.Parse(time.DateOnly, a.Date)
	if err != nil {
		return err
	}

	fail := func(actual string) error {
		return &AssertionError{
			Type:     a.Type,
			Series:   a.Series,
			Expected: fmt.Sprintf("%s=%v", a.Date, formatScalar(a.Value)),
			Actual:   actual,
		}
	}

	for _, p := range series {
		if !p.Date.Equal(day) {
			continue
		}
		if p.Value == nil {
			if a.Value != nil {
				return fail("null")
			}
			return nil
		}
		if scalar(a.Value) != scalar(*p.Value) {
			return fail(fmt.Sprintf("%v", *p.Value))
		}
		return nil
	}
	return fail("no point on " + day.Format(timeseries.DateLayout))
}

func (e *env) assertFetchCount(a Assertion) error {
	spec, _ := e.scenario.matrix.Find(a.Series)
	count := 0
	for _, call := range e.stubs[spec.Provider].Calls() {
		if call.Symbol == spec.ProviderSymbol {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Series:   a.Series,
			Expected: fmt.Sprintf("%d calls", a.Count),
			Actual:   fmt.Sprintf("%d calls", count),
		}
	}
	return nil
}

// scalar reduces YAML and JSON values to a comparable form: numbers become
// float64 and timestamps become dates.
func scalar(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Format(timeseries.DateLayout)
	default:
		return v
	}
}

func formatScalar(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%v", v)
}
