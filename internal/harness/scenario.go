package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/macrolens/internal/sources"
)

// Scenario is a sequence of ingestion runs over one sources matrix.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// StaleDaysDefault overrides the global staleness threshold.
	StaleDaysDefault *int `yaml:"stale_days_default,omitempty"`

	// Matrix is an inline sources matrix, validated like a matrix file.
	Matrix yaml.Node `yaml:"matrix"`

	// Runs execute in order against the same data directory.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the final stored series and status file.
	Assertions []Assertion `yaml:"assertions"`

	matrix *sources.Matrix
}

// RunStep is one run-all invocation.
type RunStep struct {
	// AsOf is the reference date (YYYY-MM-DD).
	AsOf string `yaml:"as_of"`

	// Fetch scripts the provider response per series id.
	Fetch map[string]FetchStub `yaml:"fetch"`

	// Expect checks individual run results (subset match).
	Expect map[string]Expect `yaml:"expect,omitempty"`

	asOf time.Time
}

// FetchStub is a scripted provider response.
type FetchStub struct {
	// Status defaults to ok.
	Status  string `yaml:"status,omitempty"`
	Message string `yaml:"message,omitempty"`

	// Columns default to date, value.
	Columns []string   `yaml:"columns,omitempty"`
	Rows    [][]string `yaml:"rows,omitempty"`

	// NoData returns the result without a table.
	NoData bool `yaml:"no_data,omitempty"`

	// Error makes the adapter fail with this message.
	Error string `yaml:"error,omitempty"`
}

// Expect is the expected outcome of one series in one run. Empty or nil
// fields are not checked.
type Expect struct {
	Status              string `yaml:"status"`
	Message             string `yaml:"message,omitempty"`
	NewPoints           *int   `yaml:"new_points,omitempty"`
	RevisionOverwrites  *int   `yaml:"revision_overwrites,omitempty"`
	LastObservationDate string `yaml:"last_observation_date,omitempty"`
	ErrorKind           string `yaml:"error_kind,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Series is the series id the assertion targets.
	Series string `yaml:"series"`

	// Expect holds expected status entry fields (status_entry).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of points or calls.
	Count int `yaml:"count,omitempty"`

	// Date and Value select a stored observation (stored_value).
	Date  string `yaml:"date,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertStatusEntry  = "status_entry"
	AssertStoredPoints = "stored_points"
	AssertStoredValue  = "stored_value"
	AssertFetchCount   = "fetch_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, path)
}

// ParseScenario parses scenario YAML; name is used in error messages.
func ParseScenario(data []byte, name string) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario, name); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and resolves the matrix and dates.
func validateScenario(s *Scenario, name string) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Matrix.Kind == 0 {
		return errors.New("matrix is required")
	}
	if len(s.Runs) == 0 {
		return errors.New("runs list is required and must be non-empty")
	}

	raw, err := yaml.Marshal(&s.Matrix)
	if err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	m, err := sources.Parse(raw, name)
	if err != nil {
		return err
	}
	s.matrix = m

	symbols := make(map[string]string)
	for _, spec := range m.Series {
		key := spec.Provider + "/" + spec.ProviderSymbol
		if other, dup := symbols[key]; dup {
			return fmt.Errorf("series %s and %s share provider symbol %s", other, spec.ID, key)
		}
		symbols[key] = spec.ID
	}

	for i := range s.Runs {
		run := &s.Runs[i]
		run.asOf, err = time.Parse(time.DateOnly, run.AsOf)
		if err != nil {
			return fmt.Errorf("runs[%d]: as_of must be YYYY-MM-DD: %w", i, err)
		}
		for id := range run.Fetch {
			if _, ok := m.Find(id); !ok {
				return fmt.Errorf("runs[%d].fetch: unknown series %q", i, id)
			}
		}
		for id := range run.Expect {
			if _, ok := m.Find(id); !ok {
				return fmt.Errorf("runs[%d].expect: unknown series %q", i, id)
			}
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertStatusEntry, AssertStoredPoints, AssertStoredValue, AssertFetchCount:
		default:
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
		if _, ok := m.Find(a.Series); !ok {
			return fmt.Errorf("assertions[%d]: unknown series %q", i, a.Series)
		}
		if a.Type == AssertStoredValue {
			if _, err := time.Parse(time.DateOnly, a.Date); err != nil {
				return fmt.Errorf("assertions[%d]: date must be YYYY-MM-DD", i)
			}
		}
	}
	return nil
}
