// Package sources loads the sources matrix: the YAML list of every series the
// pipeline ingests.
package sources

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Defaults applied to optional fields.
const (
	DefaultFrequency = "daily"
	DefaultTimezone  = "UTC"
	DefaultTransform = "none"
)

// ErrDuplicateSeries is returned when two entries share an id.
var ErrDuplicateSeries = errors.New("duplicate series ids in sources matrix")

// SchemaError lists every schema violation found in a matrix document.
type SchemaError struct {
	Path     string
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid sources matrix %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

// SeriesSpec describes one series to ingest.
type SeriesSpec struct {
	ID              string
	Provider        string
	ProviderSymbol  string
	Category        string
	FrequencyTarget string
	Timezone        string
	Units           string
	Transform       string
	Notes           string
	// StaleDays overrides the global staleness threshold when set.
	StaleDays *int
	Enabled   bool
}

// Matrix is a loaded sources matrix with series sorted by id.
type Matrix struct {
	Version int
	Series  []SeriesSpec
	Path    string
}

// Enabled returns the enabled series in id order.
func (m *Matrix) Enabled() []SeriesSpec {
	out := make([]SeriesSpec, 0, len(m.Series))
	for _, s := range m.Series {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the series with the given id.
func (m *Matrix) Find(id string) (SeriesSpec, bool) {
	i := sort.Search(len(m.Series), func(i int) bool { return m.Series[i].ID >= id })
	if i < len(m.Series) && m.Series[i].ID == id {
		return m.Series[i], true
	}
	return SeriesSpec{}, false
}

type matrixYAML struct {
	Version int          `yaml:"version"`
	Series  []seriesYAML `yaml:"series"`
}

// seriesYAML mirrors the file layout. last_ok and status are written by older
// tooling and are accepted but ignored.
type seriesYAML struct {
	ID              string  `yaml:"id"`
	Provider        string  `yaml:"provider"`
	ProviderSymbol  string  `yaml:"provider_symbol"`
	Category        string  `yaml:"category"`
	FrequencyTarget string  `yaml:"frequency_target"`
	Timezone        string  `yaml:"timezone"`
	Units           string  `yaml:"units"`
	Transform       string  `yaml:"transform"`
	Notes           string  `yaml:"notes"`
	StaleDays       *int    `yaml:"stale_days"`
	Enabled         *bool   `yaml:"enabled"`
	LastOK          *string `yaml:"last_ok"`
	Status          *string `yaml:"status"`
}

// Load reads and validates the matrix at path.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources matrix: %w", err)
	}
	m, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Parse decodes and validates a matrix document. name is used in error messages.
func Parse(data []byte, name string) (*Matrix, error) {
	var doc matrixYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &SchemaError{Path: name, Problems: []string{"document is empty"}}
		}
		return nil, fmt.Errorf("parse sources matrix %s: %w", name, err)
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse sources matrix %s: %w", name, err)
	}
	if top, ok := generic.(map[string]any); !ok || top["series"] == nil {
		return nil, &SchemaError{Path: name, Problems: []string{"series: field is required"}}
	}
	if err := validateSchema(generic, name); err != nil {
		return nil, err
	}

	m := &Matrix{Version: doc.Version, Path: name}
	if m.Version == 0 {
		m.Version = 1
	}
	for _, s := range doc.Series {
		m.Series = append(m.Series, s.spec())
	}

	if dups := duplicateIDs(m.Series); len(dups) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateSeries, dups)
	}

	sort.SliceStable(m.Series, func(i, j int) bool { return m.Series[i].ID < m.Series[j].ID })
	return m, nil
}

func (s seriesYAML) spec() SeriesSpec {
	spec := SeriesSpec{
		ID:              s.ID,
		Provider:        s.Provider,
		ProviderSymbol:  s.ProviderSymbol,
		Category:        s.Category,
		FrequencyTarget: s.FrequencyTarget,
		Timezone:        s.Timezone,
		Units:           s.Units,
		Transform:       s.Transform,
		Notes:           s.Notes,
		StaleDays:       s.StaleDays,
		Enabled:         true,
	}
	if spec.FrequencyTarget == "" {
		spec.FrequencyTarget = DefaultFrequency
	}
	if spec.Timezone == "" {
		spec.Timezone = DefaultTimezone
	}
	if spec.Transform == "" {
		spec.Transform = DefaultTransform
	}
	if s.Enabled != nil {
		spec.Enabled = *s.Enabled
	}
	return spec
}

// validateSchema unifies the decoded document with the #Matrix definition.
func validateSchema(doc any, name string) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile matrix schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Matrix")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Path: name, Problems: cueProblems(err)}
	}
	return nil
}

func cueProblems(err error) []string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

func duplicateIDs(series []SeriesSpec) []string {
	seen := make(map[string]int, len(series))
	var dup []string
	for _, s := range series {
		seen[s.ID]++
		if seen[s.ID] == 2 {
			dup = append(dup, s.ID)
		}
	}
	sort.Strings(dup)
	return dup
}
