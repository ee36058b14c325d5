package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/macrolens/internal/canonical"
	"github.com/roach88/macrolens/internal/status"
)

// Snapshot is the golden form of a scenario execution.
type Snapshot struct {
	Scenario string      `json:"scenario"`
	Runs     []RunTrace  `json:"runs"`
	Status   status.File `json:"status"`
}

// NewSnapshot builds the snapshot of result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{Scenario: name, Runs: result.Runs, Status: result.Status}
}

// RunWithGolden executes a scenario in workDir and compares its snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, workDir string) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, workDir)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := canonical.MarshalIndent(NewSnapshot(name, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
