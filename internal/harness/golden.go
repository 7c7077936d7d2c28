package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/privlog/internal/ir"
)

// Snapshot is the golden form of a run: step outcomes and final state.
// Event ids are left out so golden files stay readable.
type Snapshot struct {
	Scenario string                `json:"scenario"`
	Trace    []TraceEvent          `json:"trace"`
	State    map[string]AgentState `json:"state"`
}

// SnapshotJSON returns the canonical JSON of a run.
func SnapshotJSON(name string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(Snapshot{Scenario: name, Trace: result.Trace, State: result.State})
}

// RunWithGolden executes a scenario, fails t if it did not pass and
// compares its snapshot with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}

	data, err := SnapshotJSON(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
