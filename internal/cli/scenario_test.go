package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

func TestScenarioCommand_HarnessScenariosPass(t *testing.T) {
	var report ScenarioReport
	runJSON(t, &report, "scenario", harnessScenarios, "--golden", harnessGolden)

	assert.Positive(t, report.Total)
	assert.Equal(t, report.Total, report.Passed)
	assert.Zero(t, report.Failed)
	for _, s := range report.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
}

func TestScenarioCommand_Filter(t *testing.T) {
	var report ScenarioReport
	runJSON(t, &report, "scenario", harnessScenarios, "--filter", "share_*")

	require.Equal(t, 1, report.Total)
	assert.Equal(t, "share_with_friend", report.Scenarios[0].Name)
}

func TestScenarioCommand_TextOutput(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--filter", "share_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ share_with_friend")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestScenarioCommand_MissingDirectory(t *testing.T) {
	_, err := execute(t, "scenario", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioCommand_UpdateRequiresGolden(t *testing.T) {
	_, err := execute(t, "scenario", harnessScenarios, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_count
description: asserts a count that cannot hold
agents: [alice]
steps:
  - do: create
    agent: alice
    type: SharedEntry
    label: e1
    fields:
      content: hi
assertions:
  - type: event_count
    agent: alice
    count: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_count.yaml"), []byte(scenario), 0o644))

	out, err := execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
}

func TestScenarioCommand_UpdateThenCompare(t *testing.T) {
	golden := t.TempDir()

	var report ScenarioReport
	runJSON(t, &report, "scenario", harnessScenarios, "--filter", "share_*", "--golden", golden, "--update")
	require.Equal(t, 1, report.Passed)

	written, err := os.ReadFile(filepath.Join(golden, "share_with_friend.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessGolden, "share_with_friend.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	require.NoError(t, os.WriteFile(filepath.Join(golden, "share_with_friend.golden"), []byte("{}"), 0o644))
	_, err = execute(t, "scenario", harnessScenarios, "--filter", "share_*", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
