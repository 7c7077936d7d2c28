package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: full
description: "every field"
agents: [alice, bob]
linked:
  - [alice, bob]
resend_interval: 90m
steps:
  - do: set_online
    agent: bob
    online: false
  - do: create
    agent: alice
    type: SharedEntry
    label: e1
    fields: { content: hi }
  - do: advance
    by: 2h
  - do: sync
    agent: alice
    with: bob
assertions:
  - type: awaiting
    agent: bob
    count: 0
`))
	require.NoError(t, err)

	assert.Equal(t, "full", scenario.Name)
	assert.Equal(t, 90*time.Minute, scenario.ResendInterval)
	assert.Equal(t, [][]string{{"alice", "bob"}}, scenario.Linked)
	require.Len(t, scenario.Steps, 4)
	require.NotNil(t, scenario.Steps[0].Online)
	assert.False(t, *scenario.Steps[0].Online)
	assert.Equal(t, "hi", scenario.Steps[1].Fields["content"])
	assert.Equal(t, 2*time.Hour, scenario.Steps[2].By)
	require.NotNil(t, scenario.Assertions[0].Count)
	assert.Equal(t, 0, *scenario.Assertions[0].Count)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nagents: [a]\nstep: []\n",
			want: "field step not found",
		},
		{
			name: "missing name",
			yaml: "description: d\nagents: [a]\nsteps: [{do: deliver}]\n",
			want: "name is required",
		},
		{
			name: "no agents",
			yaml: "name: x\ndescription: d\nsteps: [{do: deliver}]\n",
			want: "agents list is required",
		},
		{
			name: "duplicate agent",
			yaml: "name: x\ndescription: d\nagents: [a, a]\nsteps: [{do: deliver}]\n",
			want: "duplicate",
		},
		{
			name: "unknown step",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: dance}]\n",
			want: "unknown step",
		},
		{
			name: "create by unknown agent",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: create, agent: z, type: T}]\n",
			want: `unknown agent "z"`,
		},
		{
			name: "create without type",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: create, agent: a}]\n",
			want: "type is required",
		},
		{
			name: "bad expect",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: create, agent: a, type: T, expect: maybe}]\n",
			want: "expect must be",
		},
		{
			name: "duplicate label",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: create, agent: a, type: T, label: l}, {do: create, agent: a, type: T, label: l}]\n",
			want: "duplicate label",
		},
		{
			name: "advance without duration",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: advance}]\n",
			want: "positive duration",
		},
		{
			name: "set_online without value",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: set_online, agent: a}]\n",
			want: "online is required",
		},
		{
			name: "sync without peer",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: sync, agent: a}]\n",
			want: `unknown agent ""`,
		},
		{
			name: "assertion on unknown label",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: deliver}]\nassertions: [{type: has_event, agent: a, event: e}]\n",
			want: "unknown event label",
		},
		{
			name: "count missing",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: deliver}]\nassertions: [{type: event_count, agent: a}]\n",
			want: "count must be",
		},
		{
			name: "feed without contents",
			yaml: "name: x\ndescription: d\nagents: [a]\nsteps: [{do: deliver}]\nassertions: [{type: feed, agent: a}]\n",
			want: "contents is required",
		},
		{
			name: "unknown linked agent",
			yaml: "name: x\ndescription: d\nagents: [a]\nlinked: [[a, b]]\nsteps: [{do: deliver}]\n",
			want: "linked[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_FileErrors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o644))
	_, err = LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}
