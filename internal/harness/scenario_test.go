package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content next to an empty workspace directory and
// returns the scenario path.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ws"), 0o755))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
workspace: ws
notify:
  policy: ask
  confirm: [false]
steps:
  - op: change
    entity: 10
    payload:
      title: "oat milk"
      count: 2
    expect:
      case: accepted
  - op: release
    job: 1
assertions:
  - type: trace_contains
    event: change_finished
    args: { entity: 10 }
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, validScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "ws"), scenario.Workspace)
	assert.Equal(t, "ask", scenario.Notify.Policy)
	assert.Equal(t, []bool{false}, scenario.Notify.Confirm)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, OpChange, scenario.Steps[0].Op)
	assert.Equal(t, "oat milk", scenario.Steps[0].Payload["title"])
	assert.Equal(t, 2, scenario.Steps[0].Payload["count"])
	assert.Equal(t, CaseAccepted, scenario.Steps[0].Expect.Case)
	assert.Equal(t, int64(1), scenario.Steps[1].Job)
	require.Len(t, scenario.Assertions, 1)
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	path := writeScenario(t, validScenario)
	base := filepath.Dir(path)

	scenario, err := LoadScenarioWithBasePath(path, base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "ws"), scenario.Workspace)

	_, err = LoadScenarioWithBasePath(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace directory not found")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	path := writeScenario(t, "name: [unclosed")
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "typo in assertions"
workspace: ws
steps:
  - op: release_all
assertion:
  - type: trace_count
    event: request
    count: 0
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nworkspace: ws\nsteps: [{op: release_all}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nworkspace: ws\nsteps: [{op: release_all}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing workspace",
			content: "name: n\ndescription: d\nsteps: [{op: release_all}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "workspace is required",
		},
		{
			name:    "missing steps",
			content: "name: n\ndescription: d\nworkspace: ws\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "missing assertions",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: release_all}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "workspace not found",
			content: "name: n\ndescription: d\nworkspace: elsewhere\nsteps: [{op: release_all}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "workspace directory not found",
		},
		{
			name:    "bad policy",
			content: "name: n\ndescription: d\nworkspace: ws\nnotify: {policy: maybe}\nsteps: [{op: release_all}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "unknown notify policy",
		},
		{
			name:    "unknown op",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: explode}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: `steps[0]: unknown op "explode"`,
		},
		{
			name:    "change without entity",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: change}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "steps[0]: change requires entity",
		},
		{
			name:    "add without kind",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: add, collection: tasks}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "add requires collection and kind",
		},
		{
			name:    "release without job",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: release}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "release requires a positive job",
		},
		{
			name:    "begin without label",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: begin}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "begin requires atomic",
		},
		{
			name:    "expect without case",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: delete, entity: 1, expect: {}}]\nassertions: [{type: trace_count, event: request}]\n",
			wantErr: "steps[0].expect: case is required",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: release_all}]\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "trace_order without events",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: release_all}]\nassertions: [{type: trace_order}]\n",
			wantErr: "events list is required",
		},
		{
			name:    "negative count",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: release_all}]\nassertions: [{type: trace_count, event: request, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "final_state without expect",
			content: "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: release_all}]\nassertions: [{type: final_state, table: entities}]\n",
			wantErr: "expect or absent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_TraceCountZeroAllowed(t *testing.T) {
	path := writeScenario(t, "name: n\ndescription: d\nworkspace: ws\nsteps: [{op: release_all}]\nassertions: [{type: trace_count, event: entity_gone, count: 0}]\n")
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 0, scenario.Assertions[0].Count)
}

func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		assert.Equal(t, filepath.Join("testdata", "workspace"), scenario.Workspace)
	}
}
