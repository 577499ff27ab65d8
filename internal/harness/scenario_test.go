package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
settings:
  transitions: { create_user_for_contacts: true }
users:
  - { username: alice, contact_id: p1, roles: [chw] }
docs:
  - { _id: p1, type: person, name: Alice }
steps:
  - update:
      id: p1
      set: { name: Alice A. }
  - drain: true
assertions:
  - type: final_state
    table: docs
    where: { _id: p1 }
    expect: { name: Alice A. }
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, map[string]any{"create_user_for_contacts": true}, scenario.Settings["transitions"])
	require.Len(t, scenario.Users, 1)
	assert.Equal(t, []string{"chw"}, scenario.Users[0].Roles)
	require.Len(t, scenario.Docs, 1)
	assert.Equal(t, "p1", scenario.Docs[0]["_id"])
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, StepUpdate, scenario.Steps[0].Kind())
	assert.Equal(t, StepDrain, scenario.Steps[1].Kind())
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, TableDocs, scenario.Assertions[0].Table)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "Typo in assertions key"
steps:
  - drain: true
assertion:
  - type: run_count
    doc: p1
    count: 0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: "x"
steps: [{ drain: true }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: x
steps: [{ drain: true }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "description is required",
		},
		{
			name: "no steps",
			content: `
name: x
description: "x"
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "steps list is required",
		},
		{
			name: "no drain",
			content: `
name: x
description: "x"
steps: [{ put: { _id: p1 } }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "drain the feed at least once",
		},
		{
			name: "two actions in one step",
			content: `
name: x
description: "x"
steps: [{ drain: true, delete: p1 }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "exactly one of",
		},
		{
			name: "put without id",
			content: `
name: x
description: "x"
steps: [{ put: { type: person } }, { drain: true }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "steps[0].put: _id is required",
		},
		{
			name: "update without set",
			content: `
name: x
description: "x"
steps: [{ update: { id: p1 } }, { drain: true }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "steps[0].update: set is required",
		},
		{
			name: "user without contact",
			content: `
name: x
description: "x"
users: [{ username: alice }]
steps: [{ drain: true }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "users[0]: contact_id is required",
		},
		{
			name: "doc without id",
			content: `
name: x
description: "x"
docs: [{ type: person }]
steps: [{ drain: true }]
assertions: [{ type: run_count, doc: p1, count: 0 }]
`,
			wantErr: "docs[0]: _id is required",
		},
		{
			name: "no assertions",
			content: `
name: x
description: "x"
steps: [{ drain: true }]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown assertion type",
			content: `
name: x
description: "x"
steps: [{ drain: true }]
assertions: [{ type: trace_contains }]
`,
			wantErr: `unknown assertion type "trace_contains"`,
		},
		{
			name: "unknown table",
			content: `
name: x
description: "x"
steps: [{ drain: true }]
assertions: [{ type: final_state, table: users, count: 1 }]
`,
			wantErr: `unknown table "users"`,
		},
		{
			name: "final state without expect or count",
			content: `
name: x
description: "x"
steps: [{ drain: true }]
assertions: [{ type: final_state, table: docs, where: { _id: p1 } }]
`,
			wantErr: "expect or count is required",
		},
		{
			name: "run count without count",
			content: `
name: x
description: "x"
steps: [{ drain: true }]
assertions: [{ type: run_count, doc: p1 }]
`,
			wantErr: "non-negative count is required",
		},
		{
			name: "login without password",
			content: `
name: x
description: "x"
steps: [{ drain: true }]
assertions: [{ type: login, username: alice }]
`,
			wantErr: "username and password are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStepKind(t *testing.T) {
	assert.Equal(t, StepPut, Step{Put: map[string]any{"_id": "p1"}}.Kind())
	assert.Equal(t, StepUpdate, Step{Update: &DocUpdate{ID: "p1"}}.Kind())
	assert.Equal(t, StepDelete, Step{Delete: "p1"}.Kind())
	assert.Equal(t, StepSettings, Step{Settings: map[string]any{}}.Kind())
	assert.Equal(t, StepDrain, Step{Drain: true}.Kind())
	assert.Equal(t, StepReplay, Step{Replay: &ReplayStep{From: 1}}.Kind())
	assert.Equal(t, "", Step{}.Kind())
	assert.Equal(t, "", Step{Drain: true, Delete: "p1"}.Kind())
}
