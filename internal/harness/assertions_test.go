package harness

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func testState() State {
	return State{
		TableAccounts: {
			{"name": "alice", "contact_id": "p1", "roles": []any{"chw"}, "token_login": false},
			{"name": "alice-tablet", "contact_id": "p1", "roles": []any{"chw"}, "token_login": false},
			{"name": "bob-1234", "contact_id": "p2", "roles": []any{"chw", "supervisor"}, "token_login": true},
		},
		TableDocs: {
			{
				"_id":  "p1",
				"type": "person",
				"age":  json.Number("42"),
				"errors": []any{
					map[string]any{"code": "MISSING_PHONE", "message": "Missing required fields: phone"},
				},
				"user_for_contact": map[string]any{
					"replace": map[string]any{
						"alice": map[string]any{"status": "READY", "replacement_contact_id": "p2"},
					},
				},
			},
		},
		TableRuns: {
			{"doc_id": "p1", "transition": "create_user_for_contacts", "ok": false},
			{"doc_id": "p1", "transition": "create_user_for_contacts", "ok": true},
			{"doc_id": "p1", "transition": "other", "ok": true},
		},
	}
}

func TestAssertFinalState_Match(t *testing.T) {
	err := assertFinalState(testState(), Assertion{
		Type:   AssertFinalState,
		Table:  TableAccounts,
		Where:  map[string]any{"name": "bob-1234"},
		Expect: map[string]any{"contact_id": "p2", "token_login": true, "roles": []any{"supervisor"}},
	})
	assert.NoError(t, err)
}

func TestAssertFinalState_NestedSubset(t *testing.T) {
	err := assertFinalState(testState(), Assertion{
		Type:  AssertFinalState,
		Table: TableDocs,
		Where: map[string]any{"_id": "p1"},
		Expect: map[string]any{
			"age":    42,
			"errors": []any{map[string]any{"code": "MISSING_PHONE"}},
			"user_for_contact": map[string]any{
				"replace": map[string]any{"alice": map[string]any{"status": "READY"}},
			},
		},
	})
	assert.NoError(t, err)
}

func TestAssertFinalState_ValueMismatch(t *testing.T) {
	err := assertFinalState(testState(), Assertion{
		Type:   AssertFinalState,
		Table:  TableAccounts,
		Where:  map[string]any{"name": "alice"},
		Expect: map[string]any{"token_login": true},
	})
	require.Error(t, err)

	var assertErr *AssertionError
	require.True(t, errors.As(err, &assertErr))
	assert.Equal(t, AssertFinalState, assertErr.Type)
	assert.Contains(t, assertErr.Expected, `field "token_login" = true`)
	assert.Contains(t, assertErr.Actual, `field "token_login" = false`)
}

func TestAssertFinalState_MissingField(t *testing.T) {
	err := assertFinalState(testState(), Assertion{
		Type:   AssertFinalState,
		Table:  TableAccounts,
		Where:  map[string]any{"name": "alice"},
		Expect: map[string]any{"phone": "+254700000000"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "phone" to exist`)
}

func TestAssertFinalState_NotFound(t *testing.T) {
	err := assertFinalState(testState(), Assertion{
		Type:   AssertFinalState,
		Table:  TableAccounts,
		Where:  map[string]any{"name": "carol"},
		Expect: map[string]any{"contact_id": "p3"},
	})
	require.Error(t, err)

	var assertErr *AssertionError
	require.True(t, errors.As(err, &assertErr))
	assert.Equal(t, "record not found", assertErr.Actual)
	assert.Len(t, assertErr.Records, 3, "failure lists the table for context")
}

func TestAssertFinalState_Ambiguous(t *testing.T) {
	err := assertFinalState(testState(), Assertion{
		Type:   AssertFinalState,
		Table:  TableAccounts,
		Where:  map[string]any{"contact_id": "p1"},
		Expect: map[string]any{"token_login": false},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 records matched (assertion is ambiguous)")
}

func TestAssertFinalState_Count(t *testing.T) {
	state := testState()

	assert.NoError(t, assertFinalState(state, Assertion{
		Type:  AssertFinalState,
		Table: TableAccounts,
		Where: map[string]any{"contact_id": "p1"},
		Count: intPtr(2),
	}))

	assert.NoError(t, assertFinalState(state, Assertion{
		Type:   AssertFinalState,
		Table:  TableRuns,
		Where:  map[string]any{"doc_id": "p1"},
		Expect: map[string]any{"ok": true},
		Count:  intPtr(2),
	}))

	assert.NoError(t, assertFinalState(state, Assertion{
		Type:  AssertFinalState,
		Table: TableMessages,
		Count: intPtr(0),
	}))

	err := assertFinalState(state, Assertion{
		Type:  AssertFinalState,
		Table: TableAccounts,
		Count: intPtr(1),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 records")
}

func TestAssertRunCount(t *testing.T) {
	state := testState()

	assert.NoError(t, assertRunCount(state, Assertion{Type: AssertRunCount, Doc: "p1", Count: intPtr(3)}))
	assert.NoError(t, assertRunCount(state, Assertion{
		Type:       AssertRunCount,
		Doc:        "p1",
		Transition: "create_user_for_contacts",
		Count:      intPtr(2),
	}))
	assert.NoError(t, assertRunCount(state, Assertion{Type: AssertRunCount, Doc: "p9", Count: intPtr(0)}))

	err := assertRunCount(state, Assertion{Type: AssertRunCount, Doc: "p1", Transition: "other", Count: intPtr(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 runs for p1/other")
	assert.Contains(t, err.Error(), "Actual: 1 runs")
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	actx := &AssertionContext{State: testState()}
	errs := EvaluateAssertions([]Assertion{
		{Type: AssertRunCount, Doc: "p1", Count: intPtr(3)},
		{Type: AssertRunCount, Doc: "p1", Count: intPtr(1)},
		{Type: "bogus"},
	}, actx)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1:")
	assert.Contains(t, errs[1], `assertion 2: unknown assertion type "bogus"`)
}

func TestValuesMatch(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"equal strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"yaml int vs json number", 254, json.Number("254"), true},
		{"bool", true, true, true},
		{"bool vs string", true, "true", true},
		{"nil matches missing", nil, nil, true},
		{"nil vs value", nil, "a", false},
		{"scalar vs object", "a", map[string]any{}, false},
		{"empty list matches empty", []any{}, []any{}, true},
		{"empty list vs non-empty", []any{}, []any{"a"}, false},
		{"list subset", []any{"b"}, []any{"a", "b"}, true},
		{"list element missing", []any{"c"}, []any{"a", "b"}, false},
		{"list vs scalar", []any{"a"}, "a", false},
		{"object subset", map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}, true},
		{"object mismatch", map[string]any{"a": 1}, map[string]any{"a": 2}, false},
		{"object vs scalar", map[string]any{"a": 1}, "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesMatch(tt.expected, tt.actual))
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertFinalState,
		Expected: "record in accounts where name=carol",
		Actual:   "record not found",
		Records:  []map[string]any{{"name": "alice", "contact_id": "p1"}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: final_state")
	assert.Contains(t, msg, "Expected: record in accounts where name=carol")
	assert.Contains(t, msg, "Actual: record not found")
	assert.Contains(t, msg, "[1] {contact_id=p1 name=alice}")
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "doc_id=p1 AND ok=false", formatWhereClause(map[string]any{"ok": false, "doc_id": "p1"}))
}
