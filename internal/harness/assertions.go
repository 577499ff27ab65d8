package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/sentinel/internal/accounts"
	"github.com/roach88/sentinel/internal/store"
)

// AssertionContext provides what assertions need beyond the collected state.
type AssertionContext struct {
	Ctx      context.Context
	Store    *store.Store
	Accounts *accounts.Service
	State    State
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string           // Assertion type for categorization
	Expected string           // Human-readable expected outcome
	Actual   string           // Human-readable actual outcome
	Records  []map[string]any // Records of the asserted table, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Records) > 0 {
		fmt.Fprintf(&buf, "\nRecords:\n")
		for i, rec := range e.Records {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, formatRecord(rec))
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalState:
			err = assertFinalState(actx.State, a)
		case AssertRunCount:
			err = assertRunCount(actx.State, a)
		case AssertLogin:
			err = assertLogin(actx.Ctx, actx.Accounts, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

// assertFinalState checks that the records of a state table selected by
// Where contain the expected values (subset semantics).
//
// Without Count exactly one record must match Where. With Count, that many
// records must match both Where and Expect.
func assertFinalState(state State, a Assertion) error {
	records := state[a.Table]

	var selected []map[string]any
	for _, rec := range records {
		if matchWhere(rec, a.Where) {
			selected = append(selected, rec)
		}
	}

	if a.Count != nil {
		matched := 0
		for _, rec := range selected {
			if matchSubset(rec, a.Expect) {
				matched++
			}
		}
		if matched != *a.Count {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%d records in %s where %s matching %s", *a.Count, a.Table, formatWhereClause(a.Where), formatRecord(a.Expect)),
				Actual:   fmt.Sprintf("%d records", matched),
				Records:  records,
			}
		}
		return nil
	}

	switch len(selected) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "record not found",
			Records:  records,
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one record in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   fmt.Sprintf("%d records matched (assertion is ambiguous)", len(selected)),
			Records:  records,
		}
	}

	rec := selected[0]
	keys := sortedKeys(a.Expect)
	for _, key := range keys {
		actual, exists := rec[key]
		if !exists && a.Expect[key] != nil {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in %s", key, formatRecord(rec)),
			}
		}
		if !valuesMatch(a.Expect[key], actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, a.Expect[key]),
				Actual:   fmt.Sprintf("field %q = %v", key, actual),
				Records:  []map[string]any{rec},
			}
		}
	}
	return nil
}

// assertRunCount checks how many transition runs were recorded for a
// document, optionally for one transition.
func assertRunCount(state State, a Assertion) error {
	count := 0
	for _, rec := range state[TableRuns] {
		if rec["doc_id"] != a.Doc {
			continue
		}
		if a.Transition != "" && rec["transition"] != a.Transition {
			continue
		}
		count++
	}

	if count != *a.Count {
		target := a.Doc
		if a.Transition != "" {
			target += "/" + a.Transition
		}
		return &AssertionError{
			Type:     AssertRunCount,
			Expected: fmt.Sprintf("%d runs for %s", *a.Count, target),
			Actual:   fmt.Sprintf("%d runs", count),
			Records:  state[TableRuns],
		}
	}
	return nil
}

// assertLogin checks whether a username/password pair authenticates.
func assertLogin(ctx context.Context, svc *accounts.Service, a Assertion) error {
	_, err := svc.Authenticate(ctx, a.Username, a.Password)
	if (err == nil) == a.Succeeds {
		return nil
	}

	actual := "login succeeded"
	if err != nil {
		actual = fmt.Sprintf("login failed: %v", err)
	}
	return &AssertionError{
		Type:     AssertLogin,
		Expected: fmt.Sprintf("login as %s succeeds=%t", a.Username, a.Succeeds),
		Actual:   actual,
	}
}

// matchWhere reports whether rec has every where field with an equal
// scalar value.
func matchWhere(rec map[string]any, where map[string]any) bool {
	for k, v := range where {
		actual, ok := rec[k]
		if !ok || !scalarsEqual(v, actual) {
			return false
		}
	}
	return true
}

// matchSubset reports whether rec contains every expected field.
func matchSubset(rec map[string]any, expected map[string]any) bool {
	for k, v := range expected {
		if !valuesMatch(v, rec[k]) {
			return false
		}
	}
	return true
}

// valuesMatch compares an expected value from a scenario with a collected
// one. Objects match as subsets; each expected list element must match some
// actual element; scalars compare by their printed form so YAML ints match
// JSON numbers.
func valuesMatch(expected, actual any) bool {
	switch exp := expected.(type) {
	case nil:
		return actual == nil
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		return matchSubset(act, exp)
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return false
		}
		if len(exp) == 0 {
			return len(act) == 0
		}
		for _, e := range exp {
			found := false
			for _, a := range act {
				if valuesMatch(e, a) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return scalarsEqual(expected, actual)
	}
}

func scalarsEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == actual
	}
	switch actual.(type) {
	case map[string]any, []any:
		return false
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

// formatWhereClause creates a human-readable description of where conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func formatRecord(rec map[string]any) string {
	parts := make([]string, 0, len(rec))
	for _, k := range sortedKeys(rec) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, rec[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
