package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end engine scenario.
// A scenario seeds the document store, runs a sequence of steps against a
// real engine and asserts on the resulting accounts, messages, documents,
// info documents and run history.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Settings is stored as the settings document before any step runs.
	// Omit it to start without a settings document.
	Settings map[string]any `yaml:"settings,omitempty"`

	// Users are accounts created before any step runs.
	Users []UserSpec `yaml:"users,omitempty"`

	// Docs are documents stored before any step runs.
	Docs []map[string]any `yaml:"docs,omitempty"`

	// Suffixes are the username suffixes handed out in order; the last one
	// repeats. Defaults to 1234.
	Suffixes []int `yaml:"suffixes,omitempty"`

	// Steps run in order. At least one must drain the feed.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// UserSpec is an account to create during setup.
type UserSpec struct {
	Username   string   `yaml:"username"`
	ContactID  string   `yaml:"contact_id"`
	FacilityID string   `yaml:"facility_id,omitempty"`
	Roles      []string `yaml:"roles,omitempty"`
	Phone      string   `yaml:"phone,omitempty"`
	Password   string   `yaml:"password,omitempty"`
}

// Step is one scenario step. Exactly one field is set.
type Step struct {
	// Put writes a document, filling in its current revision.
	Put map[string]any `yaml:"put,omitempty"`

	// Update merges fields into an existing document.
	Update *DocUpdate `yaml:"update,omitempty"`

	// Delete deletes the document with this id.
	Delete string `yaml:"delete,omitempty"`

	// Settings replaces the settings document.
	Settings map[string]any `yaml:"settings,omitempty"`

	// Drain runs the engine until every change in the feed is processed.
	Drain bool `yaml:"drain,omitempty"`

	// Replay rewinds the checkpoint and drains again.
	Replay *ReplayStep `yaml:"replay,omitempty"`
}

// DocUpdate sets top-level fields on a stored document.
type DocUpdate struct {
	ID  string         `yaml:"id"`
	Set map[string]any `yaml:"set"`
}

// ReplayStep rewinds the feed to From and drains it again.
type ReplayStep struct {
	From        int64 `yaml:"from"`
	RerunFailed bool  `yaml:"rerun_failed,omitempty"`
}

// Step kinds, as recorded in the trace.
const (
	StepPut      = "put"
	StepUpdate   = "update"
	StepDelete   = "delete"
	StepSettings = "settings"
	StepDrain    = "drain"
	StepReplay   = "replay"
)

// Kind returns the step kind, or "" when no field or several are set.
func (s Step) Kind() string {
	var kinds []string
	if s.Put != nil {
		kinds = append(kinds, StepPut)
	}
	if s.Update != nil {
		kinds = append(kinds, StepUpdate)
	}
	if s.Delete != "" {
		kinds = append(kinds, StepDelete)
	}
	if s.Settings != nil {
		kinds = append(kinds, StepSettings)
	}
	if s.Drain {
		kinds = append(kinds, StepDrain)
	}
	if s.Replay != nil {
		kinds = append(kinds, StepReplay)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": match records of a state table
	// - "run_count": count transition runs recorded for a document
	// - "login": check whether a username/password pair authenticates
	Type string `yaml:"type"`

	// Table is one of accounts, messages, docs, info, runs (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects records by exact top-level field values (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state). Subset match:
	// nested objects match recursively and every expected list element
	// must match some actual element.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matching records (final_state,
	// run_count). For final_state without a count exactly one record must
	// match Where.
	Count *int `yaml:"count,omitempty"`

	// Doc and Transition select runs (run_count).
	Doc        string `yaml:"doc,omitempty"`
	Transition string `yaml:"transition,omitempty"`

	// Username, Password and Succeeds describe a login attempt (login).
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Succeeds bool   `yaml:"succeeds,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertRunCount   = "run_count"
	AssertLogin      = "login"
)

// State tables.
const (
	TableAccounts = "accounts"
	TableMessages = "messages"
	TableDocs     = "docs"
	TableInfo     = "info"
	TableRuns     = "runs"
)

var stateTables = map[string]bool{
	TableAccounts: true,
	TableMessages: true,
	TableDocs:     true,
	TableInfo:     true,
	TableRuns:     true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, u := range s.Users {
		if u.Username == "" {
			return fmt.Errorf("users[%d]: username is required", i)
		}
		if u.ContactID == "" {
			return fmt.Errorf("users[%d]: contact_id is required", i)
		}
	}

	for i, doc := range s.Docs {
		if id, _ := doc["_id"].(string); id == "" {
			return fmt.Errorf("docs[%d]: _id is required", i)
		}
	}

	drains := 0
	for i, step := range s.Steps {
		switch step.Kind() {
		case "":
			return fmt.Errorf("steps[%d]: exactly one of put, update, delete, settings, drain, replay is required", i)
		case StepPut:
			if id, _ := step.Put["_id"].(string); id == "" {
				return fmt.Errorf("steps[%d].put: _id is required", i)
			}
		case StepUpdate:
			if step.Update.ID == "" {
				return fmt.Errorf("steps[%d].update: id is required", i)
			}
			if len(step.Update.Set) == 0 {
				return fmt.Errorf("steps[%d].update: set is required", i)
			}
		case StepDrain, StepReplay:
			drains++
		}
	}
	if drains == 0 {
		return fmt.Errorf("steps must drain the feed at least once")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if !stateTables[a.Table] {
			return fmt.Errorf("assertions[%d]: unknown table %q for final_state", index, a.Table)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	case AssertRunCount:
		if a.Doc == "" {
			return fmt.Errorf("assertions[%d]: doc is required for run_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for run_count", index)
		}
	case AssertLogin:
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("assertions[%d]: username and password are required for login", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
