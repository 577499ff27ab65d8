package harness

// TraceEvent records one executed scenario step.
type TraceEvent struct {
	Step  int    `json:"step"`
	Kind  string `json:"kind"`
	DocID string `json:"doc_id,omitempty"`

	// Seq is the last feed sequence after the step ran.
	Seq int64 `json:"seq"`
}

// State is the final state of a scenario run, one record list per table.
// Records are plain maps so assertions and golden files share one view.
type State map[string][]map[string]any

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State contains the final state tables for state assertions.
	State State `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  State{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(step int, kind, docID string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:  step,
		Kind:  kind,
		DocID: docID,
		Seq:   seq,
	})
}
