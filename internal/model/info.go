package model

import "time"

// InfoDoc is the engine's per-document side record of which transitions ran
// against which logical change, and with what outcome.
type InfoDoc struct {
	DocID       string             `json:"doc_id"`
	Transitions map[string]Outcome `json:"transitions"`

	// EngineRev is the last document revision the engine wrote itself.
	// A change carrying this revision is the engine's own write.
	EngineRev string `json:"engine_rev,omitempty"`
	// PendingHash is set when the pass that wrote EngineRev stopped on a
	// retryable error. It holds the hash of the change that pass was
	// evaluating, so the remaining transitions still run against it.
	PendingHash string `json:"pending_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInfoDoc returns an empty info document for docID.
func NewInfoDoc(docID string, now time.Time) *InfoDoc {
	return &InfoDoc{
		DocID:       docID,
		Transitions: make(map[string]Outcome),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Outcome records one transition run against one logical change.
type Outcome struct {
	OK         bool                    `json:"ok"`
	Seq        int64                   `json:"seq"`
	Rev        string                  `json:"rev"`
	ChangeHash string                  `json:"change_hash"`
	RunID      string                  `json:"run_id"`
	LastRun    time.Time               `json:"last_run"`
	Entries    map[string]EntryOutcome `json:"entries,omitempty"`
}

// EntryOutcome is the per-entry result for transitions that act on several
// independent entries of one document.
type EntryOutcome struct {
	OK          bool   `json:"ok"`
	Code        string `json:"code,omitempty"`
	NewUsername string `json:"new_username,omitempty"`
}

// Outcome returns the recorded outcome for a transition.
func (i *InfoDoc) Outcome(transition string) (Outcome, bool) {
	if i == nil || i.Transitions == nil {
		return Outcome{}, false
	}
	o, ok := i.Transitions[transition]
	return o, ok
}

// RecordedFor reports whether transition already ran against the logical
// change identified by changeHash.
func (i *InfoDoc) RecordedFor(transition, changeHash string) bool {
	o, ok := i.Outcome(transition)
	return ok && o.ChangeHash == changeHash
}

// TransitionRun is one append-only history row for an executed transition.
type TransitionRun struct {
	RunID      string     `json:"run_id"`
	DocID      string     `json:"doc_id"`
	Transition string     `json:"transition"`
	ChangeHash string     `json:"change_hash"`
	Seq        int64      `json:"seq"`
	OK         bool       `json:"ok"`
	Errors     []DocError `json:"errors,omitempty"`
	RanAt      time.Time  `json:"ran_at"`
}
