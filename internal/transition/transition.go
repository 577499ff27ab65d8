// Package transition defines the transition contract, the registry of
// configured transitions and the configuration validator.
//
// A transition is a named business rule that reacts to a document change.
// The engine offers every change to each active transition in registration
// order; a transition whose Filter accepts the document runs OnMatch.
package transition

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/settings"
)

// Precondition is a configuration requirement a transition declares.
// Message is reported verbatim (after "Configuration error. ") when Check
// fails.
type Precondition struct {
	Message string
	Check   func(s *settings.Settings) bool
}

// Change is what a transition sees when it runs.
//
// Doc is the engine's working copy of the source document; a transition
// records its effects by mutating it and reporting Changed. Info and
// Settings are read-only.
type Change struct {
	Seq      int64
	Doc      model.Document
	Info     *model.InfoDoc
	Settings *settings.Settings
	RunID    string
}

// Result is the outcome of one OnMatch call.
type Result struct {
	// Changed reports whether Doc was modified.
	Changed bool

	// Errors are validation errors to record on the source document.
	Errors []model.DocError

	// Entries holds per-entry outcomes for transitions that act on several
	// independent entries of one document.
	Entries map[string]model.EntryOutcome
}

// OK reports whether the run produced no errors.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Transition is a change-driven business rule.
//
// OnMatch returns a non-nil error only for infrastructure failures, which
// leave the change unacknowledged so it is retried. Validation failures are
// reported through Result.Errors.
type Transition interface {
	Name() string
	Preconditions() []Precondition
	Filter(doc model.Document, info *model.InfoDoc) bool
	OnMatch(ctx context.Context, change *Change) (Result, error)
}

// DomainError is a validation failure with a stable code.
type DomainError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DocError converts the error to its document form.
func (e *DomainError) DocError() model.DocError {
	return model.DocError{Code: e.Code, Message: e.Message}
}

// NewDomainError creates a DomainError with a formatted message.
func NewDomainError(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsDomainError reports whether err is (or wraps) a DomainError.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
