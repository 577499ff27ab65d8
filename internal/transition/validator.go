package transition

import (
	"log/slog"

	"github.com/roach88/sentinel/internal/settings"
)

// ConfigErrorPrefix starts every precondition failure message.
const ConfigErrorPrefix = "Configuration error. "

// DisabledMessage follows the precondition failures of a configuration.
const DisabledMessage = "Transitions are disabled until the above configuration errors are fixed."

// Severity classifies a Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one finding of the configuration validator.
type Diagnostic struct {
	Transition string   `json:"transition,omitempty"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
}

// Validate checks the preconditions of every enabled transition against s.
//
// A transition with a failing precondition is left out of the returned
// active set; every other enabled transition stays active. Validation never
// fails as a whole. Each failure is logged at error level, followed by one
// DisabledMessage line when anything was disabled. Transitions named in
// settings but not registered produce a warning.
//
// all must be in registration order; active preserves it.
func Validate(s *settings.Settings, all []Transition) (active []Transition, diags []Diagnostic) {
	known := make(map[string]bool, len(all))
	disabled := false

	for _, t := range all {
		known[t.Name()] = true
		if !s.Enabled(t.Name()) {
			continue
		}

		ok := true
		for _, pc := range t.Preconditions() {
			if pc.Check(s) {
				continue
			}
			ok = false
			msg := ConfigErrorPrefix + pc.Message
			slog.Error(msg, "transition", t.Name())
			diags = append(diags, Diagnostic{
				Transition: t.Name(),
				Severity:   SeverityError,
				Message:    msg,
			})
		}

		if ok {
			active = append(active, t)
		} else {
			disabled = true
		}
	}

	if disabled {
		slog.Error(DisabledMessage)
		diags = append(diags, Diagnostic{Severity: SeverityError, Message: DisabledMessage})
	}

	for _, name := range s.EnabledTransitions() {
		if known[name] {
			continue
		}
		slog.Warn("unknown transition enabled in settings", "transition", name)
		diags = append(diags, Diagnostic{
			Transition: name,
			Severity:   SeverityWarning,
			Message:    "Unknown transition " + name + " is ignored.",
		})
	}

	return active, diags
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
