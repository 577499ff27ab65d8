package engine

import (
	"errors"
	"fmt"
)

// RetryableError is an infrastructure failure while processing a change.
// The change stays unacknowledged and is retried.
type RetryableError struct {
	Seq   int64
	DocID string

	// Transition names the transition that failed, empty when the failure
	// happened outside any transition (loading or committing).
	Transition string

	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.Transition != "" {
		return fmt.Sprintf("change %d (doc=%s, transition=%s): %v", e.Seq, e.DocID, e.Transition, e.Err)
	}
	return fmt.Sprintf("change %d (doc=%s): %v", e.Seq, e.DocID, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// AttemptsExhaustedError is returned when a change has used up its retry
// budget. The change is acknowledged anyway; a later change to the same
// document gives the transitions another chance.
type AttemptsExhaustedError struct {
	Seq      int64
	DocID    string
	Attempts int
	Limit    int
	Last     error
}

// Error implements the error interface.
func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("change %d (doc=%s) failed %d attempts (limit %d): %v",
		e.Seq, e.DocID, e.Attempts, e.Limit, e.Last)
}

// Unwrap returns the last processing error.
func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Last
}

// IsAttemptsExhausted reports whether err is (or wraps) an
// AttemptsExhaustedError.
func IsAttemptsExhausted(err error) bool {
	var ae *AttemptsExhaustedError
	return errors.As(err, &ae)
}
