package engine

import (
	"time"

	"github.com/roach88/sentinel/internal/model"
)

const (
	// DefaultMaxAttempts is the default number of times a change is
	// processed before it is given up on.
	DefaultMaxAttempts = 5

	// DefaultBackoff is the wait before the first retry. It doubles on
	// every further attempt up to DefaultMaxBackoff.
	DefaultBackoff = 200 * time.Millisecond

	// DefaultMaxBackoff caps the wait between attempts.
	DefaultMaxBackoff = 30 * time.Second
)

// RetryBudget counts processing attempts for one change and enforces the
// attempt limit.
type RetryBudget struct {
	change      model.Change
	maxAttempts int
	attempts    int
}

// NewRetryBudget creates a budget allowing maxAttempts attempts.
func NewRetryBudget(change model.Change, maxAttempts int) *RetryBudget {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryBudget{change: change, maxAttempts: maxAttempts}
}

// Fail records a failed attempt. It returns an AttemptsExhaustedError once
// the limit is reached, nil while another attempt is allowed.
func (b *RetryBudget) Fail(err error) error {
	b.attempts++
	if b.attempts >= b.maxAttempts {
		return &AttemptsExhaustedError{
			Seq:      b.change.Seq,
			DocID:    b.change.DocID,
			Attempts: b.attempts,
			Limit:    b.maxAttempts,
			Last:     err,
		}
	}
	return nil
}

// Attempts returns the number of failed attempts so far.
func (b *RetryBudget) Attempts() int {
	return b.attempts
}

// backoff returns the wait before the next attempt after attempts failures.
func backoff(base, limit time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}
