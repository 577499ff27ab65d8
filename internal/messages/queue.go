// Package messages is the outbound message queue. It records messages to
// be sent; delivery belongs to a separate gateway.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sentinel/internal/model"
)

// DefaultTokenLoginBody is the SMS text used when settings don't override it.
// "{{url}}" is replaced by the login link.
const DefaultTokenLoginBody = "Use this link to log in: {{url}}"

// Store is the persistence the queue needs.
type Store interface {
	InsertMessage(ctx context.Context, m model.Message) error
	ListMessages(ctx context.Context, user string) ([]model.Message, error)
}

// Queue enqueues outbound messages.
type Queue struct {
	store Store
	newID func() string
	now   func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDFunc sets the id generator, e.g. for deterministic tests.
func WithIDFunc(f func() string) Option {
	return func(q *Queue) {
		q.newID = f
	}
}

// WithNow sets the wall clock used for created timestamps.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// NewQueue creates a queue over store. Ids default to UUIDv7 so the queue
// sorts by creation time.
func NewQueue(store Store, opts ...Option) *Queue {
	q := &Queue{
		store: store,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores m, filling in its id, task states, per-SMS uuids and
// creation time. Returns the stored message. Callers that may enqueue the
// same logical message twice set m.ID themselves; the second enqueue then
// replaces the first one's tasks.
func (q *Queue) Enqueue(ctx context.Context, m model.Message) (model.Message, error) {
	if m.Type == "" {
		return model.Message{}, fmt.Errorf("enqueue: message type is required")
	}
	if len(m.Tasks) == 0 {
		return model.Message{}, fmt.Errorf("enqueue %s: at least one task is required", m.Type)
	}

	if m.ID == "" {
		m.ID = q.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = q.now()
	}

	tasks := make([]model.Task, len(m.Tasks))
	for i, task := range m.Tasks {
		if task.State == "" {
			task.State = model.TaskStatePending
		}
		msgs := make([]model.TaskMessage, len(task.Messages))
		for j, tm := range task.Messages {
			if tm.To == "" {
				return model.Message{}, fmt.Errorf("enqueue %s: task %d message %d has no recipient", m.Type, i, j)
			}
			if tm.UUID == "" {
				tm.UUID = q.newID()
			}
			msgs[j] = tm
		}
		task.Messages = msgs
		tasks[i] = task
	}
	m.Tasks = tasks

	if err := q.store.InsertMessage(ctx, m); err != nil {
		return model.Message{}, fmt.Errorf("enqueue: %w", err)
	}
	return m, nil
}

// List returns queued messages, optionally only those for one user id.
func (q *Queue) List(ctx context.Context, user string) ([]model.Message, error) {
	return q.store.ListMessages(ctx, user)
}

// TokenLogin builds a token_login message that sends the login link to
// phone. userID is the recipient account id ("org.couchdb.user:<name>").
// An empty template uses DefaultTokenLoginBody.
func TokenLogin(userID, phone, template, loginURL string) model.Message {
	if template == "" {
		template = DefaultTokenLoginBody
	}
	body := strings.ReplaceAll(template, "{{url}}", loginURL)
	if !strings.Contains(template, "{{url}}") {
		body = template + " " + loginURL
	}

	return model.Message{
		Type: model.MessageTypeTokenLogin,
		User: userID,
		Tasks: []model.Task{{
			Messages: []model.TaskMessage{{To: phone, Body: body}},
		}},
	}
}
