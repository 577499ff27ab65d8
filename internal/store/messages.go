package store

import (
	"context"
	"fmt"

	"github.com/roach88/sentinel/internal/model"
)

// InsertMessage appends a message to the outbound queue. Inserting an id
// that is already queued keeps its place and replaces its tasks.
func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	tasksJSON, err := marshalJSON(m.Tasks)
	if err != nil {
		return fmt.Errorf("insert message %s: marshal tasks: %w", m.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, type, user_id, tasks, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET tasks = excluded.tasks
	`, m.ID, m.Type, m.User, tasksJSON, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns queued messages in enqueue order. An empty user
// returns messages for every user.
func (s *Store) ListMessages(ctx context.Context, user string) ([]model.Message, error) {
	query := `SELECT id, type, user_id, tasks, created_at FROM messages`
	var args []any
	if user != "" {
		query += ` WHERE user_id = ?`
		args = append(args, user)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var tasksJSON, createdAt string
		if err := rows.Scan(&m.ID, &m.Type, &m.User, &tasksJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := unmarshalJSON(tasksJSON, &m.Tasks); err != nil {
			return nil, fmt.Errorf("unmarshal tasks: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
