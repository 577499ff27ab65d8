package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/sentinel/internal/model"
)

// Changes returns up to limit feed entries with seq > since, ordered by seq.
func (s *Store) Changes(ctx context.Context, since int64, limit int) ([]model.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, doc_id, rev, deleted FROM changes
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("read changes since %d: %w", since, err)
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		var c model.Change
		if err := rows.Scan(&c.Seq, &c.DocID, &c.Rev, &c.Deleted); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// LastSeq returns the highest sequence number in the feed, 0 if empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Checkpoint returns the last acknowledged sequence for a named consumer.
// A consumer that never saved a checkpoint starts at 0.
func (s *Store) Checkpoint(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT seq FROM checkpoints WHERE name = ?
	`, name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	return seq, nil
}

// SaveCheckpoint records seq as the last acknowledged sequence for name.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, seq, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at
	`, name, seq, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}
