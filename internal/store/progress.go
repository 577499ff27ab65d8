package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReplacementKey identifies one replace-user entry of one document.
type ReplacementKey struct {
	DocID                string
	OldUsername          string
	ReplacementContactID string
}

// ReplacementProgress records which side effects of a replace-user entry
// have already happened, so a retried entry resumes instead of repeating
// them.
type ReplacementProgress struct {
	ReplacementKey
	NewUsername     string
	AccountCreated  bool
	MessageQueued   bool
	CredentialReset bool
	UpdatedAt       time.Time
}

// GetProgress returns the progress for key. A missing record yields the
// zero progress for that key and no error.
func (s *Store) GetProgress(ctx context.Context, key ReplacementKey) (ReplacementProgress, error) {
	p := ReplacementProgress{ReplacementKey: key}
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT new_username, account_created, message_queued, credential_reset, updated_at
		FROM replacement_progress
		WHERE doc_id = ? AND old_username = ? AND replacement_contact_id = ?
	`, key.DocID, key.OldUsername, key.ReplacementContactID).Scan(
		&p.NewUsername,
		&p.AccountCreated,
		&p.MessageQueued,
		&p.CredentialReset,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return ReplacementProgress{}, fmt.Errorf("get progress %s/%s: %w", key.DocID, key.OldUsername, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ReplacementProgress{}, err
	}
	return p, nil
}

// SaveProgress upserts the progress record.
func (s *Store) SaveProgress(ctx context.Context, p ReplacementProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replacement_progress
		(doc_id, old_username, replacement_contact_id, new_username,
		 account_created, message_queued, credential_reset, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, old_username, replacement_contact_id) DO UPDATE SET
			new_username = excluded.new_username,
			account_created = excluded.account_created,
			message_queued = excluded.message_queued,
			credential_reset = excluded.credential_reset,
			updated_at = excluded.updated_at
	`,
		p.DocID,
		p.OldUsername,
		p.ReplacementContactID,
		p.NewUsername,
		boolToInt(p.AccountCreated),
		boolToInt(p.MessageQueued),
		boolToInt(p.CredentialReset),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save progress %s/%s: %w", p.DocID, p.OldUsername, err)
	}
	return nil
}
