package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sentinel/internal/model"
)

// GetDoc returns the current revision of a document.
// Returns ErrNotFound if the document does not exist or is deleted.
func (s *Store) GetDoc(ctx context.Context, id string) (model.Document, error) {
	var body string
	var deleted bool
	err := s.db.QueryRowContext(ctx, `
		SELECT body, deleted FROM docs WHERE id = ?
	`, id).Scan(&body, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("doc %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get doc %s: %w", id, err)
	}
	if deleted {
		return nil, fmt.Errorf("doc %s: %w", id, ErrNotFound)
	}

	doc, err := model.DecodeDocument([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("get doc %s: %w", id, err)
	}
	return doc, nil
}

// PutDoc writes a document and appends a change to the feed.
//
// The write is optimistic: doc's _rev must equal the stored revision (or be
// empty for a new document), otherwise ErrConflict is returned. On success
// doc's _rev is updated in place and the new revision returned.
func (s *Store) PutDoc(ctx context.Context, doc model.Document) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("put doc: begin tx: %w", err)
	}
	defer tx.Rollback()

	rev, err := putDocTx(ctx, tx, doc, false)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("put doc: commit: %w", err)
	}
	doc[model.FieldRev] = rev
	return rev, nil
}

// DeleteDoc writes a deletion tombstone for the document at rev.
func (s *Store) DeleteDoc(ctx context.Context, id, rev string) (string, error) {
	tomb := model.Document{
		model.FieldID:      id,
		model.FieldRev:     rev,
		model.FieldDeleted: true,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("delete doc: begin tx: %w", err)
	}
	defer tx.Rollback()

	newRev, err := putDocTx(ctx, tx, tomb, true)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("delete doc: commit: %w", err)
	}
	return newRev, nil
}

// ListDocs returns all live documents of the given type ordered by id.
func (s *Store) ListDocs(ctx context.Context, docType string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM docs
		WHERE type = ? AND deleted = 0
		ORDER BY id ASC
	`, docType)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("list docs: scan: %w", err)
		}
		doc, err := model.DecodeDocument([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("list docs: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// putDocTx performs the revision check, the row write and the change feed
// append inside tx. It does not mutate doc.
func putDocTx(ctx context.Context, tx *sql.Tx, doc model.Document, deleted bool) (string, error) {
	id := doc.ID()
	if id == "" {
		return "", fmt.Errorf("put doc: missing %s", model.FieldID)
	}

	var current string
	err := tx.QueryRowContext(ctx, `SELECT rev FROM docs WHERE id = ?`, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = ""
	case err != nil:
		return "", fmt.Errorf("put doc %s: read rev: %w", id, err)
	}

	if doc.Rev() != current {
		return "", fmt.Errorf("put doc %s: have %q, stored %q: %w", id, doc.Rev(), current, ErrConflict)
	}

	rev, err := model.NextRev(current, doc)
	if err != nil {
		return "", fmt.Errorf("put doc %s: %w", id, err)
	}

	stored := doc.Clone()
	stored[model.FieldRev] = rev
	body, err := stored.Encode()
	if err != nil {
		return "", fmt.Errorf("put doc %s: encode: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO changes (doc_id, rev, deleted) VALUES (?, ?, ?)
	`, id, rev, boolToInt(deleted))
	if err != nil {
		return "", fmt.Errorf("put doc %s: append change: %w", id, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("put doc %s: change seq: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO docs (id, rev, type, deleted, body, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			type = excluded.type,
			deleted = excluded.deleted,
			body = excluded.body,
			seq = excluded.seq
	`, id, rev, doc.Type(), boolToInt(deleted), string(body), seq)
	if err != nil {
		return "", fmt.Errorf("put doc %s: write: %w", id, err)
	}

	return rev, nil
}
