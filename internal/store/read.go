package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sentinel/internal/model"
)

// GetInfo returns the info document for docID with all recorded outcomes.
// Returns ErrNotFound if the engine has never seen the document.
func (s *Store) GetInfo(ctx context.Context, docID string) (*model.InfoDoc, error) {
	var createdAt, updatedAt string
	info := &model.InfoDoc{DocID: docID, Transitions: make(map[string]model.Outcome)}

	err := s.db.QueryRowContext(ctx, `
		SELECT engine_rev, pending_hash, created_at, updated_at FROM info_docs WHERE doc_id = ?
	`, docID).Scan(&info.EngineRev, &info.PendingHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("info doc %s: %w", docID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get info doc %s: %w", docID, err)
	}

	if info.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if info.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transition, ok, seq, rev, change_hash, run_id, last_run, entries
		FROM transition_outcomes
		WHERE doc_id = ?
		ORDER BY transition ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("get outcomes %s: %w", docID, err)
	}
	defer rows.Close()

	for rows.Next() {
		name, outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		info.Transitions[name] = outcome
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return info, nil
}

// GetOutcome returns the recorded outcome of one transition for docID.
func (s *Store) GetOutcome(ctx context.Context, docID, transition string) (model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transition, ok, seq, rev, change_hash, run_id, last_run, entries
		FROM transition_outcomes
		WHERE doc_id = ? AND transition = ?
	`, docID, transition)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("get outcome %s/%s: %w", docID, transition, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.Outcome{}, err
		}
		return model.Outcome{}, fmt.Errorf("outcome %s/%s: %w", docID, transition, ErrNotFound)
	}
	_, outcome, err := scanOutcome(rows)
	return outcome, err
}

// ListRuns returns the run history for docID in feed order.
func (s *Store) ListRuns(ctx context.Context, docID string) ([]model.TransitionRun, error) {
	return s.queryRuns(ctx, `
		SELECT run_id, doc_id, transition, change_hash, seq, ok, errors, ran_at
		FROM transition_runs
		WHERE doc_id = ?
		ORDER BY seq ASC, rowid ASC
	`, docID)
}

// FailedRuns returns every failed run of a transition in feed order. An
// empty transition returns failed runs of every transition.
func (s *Store) FailedRuns(ctx context.Context, transition string) ([]model.TransitionRun, error) {
	query := `
		SELECT run_id, doc_id, transition, change_hash, seq, ok, errors, ran_at
		FROM transition_runs
		WHERE ok = 0`
	var args []any
	if transition != "" {
		query += ` AND transition = ?`
		args = append(args, transition)
	}
	query += ` ORDER BY seq ASC, rowid ASC`
	return s.queryRuns(ctx, query, args...)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]model.TransitionRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.TransitionRun
	for rows.Next() {
		var run model.TransitionRun
		var errsJSON, ranAt string
		if err := rows.Scan(
			&run.RunID,
			&run.DocID,
			&run.Transition,
			&run.ChangeHash,
			&run.Seq,
			&run.OK,
			&errsJSON,
			&ranAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := unmarshalJSON(errsJSON, &run.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal run errors: %w", err)
		}
		if len(run.Errors) == 0 {
			run.Errors = nil
		}
		if run.RanAt, err = parseTime(ranAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanOutcome(rows *sql.Rows) (string, model.Outcome, error) {
	var name, lastRun, entriesJSON string
	var o model.Outcome
	if err := rows.Scan(
		&name,
		&o.OK,
		&o.Seq,
		&o.Rev,
		&o.ChangeHash,
		&o.RunID,
		&lastRun,
		&entriesJSON,
	); err != nil {
		return "", model.Outcome{}, fmt.Errorf("scan outcome: %w", err)
	}

	var err error
	if o.LastRun, err = parseTime(lastRun); err != nil {
		return "", model.Outcome{}, err
	}
	if err := unmarshalJSON(entriesJSON, &o.Entries); err != nil {
		return "", model.Outcome{}, fmt.Errorf("unmarshal entries: %w", err)
	}
	if len(o.Entries) == 0 {
		o.Entries = nil
	}
	return name, o, nil
}
