package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sentinel/internal/model"
)

// ChangeCommit is everything the engine persists after evaluating one
// change: the updated source document (nil when unchanged), the info
// document, and one history row per executed transition.
type ChangeCommit struct {
	Doc  model.Document
	Info *model.InfoDoc
	Runs []model.TransitionRun
}

// CommitChange atomically writes the source document, the info document and
// the run history for one change.
//
// If Doc is set its revision is checked like PutDoc, and the new revision is
// recorded as Info.EngineRev so the resulting feed entry can be recognised
// as the engine's own write. Run rows are append-only and keyed by run id:
// committing a run already recorded leaves it alone.
//
// Returns the new document revision, or "" when Doc is nil.
func (s *Store) CommitChange(ctx context.Context, c ChangeCommit) (string, error) {
	if c.Info == nil {
		return "", fmt.Errorf("commit change: missing info doc")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("commit change: begin tx: %w", err)
	}
	defer tx.Rollback()

	var rev string
	if c.Doc != nil {
		rev, err = putDocTx(ctx, tx, c.Doc, false)
		if err != nil {
			return "", fmt.Errorf("commit change: %w", err)
		}
		c.Info.EngineRev = rev
	}

	if err := upsertInfoTx(ctx, tx, c.Info); err != nil {
		return "", fmt.Errorf("commit change: %w", err)
	}

	for _, run := range c.Runs {
		if err := insertRunTx(ctx, tx, run); err != nil {
			return "", fmt.Errorf("commit change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit change: commit: %w", err)
	}

	if c.Doc != nil {
		c.Doc[model.FieldRev] = rev
	}
	return rev, nil
}

// RecordOutcome upserts a single transition outcome, creating the info
// document if it does not exist yet.
func (s *Store) RecordOutcome(ctx context.Context, docID, transition string, outcome model.Outcome, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record outcome: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO info_docs (doc_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET updated_at = excluded.updated_at
	`, docID, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("record outcome: write info doc %s: %w", docID, err)
	}

	if err := upsertOutcomeTx(ctx, tx, docID, transition, outcome); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record outcome: commit: %w", err)
	}
	return nil
}

func upsertInfoTx(ctx context.Context, tx *sql.Tx, info *model.InfoDoc) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO info_docs (doc_id, engine_rev, pending_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			engine_rev = excluded.engine_rev,
			pending_hash = excluded.pending_hash,
			updated_at = excluded.updated_at
	`, info.DocID, info.EngineRev, info.PendingHash, formatTime(info.CreatedAt), formatTime(info.UpdatedAt))
	if err != nil {
		return fmt.Errorf("write info doc %s: %w", info.DocID, err)
	}

	for name, outcome := range info.Transitions {
		if err := upsertOutcomeTx(ctx, tx, info.DocID, name, outcome); err != nil {
			return err
		}
	}
	return nil
}

func upsertOutcomeTx(ctx context.Context, tx *sql.Tx, docID, transition string, o model.Outcome) error {
	entries := o.Entries
	if entries == nil {
		entries = map[string]model.EntryOutcome{}
	}
	entriesJSON, err := marshalJSON(entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transition_outcomes
		(doc_id, transition, ok, seq, rev, change_hash, run_id, last_run, entries)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, transition) DO UPDATE SET
			ok = excluded.ok,
			seq = excluded.seq,
			rev = excluded.rev,
			change_hash = excluded.change_hash,
			run_id = excluded.run_id,
			last_run = excluded.last_run,
			entries = excluded.entries
	`,
		docID,
		transition,
		boolToInt(o.OK),
		o.Seq,
		o.Rev,
		o.ChangeHash,
		o.RunID,
		formatTime(o.LastRun),
		entriesJSON,
	)
	if err != nil {
		return fmt.Errorf("write outcome %s/%s: %w", docID, transition, err)
	}
	return nil
}

func insertRunTx(ctx context.Context, tx *sql.Tx, run model.TransitionRun) error {
	errs := run.Errors
	if errs == nil {
		errs = []model.DocError{}
	}
	errsJSON, err := marshalJSON(errs)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transition_runs
		(run_id, doc_id, transition, change_hash, seq, ok, errors, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		run.RunID,
		run.DocID,
		run.Transition,
		run.ChangeHash,
		run.Seq,
		boolToInt(run.OK),
		errsJSON,
		formatTime(run.RanAt),
	)
	if err != nil {
		return fmt.Errorf("write run %s: %w", run.RunID, err)
	}
	return nil
}
