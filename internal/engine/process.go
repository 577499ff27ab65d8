package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
	"github.com/roach88/sentinel/internal/transition"
)

// State is the final state of one processed change.
type State string

const (
	// StateApplied means at least one transition ran.
	StateApplied State = "applied"

	// StateSkipped means no transition needed to run.
	StateSkipped State = "skipped"

	// StateFailed means processing hit an infrastructure error.
	StateFailed State = "failed"
)

// processChange evaluates one change. A returned error is always a
// *RetryableError; transitions that completed before it are committed.
func (e *Engine) processChange(ctx context.Context, c model.Change) (State, error) {
	if c.Deleted {
		slog.Debug("skipping deleted document", "seq", c.Seq, "doc_id", c.DocID)
		return StateSkipped, nil
	}

	doc, err := e.store.GetDoc(ctx, c.DocID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("skipping missing document", "seq", c.Seq, "doc_id", c.DocID)
		return StateSkipped, nil
	}
	if err != nil {
		return StateFailed, &RetryableError{Seq: c.Seq, DocID: c.DocID, Err: fmt.Errorf("load doc: %w", err)}
	}
	if doc.Deleted() {
		return StateSkipped, nil
	}

	// The poller applies settings changes itself.
	if c.DocID == model.SettingsDocID {
		return StateSkipped, nil
	}

	info, err := e.store.GetInfo(ctx, c.DocID)
	isNew := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		info = model.NewInfoDoc(c.DocID, e.now())
		isNew = true
	case err != nil:
		return StateFailed, &RetryableError{Seq: c.Seq, DocID: c.DocID, Err: fmt.Errorf("load info doc: %w", err)}
	}

	ownWrite := info.EngineRev != "" && doc.Rev() == info.EngineRev
	var hash string
	switch {
	case ownWrite && info.PendingHash != "":
		// The pass that wrote this revision was interrupted; finish it.
		hash = info.PendingHash
		slog.Debug("resuming interrupted pass", "seq", c.Seq, "doc_id", c.DocID, "rev", doc.Rev())
	case ownWrite && !e.rerunFailed:
		slog.Debug("skipping own write", "seq", c.Seq, "doc_id", c.DocID, "rev", doc.Rev())
		return StateSkipped, nil
	default:
		if hash, err = model.ChangeHash(doc); err != nil {
			return StateFailed, &RetryableError{Seq: c.Seq, DocID: c.DocID, Err: err}
		}
	}

	snap := e.registry.Snapshot()
	working := doc.Clone()
	docChanged := false
	var runs []model.TransitionRun
	var runErr error

	for _, t := range snap.Active {
		name := t.Name()
		if !t.Filter(working, info) {
			continue
		}
		if o, _ := info.Outcome(name); info.RecordedFor(name, hash) && (o.OK || !e.rerunFailed) {
			slog.Debug("transition already ran for this change",
				"seq", c.Seq,
				"doc_id", c.DocID,
				"transition", name,
				"run_id", o.RunID,
			)
			continue
		}

		runID := e.runIDs.Generate()
		attempt := working.Clone()
		res, err := t.OnMatch(ctx, &transition.Change{
			Seq:      c.Seq,
			Doc:      attempt,
			Info:     info,
			Settings: snap.Settings,
			RunID:    runID,
		})
		if err != nil {
			runErr = &RetryableError{Seq: c.Seq, DocID: c.DocID, Transition: name, Err: err}
			break
		}

		working = attempt
		if res.Changed {
			docChanged = true
		}
		for _, de := range res.Errors {
			if working.AddError(de) {
				docChanged = true
			}
		}

		now := e.now()
		info.Transitions[name] = model.Outcome{
			OK:         res.OK(),
			Seq:        c.Seq,
			Rev:        doc.Rev(),
			ChangeHash: hash,
			RunID:      runID,
			LastRun:    now,
			Entries:    res.Entries,
		}
		runs = append(runs, model.TransitionRun{
			RunID:      runID,
			DocID:      c.DocID,
			Transition: name,
			ChangeHash: hash,
			Seq:        c.Seq,
			OK:         res.OK(),
			Errors:     res.Errors,
			RanAt:      now,
		})
		e.metrics.IncrementTransition(name, res.OK())

		slog.Info("transition ran",
			"seq", c.Seq,
			"doc_id", c.DocID,
			"transition", name,
			"run_id", runID,
			"ok", res.OK(),
			"errors", len(res.Errors),
		)
	}

	if len(runs) == 0 && !isNew {
		if runErr != nil {
			return StateFailed, runErr
		}
		return StateSkipped, nil
	}

	info.UpdatedAt = e.now()
	info.PendingHash = ""
	if runErr != nil && (docChanged || ownWrite) {
		info.PendingHash = hash
	}
	commit := store.ChangeCommit{Info: info, Runs: runs}
	if docChanged {
		commit.Doc = working
	}
	rev, err := e.store.CommitChange(ctx, commit)
	if err != nil {
		return StateFailed, &RetryableError{Seq: c.Seq, DocID: c.DocID, Err: err}
	}
	if rev != "" {
		slog.Debug("document updated", "seq", c.Seq, "doc_id", c.DocID, "rev", rev)
	}

	if runErr != nil {
		return StateFailed, runErr
	}
	if len(runs) == 0 {
		return StateSkipped, nil
	}
	return StateApplied, nil
}
