package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sentinel/internal/model"
)

func testOutcome(ok bool, hash string) model.Outcome {
	return model.Outcome{
		OK:         ok,
		Seq:        1,
		Rev:        "1-abc",
		ChangeHash: hash,
		RunID:      "run-1",
		LastRun:    testNow,
	}
}

func TestCommitChange_WritesDocInfoAndRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := createTestPerson("p1", "Alice")
	_, err := s.PutDoc(ctx, doc)
	require.NoError(t, err)

	doc.AddError(model.DocError{Code: "MISSING_PHONE", Message: "Missing required fields: phone"})
	info := model.NewInfoDoc("p1", testNow)
	info.Transitions["create_user_for_contacts"] = testOutcome(false, "hash-1")

	rev, err := s.CommitChange(ctx, ChangeCommit{
		Doc:  doc,
		Info: info,
		Runs: []model.TransitionRun{{
			RunID:      "run-1",
			DocID:      "p1",
			Transition: "create_user_for_contacts",
			ChangeHash: "hash-1",
			Seq:        1,
			OK:         false,
			Errors:     doc.Errors(),
			RanAt:      testNow,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, model.RevGeneration(rev))
	assert.Equal(t, rev, doc.Rev())
	assert.Equal(t, rev, info.EngineRev)

	stored, err := s.GetDoc(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, stored.Errors(), 1)

	got, err := s.GetInfo(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, rev, got.EngineRev)
	require.Contains(t, got.Transitions, "create_user_for_contacts")
	outcome := got.Transitions["create_user_for_contacts"]
	assert.False(t, outcome.OK)
	assert.Equal(t, "hash-1", outcome.ChangeHash)
	assert.True(t, testNow.Equal(outcome.LastRun))

	runs, err := s.ListRuns(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []model.DocError{{Code: "MISSING_PHONE", Message: "Missing required fields: phone"}}, runs[0].Errors)

	failed, err := s.FailedRuns(ctx, "create_user_for_contacts")
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestCommitChange_WithoutDocLeavesFeedAlone(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutDoc(ctx, createTestPerson("p1", "Alice"))
	require.NoError(t, err)

	info := model.NewInfoDoc("p1", testNow)
	rev, err := s.CommitChange(ctx, ChangeCommit{Info: info})
	require.NoError(t, err)
	assert.Empty(t, rev)

	got, err := s.GetInfo(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got.Transitions, "an info doc with no transitions is still recorded")

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestCommitChange_ConflictRollsBackEverything(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := createTestPerson("p1", "Alice")
	_, err := s.PutDoc(ctx, doc)
	require.NoError(t, err)

	stale := doc.Clone()
	_, err = s.PutDoc(ctx, doc)
	require.NoError(t, err)

	info := model.NewInfoDoc("p1", testNow)
	info.Transitions["t"] = testOutcome(true, "h")
	_, err = s.CommitChange(ctx, ChangeCommit{Doc: stale, Info: info})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.GetInfo(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound, "info doc write rolled back with the document")
}

func TestCommitChange_RunsAppendOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := model.TransitionRun{
		RunID:      "run-1",
		DocID:      "p1",
		Transition: "t",
		ChangeHash: "h",
		Seq:        1,
		OK:         true,
		RanAt:      testNow,
	}
	info := model.NewInfoDoc("p1", testNow)

	_, err := s.CommitChange(ctx, ChangeCommit{Info: info, Runs: []model.TransitionRun{run}})
	require.NoError(t, err)

	// Committing the same run again is a no-op.
	_, err = s.CommitChange(ctx, ChangeCommit{Info: info, Runs: []model.TransitionRun{run}})
	require.NoError(t, err)

	// A rerun of the same logical change is a new history row.
	run.RunID = "run-2"
	run.OK = false
	_, err = s.CommitChange(ctx, ChangeCommit{Info: info, Runs: []model.TransitionRun{run}})
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, "run-2", runs[1].RunID)
}

func TestRecordOutcome_UpsertsAndGetOutcome(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordOutcome(ctx, "p1", "t", testOutcome(false, "h1"), testNow))

	second := testOutcome(true, "h2")
	second.Entries = map[string]model.EntryOutcome{
		"alice": {OK: true, NewUsername: "bob-1234"},
	}
	require.NoError(t, s.RecordOutcome(ctx, "p1", "t", second, testNow))

	got, err := s.GetOutcome(ctx, "p1", "t")
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Equal(t, "h2", got.ChangeHash)
	assert.Equal(t, "bob-1234", got.Entries["alice"].NewUsername)

	_, err = s.GetOutcome(ctx, "p1", "other")
	assert.ErrorIs(t, err, ErrNotFound)
}
