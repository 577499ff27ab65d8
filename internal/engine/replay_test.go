package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/transition"
)

// failOnceTransition reports a validation error on its first run only.
func failOnceTransition() *stubTransition {
	return &stubTransition{
		name: "fail-once",
		onMatch: func(_ *transition.Change, call int) (transition.Result, error) {
			if call == 1 {
				return transition.Result{Errors: []model.DocError{{Code: "NOT_YET", Message: "not yet"}}}, nil
			}
			return transition.Result{}, nil
		},
	}
}

func TestRewind_ClampsAtZero(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, s, nil)
	ctx := context.Background()

	require.NoError(t, e.Rewind(ctx, 0))
	cp, err := s.Checkpoint(ctx, DefaultCheckpointName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp)

	require.NoError(t, e.Rewind(ctx, 5))
	cp, err = s.Checkpoint(ctx, DefaultCheckpointName)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cp)
}

func TestReplay_WithoutRerunFailedSkipsFailures(t *testing.T) {
	s := setupTestStore(t)
	tr := failOnceTransition()
	e := newTestEngine(t, s, nil, tr)

	putSettings(t, s, "fail-once")
	putDoc(t, s, model.Document{"_id": "p1", "type": "person"})
	drain(t, e)

	require.NoError(t, e.Rewind(context.Background(), 1))
	drain(t, e)

	assert.Len(t, tr.Calls(), 1)
}

func TestReplay_RerunFailed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tr := failOnceTransition()
	reg, err := transition.NewRegistry(tr)
	require.NoError(t, err)

	putSettings(t, s, "fail-once")
	putDoc(t, s, model.Document{"_id": "p1", "type": "person"})

	first := New(s, reg, WithBackoff(0, 0))
	drain(t, first)

	outcome, err := s.GetOutcome(ctx, "p1", "fail-once")
	require.NoError(t, err)
	require.False(t, outcome.OK)

	replay := New(s, reg, WithBackoff(0, 0), WithRerunFailed(true))
	require.NoError(t, replay.Rewind(ctx, 1))
	drain(t, replay)

	assert.Len(t, tr.Calls(), 2)
	outcome, err = s.GetOutcome(ctx, "p1", "fail-once")
	require.NoError(t, err)
	assert.True(t, outcome.OK)

	runs, err := s.ListRuns(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.False(t, runs[0].OK)
	assert.True(t, runs[1].OK)

	// Successful outcomes are never re-run, even when replaying.
	require.NoError(t, replay.Rewind(ctx, 1))
	drain(t, replay)
	assert.Len(t, tr.Calls(), 2)
}
