package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_MissingIsZero(t *testing.T) {
	s := createTestStore(t)

	key := ReplacementKey{DocID: "p1", OldUsername: "alice", ReplacementContactID: "p2"}
	p, err := s.GetProgress(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, key, p.ReplacementKey)
	assert.False(t, p.AccountCreated)
	assert.Empty(t, p.NewUsername)
}

func TestProgress_SaveAndResume(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	key := ReplacementKey{DocID: "p1", OldUsername: "alice", ReplacementContactID: "p2"}
	require.NoError(t, s.SaveProgress(ctx, ReplacementProgress{
		ReplacementKey: key,
		NewUsername:    "bob-1234",
		AccountCreated: true,
		UpdatedAt:      testNow,
	}))

	p, err := s.GetProgress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "bob-1234", p.NewUsername)
	assert.True(t, p.AccountCreated)
	assert.False(t, p.MessageQueued)

	p.MessageQueued = true
	p.CredentialReset = true
	require.NoError(t, s.SaveProgress(ctx, p))

	p, err = s.GetProgress(ctx, key)
	require.NoError(t, err)
	assert.True(t, p.MessageQueued)
	assert.True(t, p.CredentialReset)

	other, err := s.GetProgress(ctx, ReplacementKey{DocID: "p1", OldUsername: "alice", ReplacementContactID: "p3"})
	require.NoError(t, err)
	assert.False(t, other.AccountCreated, "a different replacement contact starts fresh")
}
