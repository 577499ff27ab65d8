package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sentinel/internal/model"
)

func TestInsertAccount_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestAccount("alice", "p1")
	a.PasswordHash = "hash"
	require.NoError(t, s.InsertAccount(ctx, a))

	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ContactID)
	assert.Equal(t, []string{"chw"}, got.Roles)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Nil(t, got.TokenLogin)
	assert.True(t, testNow.Equal(got.CreatedAt))
}

func TestInsertAccount_UsernameTaken(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAccount(ctx, createTestAccount("alice", "p1")))

	err := s.InsertAccount(ctx, createTestAccount("alice", "p2"))
	assert.ErrorIs(t, err, ErrUsernameTaken)

	exists, err := s.AccountExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.AccountExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAccountsByContact(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAccount(ctx, createTestAccount("carol", "p1")))
	require.NoError(t, s.InsertAccount(ctx, createTestAccount("alice", "p1")))
	require.NoError(t, s.InsertAccount(ctx, createTestAccount("bob", "p2")))

	accounts, err := s.AccountsByContact(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.Equal(t, "carol", accounts[1].Username)

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetAccount_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetAccount(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePasswordHashAndTokenLogin(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAccount(ctx, createTestAccount("alice", "p1")))

	later := testNow.Add(time.Hour)
	require.NoError(t, s.UpdatePasswordHash(ctx, "alice", "new-hash", later))
	require.NoError(t, s.UpdateTokenLogin(ctx, "alice", model.TokenLogin{
		Active:    true,
		TokenID:   "jti-1",
		ExpiresAt: later,
	}, later))

	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	require.NotNil(t, got.TokenLogin)
	assert.True(t, got.TokenLogin.Active)
	assert.Equal(t, "jti-1", got.TokenLogin.TokenID)
	assert.True(t, later.Equal(got.UpdatedAt))

	err = s.UpdatePasswordHash(ctx, "nobody", "x", later)
	assert.ErrorIs(t, err, ErrNotFound)
}
