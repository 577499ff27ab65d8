package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/sentinel/internal/accounts"
	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// tempDB returns the path of a fresh database in a temp dir.
func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sentinel.db")
}

// withStore opens the database at path for direct seeding or inspection.
func withStore(t *testing.T, path string, fn func(ctx context.Context, st *store.Store)) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	fn(context.Background(), st)
}

// seedReplacement stores settings, alice on p1, and p1 marked READY for
// replacement by Bob (p2).
func seedReplacement(t *testing.T, path string, bobPhone string) {
	t.Helper()
	withStore(t, path, func(ctx context.Context, st *store.Store) {
		_, err := st.PutDoc(ctx, model.Document{
			"_id":         model.SettingsDocID,
			"transitions": map[string]any{"create_user_for_contacts": true},
			"token_login": map[string]any{"enabled": true},
			"app_url":     "https://app.example.org",
		})
		require.NoError(t, err)

		svc := accounts.NewService(st, nil, accounts.WithHashCost(bcrypt.MinCost))
		_, err = svc.Create(ctx, accounts.AccountSpec{
			Username: "alice", ContactID: "p1", Roles: []string{"chw"}, FullName: "alice", Password: "alice-secret",
		})
		require.NoError(t, err)

		bob := model.Document{"_id": "p2", "type": "person", "name": "Bob"}
		if bobPhone != "" {
			bob["phone"] = bobPhone
		}
		_, err = st.PutDoc(ctx, bob)
		require.NoError(t, err)

		_, err = st.PutDoc(ctx, model.Document{
			"_id":  "p1",
			"type": "person",
			"name": "Alice",
			"user_for_contact": map[string]any{
				"replace": map[string]any{
					"alice": map[string]any{"status": "READY", "replacement_contact_id": "p2"},
				},
			},
		})
		require.NoError(t, err)
	})
}

// writeFile writes content to name inside a temp dir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// safeBuffer is a bytes.Buffer safe for concurrent writers and readers.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
