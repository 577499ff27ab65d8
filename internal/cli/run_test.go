package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

func TestRunOnce_ReplacesUser(t *testing.T) {
	db := tempDB(t)
	seedReplacement(t, db, "+254712345678")

	out, _, err := execute(t, "--db", db, "--jwt-secret", "test-secret", "run", "--once", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Change feed drained.")

	withStore(t, db, func(ctx context.Context, st *store.Store) {
		bobs, err := st.AccountsByContact(ctx, "p2")
		require.NoError(t, err)
		require.Len(t, bobs, 1)
		assert.True(t, strings.HasPrefix(bobs[0].Username, "bob-"), bobs[0].Username)
		require.NotNil(t, bobs[0].TokenLogin)
		assert.True(t, bobs[0].TokenLogin.Active)

		p1, err := st.GetDoc(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, []model.ReplaceEntry{{Username: "alice", Status: model.ReplaceStatusComplete, ReplacementContactID: "p2"}}, p1.ReplaceEntries())

		msgs, err := st.ListMessages(ctx, bobs[0].ID())
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].Tasks[0].Messages[0].Body, "https://app.example.org/medic/login/token/")

		cp, err := st.Checkpoint(ctx, "sentinel")
		require.NoError(t, err)
		last, err := st.LastSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, last, cp)
	})
}

func TestRunOnce_EmptyFeed(t *testing.T) {
	out, _, err := execute(t, "--db", tempDB(t), "run", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "Change feed drained.")
}

func TestRunMissingDatabase(t *testing.T) {
	_, _, err := execute(t, "run", "--once")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunUnopenableDatabase(t *testing.T) {
	_, _, err := execute(t, "--db", "/nonexistent/dir/sentinel.db", "run", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open database")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunOptionsFromEnv(t *testing.T) {
	t.Setenv("SENTINEL_WORKERS", "7")
	t.Setenv("SENTINEL_HTTP_ADDR", ":9191")

	rootOpts := &RootOptions{}
	NewRunCommand(rootOpts)

	opts := &RunOptions{RootOptions: rootOpts}
	opts.resolve()
	assert.Equal(t, 7, opts.Workers)
	assert.Equal(t, ":9191", opts.HTTPAddr)
	assert.Equal(t, time.Second, opts.PollInterval)
}

func TestRun_ServesHTTPUntilCancelled(t *testing.T) {
	db := tempDB(t)
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCommand()
	out := &safeBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--db", db, "run", "--http-addr", addr, "--poll-interval", "10ms"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 5*time.Second, 20*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	metrics, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	metricsBody, err := io.ReadAll(metrics.Body)
	metrics.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metricsBody), "sentinel_feed_checkpoint")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	assert.Contains(t, out.String(), "Engine started.")
}

// freeAddr returns a loopback address with a currently free port.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
