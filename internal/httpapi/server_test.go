package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sentinel/internal/engine"
	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupServer(t *testing.T) (*store.Store, *prometheus.Registry, http.Handler) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := prometheus.NewRegistry()
	h := New(Config{Store: st, Gatherer: reg, CheckpointName: "engine"})
	return st, reg, h
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	st, _, h := setupServer(t)
	ctx := context.Background()

	_, err := st.PutDoc(ctx, model.Document{"_id": "p1", "type": "person"})
	require.NoError(t, err)
	require.NoError(t, st.SaveCheckpoint(ctx, "engine", 1))

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "ok", Checkpoint: 1, LastSeq: 1}, resp)
}

func TestHealth_StoreClosed(t *testing.T) {
	st, _, h := setupServer(t)
	require.NoError(t, st.Close())

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unavailable"`)
}

func TestMetrics(t *testing.T) {
	_, reg, h := setupServer(t)
	m := engine.NewMetrics(reg)
	m.IncrementTransition("create_user_for_contacts", true)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sentinel_transition_runs_total{ok="true",transition="create_user_for_contacts"} 1`)
}

func TestInfo(t *testing.T) {
	st, _, h := setupServer(t)
	ctx := context.Background()

	info := model.NewInfoDoc("p1", testNow)
	info.Transitions["create_user_for_contacts"] = model.Outcome{
		OK: true, Seq: 2, ChangeHash: "h1", RunID: "run-1", LastRun: testNow,
		Entries: map[string]model.EntryOutcome{"alice": {OK: true, NewUsername: "bob-1234"}},
	}
	_, err := st.CommitChange(ctx, store.ChangeCommit{
		Info: info,
		Runs: []model.TransitionRun{{
			RunID: "run-1", DocID: "p1", Transition: "create_user_for_contacts",
			ChangeHash: "h1", Seq: 2, OK: true, RanAt: testNow,
		}},
	})
	require.NoError(t, err)

	rec := get(t, h, "/v1/info/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Info)
	assert.Equal(t, "p1", resp.Info.DocID)
	outcome := resp.Info.Transitions["create_user_for_contacts"]
	assert.True(t, outcome.OK)
	assert.Equal(t, "bob-1234", outcome.Entries["alice"].NewUsername)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "run-1", resp.Runs[0].RunID)
}

func TestInfo_NotFound(t *testing.T) {
	_, _, h := setupServer(t)

	rec := get(t, h, "/v1/info/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":"not_found","message":"no info document for missing"}`, rec.Body.String())
}

func TestAccounts(t *testing.T) {
	st, _, h := setupServer(t)
	ctx := context.Background()

	for _, a := range []model.Account{
		{Username: "alice", ContactID: "p1", Roles: []string{"chw"}, PasswordHash: "secret-hash", CreatedAt: testNow, UpdatedAt: testNow},
		{Username: "bob", ContactID: "p2", Roles: []string{"chw"}, CreatedAt: testNow, UpdatedAt: testNow},
	} {
		require.NoError(t, st.InsertAccount(ctx, a))
	}

	t.Run("all", func(t *testing.T) {
		rec := get(t, h, "/v1/accounts")
		require.Equal(t, http.StatusOK, rec.Code)

		var accounts []model.Account
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
		require.Len(t, accounts, 2)
		assert.Equal(t, "alice", accounts[0].Username)
		assert.NotContains(t, rec.Body.String(), "secret-hash")
	})

	t.Run("by contact", func(t *testing.T) {
		rec := get(t, h, "/v1/accounts?contact_id=p2")
		require.Equal(t, http.StatusOK, rec.Code)

		var accounts []model.Account
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
		require.Len(t, accounts, 1)
		assert.Equal(t, "bob", accounts[0].Username)
	})

	t.Run("no match", func(t *testing.T) {
		rec := get(t, h, "/v1/accounts?contact_id=nobody")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}
