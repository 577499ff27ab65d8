// Package httpapi is the engine's read-only operations surface: health,
// Prometheus metrics, info documents and account lookups.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

// Store is the persistence the API reads from.
type Store interface {
	Ping(ctx context.Context) error
	GetInfo(ctx context.Context, docID string) (*model.InfoDoc, error)
	ListRuns(ctx context.Context, docID string) ([]model.TransitionRun, error)
	AccountsByContact(ctx context.Context, contactID string) ([]model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	Checkpoint(ctx context.Context, name string) (int64, error)
	LastSeq(ctx context.Context) (int64, error)
}

// Config configures the handler.
type Config struct {
	Store Store

	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	// CheckpointName is the feed checkpoint reported by /healthz.
	CheckpointName string

	Logger *slog.Logger
}

// InfoResponse is the body of GET /v1/info/{docID}.
type InfoResponse struct {
	Info *model.InfoDoc        `json:"info"`
	Runs []model.TransitionRun `json:"runs"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Checkpoint int64  `json:"checkpoint"`
	LastSeq    int64  `json:"last_seq"`
	Error      string `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type handler struct {
	store      Store
	checkpoint string
	logger     *slog.Logger
}

// New returns the HTTP handler.
func New(cfg Config) http.Handler {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{store: cfg.Store, checkpoint: cfg.CheckpointName, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info/{docID}", h.handleInfo)
		r.Get("/accounts", h.handleAccounts)
	})
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "health check failed",
			"request_id", middleware.GetReqID(ctx),
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}

	resp := HealthResponse{Status: "ok"}
	var err error
	if h.checkpoint != "" {
		if resp.Checkpoint, err = h.store.Checkpoint(ctx, h.checkpoint); err != nil {
			h.internalError(w, r, "read checkpoint", err)
			return
		}
	}
	if resp.LastSeq, err = h.store.LastSeq(ctx); err != nil {
		h.internalError(w, r, "read last seq", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := chi.URLParam(r, "docID")

	info, err := h.store.GetInfo(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: "no info document for " + docID})
		return
	}
	if err != nil {
		h.internalError(w, r, "get info", err)
		return
	}

	runs, err := h.store.ListRuns(ctx, docID)
	if err != nil {
		h.internalError(w, r, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.TransitionRun{}
	}
	writeJSON(w, http.StatusOK, InfoResponse{Info: info, Runs: runs})
}

func (h *handler) handleAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		accounts []model.Account
		err      error
	)
	if contactID := r.URL.Query().Get("contact_id"); contactID != "" {
		accounts, err = h.store.AccountsByContact(ctx, contactID)
	} else {
		accounts, err = h.store.ListAccounts(ctx)
	}
	if err != nil {
		h.internalError(w, r, "list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "request failed",
		"request_id", middleware.GetReqID(r.Context()),
		"op", op,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal_error", Message: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
