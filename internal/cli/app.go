package cli

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/sentinel/internal/accounts"
	"github.com/roach88/sentinel/internal/engine"
	"github.com/roach88/sentinel/internal/messages"
	"github.com/roach88/sentinel/internal/store"
	"github.com/roach88/sentinel/internal/transition"
	"github.com/roach88/sentinel/internal/transition/replaceuser"
)

// TokenIssuerName is the issuer claim of login tokens.
const TokenIssuerName = "sentinel"

// EngineConfig is the process configuration of the engine.
type EngineConfig struct {
	Workers      int
	PollInterval time.Duration
	JWTSecret    string
	TokenTTL     time.Duration
	RerunFailed  bool
	Registerer   prometheus.Registerer
}

// app holds the services one command works with.
type app struct {
	store    *store.Store
	accounts *accounts.Service
	queue    *messages.Queue
	registry *transition.Registry
}

// openStore opens the database named by --db or SENTINEL_DB.
func (o *RootOptions) openStore() (*store.Store, error) {
	if o.Database == "" {
		return nil, NewExitError(ExitCommandError, "database path is required (--db or SENTINEL_DB)")
	}
	slog.Debug("opening database", "path", o.Database)
	st, err := store.Open(o.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newApp wires the account service, the message queue and the transition
// registry over st.
func newApp(st *store.Store, cfg EngineConfig) (*app, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		// Tokens signed with a throwaway key stop validating on restart.
		generated, err := accounts.GenerateSecret()
		if err != nil {
			return nil, err
		}
		slog.Warn("no jwt secret configured; using a random signing key")
		secret = generated
	}

	svc := accounts.NewService(st, accounts.NewTokenIssuer(secret, TokenIssuerName, cfg.TokenTTL))
	queue := messages.NewQueue(st)
	registry, err := transition.NewRegistry(
		replaceuser.New(st, svc, queue, st),
	)
	if err != nil {
		return nil, err
	}

	return &app{store: st, accounts: svc, queue: queue, registry: registry}, nil
}

// newEngine builds the engine over the app's store and registry.
func (a *app) newEngine(cfg EngineConfig) *engine.Engine {
	opts := []engine.Option{
		engine.WithRerunFailed(cfg.RerunFailed),
	}
	if cfg.Workers > 0 {
		opts = append(opts, engine.WithWorkers(cfg.Workers))
	}
	if cfg.PollInterval > 0 {
		opts = append(opts, engine.WithPollInterval(cfg.PollInterval))
	}
	if cfg.Registerer != nil {
		opts = append(opts, engine.WithMetrics(engine.NewMetrics(cfg.Registerer)))
	}
	return engine.New(a.store, a.registry, opts...)
}
