package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sentinel/internal/engine"
	"github.com/roach88/sentinel/internal/httpapi"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Workers      int
	PollInterval time.Duration
	HTTPAddr     string
	Once         bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine",
		Long: `Start the engine: follow the change feed from the saved checkpoint and run
the configured transitions against every changed document.

With --http-addr the engine also serves /healthz, /metrics and the read-only
/v1 endpoints. With --once it processes the changes present at start and exits.

Every flag can be set from the environment, e.g. SENTINEL_WORKERS=8.

Example:
  sentinel run --db ./sentinel.db --http-addr :9090
  SENTINEL_DB=./sentinel.db SENTINEL_JWT_SECRET=... sentinel run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.resolve()
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", engine.DefaultWorkers, "number of document shards processed in parallel")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", engine.DefaultPollInterval, "feed poll interval when idle")
	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", "", "address for health, metrics and info endpoints (disabled when empty)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "process pending changes and exit")

	v := rootOpts.viper()
	for _, name := range []string{"workers", "poll-interval", "http-addr"} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}

	return cmd
}

// resolve applies environment and config file values to the flags.
func (o *RunOptions) resolve() {
	v := o.viper()
	o.Workers = v.GetInt("workers")
	o.PollInterval = v.GetDuration("poll-interval")
	o.HTTPAddr = v.GetString("http-addr")
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := EngineConfig{
		Workers:      opts.Workers,
		PollInterval: opts.PollInterval,
		JWTSecret:    opts.JWTSecret,
		TokenTTL:     opts.TokenTTL,
		Registerer:   reg,
	}
	a, err := newApp(st, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialise services", err)
	}
	eng := a.newEngine(cfg)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Once {
		slog.Info("draining change feed", "db", opts.Database)
		if err := eng.Drain(ctx); err != nil {
			return WrapExitError(ExitFailure, "engine error", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Change feed drained.")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})

	if opts.HTTPAddr != "" {
		srv := &http.Server{
			Addr: opts.HTTPAddr,
			Handler: httpapi.New(httpapi.Config{
				Store:          st,
				Gatherer:       reg,
				CheckpointName: engine.DefaultCheckpointName,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", opts.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("engine starting", "db", opts.Database, "workers", opts.Workers)
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Following the change feed...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}
