package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	From        int64
	RerunFailed bool
	Workers     int
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	From         int64 `json:"from"`
	To           int64 `json:"to"`
	FailedBefore int   `json:"failed_before"`
	FailedAfter  int   `json:"failed_after"`
	RerunFailed  bool  `json:"rerun_failed"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reprocess the change feed from a sequence",
		Long: `Rewind the engine's feed checkpoint to --from and process every change from
there to the current end of the feed.

Transitions that already succeeded against a change are not run again. With
--rerun-failed (the default) transitions whose last outcome failed are run
again even when the document has not changed since, resuming any partially
completed work.

Exit codes:
  0 - Replay completed
  2 - Command error (database not found, etc.)

Examples:
  sentinel replay --db ./sentinel.db --from 1
  sentinel replay --db ./sentinel.db --from 120 --rerun-failed=false`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 1, "first feed sequence to reprocess")
	cmd.Flags().BoolVar(&opts.RerunFailed, "rerun-failed", true, "run failed transitions again")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "number of document shards processed in parallel")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	if opts.From < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--from must be at least 1, got %d", opts.From))
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	cfg := EngineConfig{
		Workers:     opts.Workers,
		JWTSecret:   opts.JWTSecret,
		TokenTTL:    opts.TokenTTL,
		RerunFailed: opts.RerunFailed,
	}
	a, err := newApp(st, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialise services", err)
	}

	before, err := st.FailedRuns(ctx, "")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run history", err)
	}

	eng := a.newEngine(cfg)
	if err := eng.Rewind(ctx, opts.From); err != nil {
		return WrapExitError(ExitCommandError, "failed to rewind", err)
	}
	if err := eng.Drain(ctx); err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	last, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read feed", err)
	}
	after, err := st.FailedRuns(ctx, "")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run history", err)
	}

	result := ReplayResult{
		From:         opts.From,
		To:           last,
		FailedBefore: len(before),
		FailedAfter:  len(after),
		RerunFailed:  opts.RerunFailed,
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Replayed changes %d..%d\n", result.From, result.To)
	fmt.Fprintf(w, "Failed runs: %d before, %d recorded after\n", result.FailedBefore, result.FailedAfter)
	return nil
}
