package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Failed     bool
	Transition string
	Resolve    string
}

// InfoResult is the info record of one document with its run history.
type InfoResult struct {
	Info *model.InfoDoc        `json:"info"`
	Runs []model.TransitionRun `json:"runs"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info [doc-id]",
		Short: "Show which transitions ran against a document",
		Long: `Show the info record of a document: the outcome of every transition that ran
against it, per-entry results, and the full run history.

With --failed, list failed runs across all documents instead.

With --resolve, mark a failed transition outcome ok after it was reconciled
by hand. The failed run stays in the history, but the transition no longer
runs for the document's current change, not even under replay --rerun-failed.

Examples:
  sentinel info --db ./sentinel.db p1
  sentinel info --db ./sentinel.db p1 --resolve create_user_for_contacts
  sentinel info --db ./sentinel.db --failed --transition create_user_for_contacts`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Failed {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Failed {
				return runFailedRuns(opts, cmd)
			}
			if opts.Resolve != "" {
				return runResolve(opts, args[0], cmd)
			}
			return runInfo(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "list failed runs across all documents")
	cmd.Flags().StringVar(&opts.Transition, "transition", "", "only failed runs of this transition (with --failed)")
	cmd.Flags().StringVar(&opts.Resolve, "resolve", "", "mark this transition's failed outcome ok")
	cmd.MarkFlagsMutuallyExclusive("failed", "resolve")

	return cmd
}

func runInfo(opts *InfoOptions, docID string, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	info, err := st.GetInfo(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitFailure, fmt.Sprintf("no info record for %s", docID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read info record", err)
	}
	runs, err := st.ListRuns(ctx, docID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run history", err)
	}
	if runs == nil {
		runs = []model.TransitionRun{}
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(InfoResult{Info: info, Runs: runs})
	}

	f := newFormatter(opts.RootOptions, cmd)
	w := f.Writer
	fmt.Fprintf(w, "Document: %s\n", info.DocID)
	if info.EngineRev != "" {
		fmt.Fprintf(w, "Engine revision: %s\n", info.EngineRev)
	}
	if info.PendingHash != "" {
		fmt.Fprintf(w, "Interrupted pass pending for change %s\n", info.PendingHash)
	}
	fmt.Fprintln(w)

	if len(info.Transitions) == 0 {
		fmt.Fprintln(w, "No transitions have run.")
	} else {
		writeOutcomes(f, info)
	}

	if len(runs) > 0 {
		fmt.Fprintln(w)
		writeRuns(f, runs)
	}
	return nil
}

func runResolve(opts *InfoOptions, docID string, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	name := opts.Resolve
	outcome, err := st.GetOutcome(ctx, docID, name)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitFailure, fmt.Sprintf("%s has not run against %s", name, docID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outcome", err)
	}

	resolved := !outcome.OK
	if resolved {
		now := time.Now().UTC()
		outcome.OK = true
		outcome.LastRun = now
		if err := st.RecordOutcome(ctx, docID, name, outcome, now); err != nil {
			return WrapExitError(ExitCommandError, "failed to record outcome", err)
		}
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(map[string]any{
			"doc_id":     docID,
			"transition": name,
			"resolved":   resolved,
		})
	}
	if resolved {
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %s ok on %s\n", name, docID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already ok on %s\n", name, docID)
	}
	return nil
}

func runFailedRuns(opts *InfoOptions, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.FailedRuns(cmd.Context(), opts.Transition)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run history", err)
	}
	if runs == nil {
		runs = []model.TransitionRun{}
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No failed runs.")
		return nil
	}
	writeRuns(newFormatter(opts.RootOptions, cmd), runs)
	return nil
}

func writeOutcomes(f *OutputFormatter, info *model.InfoDoc) {
	names := make([]string, 0, len(info.Transitions))
	for name := range info.Transitions {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, len(names))
	for i, name := range names {
		o := info.Transitions[name]
		rows[i] = table.Row{name, o.OK, o.Seq, o.RunID, formatTimestamp(o.LastRun), formatEntries(o.Entries)}
	}
	f.Table(table.Row{"Transition", "OK", "Seq", "Run", "Last Run", "Entries"}, rows)
}

func writeRuns(f *OutputFormatter, runs []model.TransitionRun) {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		errs := make([]string, len(r.Errors))
		for i, e := range r.Errors {
			errs[i] = e.Code
		}
		rows = append(rows, table.Row{r.RunID, r.DocID, r.Transition, r.Seq, r.OK, strings.Join(errs, ","), formatTimestamp(r.RanAt)})
	}
	f.Table(table.Row{"Run", "Doc", "Transition", "Seq", "OK", "Errors", "Ran At"}, rows)
}

// formatEntries renders per-entry outcomes as "alice=ok(bob-1234) carol=INVALID_PHONE".
func formatEntries(entries map[string]model.EntryOutcome) string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		e := entries[k]
		switch {
		case e.OK && e.NewUsername != "":
			parts[i] = fmt.Sprintf("%s=ok(%s)", k, e.NewUsername)
		case e.OK:
			parts[i] = k + "=ok"
		default:
			parts[i] = k + "=" + e.Code
		}
	}
	return strings.Join(parts, " ")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
