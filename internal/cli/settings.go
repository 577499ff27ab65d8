package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/settings"
	"github.com/roach88/sentinel/internal/store"
	"github.com/roach88/sentinel/internal/transition"
	"github.com/roach88/sentinel/internal/transition/replaceuser"
)

// SettingsReport is the result of validating a settings file.
type SettingsReport struct {
	Valid        bool                       `json:"valid"`
	Active       []string                   `json:"active"`
	Diagnostics  []transition.Diagnostic    `json:"diagnostics,omitempty"`
	SchemaErrors []settings.ValidationError `json:"schema_errors,omitempty"`
}

// NewSettingsCommand creates the settings command group.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Validate and store the engine settings",
	}
	cmd.AddCommand(newSettingsValidateCommand(rootOpts))
	cmd.AddCommand(newSettingsSetCommand(rootOpts))
	return cmd
}

func newSettingsValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a settings file against the schema and every transition's requirements",
		Long: `Check a settings file (.yaml, .yml or .json) against the settings schema and
the configuration requirements of every enabled transition.

Exit codes:
  0 - Settings are valid
  1 - Schema or configuration errors
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, report, err := checkSettingsFile(args[0])
			if err != nil {
				return err
			}
			return outputSettingsReport(rootOpts, cmd, report)
		},
	}
}

func newSettingsSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <file>",
		Short: "Validate a settings file and store it as the settings document",
		Long: `Validate a settings file and store it as the "settings" document. A running
engine picks the change up from the feed and reconfigures its transitions.

Settings with configuration errors are stored anyway, because the engine
disables only the affected transitions; schema errors are rejected.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, report, err := checkSettingsFile(args[0])
			if err != nil {
				return err
			}
			if len(report.SchemaErrors) > 0 {
				return outputSettingsReport(rootOpts, cmd, report)
			}

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rev, err := putCurrent(cmd.Context(), st, doc)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to store settings", err)
			}

			formatter := newFormatter(rootOpts, cmd)
			if rootOpts.Format == "json" {
				return formatter.Success(map[string]any{"rev": rev, "report": report})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored settings at revision %s\n", rev)
			writeSettingsReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

// checkSettingsFile reads a settings file, validates it, and returns it as
// the settings document.
func checkSettingsFile(path string) (model.Document, SettingsReport, error) {
	data, err := readSettingsJSON(path)
	if err != nil {
		return nil, SettingsReport{}, err
	}

	report := SettingsReport{Active: []string{}}
	s, err := settings.Parse(data)
	var schemaErr *settings.SchemaError
	if errors.As(err, &schemaErr) {
		report.SchemaErrors = schemaErr.Errors
		return nil, report, nil
	}
	if err != nil {
		return nil, SettingsReport{}, WrapExitError(ExitCommandError, "failed to parse settings", err)
	}

	// Preconditions only look at settings, so the transitions need no
	// backing services here.
	registry, err := transition.NewRegistry(replaceuser.New(nil, nil, nil, nil))
	if err != nil {
		return nil, SettingsReport{}, err
	}
	report.Diagnostics = registry.Configure(s)
	for _, t := range registry.Snapshot().Active {
		report.Active = append(report.Active, t.Name())
	}
	report.Valid = !transition.HasErrors(report.Diagnostics)

	doc, err := model.DecodeDocument(data)
	if err != nil {
		return nil, SettingsReport{}, WrapExitError(ExitCommandError, "failed to parse settings", err)
	}
	doc[model.FieldID] = model.SettingsDocID
	return doc, report, nil
}

// readSettingsJSON returns the file's content as JSON, converting YAML.
func readSettingsJSON(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read settings", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return data, nil
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, WrapExitError(ExitFailure, "invalid settings YAML", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		out, err := json.Marshal(raw)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to convert settings", err)
		}
		return out, nil
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unsupported settings file %s: want .yaml, .yml or .json", path))
	}
}

// putCurrent stores doc on top of its current revision.
func putCurrent(ctx context.Context, st *store.Store, doc model.Document) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if doc.Rev() == "" {
		current, err := st.GetDoc(ctx, doc.ID())
		switch {
		case err == nil:
			doc[model.FieldRev] = current.Rev()
		case !errors.Is(err, store.ErrNotFound):
			return "", err
		}
	}
	return st.PutDoc(ctx, doc)
}

func outputSettingsReport(opts *RootOptions, cmd *cobra.Command, report SettingsReport) error {
	failed := !report.Valid
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: report}
		if failed {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_INVALID_SETTINGS", Message: "settings are not valid"}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		writeSettingsReport(cmd.OutOrStdout(), report)
	}

	if failed {
		return NewExitError(ExitFailure, "settings are not valid")
	}
	return nil
}

func writeSettingsReport(w io.Writer, report SettingsReport) {
	if len(report.SchemaErrors) > 0 {
		fmt.Fprintln(w, "Settings: schema errors")
		for _, ve := range report.SchemaErrors {
			fmt.Fprintf(w, "  %s\n", ve.Error())
		}
		return
	}

	if report.Valid {
		fmt.Fprintln(w, "Settings: valid")
	} else {
		fmt.Fprintln(w, "Settings: configuration errors")
	}

	active := "(none)"
	if len(report.Active) > 0 {
		active = strings.Join(report.Active, ", ")
	}
	fmt.Fprintf(w, "Active transitions: %s\n", active)

	for _, d := range report.Diagnostics {
		msg := d.Message
		if d.Transition != "" {
			msg = "[" + d.Transition + "] " + msg
		}
		fmt.Fprintf(w, "  %-7s %s\n", d.Severity, msg)
	}
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
