package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

// NewDocCommand creates the doc command group.
func NewDocCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and write documents in the store",
	}
	cmd.AddCommand(newDocPutCommand(rootOpts))
	cmd.AddCommand(newDocGetCommand(rootOpts))
	cmd.AddCommand(newDocListCommand(rootOpts))
	return cmd
}

func newDocPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <file.json>",
		Short: "Store a JSON document",
		Long: `Store a JSON document. The document needs an _id. Without a _rev it is written
on top of the current revision; with one, a stale _rev is rejected.

Example:
  sentinel doc put --db ./sentinel.db contact.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read document", err)
			}
			doc, err := model.DecodeDocument(data)
			if err != nil {
				return WrapExitError(ExitFailure, "invalid document", err)
			}
			if doc.ID() == "" {
				return NewExitError(ExitFailure, "document has no _id")
			}

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rev, err := putCurrent(cmd.Context(), st, doc)
			if errors.Is(err, store.ErrConflict) {
				return WrapExitError(ExitFailure, "document update conflict", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to store document", err)
			}

			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Success(map[string]string{"id": doc.ID(), "rev": rev})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s at revision %s\n", doc.ID(), rev)
			return nil
		},
	}
}

func newDocGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <id>",
		Short:         "Print a document",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			doc, err := st.GetDoc(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return NewExitError(ExitFailure, fmt.Sprintf("document %s not found", args[0]))
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read document", err)
			}

			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Success(doc)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
}

func newDocListCommand(rootOpts *RootOptions) *cobra.Command {
	var docType string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List live documents of one type",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			docs, err := st.ListDocs(cmd.Context(), docType)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list documents", err)
			}
			if docs == nil {
				docs = []model.Document{}
			}

			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Success(docs)
			}
			if len(docs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No %s documents.\n", docType)
				return nil
			}

			rows := make([]table.Row, len(docs))
			for i, doc := range docs {
				rows[i] = table.Row{doc.ID(), doc.Rev(), doc.String("name"), len(doc.Errors())}
			}
			newFormatter(rootOpts, cmd).Table(table.Row{"ID", "Rev", "Name", "Errors"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&docType, "type", "person", "document type")
	return cmd
}
