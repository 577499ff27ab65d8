package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/sentinel/internal/messages"
	"github.com/roach88/sentinel/internal/model"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the outbound message queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued messages",
		Long: `List queued messages in enqueue order, one row per SMS.

Example:
  sentinel queue list --db ./sentinel.db --user org.couchdb.user:bob-1234`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := messages.NewQueue(st).List(cmd.Context(), user)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list messages", err)
			}
			if msgs == nil {
				msgs = []model.Message{}
			}

			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Success(msgs)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No queued messages.")
				return nil
			}

			var rows []table.Row
			for _, m := range msgs {
				for _, task := range m.Tasks {
					for _, tm := range task.Messages {
						rows = append(rows, table.Row{m.ID, m.Type, m.User, task.State, tm.To, tm.Body})
					}
				}
			}
			newFormatter(rootOpts, cmd).Table(table.Row{"ID", "Type", "User", "State", "To", "Message"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "only messages for this user id")
	return cmd
}
