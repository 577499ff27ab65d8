package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/sentinel/internal/accounts"
	"github.com/roach88/sentinel/internal/model"
)

// UserAddOptions holds flags for users add.
type UserAddOptions struct {
	*RootOptions
	Spec accounts.AccountSpec
}

// NewUsersCommand creates the users command group.
func NewUsersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUsersAddCommand(rootOpts))
	cmd.AddCommand(newUsersListCommand(rootOpts))
	cmd.AddCommand(newUsersPasswdCommand(rootOpts))
	return cmd
}

func newUsersAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user account linked to a contact",
		Long: `Create a user account linked to a contact.

Example:
  sentinel users add --db ./sentinel.db --username alice --contact p1 \
    --facility clinic-1 --role chw --password s3cret`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			spec := opts.Spec
			if spec.FullName == "" {
				spec.FullName = spec.Username
			}

			a, err := accounts.NewService(st, nil).Create(cmd.Context(), spec)
			if errors.Is(err, accounts.ErrUsernameTaken) {
				return WrapExitError(ExitFailure, "failed to create user", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create user", err)
			}

			if opts.Format == "json" {
				return newFormatter(opts.RootOptions, cmd).Success(a)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s for contact %s\n", a.Username, a.ContactID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Spec.Username, "username", "", "username (required)")
	cmd.Flags().StringVar(&opts.Spec.ContactID, "contact", "", "linked contact id (required)")
	cmd.Flags().StringVar(&opts.Spec.FacilityID, "facility", "", "facility id")
	cmd.Flags().StringSliceVar(&opts.Spec.Roles, "role", nil, "role (repeatable)")
	cmd.Flags().StringVar(&opts.Spec.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Spec.FullName, "fullname", "", "full name (defaults to the username)")
	cmd.Flags().StringVar(&opts.Spec.Password, "password", "", "password")
	cmd.Flags().BoolVar(&opts.Spec.TokenLogin, "token-login", false, "account logs in with tokens")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("contact")

	return cmd
}

func newUsersListCommand(rootOpts *RootOptions) *cobra.Command {
	var contactID string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List user accounts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			svc := accounts.NewService(st, nil)
			var list []model.Account
			if contactID != "" {
				list, err = svc.GetByContact(cmd.Context(), contactID)
			} else {
				list, err = svc.List(cmd.Context())
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list users", err)
			}
			if list == nil {
				list = []model.Account{}
			}

			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Success(list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users.")
				return nil
			}

			rows := make([]table.Row, len(list))
			for i, a := range list {
				tokenLogin := a.TokenLogin != nil && a.TokenLogin.Active
				rows[i] = table.Row{a.Username, a.ContactID, a.FacilityID, strings.Join(a.Roles, ","), a.Phone, tokenLogin, a.PasswordHash != ""}
			}
			newFormatter(rootOpts, cmd).Table(
				table.Row{"Username", "Contact", "Facility", "Roles", "Phone", "Token Login", "Password"},
				rows,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&contactID, "contact", "", "only accounts linked to this contact")
	return cmd
}

func newUsersPasswdCommand(rootOpts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a user's password",
		Long: `Set a user's password, e.g. to restore access to an account that was
replaced and had its credentials reset.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return NewExitError(ExitCommandError, "--password is required")
			}

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			err = accounts.NewService(st, nil).SetPassword(cmd.Context(), args[0], password)
			if errors.Is(err, accounts.ErrNotFound) {
				return NewExitError(ExitFailure, fmt.Sprintf("user %s not found", args[0]))
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to set password", err)
			}

			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Success(map[string]string{"username": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "new password")
	return cmd
}
