package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/blackmarket/internal/market"
)

// AccountOpenOptions holds flags for the account open command.
type AccountOpenOptions struct {
	*RootOptions
	Username string
	Avatar   string
	Money    int64
	Reps     int64
}

// NewAccountCommand creates the account command group.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Open and inspect accounts",
	}
	cmd.AddCommand(newAccountOpenCommand(rootOpts))
	cmd.AddCommand(newAccountShowCommand(rootOpts))
	return cmd
}

func newAccountOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOpenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "open <user-id>",
		Short: "Open an account with starting balances",
		Example: `  blackmarket account open alice --username Alice --money 500 --reps 100
  blackmarket account open bob --reps 20 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountOpen(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Username, "username", "", "display name (defaults to the user id)")
	cmd.Flags().StringVar(&opts.Avatar, "avatar", "", "avatar URL")
	cmd.Flags().Int64Var(&opts.Money, "money", 0, "starting ryo")
	cmd.Flags().Int64Var(&opts.Reps, "reps", 0, "starting reputation points")

	return cmd
}

func runAccountOpen(opts *AccountOpenOptions, userID string, cmd *cobra.Command) error {
	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	f := opts.formatter(cmd)
	err = sess.market.OpenAccount(cmd.Context(), market.Account{
		UserID:           userID,
		Username:         opts.Username,
		Avatar:           opts.Avatar,
		Money:            opts.Money,
		ReputationPoints: opts.Reps,
	})
	if err != nil {
		return f.Rejection(err)
	}

	acct, err := sess.market.Account(cmd.Context(), strings.TrimSpace(userID))
	if err != nil {
		return f.Rejection(err)
	}
	return f.Success(acct, fmt.Sprintf("Opened account %s\n%s", acct.UserID, describeAccount(acct)))
}

func newAccountShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <user-id>",
		Short:         "Show an account's balances",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			f := rootOpts.formatter(cmd)
			acct, err := sess.market.Account(cmd.Context(), args[0])
			if err != nil {
				return f.Rejection(err)
			}
			return f.Success(acct, describeAccount(acct))
		},
	}
}

func describeAccount(acct market.Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", acct.UserID, acct.Username)
	fmt.Fprintf(&b, "  money: %s ryo\n", formatAmount(acct.Money))
	fmt.Fprintf(&b, "  reps:  %s\n", formatAmount(acct.ReputationPoints))
	return b.String()
}
