package cli

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"
)

// OffersListOptions holds flags for the offers list command.
type OffersListOptions struct {
	*RootOptions
	Cursor int
	Limit  int
}

// NewOffersCommand creates the offers command group.
func NewOffersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "Browse the order book",
	}
	cmd.AddCommand(newOffersListCommand(rootOpts))
	return cmd
}

func newOffersListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OffersListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open offers, cheapest ryo per rep first",
		Long: `List open offers, cheapest ryo per rep first.

Pages are numbered from 0. When a page is full, the next page number is
printed; pass it back with --cursor.`,
		Example: `  blackmarket offers list
  blackmarket offers list --limit 20 --cursor 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOffersList(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Cursor, "cursor", 0, "page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size (0 uses the configured default)")

	return cmd
}

func runOffersList(opts *OffersListOptions, cmd *cobra.Command) error {
	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	f := opts.formatter(cmd)
	page, err := sess.market.ListOpenOffers(cmd.Context(), opts.Cursor, opts.Limit)
	if err != nil {
		return f.Rejection(err)
	}

	var text bytes.Buffer
	if len(page.Offers) == 0 {
		text.WriteString("No open offers.\n")
	} else if err := writeOffersTable(&text, page.Offers); err != nil {
		return err
	}
	if page.NextCursor != nil {
		fmt.Fprintf(&text, "next cursor: %d\n", *page.NextCursor)
	}
	return f.Success(page, text.String())
}
