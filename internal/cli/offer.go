package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/blackmarket/internal/market"
)

// OfferOptions holds flags shared by the offer subcommands.
type OfferOptions struct {
	*RootOptions
	As             string // acting user
	IdempotencyKey string
}

// OfferCreateOptions holds flags for the offer create command.
type OfferCreateOptions struct {
	*OfferOptions
	Reps int64
	Ryo  int64
}

// NewOfferCommand creates the offer command group.
func NewOfferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OfferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Create, delist and take offers",
	}
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "acting user id (required)")
	cmd.PersistentFlags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "reject a retried request with the same key")
	_ = cmd.MarkPersistentFlagRequired("as")

	cmd.AddCommand(newOfferCreateCommand(opts))
	cmd.AddCommand(newOfferDelistCommand(opts))
	cmd.AddCommand(newOfferTakeCommand(opts))
	return cmd
}

// requestContext attaches the idempotency key, if any.
func (o *OfferOptions) requestContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if o.IdempotencyKey != "" {
		ctx = market.WithIdempotencyKey(ctx, o.IdempotencyKey)
	}
	return ctx
}

func newOfferCreateCommand(offerOpts *OfferOptions) *cobra.Command {
	opts := &OfferCreateOptions{OfferOptions: offerOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Escrow reputation points into a new offer",
		Long: `Escrow reputation points into a new offer.

The listing fee is charged in reputation points on top of the escrowed
amount and is not refunded if the offer is later delisted.`,
		Example:       `  blackmarket offer create --as alice --reps 10 --ryo 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOfferCreate(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Reps, "reps", 0, "reputation points to sell")
	cmd.Flags().Int64Var(&opts.Ryo, "ryo", 0, "total asking price in ryo")
	_ = cmd.MarkFlagRequired("reps")
	_ = cmd.MarkFlagRequired("ryo")

	return cmd
}

func runOfferCreate(opts *OfferCreateOptions, cmd *cobra.Command) error {
	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	f := opts.formatter(cmd)
	offer, err := sess.market.CreateOffer(opts.requestContext(cmd), opts.As, opts.Reps, opts.Ryo)
	if err != nil {
		return f.Rejection(err)
	}

	text := fmt.Sprintf("Offer %s created: %s reps for %s ryo (%s ryo/rep)\n",
		offer.ID,
		formatAmount(offer.RepsForSale),
		formatAmount(offer.RequestedRyo),
		offer.RyoPerRep.StringFixed(2),
	)
	return f.Success(offer, text)
}

func newOfferDelistCommand(opts *OfferOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delist <offer-id>",
		Short:         "Withdraw an open offer and refund its escrow",
		Example:       `  blackmarket offer delist 0190c0de-... --as alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			f := opts.formatter(cmd)
			res, err := sess.market.DelistOffer(opts.requestContext(cmd), opts.As, args[0])
			if err != nil {
				return f.Rejection(err)
			}
			return f.Success(res, fmt.Sprintf("Offer %s delisted: %s reps refunded\n",
				res.OfferID, formatAmount(res.RepsRefunded)))
		},
	}
}

func newOfferTakeCommand(opts *OfferOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "take <offer-id>",
		Short:         "Buy an open offer",
		Example:       `  blackmarket offer take 0190c0de-... --as bob`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			f := opts.formatter(cmd)
			res, err := sess.market.TakeOffer(opts.requestContext(cmd), opts.As, args[0])
			if err != nil {
				return f.Rejection(err)
			}
			return f.Success(res, fmt.Sprintf("Offer %s taken: paid %s ryo to %s for %s reps\n",
				res.OfferID, formatAmount(res.RyoPaid), res.SellerUserID, formatAmount(res.RepsTransferred)))
		},
	}
}
