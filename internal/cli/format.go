package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/blackmarket/internal/market"
)

// amounts prints integers with thousands separators in text output.
var amounts = message.NewPrinter(language.English)

func formatAmount(n int64) string {
	return amounts.Sprintf("%d", n)
}

// writeOffersTable renders listings as an aligned table.
func writeOffersTable(w io.Writer, listings []market.OfferListing) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSELLER\tREPS\tRYO\tRYO/REP\tLISTED")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID,
			l.Username,
			formatAmount(l.RepsForSale),
			formatAmount(l.RequestedRyo),
			l.RyoPerRep.StringFixed(2),
			l.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return tw.Flush()
}
