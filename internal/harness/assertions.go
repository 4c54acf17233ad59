package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/blackmarket/internal/market"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // Account or offer the assertion is about
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " (%s)", e.Subject)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// AssertionContext provides what assertions read from.
type AssertionContext struct {
	Market *market.Market
	Store  market.Store
	Ctx    context.Context
}

// EvaluateAssertions evaluates all assertions and returns a message for
// each one that failed.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertBalance:
			err = assertBalance(actx, a)
		case AssertOfferState:
			err = assertOfferState(actx, a)
		case AssertOpenOffers:
			err = assertOpenOffers(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertBalance checks an account's money and/or reputation points.
func assertBalance(actx *AssertionContext, a Assertion) error {
	acct, err := actx.Market.Account(actx.Ctx, a.User)
	if err != nil {
		return err
	}

	var want, got []string
	if a.Money != nil && *a.Money != acct.Money {
		want = append(want, fmt.Sprintf("money=%d", *a.Money))
		got = append(got, fmt.Sprintf("money=%d", acct.Money))
	}
	if a.Reps != nil && *a.Reps != acct.ReputationPoints {
		want = append(want, fmt.Sprintf("reps=%d", *a.Reps))
		got = append(got, fmt.Sprintf("reps=%d", acct.ReputationPoints))
	}
	if len(want) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertBalance,
		Subject:  a.User,
		Expected: strings.Join(want, " "),
		Actual:   strings.Join(got, " "),
	}
}

// assertOfferState checks whether an offer is open, taken, or gone.
func assertOfferState(actx *AssertionContext, a Assertion) error {
	state, purchaser := StateGone, ""
	offer, err := actx.Store.ReadOffer(actx.Ctx, a.Offer)
	switch {
	case errors.Is(err, market.ErrRecordNotFound):
	case err != nil:
		return err
	case offer.IsOpen():
		state = StateOpen
	default:
		state, purchaser = StateTaken, offer.PurchaserUserID
	}

	if state != a.State {
		return &AssertionError{Type: AssertOfferState, Subject: a.Offer, Expected: a.State, Actual: state}
	}
	if a.Purchaser != "" && a.Purchaser != purchaser {
		return &AssertionError{
			Type:     AssertOfferState,
			Subject:  a.Offer,
			Expected: "purchaser " + a.Purchaser,
			Actual:   "purchaser " + purchaser,
		}
	}
	return nil
}

// assertOpenOffers walks every listing page and compares the full id order.
func assertOpenOffers(actx *AssertionContext, a Assertion) error {
	ids := []string{}
	cursor := 0
	for {
		page, err := actx.Market.ListOpenOffers(actx.Ctx, cursor, 0)
		if err != nil {
			return err
		}
		for _, o := range page.Offers {
			ids = append(ids, o.ID)
		}
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}

	want := a.Offers
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(ids, want) {
		return &AssertionError{
			Type:     AssertOpenOffers,
			Expected: fmt.Sprint(want),
			Actual:   fmt.Sprint(ids),
		}
	}
	return nil
}
