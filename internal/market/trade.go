package market

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TakeOffer buys offerID for takerID: the taker pays RequestedRyo to the
// creator and receives RepsForSale reputation points.
//
// Preconditions: the offer exists and is open, takerID is not its creator,
// and the taker holds at least RequestedRyo.
//
// Inside one transaction, in order:
//  1. SetPurchaserIfUnset claims the offer; losing this race is AlreadyTaken.
//  2. DebitCurrencyIfAtLeast charges the taker; failure rolls back the claim.
//  3. The taker is credited reputation and the creator is credited ryo.
//
// Claiming first means no balance ever moves for a take that does not own
// the offer.
func (m *Market) TakeOffer(ctx context.Context, takerID, offerID string) (TakeResult, error) {
	res, err := m.takeOffer(ctx, takerID, offerID)
	return res, m.finish(OpTake, err)
}

func (m *Market) takeOffer(ctx context.Context, takerID, offerID string) (TakeResult, error) {
	offer, taker, err := m.readTradeParties(ctx, takerID, offerID)
	if err != nil {
		return TakeResult{}, err
	}
	if !offer.IsOpen() {
		return TakeResult{}, newAlreadyTaken(offerID)
	}
	if offer.CreatorUserID == takerID {
		return TakeResult{}, newSelfTrade(takerID, offerID)
	}
	if taker.Money < offer.RequestedRyo {
		return TakeResult{}, newInsufficientFunds(takerID, offerID, offer.RequestedRyo)
	}

	err = m.store.Atomic(ctx, func(tx Tx) error {
		if err := claimIdempotencyKey(ctx, tx, takerID, OpTake); err != nil {
			return err
		}
		claimed, err := tx.SetPurchaserIfUnset(ctx, offerID, takerID)
		if err != nil {
			return fmt.Errorf("set purchaser: %w", err)
		}
		if !claimed {
			return newAlreadyTaken(offerID)
		}
		paid, err := tx.DebitCurrencyIfAtLeast(ctx, takerID, offer.RequestedRyo)
		if err != nil {
			return fmt.Errorf("debit currency: %w", err)
		}
		if !paid {
			return newInsufficientFunds(takerID, offerID, offer.RequestedRyo)
		}
		if err := tx.CreditReputation(ctx, takerID, offer.RepsForSale); err != nil {
			return creditFailed(takerID, "credit reputation", err)
		}
		if err := tx.CreditCurrency(ctx, offer.CreatorUserID, offer.RequestedRyo); err != nil {
			return creditFailed(offer.CreatorUserID, "pay seller", err)
		}
		return nil
	})
	if err != nil {
		return TakeResult{}, err
	}

	m.metrics.RyoTraded.Add(float64(offer.RequestedRyo))
	m.logger.Info("offer taken",
		"offer_id", offerID,
		"user_id", takerID,
		"seller_user_id", offer.CreatorUserID,
		"reps", offer.RepsForSale,
		"ryo", offer.RequestedRyo,
	)
	return TakeResult{
		OfferID:         offerID,
		SellerUserID:    offer.CreatorUserID,
		RepsTransferred: offer.RepsForSale,
		RyoPaid:         offer.RequestedRyo,
	}, nil
}

// readTradeParties loads the offer and the taker's account in parallel.
// Both reads run to completion; a missing offer is reported ahead of a
// missing taker.
func (m *Market) readTradeParties(ctx context.Context, takerID, offerID string) (Offer, Account, error) {
	var (
		offer    Offer
		taker    Account
		offerErr error
		takerErr error
		g        errgroup.Group
	)

	g.Go(func() error {
		offer, offerErr = m.store.ReadOffer(ctx, offerID)
		return nil
	})
	g.Go(func() error {
		taker, takerErr = m.store.ReadAccount(ctx, takerID)
		return nil
	})
	_ = g.Wait()

	switch {
	case errors.Is(offerErr, ErrRecordNotFound):
		return Offer{}, Account{}, newOfferNotFound(offerID)
	case offerErr != nil:
		return Offer{}, Account{}, fmt.Errorf("read offer: %w", offerErr)
	case errors.Is(takerErr, ErrRecordNotFound):
		return Offer{}, Account{}, newAccountNotFound(takerID)
	case takerErr != nil:
		return Offer{}, Account{}, fmt.Errorf("read taker: %w", takerErr)
	}
	return offer, taker, nil
}
