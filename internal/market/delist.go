package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DelistOffer withdraws callerID's open offer and refunds its escrowed
// reputation points. The listing fee is kept.
//
// Preconditions: the offer exists, is open, belongs to callerID, and
// FreezeWindow has elapsed since it was created.
//
// The delete is conditional on the offer still being open and owned by the
// caller; the refund commits in the same transaction. Of two concurrent
// delists exactly one succeeds and the other reports ErrCodeNotFound.
func (m *Market) DelistOffer(ctx context.Context, callerID, offerID string) (DelistResult, error) {
	res, err := m.delistOffer(ctx, callerID, offerID)
	return res, m.finish(OpDelist, err)
}

func (m *Market) delistOffer(ctx context.Context, callerID, offerID string) (DelistResult, error) {
	offer, err := m.store.ReadOffer(ctx, offerID)
	if errors.Is(err, ErrRecordNotFound) {
		return DelistResult{}, newOfferNotFound(offerID)
	}
	if err != nil {
		return DelistResult{}, fmt.Errorf("read offer: %w", err)
	}
	if offer.CreatorUserID != callerID {
		return DelistResult{}, newNotOwner(callerID, offerID)
	}
	if !offer.IsOpen() {
		return DelistResult{}, newAlreadyTaken(offerID)
	}
	unfreezeAt := offer.CreatedAt.Add(m.cfg.FreezeWindow)
	if now := m.clock.Now(); now.Before(unfreezeAt) {
		return DelistResult{}, newStillFrozen(offerID, unfreezeAt.Sub(now).Round(time.Second).String())
	}

	err = m.store.Atomic(ctx, func(tx Tx) error {
		if err := claimIdempotencyKey(ctx, tx, callerID, OpDelist); err != nil {
			return err
		}
		deleted, err := tx.DeleteOpenOffer(ctx, offerID, callerID)
		if err != nil {
			return fmt.Errorf("delete offer: %w", err)
		}
		if !deleted {
			return explainLostDelete(ctx, tx, offerID)
		}
		if err := tx.CreditReputation(ctx, callerID, offer.RepsForSale); err != nil {
			return creditFailed(callerID, "refund reputation", err)
		}
		return nil
	})
	if err != nil {
		return DelistResult{}, err
	}

	m.metrics.RepsRefunded.Add(float64(offer.RepsForSale))
	m.logger.Info("offer delisted",
		"offer_id", offerID,
		"user_id", callerID,
		"reps_refunded", offer.RepsForSale,
	)
	return DelistResult{OfferID: offerID, RepsRefunded: offer.RepsForSale}, nil
}

// explainLostDelete re-reads an offer whose conditional delete matched no
// row. Between our read and the delete, the offer was either removed by a
// concurrent delist or taken by a buyer.
func explainLostDelete(ctx context.Context, tx Tx, offerID string) error {
	current, err := tx.ReadOffer(ctx, offerID)
	if errors.Is(err, ErrRecordNotFound) {
		return newOfferNotFound(offerID)
	}
	if err != nil {
		return fmt.Errorf("re-read offer: %w", err)
	}
	if !current.IsOpen() {
		return newAlreadyTaken(offerID)
	}
	return fmt.Errorf("delete offer %s: open offer matched no row", offerID)
}
