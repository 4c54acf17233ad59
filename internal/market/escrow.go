package market

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// CreateOffer escrows reps reputation points (plus the listing fee) from
// creatorID and lists them for ryo.
//
// Preconditions: reps > 0, ryo > 0, ryo >= reps, and the creator holds at
// least reps + ListingFee reputation points. Validation failures are
// reported before anything is written.
//
// The debit is a conditional write; if it affects no row the offer is never
// inserted. Debit and insert commit together or not at all.
func (m *Market) CreateOffer(ctx context.Context, creatorID string, reps, ryo int64) (Offer, error) {
	offer, err := m.createOffer(ctx, creatorID, reps, ryo)
	return offer, m.finish(OpCreate, err)
}

func (m *Market) createOffer(ctx context.Context, creatorID string, reps, ryo int64) (Offer, error) {
	if err := m.validateOfferAmounts(reps, ryo); err != nil {
		return Offer{}, err
	}
	cost := reps + m.cfg.ListingFee

	// Fast fail; the conditional debit below is what actually decides.
	creator, err := m.store.ReadAccount(ctx, creatorID)
	if errors.Is(err, ErrRecordNotFound) {
		return Offer{}, newAccountNotFound(creatorID)
	}
	if err != nil {
		return Offer{}, fmt.Errorf("read creator: %w", err)
	}
	if creator.ReputationPoints-m.cfg.ListingFee < reps {
		return Offer{}, newInsufficientReputation(creatorID, cost)
	}

	offer := Offer{
		ID:            m.ids.Generate(),
		CreatorUserID: creatorID,
		RepsForSale:   reps,
		RequestedRyo:  ryo,
		RyoPerRep:     RyoPerRep(ryo, reps),
		CreatedAt:     m.clock.Now().UTC(),
	}

	err = m.store.Atomic(ctx, func(tx Tx) error {
		if err := claimIdempotencyKey(ctx, tx, creatorID, OpCreate); err != nil {
			return err
		}
		debited, err := tx.DebitReputationIfAtLeast(ctx, creatorID, cost)
		if err != nil {
			return fmt.Errorf("debit reputation: %w", err)
		}
		if !debited {
			return newInsufficientReputation(creatorID, cost)
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
		return nil
	})
	if err != nil {
		return Offer{}, err
	}

	m.metrics.RepsEscrowed.Add(float64(reps))
	m.logger.Info("offer created",
		"offer_id", offer.ID,
		"user_id", creatorID,
		"reps", reps,
		"ryo", ryo,
		"fee", m.cfg.ListingFee,
	)
	return offer, nil
}

func (m *Market) validateOfferAmounts(reps, ryo int64) error {
	if reps <= 0 {
		return newValidationError("reps must be greater than 0")
	}
	if ryo <= 0 {
		return newValidationError("ryo must be greater than 0")
	}
	if ryo < reps {
		return newValidationError("ryo must be at least reps (%d < %d)", ryo, reps)
	}
	if reps > math.MaxInt64-m.cfg.ListingFee {
		return newValidationError("reps too large")
	}
	return nil
}
