package boltstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/roach88/blackmarket/internal/market"
)

// boltTx implements market.Tx on a writable *bolt.Tx.
type boltTx struct {
	tx *bolt.Tx
}

var _ market.Tx = (*boltTx)(nil)

// CreditReputation adds amount to reputation points.
func (t *boltTx) CreditReputation(ctx context.Context, userID string, amount int64) error {
	err := t.credit(userID, amount, func(a *accountRecord) *int64 { return &a.ReputationPoints })
	if err != nil {
		return fmt.Errorf("credit reputation for %s: %w", userID, err)
	}
	return nil
}

// CreditCurrency adds amount to money.
func (t *boltTx) CreditCurrency(ctx context.Context, userID string, amount int64) error {
	err := t.credit(userID, amount, func(a *accountRecord) *int64 { return &a.Money })
	if err != nil {
		return fmt.Errorf("credit money for %s: %w", userID, err)
	}
	return nil
}

// credit adds amount to the balance selected by field, refusing sums past
// math.MaxInt64.
func (t *boltTx) credit(userID string, amount int64, field func(a *accountRecord) *int64) error {
	overflow := false
	_, err := t.updateAccount(userID, func(a *accountRecord) bool {
		balance := field(a)
		if *balance > math.MaxInt64-amount {
			overflow = true
			return false
		}
		*balance += amount
		return true
	})
	if err != nil {
		return err
	}
	if overflow {
		return market.ErrBalanceOverflow
	}
	return nil
}

// DebitReputationIfAtLeast subtracts amount only if the balance covers it.
func (t *boltTx) DebitReputationIfAtLeast(ctx context.Context, userID string, amount int64) (bool, error) {
	return t.conditionalDebit(userID, func(a *accountRecord) bool {
		if a.ReputationPoints < amount {
			return false
		}
		a.ReputationPoints -= amount
		return true
	})
}

// DebitCurrencyIfAtLeast subtracts amount only if the balance covers it.
func (t *boltTx) DebitCurrencyIfAtLeast(ctx context.Context, userID string, amount int64) (bool, error) {
	return t.conditionalDebit(userID, func(a *accountRecord) bool {
		if a.Money < amount {
			return false
		}
		a.Money -= amount
		return true
	})
}

// conditionalDebit treats a missing account like a failed guard: no row matched.
func (t *boltTx) conditionalDebit(userID string, apply func(a *accountRecord) bool) (bool, error) {
	ok, err := t.updateAccount(userID, apply)
	if errors.Is(err, market.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("debit %s: %w", userID, err)
	}
	return ok, nil
}

// updateAccount loads the account, lets apply mutate it, and writes it back
// if apply returns true.
func (t *boltTx) updateAccount(userID string, apply func(a *accountRecord) bool) (bool, error) {
	b := t.tx.Bucket(bucketAccounts)
	var acct accountRecord
	if err := getJSON(b, userID, &acct); err != nil {
		return false, err
	}
	if !apply(&acct) {
		return false, nil
	}
	if acct.Money < 0 || acct.ReputationPoints < 0 {
		return false, fmt.Errorf("account %s would go negative", userID)
	}
	if err := putJSON(b, userID, acct); err != nil {
		return false, err
	}
	return true, nil
}

// InsertOffer persists a new open offer. The creator must exist.
func (t *boltTx) InsertOffer(ctx context.Context, offer market.Offer) error {
	if t.tx.Bucket(bucketAccounts).Get([]byte(offer.CreatorUserID)) == nil {
		return fmt.Errorf("insert offer %s: creator %s: %w", offer.ID, offer.CreatorUserID, market.ErrRecordNotFound)
	}
	b := t.tx.Bucket(bucketOffers)
	if b.Get([]byte(offer.ID)) != nil {
		return fmt.Errorf("insert offer %s: %w", offer.ID, market.ErrRecordExists)
	}
	return putJSON(b, offer.ID, offerRecord{
		ID:            offer.ID,
		CreatorUserID: offer.CreatorUserID,
		RepsForSale:   offer.RepsForSale,
		RequestedRyo:  offer.RequestedRyo,
		CreatedAt:     offer.CreatedAt.UTC(),
	})
}

// ReadOffer reads through the transaction.
func (t *boltTx) ReadOffer(ctx context.Context, offerID string) (market.Offer, error) {
	var rec offerRecord
	if err := getJSON(t.tx.Bucket(bucketOffers), offerID, &rec); err != nil {
		return market.Offer{}, fmt.Errorf("read offer %s: %w", offerID, err)
	}
	return rec.toOffer(), nil
}

// DeleteOpenOffer deletes the offer only while it is open and owned by creatorID.
func (t *boltTx) DeleteOpenOffer(ctx context.Context, offerID, creatorID string) (bool, error) {
	b := t.tx.Bucket(bucketOffers)
	var rec offerRecord
	err := getJSON(b, offerID, &rec)
	if errors.Is(err, market.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete offer: %w", err)
	}
	if rec.CreatorUserID != creatorID || rec.PurchaserUserID != "" {
		return false, nil
	}
	if err := b.Delete([]byte(offerID)); err != nil {
		return false, fmt.Errorf("delete offer: %w", err)
	}
	return true, nil
}

// SetPurchaserIfUnset assigns the purchaser only while the offer is open.
func (t *boltTx) SetPurchaserIfUnset(ctx context.Context, offerID, purchaserID string) (bool, error) {
	b := t.tx.Bucket(bucketOffers)
	var rec offerRecord
	err := getJSON(b, offerID, &rec)
	if errors.Is(err, market.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set purchaser: %w", err)
	}
	if rec.PurchaserUserID != "" {
		return false, nil
	}
	if rec.CreatorUserID == purchaserID {
		return false, fmt.Errorf("set purchaser: %s cannot purchase own offer %s", purchaserID, offerID)
	}
	rec.PurchaserUserID = purchaserID
	if err := putJSON(b, offerID, rec); err != nil {
		return false, fmt.Errorf("set purchaser: %w", err)
	}
	return true, nil
}

// ClaimIdempotencyKey records (userID, key) unless already present.
func (t *boltTx) ClaimIdempotencyKey(ctx context.Context, userID, key, action string) (bool, error) {
	b := t.tx.Bucket(bucketKeys)
	k := userID + "\x00" + key
	if b.Get([]byte(k)) != nil {
		return false, nil
	}
	if err := putJSON(b, k, keyRecord{Action: action, CreatedAt: time.Now().UTC()}); err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return true, nil
}
