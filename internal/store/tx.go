package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roach88/blackmarket/internal/market"
)

// sqlTx implements market.Tx on a *sql.Tx.
type sqlTx struct {
	tx *sql.Tx
}

var _ market.Tx = (*sqlTx)(nil)

// CreditReputation adds amount to reputation_points.
func (t *sqlTx) CreditReputation(ctx context.Context, userID string, amount int64) error {
	return t.credit(ctx, "reputation_points", userID, amount)
}

// CreditCurrency adds amount to money.
func (t *sqlTx) CreditCurrency(ctx context.Context, userID string, amount int64) error {
	return t.credit(ctx, "money", userID, amount)
}

// DebitReputationIfAtLeast subtracts amount WHERE reputation_points >= amount.
func (t *sqlTx) DebitReputationIfAtLeast(ctx context.Context, userID string, amount int64) (bool, error) {
	return t.debitIfAtLeast(ctx, "reputation_points", userID, amount)
}

// DebitCurrencyIfAtLeast subtracts amount WHERE money >= amount.
func (t *sqlTx) DebitCurrencyIfAtLeast(ctx context.Context, userID string, amount int64) (bool, error) {
	return t.debitIfAtLeast(ctx, "money", userID, amount)
}

// credit and debitIfAtLeast interpolate column, which is always one of the
// two constants above; values are bound as parameters.
//
// credit is guarded like a debit: the row only matches while the sum fits
// in an int64. SQLite would otherwise promote the overflowing sum to REAL.
func (t *sqlTx) credit(ctx context.Context, column, userID string, amount int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET `+column+` = `+column+` + ? WHERE user_id = ? AND `+column+` <= ?`,
		amount, userID, math.MaxInt64-amount,
	)
	if err != nil {
		return fmt.Errorf("credit %s: %w", column, err)
	}
	applied, err := affectedOne(result, "credit "+column)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	var one int
	err = t.tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("credit %s for %s: %w", column, userID, market.ErrRecordNotFound)
	}
	if err != nil {
		return fmt.Errorf("credit %s: %w", column, err)
	}
	return fmt.Errorf("credit %s for %s: %w", column, userID, market.ErrBalanceOverflow)
}

func (t *sqlTx) debitIfAtLeast(ctx context.Context, column, userID string, amount int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET `+column+` = `+column+` - ? WHERE user_id = ? AND `+column+` >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("debit %s: %w", column, err)
	}
	return affectedOne(result, "debit "+column)
}

// InsertOffer persists a new open offer.
func (t *sqlTx) InsertOffer(ctx context.Context, offer market.Offer) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO offers
		(id, creator_user_id, purchaser_user_id, reps_for_sale, requested_ryo, ryo_per_rep, created_at)
		VALUES (?, ?, NULL, ?, ?, ?, ?)
	`,
		offer.ID,
		offer.CreatorUserID,
		offer.RepsForSale,
		offer.RequestedRyo,
		offer.RyoPerRep.InexactFloat64(),
		offer.CreatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert offer %s: %w", offer.ID, market.ErrRecordExists)
	}
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// ReadOffer reads through the transaction.
func (t *sqlTx) ReadOffer(ctx context.Context, offerID string) (market.Offer, error) {
	return readOffer(ctx, t.tx, offerID)
}

// DeleteOpenOffer deletes the offer only while it is open and owned by creatorID.
func (t *sqlTx) DeleteOpenOffer(ctx context.Context, offerID, creatorID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM offers
		WHERE id = ? AND creator_user_id = ? AND purchaser_user_id IS NULL
	`, offerID, creatorID)
	if err != nil {
		return false, fmt.Errorf("delete offer: %w", err)
	}
	return affectedOne(result, "delete offer")
}

// SetPurchaserIfUnset assigns the purchaser only while the offer is open.
func (t *sqlTx) SetPurchaserIfUnset(ctx context.Context, offerID, purchaserID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE offers SET purchaser_user_id = ?
		WHERE id = ? AND purchaser_user_id IS NULL
	`, purchaserID, offerID)
	if err != nil {
		return false, fmt.Errorf("set purchaser: %w", err)
	}
	return affectedOne(result, "set purchaser")
}

// ClaimIdempotencyKey inserts (userID, key).
// Uses ON CONFLICT DO NOTHING; zero affected rows means already claimed.
func (t *sqlTx) ClaimIdempotencyKey(ctx context.Context, userID, key, action string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (user_id, key, action, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO NOTHING
	`, userID, key, action, time.Now().UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return affectedOne(result, "claim idempotency key")
}

func affectedOne(result sql.Result, op string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}
