package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/blackmarket/internal/market"
)

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const offerColumns = `id, creator_user_id, purchaser_user_id, reps_for_sale, requested_ryo, created_at`

// ReadAccount retrieves a single account by user id.
// Returns an error wrapping market.ErrRecordNotFound if not found.
func (s *Store) ReadAccount(ctx context.Context, userID string) (market.Account, error) {
	var acct market.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, avatar, money, reputation_points
		FROM accounts
		WHERE user_id = ?
	`, userID).Scan(
		&acct.UserID,
		&acct.Username,
		&acct.Avatar,
		&acct.Money,
		&acct.ReputationPoints,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Account{}, fmt.Errorf("read account %s: %w", userID, market.ErrRecordNotFound)
	}
	if err != nil {
		return market.Account{}, fmt.Errorf("read account: %w", err)
	}
	return acct, nil
}

// ReadOffer retrieves a single offer by id, open or taken.
// Returns an error wrapping market.ErrRecordNotFound if not found.
func (s *Store) ReadOffer(ctx context.Context, offerID string) (market.Offer, error) {
	return readOffer(ctx, s.db, offerID)
}

func readOffer(ctx context.Context, q queryRower, offerID string) (market.Offer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, offerID)
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Offer{}, fmt.Errorf("read offer %s: %w", offerID, market.ErrRecordNotFound)
	}
	if err != nil {
		return market.Offer{}, fmt.Errorf("read offer: %w", err)
	}
	return offer, nil
}

// ListOpenOffers returns open offers joined with creator display data.
// Results are ordered by ryo_per_rep ASC, created_at ASC, id ASC.
//
// Returns an empty slice (not nil) if no offers match.
func (s *Store) ListOpenOffers(ctx context.Context, offset, limit int) ([]market.OfferListing, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.creator_user_id, o.purchaser_user_id, o.reps_for_sale, o.requested_ryo, o.created_at,
		       a.username, a.avatar
		FROM offers o
		JOIN accounts a ON a.user_id = o.creator_user_id
		WHERE o.purchaser_user_id IS NULL
		ORDER BY o.ryo_per_rep ASC, o.created_at ASC, o.id COLLATE BINARY ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query open offers: %w", err)
	}
	defer rows.Close()

	listings := []market.OfferListing{}
	for rows.Next() {
		var (
			l         market.OfferListing
			purchaser sql.NullString
			createdAt int64
		)
		if err := rows.Scan(
			&l.ID,
			&l.CreatorUserID,
			&purchaser,
			&l.RepsForSale,
			&l.RequestedRyo,
			&createdAt,
			&l.Username,
			&l.Avatar,
		); err != nil {
			return nil, fmt.Errorf("scan open offer: %w", err)
		}
		l.PurchaserUserID = purchaser.String
		l.RyoPerRep = market.RyoPerRep(l.RequestedRyo, l.RepsForSale)
		l.CreatedAt = time.Unix(0, createdAt).UTC()
		listings = append(listings, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open offers: %w", err)
	}

	return listings, nil
}

// scanOffer scans a row selected with offerColumns.
// ryo_per_rep is recomputed exactly from the integer columns; the stored
// REAL only serves ordering.
func scanOffer(row *sql.Row) (market.Offer, error) {
	var (
		offer     market.Offer
		purchaser sql.NullString
		createdAt int64
	)
	if err := row.Scan(
		&offer.ID,
		&offer.CreatorUserID,
		&purchaser,
		&offer.RepsForSale,
		&offer.RequestedRyo,
		&createdAt,
	); err != nil {
		return market.Offer{}, err
	}
	offer.PurchaserUserID = purchaser.String
	offer.RyoPerRep = market.RyoPerRep(offer.RequestedRyo, offer.RepsForSale)
	offer.CreatedAt = time.Unix(0, createdAt).UTC()
	return offer, nil
}
