package market

import "context"

// Store is the persistence boundary shared by every Market instance.
//
// Implementations: store.Store (SQLite) and boltstore.Store (BoltDB).
// Read methods return an error wrapping ErrRecordNotFound for missing rows.
type Store interface {
	// ReadAccount returns the account for userID.
	ReadAccount(ctx context.Context, userID string) (Account, error)

	// ReadOffer returns the offer with the given id, open or taken.
	ReadOffer(ctx context.Context, offerID string) (Offer, error)

	// ListOpenOffers returns open offers ordered by ryo_per_rep ASC,
	// created_at ASC, id ASC, skipping offset rows and returning at most
	// limit rows. A negative offset is treated as 0.
	ListOpenOffers(ctx context.Context, offset, limit int) ([]OfferListing, error)

	// InsertAccount creates an account. Returns an error wrapping
	// ErrRecordExists if userID is taken.
	InsertAccount(ctx context.Context, acct Account) error

	// Atomic runs fn in a single transaction. If fn returns an error the
	// transaction is rolled back and that error is returned unchanged.
	// fn must only touch the store through the Tx it is given.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of conditional writes available inside Store.Atomic.
//
// The boolean returned by the conditional methods is the authoritative
// signal of whether the write applied; false means its guard did not hold
// and the caller must abort.
type Tx interface {
	// CreditReputation adds amount to the user's reputation points.
	// Returns an error wrapping ErrRecordNotFound if the user does not exist,
	// or ErrBalanceOverflow if the sum would exceed math.MaxInt64.
	CreditReputation(ctx context.Context, userID string, amount int64) error

	// DebitReputationIfAtLeast subtracts amount WHERE reputation_points >= amount.
	DebitReputationIfAtLeast(ctx context.Context, userID string, amount int64) (bool, error)

	// CreditCurrency adds amount to the user's money.
	// Returns an error wrapping ErrRecordNotFound if the user does not exist,
	// or ErrBalanceOverflow if the sum would exceed math.MaxInt64.
	CreditCurrency(ctx context.Context, userID string, amount int64) error

	// DebitCurrencyIfAtLeast subtracts amount WHERE money >= amount.
	DebitCurrencyIfAtLeast(ctx context.Context, userID string, amount int64) (bool, error)

	// InsertOffer persists a new open offer.
	InsertOffer(ctx context.Context, offer Offer) error

	// ReadOffer returns the offer as seen by this transaction.
	ReadOffer(ctx context.Context, offerID string) (Offer, error)

	// DeleteOpenOffer deletes the offer WHERE id = offerID AND
	// creator_user_id = creatorID AND purchaser_user_id IS NULL.
	DeleteOpenOffer(ctx context.Context, offerID, creatorID string) (bool, error)

	// SetPurchaserIfUnset sets purchaser_user_id WHERE it IS NULL.
	SetPurchaserIfUnset(ctx context.Context, offerID, purchaserID string) (bool, error)

	// ClaimIdempotencyKey records (userID, key). Returns false if the pair
	// was already claimed.
	ClaimIdempotencyKey(ctx context.Context, userID, key, action string) (bool, error)
}
