package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the subset of a user profile the market reads and mutates.
// Money and ReputationPoints are never negative.
type Account struct {
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	Avatar           string `json:"avatar,omitempty"`
	Money            int64  `json:"money"`
	ReputationPoints int64  `json:"reputation_points"`
}

// MaxOpeningBalance bounds the balances OpenAccount accepts. It is the
// largest integer a JSON client can represent exactly.
const MaxOpeningBalance int64 = 1 << 53

// Offer is a listing of escrowed reputation points for a ryo price.
//
// PurchaserUserID is empty while the offer is open. It is set exactly once,
// by TakeOffer, and never cleared.
type Offer struct {
	ID              string          `json:"id"`
	CreatorUserID   string          `json:"creator_user_id"`
	PurchaserUserID string          `json:"purchaser_user_id,omitempty"`
	RepsForSale     int64           `json:"reps_for_sale"`
	RequestedRyo    int64           `json:"requested_ryo"`
	RyoPerRep       decimal.Decimal `json:"ryo_per_rep"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsOpen reports whether the offer can still be taken or delisted.
func (o Offer) IsOpen() bool {
	return o.PurchaserUserID == ""
}

// RyoPerRep computes the unit price used to order listings.
func RyoPerRep(requestedRyo, repsForSale int64) decimal.Decimal {
	if repsForSale == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(requestedRyo).Div(decimal.NewFromInt(repsForSale))
}

// OfferListing is an open offer joined with its creator's display data.
type OfferListing struct {
	Offer
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Page is one page of open offers.
// NextCursor is nil when no further page exists.
type Page struct {
	Offers     []OfferListing `json:"offers"`
	NextCursor *int           `json:"next_cursor"`
}

// DelistResult reports a successful delist.
type DelistResult struct {
	OfferID      string `json:"offer_id"`
	RepsRefunded int64  `json:"reps_refunded"`
}

// TakeResult reports a successful trade.
type TakeResult struct {
	OfferID         string `json:"offer_id"`
	SellerUserID    string `json:"seller_user_id"`
	RepsTransferred int64  `json:"reps_transferred"`
	RyoPaid         int64  `json:"ryo_paid"`
}
