package market

import "time"

// Defaults for Config.
const (
	DefaultListingFee      int64 = 5
	DefaultFreezeWindow          = 72 * time.Hour
	DefaultPageSize              = 100
	MaxPageSizeLimit             = 100
)

// Config holds the market's tunables. It is copied into Market at
// construction and never mutated afterwards.
type Config struct {
	// ListingFee is charged in reputation points on top of the escrowed
	// amount when an offer is created. It is not refunded on delist.
	ListingFee int64

	// FreezeWindow is how long after creation an offer cannot be delisted.
	FreezeWindow time.Duration

	// DefaultPageSize is used by ListOpenOffers when limit is 0.
	DefaultPageSize int

	// MaxPageSize bounds the limit accepted by ListOpenOffers.
	MaxPageSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ListingFee:      DefaultListingFee,
		FreezeWindow:    DefaultFreezeWindow,
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     MaxPageSizeLimit,
	}
}
