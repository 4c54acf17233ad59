package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blackmarket/internal/market"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-5, "-5"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAmount(tt.in), "formatAmount(%d)", tt.in)
	}
}

func TestWriteOffersTable_Golden(t *testing.T) {
	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	listings := []market.OfferListing{
		{
			Offer: market.Offer{
				ID:            "offer-2",
				CreatorUserID: "alice",
				RepsForSale:   1000,
				RequestedRyo:  2500,
				RyoPerRep:     market.RyoPerRep(2500, 1000),
				CreatedAt:     epoch,
			},
			Username: "Alice",
		},
		{
			Offer: market.Offer{
				ID:            "offer-1",
				CreatorUserID: "bob",
				RepsForSale:   3,
				RequestedRyo:  10,
				RyoPerRep:     market.RyoPerRep(10, 3),
				CreatedAt:     epoch.Add(time.Hour),
			},
			Username: "bob",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeOffersTable(&buf, listings))

	g := goldie.New(t)
	g.Assert(t, "offers_table", buf.Bytes())
}
