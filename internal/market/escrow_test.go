package market_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blackmarket/internal/market"
	"github.com/roach88/blackmarket/internal/testutil"
)

func TestCreateOffer_EscrowRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed(t, market.Account{UserID: "alice", ReputationPoints: 100})
	ctx := context.Background()

	offer, err := f.m.CreateOffer(ctx, "alice", 10, 20)
	require.NoError(t, err)

	want := market.Offer{
		ID:            "offer-1",
		CreatorUserID: "alice",
		RepsForSale:   10,
		RequestedRyo:  20,
		RyoPerRep:     decimal.NewFromInt(2),
		CreatedAt:     testutil.Epoch,
	}
	if diff := cmp.Diff(want, offer); diff != "" {
		t.Errorf("CreateOffer() mismatch (-want +got):\n%s", diff)
	}
	stored, err := f.store.ReadOffer(ctx, "offer-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("stored offer mismatch (-want +got):\n%s", diff)
	}

	// 10 escrowed plus the 5 point listing fee.
	assert.Equal(t, int64(85), f.account(t, "alice").ReputationPoints)
	assert.Equal(t, []string{"offer-1"}, offerIDs(f.listAll(t)))

	f.clock.Advance(market.DefaultFreezeWindow)
	res, err := f.m.DelistOffer(ctx, "alice", "offer-1")
	require.NoError(t, err)
	assert.Equal(t, market.DelistResult{OfferID: "offer-1", RepsRefunded: 10}, res)

	// The fee is not refunded.
	assert.Equal(t, int64(95), f.account(t, "alice").ReputationPoints)
	assert.Empty(t, f.listAll(t))
}

func TestCreateOffer_ExactBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, market.Account{UserID: "alice", ReputationPoints: 15})

	f.mustCreate(t, "alice", 10, 10)
	assert.Equal(t, int64(0), f.account(t, "alice").ReputationPoints)
}

func TestCreateOffer_FractionalPrice(t *testing.T) {
	f := newFixture(t)
	f.seed(t, market.Account{UserID: "alice", ReputationPoints: 100})

	offer := f.mustCreate(t, "alice", 3, 10)
	assert.True(t, offer.RyoPerRep.Equal(decimal.NewFromInt(10).Div(decimal.NewFromInt(3))))
	assert.Equal(t, "3.3333", offer.RyoPerRep.StringFixed(4))
}

func TestCreateOffer_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		creator   string
		reps, ryo int64
		code      market.ErrorCode
	}{
		{"price below one ryo per rep", "alice", 10, 9, market.ErrCodeValidation},
		{"zero reps", "alice", 0, 10, market.ErrCodeValidation},
		{"negative reps", "alice", -5, 10, market.ErrCodeValidation},
		{"zero ryo", "alice", 1, 0, market.ErrCodeValidation},
		{"reps overflow with fee", "alice", math.MaxInt64, math.MaxInt64, market.ErrCodeValidation},
		{"fee makes it unaffordable", "alice", 16, 20, market.ErrCodeInsufficientBalance},
		{"more reps than owned", "alice", 100, 200, market.ErrCodeInsufficientBalance},
		{"unknown creator", "ghost", 1, 1, market.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, market.Account{UserID: "alice", ReputationPoints: 20})

			_, err := f.m.CreateOffer(context.Background(), tt.creator, tt.reps, tt.ryo)
			require.Error(t, err)
			assert.Equal(t, tt.code, market.CodeOf(err), "got %v", err)

			assert.Equal(t, int64(20), f.account(t, "alice").ReputationPoints, "balance must not change")
			assert.Empty(t, f.listAll(t))
		})
	}
}

// staleAccountStore reports a richer account than the database holds, so the
// fast-fail check passes and the conditional debit is what rejects.
type staleAccountStore struct {
	market.Store
	reps  int64
	money int64
}

func (s staleAccountStore) ReadAccount(ctx context.Context, userID string) (market.Account, error) {
	acct, err := s.Store.ReadAccount(ctx, userID)
	if err != nil {
		return acct, err
	}
	acct.ReputationPoints += s.reps
	acct.Money += s.money
	return acct, nil
}

func TestCreateOffer_ConditionalDebitRejectsStaleRead(t *testing.T) {
	base := newFixture(t)
	f := newFixtureOn(t, base.store, staleAccountStore{Store: base.store, reps: 1000})
	f.seed(t, market.Account{UserID: "alice", ReputationPoints: 10})

	_, err := f.m.CreateOffer(context.Background(), "alice", 10, 10)
	assert.True(t, market.IsInsufficientBalance(err), "got %v", err)

	acct, err := base.store.ReadAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.ReputationPoints)
	assert.Empty(t, f.listAll(t), "offer must not be inserted when the debit fails")
}

func TestCreateOffer_ConcurrentCreatesNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	// Enough for exactly three offers of 10 reps + 5 fee.
	f.seed(t, market.Account{UserID: "alice", ReputationPoints: 45})

	const workers = 10
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := f.m.CreateOffer(context.Background(), "alice", 10, 10)
			errs <- err
		}()
	}

	succeeded := 0
	for i := 0; i < workers; i++ {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, market.IsInsufficientBalance(err), "got %v", err)
	}

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(0), f.account(t, "alice").ReputationPoints)
	assert.Len(t, f.listAll(t), 3)
}

func TestCreateOffer_CustomFee(t *testing.T) {
	cfg := market.DefaultConfig()
	cfg.ListingFee = 0
	cfg.FreezeWindow = time.Hour

	f := newFixture(t)
	m := market.New(f.store, cfg, market.WithClock(f.clock), market.WithIDGenerator(market.NewFixedGenerator("x")))
	testutil.SeedAccounts(t, m, market.Account{UserID: "alice", ReputationPoints: 10})

	_, err := m.CreateOffer(context.Background(), "alice", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), testutil.MustAccount(t, m, "alice").ReputationPoints)
}
