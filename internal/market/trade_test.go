package market_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blackmarket/internal/market"
)

func TestTakeOffer_PaysSeller(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		market.Account{UserID: "alice", Money: 50, ReputationPoints: 3},
		market.Account{UserID: "bob", Money: 7, ReputationPoints: 100},
	)
	f.mustCreate(t, "bob", 10, 50)
	ctx := context.Background()

	res, err := f.m.TakeOffer(ctx, "alice", "offer-1")
	require.NoError(t, err)
	assert.Equal(t, market.TakeResult{
		OfferID:         "offer-1",
		SellerUserID:    "bob",
		RepsTransferred: 10,
		RyoPaid:         50,
	}, res)

	alice := f.account(t, "alice")
	assert.Equal(t, int64(0), alice.Money)
	assert.Equal(t, int64(13), alice.ReputationPoints)

	bob := f.account(t, "bob")
	assert.Equal(t, int64(57), bob.Money)
	assert.Equal(t, int64(85), bob.ReputationPoints, "seller reputation only changes at creation")

	offer, err := f.store.ReadOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", offer.PurchaserUserID)
	assert.False(t, offer.IsOpen())
	assert.Empty(t, f.listAll(t))
}

func TestTakeOffer_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		market.Account{UserID: "alice", Money: 49},
		market.Account{UserID: "bob", Money: 100, ReputationPoints: 100},
		market.Account{UserID: "carol", Money: 100},
	)
	f.mustCreate(t, "bob", 10, 50) // offer-1
	f.mustCreate(t, "bob", 10, 50) // offer-2
	ctx := context.Background()

	_, err := f.m.TakeOffer(ctx, "alice", "offer-1")
	assert.True(t, market.IsInsufficientBalance(err), "got %v", err)

	_, err = f.m.TakeOffer(ctx, "bob", "offer-1")
	assert.True(t, market.IsUnauthorized(err), "got %v", err)

	_, err = f.m.TakeOffer(ctx, "alice", "missing")
	assert.True(t, market.IsNotFound(err), "got %v", err)

	_, err = f.m.TakeOffer(ctx, "ghost", "offer-1")
	assert.True(t, market.IsNotFound(err), "got %v", err)

	_, err = f.m.TakeOffer(ctx, "carol", "offer-2")
	require.NoError(t, err)
	_, err = f.m.TakeOffer(ctx, "carol", "offer-2")
	assert.True(t, market.IsAlreadyTaken(err), "got %v", err)

	assert.Equal(t, int64(49), f.account(t, "alice").Money)
	assert.Equal(t, int64(150), f.account(t, "bob").Money)
	assert.Equal(t, []string{"offer-1"}, offerIDs(f.listAll(t)))
}

func TestTakeOffer_MissingOfferAndTaker(t *testing.T) {
	f := newFixture(t)
	for range 20 {
		_, err := f.m.TakeOffer(context.Background(), "ghost", "missing")
		var merr *market.Error
		require.True(t, errors.As(err, &merr), "got %v", err)
		assert.Equal(t, market.ErrCodeNotFound, merr.Code)
		assert.Equal(t, "missing", merr.OfferID, "the offer is reported first")
		assert.Empty(t, merr.UserID)
	}
}

func TestTakeOffer_SellerBalanceLimit(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture, s market.Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertAccount(ctx, market.Account{
			UserID: "bob", Money: math.MaxInt64 - 10, ReputationPoints: 100,
		}))
		f.seed(t, market.Account{UserID: "alice", Money: 50, ReputationPoints: 3})
		f.mustCreate(t, "bob", 10, 50)

		_, err := f.m.TakeOffer(ctx, "alice", "offer-1")
		var merr *market.Error
		require.True(t, errors.As(err, &merr), "got %v", err)
		assert.Equal(t, market.ErrCodeBalanceLimit, merr.Code)
		assert.Equal(t, "bob", merr.UserID)

		alice := f.account(t, "alice")
		assert.Equal(t, int64(50), alice.Money)
		assert.Equal(t, int64(3), alice.ReputationPoints)

		bob := f.account(t, "bob")
		assert.Equal(t, int64(math.MaxInt64-10), bob.Money)
		assert.Equal(t, int64(85), bob.ReputationPoints)

		assert.Equal(t, []string{"offer-1"}, offerIDs(f.listAll(t)), "offer stays open")
	})
}

func TestTakeOffer_BuyerBalanceLimit(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture, s market.Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertAccount(ctx, market.Account{
			UserID: "alice", Money: 50, ReputationPoints: math.MaxInt64 - 5,
		}))
		f.seed(t, market.Account{UserID: "bob", ReputationPoints: 100})
		f.mustCreate(t, "bob", 10, 50)

		_, err := f.m.TakeOffer(ctx, "alice", "offer-1")
		assert.True(t, market.IsBalanceLimit(err), "got %v", err)

		alice := f.account(t, "alice")
		assert.Equal(t, int64(50), alice.Money)
		assert.Equal(t, int64(math.MaxInt64-5), alice.ReputationPoints)
		assert.Equal(t, int64(0), f.account(t, "bob").Money)
		assert.Len(t, f.listAll(t), 1)
	})
}

func TestTakeOffer_FailedDebitReleasesClaim(t *testing.T) {
	base := newFixture(t)
	f := newFixtureOn(t, base.store, staleAccountStore{Store: base.store, money: 1000})
	f.seed(t,
		market.Account{UserID: "alice", Money: 10},
		market.Account{UserID: "bob", ReputationPoints: 100},
	)
	f.mustCreate(t, "bob", 10, 50)

	_, err := f.m.TakeOffer(context.Background(), "alice", "offer-1")
	require.True(t, market.IsInsufficientBalance(err), "got %v", err)

	offer, err := base.store.ReadOffer(context.Background(), "offer-1")
	require.NoError(t, err)
	assert.True(t, offer.IsOpen(), "purchaser claim must roll back with the failed debit")

	alice, err := base.store.ReadAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), alice.Money)
	assert.Equal(t, int64(0), alice.ReputationPoints)
}

func TestTakeOffer_ConcurrentTakersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	const takers = 16

	f.seed(t, market.Account{UserID: "seller", ReputationPoints: 100})
	names := make([]string, takers)
	for i := range names {
		names[i] = "taker-" + string(rune('a'+i))
		f.seed(t, market.Account{UserID: names[i], Money: 100})
	}
	f.mustCreate(t, "seller", 10, 40)

	defer leaktest.Check(t)()

	var wg sync.WaitGroup
	errs := make([]error, takers)
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = f.m.TakeOffer(context.Background(), name, "offer-1")
		}(i, name)
	}
	wg.Wait()

	var winner string
	for i, err := range errs {
		if err == nil {
			require.Empty(t, winner, "second winner %s", names[i])
			winner = names[i]
			continue
		}
		assert.True(t, market.IsAlreadyTaken(err), "got %v", err)
	}
	require.NotEmpty(t, winner)

	var totalMoney, totalReps int64
	for _, name := range names {
		acct := f.account(t, name)
		totalMoney += acct.Money
		totalReps += acct.ReputationPoints
		if name == winner {
			assert.Equal(t, int64(60), acct.Money)
			assert.Equal(t, int64(10), acct.ReputationPoints)
		} else {
			assert.Equal(t, int64(100), acct.Money)
			assert.Equal(t, int64(0), acct.ReputationPoints)
		}
	}
	seller := f.account(t, "seller")
	assert.Equal(t, int64(40), seller.Money)
	assert.Equal(t, int64(takers*100), totalMoney+seller.Money)
	assert.Equal(t, int64(10), totalReps)

	offer, err := f.store.ReadOffer(context.Background(), "offer-1")
	require.NoError(t, err)
	assert.Equal(t, winner, offer.PurchaserUserID)
}
