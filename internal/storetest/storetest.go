// Package storetest holds the conformance suite every market.Store
// implementation must pass. Each backend calls Run from its own tests.
package storetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blackmarket/internal/market"
)

// Factory returns a fresh, empty store. It should register its own cleanup.
type Factory func(t *testing.T) market.Store

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s market.Store)
	}{
		{"ReadAccountMissing", testReadAccountMissing},
		{"InsertAccountDuplicate", testInsertAccountDuplicate},
		{"DebitGuards", testDebitGuards},
		{"CreditMissingAccount", testCreditMissingAccount},
		{"CreditOverflow", testCreditOverflow},
		{"AtomicRollback", testAtomicRollback},
		{"AtomicReturnsFnError", testAtomicReturnsFnError},
		{"SetPurchaserOnce", testSetPurchaserOnce},
		{"DeleteOpenOfferGuards", testDeleteOpenOfferGuards},
		{"ReadOfferMissing", testReadOfferMissing},
		{"IdempotencyKeys", testIdempotencyKeys},
		{"ListOrderingAndPaging", testListOrderingAndPaging},
		{"ListOffsetExtremes", testListOffsetExtremes},
		{"ListExcludesTaken", testListExcludesTaken},
		{"ConcurrentDebits", testConcurrentDebits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testReadAccountMissing(t *testing.T, s market.Store) {
	_, err := s.ReadAccount(context.Background(), "nobody")
	require.ErrorIs(t, err, market.ErrRecordNotFound)
}

func testInsertAccountDuplicate(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s, market.Account{UserID: "alice", Username: "Alice", Avatar: "a.png", Money: 7, ReputationPoints: 9})

	err := s.InsertAccount(ctx, market.Account{UserID: "alice"})
	require.ErrorIs(t, err, market.ErrRecordExists)

	got, err := s.ReadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, market.Account{UserID: "alice", Username: "Alice", Avatar: "a.png", Money: 7, ReputationPoints: 9}, got)
}

func testDebitGuards(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s, market.Account{UserID: "alice", Money: 50, ReputationPoints: 20})

	var results []bool
	err := s.Atomic(ctx, func(tx market.Tx) error {
		for _, step := range []func() (bool, error){
			func() (bool, error) { return tx.DebitCurrencyIfAtLeast(ctx, "alice", 51) },
			func() (bool, error) { return tx.DebitCurrencyIfAtLeast(ctx, "alice", 50) },
			func() (bool, error) { return tx.DebitCurrencyIfAtLeast(ctx, "alice", 1) },
			func() (bool, error) { return tx.DebitReputationIfAtLeast(ctx, "alice", 21) },
			func() (bool, error) { return tx.DebitReputationIfAtLeast(ctx, "alice", 20) },
			func() (bool, error) { return tx.DebitReputationIfAtLeast(ctx, "nobody", 1) },
		} {
			ok, err := step()
			if err != nil {
				return err
			}
			results = append(results, ok)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, false, true, false}, results)

	got, err := s.ReadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Money)
	assert.Equal(t, int64(0), got.ReputationPoints)
}

func testCreditMissingAccount(t *testing.T, s market.Store) {
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx market.Tx) error {
		return tx.CreditReputation(ctx, "nobody", 5)
	})
	require.ErrorIs(t, err, market.ErrRecordNotFound)

	err = s.Atomic(ctx, func(tx market.Tx) error {
		return tx.CreditCurrency(ctx, "nobody", 5)
	})
	require.ErrorIs(t, err, market.ErrRecordNotFound)
}

func testCreditOverflow(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s, market.Account{UserID: "whale", Money: math.MaxInt64 - 10, ReputationPoints: math.MaxInt64 - 10})

	err := s.Atomic(ctx, func(tx market.Tx) error {
		return tx.CreditCurrency(ctx, "whale", 50)
	})
	require.ErrorIs(t, err, market.ErrBalanceOverflow)

	err = s.Atomic(ctx, func(tx market.Tx) error {
		return tx.CreditReputation(ctx, "whale", 11)
	})
	require.ErrorIs(t, err, market.ErrBalanceOverflow)

	got, err := s.ReadAccount(ctx, "whale")
	require.NoError(t, err, "refused credits must leave the account readable")
	assert.Equal(t, int64(math.MaxInt64-10), got.Money)
	assert.Equal(t, int64(math.MaxInt64-10), got.ReputationPoints)

	// Filling the balance exactly to the limit is allowed.
	err = s.Atomic(ctx, func(tx market.Tx) error {
		if err := tx.CreditCurrency(ctx, "whale", 10); err != nil {
			return err
		}
		return tx.CreditReputation(ctx, "whale", 10)
	})
	require.NoError(t, err)

	got, err = s.ReadAccount(ctx, "whale")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got.Money)
	assert.Equal(t, int64(math.MaxInt64), got.ReputationPoints)
}

func testAtomicRollback(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s, market.Account{UserID: "alice", Money: 10, ReputationPoints: 10})

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx market.Tx) error {
		ok, err := tx.DebitReputationIfAtLeast(ctx, "alice", 10)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.InsertOffer(ctx, offer("offer-1", "alice", 10, 10, 0)))
		require.NoError(t, tx.CreditCurrency(ctx, "alice", 100))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.ReadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Money)
	assert.Equal(t, int64(10), got.ReputationPoints)

	_, err = s.ReadOffer(ctx, "offer-1")
	assert.ErrorIs(t, err, market.ErrRecordNotFound)
}

func testAtomicReturnsFnError(t *testing.T, s market.Store) {
	want := &market.Error{Code: market.ErrCodeAlreadyTaken, Message: "x"}
	err := s.Atomic(context.Background(), func(tx market.Tx) error {
		return want
	})
	assert.Same(t, want, err)
}

func testSetPurchaserOnce(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s,
		market.Account{UserID: "alice", ReputationPoints: 10},
		market.Account{UserID: "bob"},
		market.Account{UserID: "carol"},
	)
	insert(t, s, offer("offer-1", "alice", 5, 10, 0))

	var first, second bool
	err := s.Atomic(ctx, func(tx market.Tx) error {
		var err error
		if first, err = tx.SetPurchaserIfUnset(ctx, "offer-1", "bob"); err != nil {
			return err
		}
		second, err = tx.SetPurchaserIfUnset(ctx, "offer-1", "carol")
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	got, err := s.ReadOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.PurchaserUserID)
	assert.False(t, got.IsOpen())

	var missing bool
	err = s.Atomic(ctx, func(tx market.Tx) error {
		var err error
		missing, err = tx.SetPurchaserIfUnset(ctx, "no-such-offer", "bob")
		return err
	})
	require.NoError(t, err)
	assert.False(t, missing)
}

func testDeleteOpenOfferGuards(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s,
		market.Account{UserID: "alice", ReputationPoints: 10},
		market.Account{UserID: "bob"},
	)
	insert(t, s, offer("open", "alice", 1, 1, 0))
	insert(t, s, offer("taken", "alice", 1, 1, 1))
	err := s.Atomic(ctx, func(tx market.Tx) error {
		_, err := tx.SetPurchaserIfUnset(ctx, "taken", "bob")
		return err
	})
	require.NoError(t, err)

	deletes := []struct {
		offerID, creatorID string
		want               bool
	}{
		{"open", "bob", false},    // not the creator
		{"taken", "alice", false}, // already purchased
		{"open", "alice", true},
		{"open", "alice", false}, // already gone
	}
	for _, d := range deletes {
		var got bool
		err := s.Atomic(ctx, func(tx market.Tx) error {
			var err error
			got, err = tx.DeleteOpenOffer(ctx, d.offerID, d.creatorID)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, d.want, got, "DeleteOpenOffer(%s, %s)", d.offerID, d.creatorID)
	}

	_, err = s.ReadOffer(ctx, "taken")
	require.NoError(t, err, "taken offers are kept as trade history")
}

func testReadOfferMissing(t *testing.T, s market.Store) {
	ctx := context.Background()
	_, err := s.ReadOffer(ctx, "nope")
	require.ErrorIs(t, err, market.ErrRecordNotFound)

	err = s.Atomic(ctx, func(tx market.Tx) error {
		_, err := tx.ReadOffer(ctx, "nope")
		return err
	})
	require.ErrorIs(t, err, market.ErrRecordNotFound)
}

func testIdempotencyKeys(t *testing.T, s market.Store) {
	ctx := context.Background()

	claim := func(userID, key string) bool {
		var ok bool
		err := s.Atomic(ctx, func(tx market.Tx) error {
			var err error
			ok, err = tx.ClaimIdempotencyKey(ctx, userID, key, market.OpTake)
			return err
		})
		require.NoError(t, err)
		return ok
	}

	assert.True(t, claim("alice", "k1"))
	assert.False(t, claim("alice", "k1"))
	assert.True(t, claim("bob", "k1"), "keys are scoped per user")

	// A rolled back claim leaves the key available.
	err := s.Atomic(ctx, func(tx market.Tx) error {
		ok, err := tx.ClaimIdempotencyKey(ctx, "alice", "k2", market.OpTake)
		require.NoError(t, err)
		require.True(t, ok)
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.True(t, claim("alice", "k2"))
}

func testListOrderingAndPaging(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s,
		market.Account{UserID: "alice", Username: "Alice", Avatar: "alice.png", ReputationPoints: 100},
		market.Account{UserID: "bob", Username: "Bob", ReputationPoints: 100},
	)
	// ryo/rep: c=1.5, a=3, b=2, d=2 (later), e=1
	insert(t, s, offer("a", "alice", 10, 30, 0))
	insert(t, s, offer("b", "bob", 10, 20, 1))
	insert(t, s, offer("c", "alice", 2, 3, 2))
	insert(t, s, offer("d", "bob", 5, 10, 3))
	insert(t, s, offer("e", "alice", 7, 7, 4))

	all, err := s.ListOpenOffers(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "c", "b", "d", "a"}, ids(all))
	assert.Equal(t, "Alice", all[0].Username)
	assert.Equal(t, "alice.png", all[0].Avatar)
	assert.Equal(t, "Bob", all[2].Username)
	assert.True(t, all[1].RyoPerRep.Equal(market.RyoPerRep(3, 2)))

	page, err := s.ListOpenOffers(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, ids(page))

	page, err = s.ListOpenOffers(ctx, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(page))

	page, err = s.ListOpenOffers(ctx, 10, 2)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func testListOffsetExtremes(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s, market.Account{UserID: "alice", ReputationPoints: 100})
	insert(t, s, offer("a", "alice", 1, 1, 0))
	insert(t, s, offer("b", "alice", 1, 2, 1))

	page, err := s.ListOpenOffers(ctx, math.MinInt, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(page), "negative offset reads from the start")

	page, err = s.ListOpenOffers(ctx, math.MaxInt-1, 1)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)

	page, err = s.ListOpenOffers(ctx, 1, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(page))
}

func testListExcludesTaken(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s,
		market.Account{UserID: "alice", ReputationPoints: 100},
		market.Account{UserID: "bob"},
	)
	insert(t, s, offer("a", "alice", 1, 1, 0))
	insert(t, s, offer("b", "alice", 1, 2, 1))
	err := s.Atomic(ctx, func(tx market.Tx) error {
		_, err := tx.SetPurchaserIfUnset(ctx, "a", "bob")
		return err
	})
	require.NoError(t, err)

	got, err := s.ListOpenOffers(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))
}

// testConcurrentDebits races many single-unit debits against a balance that
// covers only some of them.
func testConcurrentDebits(t *testing.T, s market.Store) {
	ctx := context.Background()
	seed(t, s, market.Account{UserID: "alice", Money: 25})

	const workers = 40
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomic(ctx, func(tx market.Tx) error {
				ok, err := tx.DebitCurrencyIfAtLeast(ctx, "alice", 1)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, succeeded)
	got, err := s.ReadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Money)
}

// Helpers

func seed(t *testing.T, s market.Store, accounts ...market.Account) {
	t.Helper()
	for _, a := range accounts {
		require.NoError(t, s.InsertAccount(context.Background(), a), "seed %s", a.UserID)
	}
}

func insert(t *testing.T, s market.Store, o market.Offer) {
	t.Helper()
	err := s.Atomic(context.Background(), func(tx market.Tx) error {
		return tx.InsertOffer(context.Background(), o)
	})
	require.NoError(t, err, "insert %s", o.ID)
}

// offer builds an open offer created `minute` minutes after baseTime.
func offer(id, creator string, reps, ryo int64, minute int) market.Offer {
	return market.Offer{
		ID:            id,
		CreatorUserID: creator,
		RepsForSale:   reps,
		RequestedRyo:  ryo,
		RyoPerRep:     market.RyoPerRep(ryo, reps),
		CreatedAt:     baseTime.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(listings []market.OfferListing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.ID
	}
	return out
}
