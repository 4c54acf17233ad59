package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blackmarket/internal/market"
	"github.com/roach88/blackmarket/internal/storetest"
)

// newTestStore opens a temporary BoltDB file and registers cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) market.Store {
		return newTestStore(t)
	})
}

func TestOpen_BucketsCreatedIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_DataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.InsertAccount(ctx, market.Account{UserID: "alice", Money: 42}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ReadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Money)
}

func TestInsertOffer_UnknownCreator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx market.Tx) error {
		return tx.InsertOffer(ctx, market.Offer{ID: "o", CreatorUserID: "ghost", RepsForSale: 1, RequestedRyo: 1})
	})
	assert.ErrorIs(t, err, market.ErrRecordNotFound)
}

func TestSetPurchaser_RejectsCreator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertAccount(ctx, market.Account{UserID: "alice"}))

	err := s.Atomic(ctx, func(tx market.Tx) error {
		if err := tx.InsertOffer(ctx, market.Offer{ID: "o", CreatorUserID: "alice", RepsForSale: 1, RequestedRyo: 1}); err != nil {
			return err
		}
		_, err := tx.SetPurchaserIfUnset(ctx, "o", "alice")
		return err
	})
	assert.Error(t, err)

	_, err = s.ReadOffer(ctx, "o")
	assert.ErrorIs(t, err, market.ErrRecordNotFound, "failed transaction must not leave the offer behind")
}

func TestAtomic_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Atomic(ctx, func(tx market.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
