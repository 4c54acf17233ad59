// Package boltstore provides a BoltDB-backed market.Store.
//
// BoltDB is an embedded key/value store with a single writer. Every
// db.Update transaction is serializable, so a conditional write is simply
// "read the record, check the guard, put" inside one Update: no other
// writer can interleave between the check and the put.
//
// Buckets:
//   - accounts: user_id -> JSON account
//   - offers: offer id -> JSON offer
//   - idempotency_keys: user_id + 0x00 + key -> JSON claim
//
// Listing scans the offers bucket and sorts in memory. That is fine for the
// single-node deployments this backend targets; use the SQLite store for
// large books.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/roach88/blackmarket/internal/market"
)

var (
	bucketAccounts = []byte("accounts")
	bucketOffers   = []byte("offers")
	bucketKeys     = []byte("idempotency_keys")
)

// Store wraps a BoltDB database and implements market.Store.
type Store struct {
	db *bolt.DB
}

var _ market.Store = (*Store)(nil)

type accountRecord struct {
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	Avatar           string `json:"avatar"`
	Money            int64  `json:"money"`
	ReputationPoints int64  `json:"reputation_points"`
}

type offerRecord struct {
	ID              string    `json:"id"`
	CreatorUserID   string    `json:"creator_user_id"`
	PurchaserUserID string    `json:"purchaser_user_id,omitempty"`
	RepsForSale     int64     `json:"reps_for_sale"`
	RequestedRyo    int64     `json:"requested_ryo"`
	CreatedAt       time.Time `json:"created_at"`
}

type keyRecord struct {
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Open opens (or creates) a BoltDB database at path and ensures the buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketOffers, bucketKeys} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadAccount returns the account for userID.
func (s *Store) ReadAccount(ctx context.Context, userID string) (market.Account, error) {
	var acct accountRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketAccounts), userID, &acct)
	})
	if err != nil {
		return market.Account{}, fmt.Errorf("read account %s: %w", userID, err)
	}
	return acct.toAccount(), nil
}

// ReadOffer returns the offer with the given id.
func (s *Store) ReadOffer(ctx context.Context, offerID string) (market.Offer, error) {
	var rec offerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketOffers), offerID, &rec)
	})
	if err != nil {
		return market.Offer{}, fmt.Errorf("read offer %s: %w", offerID, err)
	}
	return rec.toOffer(), nil
}

// ListOpenOffers scans all offers, keeps the open ones and orders them by
// ryo per rep, then created_at, then id.
func (s *Store) ListOpenOffers(ctx context.Context, offset, limit int) ([]market.OfferListing, error) {
	var listings []market.OfferListing

	err := s.db.View(func(tx *bolt.Tx) error {
		accounts := tx.Bucket(bucketAccounts)
		return tx.Bucket(bucketOffers).ForEach(func(k, v []byte) error {
			var rec offerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode offer %s: %w", k, err)
			}
			if rec.PurchaserUserID != "" {
				return nil
			}
			var creator accountRecord
			if err := getJSON(accounts, rec.CreatorUserID, &creator); err != nil {
				return fmt.Errorf("offer %s creator: %w", rec.ID, err)
			}
			listings = append(listings, market.OfferListing{
				Offer:    rec.toOffer(),
				Username: creator.Username,
				Avatar:   creator.Avatar,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list open offers: %w", err)
	}

	sort.Slice(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if c := a.RyoPerRep.Cmp(b.RyoPerRep); c != 0 {
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if offset < 0 {
		offset = 0
	}
	// Return an empty slice rather than nil.
	if offset >= len(listings) {
		return []market.OfferListing{}, nil
	}
	end := len(listings)
	if limit < end-offset {
		end = offset + limit
	}
	return listings[offset:end], nil
}

// InsertAccount creates an account record.
func (s *Store) InsertAccount(ctx context.Context, acct market.Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get([]byte(acct.UserID)) != nil {
			return fmt.Errorf("insert account %s: %w", acct.UserID, market.ErrRecordExists)
		}
		return putJSON(b, acct.UserID, accountRecord{
			UserID:           acct.UserID,
			Username:         acct.Username,
			Avatar:           acct.Avatar,
			Money:            acct.Money,
			ReputationPoints: acct.ReputationPoints,
		})
	})
}

// Atomic runs fn inside one bolt read-write transaction.
// fn's error is returned unchanged; bolt rolls back on error.
func (s *Store) Atomic(ctx context.Context, fn func(tx market.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (a accountRecord) toAccount() market.Account {
	return market.Account{
		UserID:           a.UserID,
		Username:         a.Username,
		Avatar:           a.Avatar,
		Money:            a.Money,
		ReputationPoints: a.ReputationPoints,
	}
}

func (o offerRecord) toOffer() market.Offer {
	return market.Offer{
		ID:              o.ID,
		CreatorUserID:   o.CreatorUserID,
		PurchaserUserID: o.PurchaserUserID,
		RepsForSale:     o.RepsForSale,
		RequestedRyo:    o.RequestedRyo,
		RyoPerRep:       market.RyoPerRep(o.RequestedRyo, o.RepsForSale),
		CreatedAt:       o.CreatedAt.UTC(),
	}
}

// getJSON decodes the value at key, or returns market.ErrRecordNotFound.
func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return market.ErrRecordNotFound
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}
