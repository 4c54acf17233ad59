package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/blackmarket/internal/market"
	"github.com/roach88/blackmarket/internal/storetest"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) market.Store {
		return createTestStore(t)
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"accounts", "offers", "idempotency_keys"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	if err := s.InsertAccount(context.Background(), market.Account{UserID: "alice"}); err != nil {
		t.Fatalf("InsertAccount() failed: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	tests := map[string][]string{
		"accounts":         {"user_id", "username", "avatar", "money", "reputation_points"},
		"offers":           {"id", "creator_user_id", "purchaser_user_id", "reps_for_sale", "requested_ryo", "ryo_per_rep", "created_at"},
		"idempotency_keys": {"user_id", "key", "action", "created_at"},
	}
	for table, expected := range tests {
		columns := getTableColumns(t, s.db, table)
		for _, col := range expected {
			if !contains(columns, col) {
				t.Errorf("%s table missing column %q", table, col)
			}
		}
	}
}

func TestConstraint_BalancesNeverNegative(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.InsertAccount(ctx, market.Account{UserID: "alice", Money: 3}); err != nil {
		t.Fatalf("InsertAccount() failed: %v", err)
	}

	// Bypass the conditional guard: the CHECK constraint must still reject.
	_, err := s.db.Exec(`UPDATE accounts SET money = money - 10 WHERE user_id = 'alice'`)
	if err == nil {
		t.Fatal("expected CHECK constraint failure driving money negative")
	}

	_, err = s.db.Exec(`INSERT INTO accounts (user_id, reputation_points) VALUES ('bob', -1)`)
	if err == nil {
		t.Fatal("expected CHECK constraint failure for negative reputation")
	}
}

func TestConstraint_NoSelfPurchase(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.InsertAccount(ctx, market.Account{UserID: "alice", ReputationPoints: 50}); err != nil {
		t.Fatalf("InsertAccount() failed: %v", err)
	}
	insertOffer(t, s, market.Offer{
		ID:            "offer-1",
		CreatorUserID: "alice",
		RepsForSale:   10,
		RequestedRyo:  20,
		RyoPerRep:     decimal.NewFromInt(2),
		CreatedAt:     time.Unix(1700000000, 0).UTC(),
	})

	_, err := s.db.Exec(`UPDATE offers SET purchaser_user_id = 'alice' WHERE id = 'offer-1'`)
	if err == nil {
		t.Fatal("expected CHECK constraint failure for self purchase")
	}
}

func TestConstraint_ForeignKeyCreator(t *testing.T) {
	s := createTestStore(t)

	err := s.Atomic(context.Background(), func(tx market.Tx) error {
		return tx.InsertOffer(context.Background(), market.Offer{
			ID:            "orphan",
			CreatorUserID: "ghost",
			RepsForSale:   1,
			RequestedRyo:  1,
			RyoPerRep:     decimal.NewFromInt(1),
			CreatedAt:     time.Now(),
		})
	})
	if err == nil {
		t.Fatal("expected foreign key failure for unknown creator")
	}
}

func TestInsertAccount_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.InsertAccount(ctx, market.Account{UserID: "alice"}); err != nil {
		t.Fatalf("first InsertAccount() failed: %v", err)
	}
	err := s.InsertAccount(ctx, market.Account{UserID: "alice"})
	if !errors.Is(err, market.ErrRecordExists) {
		t.Fatalf("second InsertAccount() = %v, want ErrRecordExists", err)
	}
}

func TestReadOffer_CreatedAtRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.InsertAccount(ctx, market.Account{UserID: "alice"}); err != nil {
		t.Fatalf("InsertAccount() failed: %v", err)
	}
	created := time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC)
	insertOffer(t, s, market.Offer{
		ID:            "offer-1",
		CreatorUserID: "alice",
		RepsForSale:   3,
		RequestedRyo:  10,
		RyoPerRep:     market.RyoPerRep(10, 3),
		CreatedAt:     created,
	})

	got, err := s.ReadOffer(ctx, "offer-1")
	if err != nil {
		t.Fatalf("ReadOffer() failed: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.RyoPerRep.Equal(market.RyoPerRep(10, 3)) {
		t.Errorf("RyoPerRep = %s, want %s", got.RyoPerRep, market.RyoPerRep(10, 3))
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Apply schema but NOT migrations (simulates pre-migration state)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	indexes := getTableIndexes(t, s.db, "offers")
	if !contains(indexes, "idx_offers_open") {
		t.Errorf("offers table missing idx_offers_open, indexes: %v", indexes)
	}
}

// Helper functions

func insertOffer(t *testing.T, s *Store, offer market.Offer) {
	t.Helper()
	err := s.Atomic(context.Background(), func(tx market.Tx) error {
		return tx.InsertOffer(context.Background(), offer)
	})
	if err != nil {
		t.Fatalf("InsertOffer(%s) failed: %v", offer.ID, err)
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
