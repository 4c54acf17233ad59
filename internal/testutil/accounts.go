package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/roach88/blackmarket/internal/market"
)

// Epoch is the default start time for ManualClock in tests.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// SeedAccounts opens each account on m and fails the test on error.
func SeedAccounts(t testing.TB, m *market.Market, accounts ...market.Account) {
	t.Helper()
	for _, acct := range accounts {
		if err := m.OpenAccount(context.Background(), acct); err != nil {
			t.Fatalf("OpenAccount(%s): %v", acct.UserID, err)
		}
	}
}

// OfferIDs returns n predictable offer ids: offer-1 ... offer-n.
func OfferIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("offer-%d", i+1)
	}
	return ids
}

// MustAccount reads userID from m and fails the test on error.
func MustAccount(t testing.TB, m *market.Market, userID string) market.Account {
	t.Helper()
	acct, err := m.Account(context.Background(), userID)
	if err != nil {
		t.Fatalf("Account(%s): %v", userID, err)
	}
	return acct
}
