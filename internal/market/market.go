package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Operation names used in logs, metrics and idempotency records.
const (
	OpCreate = "create"
	OpDelist = "delist"
	OpTake   = "take"
)

// Market exposes the offer lifecycle: escrow, delist and trade.
//
// Thread-safety: Market is immutable after New and safe for concurrent use.
// All synchronization happens in the Store.
type Market struct {
	store   Store
	cfg     Config
	ids     OfferIDGenerator
	clock   Clock
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Market.
type Option func(*Market)

// WithIDGenerator overrides the offer id generator (default UUIDv7Generator).
func WithIDGenerator(g OfferIDGenerator) Option {
	return func(m *Market) {
		m.ids = g
	}
}

// WithClock overrides the wall clock (default SystemClock).
func WithClock(c Clock) Option {
	return func(m *Market) {
		m.clock = c
	}
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Market) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink (default NopMetrics()).
func WithMetrics(mt *Metrics) Option {
	return func(m *Market) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// New creates a Market on top of s. cfg is copied.
func New(s Store, cfg Config, opts ...Option) *Market {
	m := &Market{
		store:   s,
		cfg:     cfg,
		ids:     UUIDv7Generator{},
		clock:   SystemClock{},
		logger:  slog.Default(),
		metrics: NopMetrics(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Config returns the market's configuration.
func (m *Market) Config() Config {
	return m.cfg
}

// Account returns the balances and display data for userID.
func (m *Market) Account(ctx context.Context, userID string) (Account, error) {
	acct, err := m.store.ReadAccount(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return Account{}, newAccountNotFound(userID)
	}
	if err != nil {
		return Account{}, fmt.Errorf("read account: %w", err)
	}
	return acct, nil
}

// OpenAccount creates an account with opening balances.
// The username is NFC-normalized so visually identical names compare equal.
func (m *Market) OpenAccount(ctx context.Context, acct Account) error {
	acct.UserID = strings.TrimSpace(acct.UserID)
	if acct.UserID == "" {
		return newValidationError("user id is required")
	}
	if acct.Money < 0 || acct.ReputationPoints < 0 {
		return newValidationError("opening balances must not be negative")
	}
	if acct.Money > MaxOpeningBalance || acct.ReputationPoints > MaxOpeningBalance {
		return newValidationError("opening balances must not exceed %d", MaxOpeningBalance)
	}
	acct.Username = norm.NFC.String(strings.TrimSpace(acct.Username))
	if acct.Username == "" {
		acct.Username = acct.UserID
	}

	err := m.store.InsertAccount(ctx, acct)
	if errors.Is(err, ErrRecordExists) {
		return &Error{Code: ErrCodeValidation, Message: "account already exists", UserID: acct.UserID}
	}
	if err != nil {
		return fmt.Errorf("open account: %w", err)
	}

	m.logger.Info("account opened",
		"user_id", acct.UserID,
		"money", acct.Money,
		"reputation_points", acct.ReputationPoints,
	)
	return nil
}

// ListOpenOffers returns page `cursor` of open offers, cheapest ryo per rep
// first. limit 0 selects Config.DefaultPageSize.
//
// NextCursor is cursor+1 when the page is full, nil otherwise. A full last
// page therefore yields one extra, empty page.
func (m *Market) ListOpenOffers(ctx context.Context, cursor, limit int) (Page, error) {
	if cursor < 0 {
		return Page{}, newValidationError("cursor must not be negative")
	}
	if limit == 0 {
		limit = m.cfg.DefaultPageSize
	}
	if limit < 1 || limit > m.cfg.MaxPageSize {
		return Page{}, newValidationError("limit must be between 1 and %d", m.cfg.MaxPageSize)
	}
	if cursor > math.MaxInt/limit {
		return Page{}, newValidationError("cursor %d is out of range", cursor)
	}

	offers, err := m.store.ListOpenOffers(ctx, cursor*limit, limit)
	if err != nil {
		return Page{}, fmt.Errorf("list open offers: %w", err)
	}
	if offers == nil {
		offers = []OfferListing{}
	}

	page := Page{Offers: offers}
	if len(offers) == limit {
		next := cursor + 1
		page.NextCursor = &next
	}
	return page, nil
}

// finish records the outcome of op and returns err unchanged.
func (m *Market) finish(op string, err error) error {
	if err == nil {
		m.metrics.Operations.With("operation", op, "outcome", "ok").Add(1)
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		m.logger.Error("operation failed", "op", op, "error", err)
		m.metrics.Operations.With("operation", op, "outcome", "error").Add(1)
		return err
	}

	m.logger.Debug("operation rejected", "op", op, "code", string(code), "error", err)
	m.metrics.Operations.With("operation", op, "outcome", strings.ToLower(string(code))).Add(1)
	return err
}
