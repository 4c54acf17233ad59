package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/blackmarket/internal/market"
	"github.com/roach88/blackmarket/internal/store"
	"github.com/roach88/blackmarket/internal/testutil"
)

// Harness executes one scenario against a real Market.
type Harness struct {
	market *market.Market
	store  *store.Store
	clock  *testutil.ManualClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a manual clock and
// fixed offer ids, so the transcript is reproducible.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Open seed accounts
//  3. Execute steps, comparing each outcome with its expect clause
//  4. Record final balances
//  5. Evaluate assertions
//
// A returned error means the scenario could not run (bad seed data,
// storage failure). Expectation mismatches are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start := testutil.Epoch
	if scenario.Start != "" {
		start, err = time.Parse(time.RFC3339, scenario.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
	}
	cfg, err := scenario.marketConfig()
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:  st,
		clock:  testutil.NewManualClock(start),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	h.market = market.New(st, cfg,
		market.WithClock(h.clock),
		market.WithIDGenerator(market.NewFixedGenerator(testutil.OfferIDs(countCreates(scenario.Steps))...)),
		market.WithLogger(h.logger),
	)

	ctx := context.Background()
	result := NewResult()
	result.AddLine("# " + scenario.Name)

	for _, acct := range scenario.Accounts {
		err := h.market.OpenAccount(ctx, market.Account{
			UserID:           acct.UserID,
			Username:         acct.Username,
			Avatar:           acct.Avatar,
			Money:            acct.Money,
			ReputationPoints: acct.Reps,
		})
		if err != nil {
			return nil, fmt.Errorf("seed account %s: %w", acct.UserID, err)
		}
	}

	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	if err := h.recordBalances(ctx, scenario.Accounts, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Market: h.market,
		Store:  st,
		Ctx:    ctx,
	}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (s *Scenario) marketConfig() (market.Config, error) {
	cfg := market.DefaultConfig()
	if s.Market == nil {
		return cfg, nil
	}
	if s.Market.ListingFee != nil {
		cfg.ListingFee = *s.Market.ListingFee
	}
	if s.Market.FreezeWindow != "" {
		d, err := time.ParseDuration(s.Market.FreezeWindow)
		if err != nil {
			return market.Config{}, fmt.Errorf("market.freeze_window: %w", err)
		}
		cfg.FreezeWindow = d
	}
	if s.Market.PageSize > 0 {
		cfg.DefaultPageSize = s.Market.PageSize
	}
	return cfg, nil
}

func countCreates(steps []Step) int {
	n := 0
	for _, st := range steps {
		if st.Action == ActionCreate {
			n++
		}
	}
	return n
}

// executeSteps runs every step, appends a transcript line for each, and
// records a mismatch for any step whose outcome differs from its expect
// clause. Only infrastructure errors stop execution.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		stepCtx := market.WithIdempotencyKey(ctx, step.Args.IdempotencyKey)

		var (
			summary string
			err     error
		)
		switch step.Action {
		case ActionCreate:
			summary, err = h.create(stepCtx, step)
		case ActionDelist:
			summary, err = h.delist(stepCtx, step)
		case ActionTake:
			summary, err = h.take(stepCtx, step)
		case ActionList:
			summary, err = h.list(ctx, step, i, result)
		case ActionAdvance:
			summary, err = h.advance(step)
		default:
			return fmt.Errorf("step %d: unknown action %q", i+1, step.Action)
		}

		code := market.CodeOf(err)
		if err != nil && code == "" {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		if code != "" {
			summary = string(code)
		}

		result.AddLine(fmt.Sprintf("%d. %s -> %s", i+1, describeStep(step), summary))

		want := ""
		if step.Expect != nil {
			want = step.Expect.Code
		}
		if string(code) != want {
			result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %s",
				i+1, step.Action, outcome(want), outcome(string(code))))
		}

		h.logger.Info("step completed",
			"step", i+1,
			"action", step.Action,
			"as", step.As,
			"outcome", outcome(string(code)),
		)
	}
	return nil
}

func (h *Harness) create(ctx context.Context, step Step) (string, error) {
	offer, err := h.market.CreateOffer(ctx, step.As, step.Args.Reps, step.Args.Ryo)
	if err != nil {
		return "", err
	}
	return "ok " + offer.ID, nil
}

func (h *Harness) delist(ctx context.Context, step Step) (string, error) {
	res, err := h.market.DelistOffer(ctx, step.As, step.Args.Offer)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ok refunded=%d", res.RepsRefunded), nil
}

func (h *Harness) take(ctx context.Context, step Step) (string, error) {
	res, err := h.market.TakeOffer(ctx, step.As, step.Args.Offer)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ok paid=%d received=%d", res.RyoPaid, res.RepsTransferred), nil
}

// list runs ListOpenOffers and checks the expected ids and cursor, if given.
func (h *Harness) list(ctx context.Context, step Step, index int, result *Result) (string, error) {
	page, err := h.market.ListOpenOffers(ctx, step.Args.Cursor, step.Args.Limit)
	if err != nil {
		return "", err
	}

	ids := make([]string, len(page.Offers))
	for i, o := range page.Offers {
		ids[i] = o.ID
	}
	next := -1
	if page.NextCursor != nil {
		next = *page.NextCursor
	}

	if step.Expect != nil && step.Expect.Offers != nil && !slices.Equal(ids, step.Expect.Offers) {
		result.AddError(fmt.Sprintf("step %d (list): expected offers %v, got %v", index+1, step.Expect.Offers, ids))
	}
	if step.Expect != nil && step.Expect.NextCursor != nil && *step.Expect.NextCursor != next {
		result.AddError(fmt.Sprintf("step %d (list): expected next_cursor %d, got %d", index+1, *step.Expect.NextCursor, next))
	}

	return fmt.Sprintf("[%s] next=%s", strings.Join(ids, " "), formatCursor(page.NextCursor)), nil
}

func (h *Harness) advance(step Step) (string, error) {
	d, err := time.ParseDuration(step.Args.Duration)
	if err != nil {
		return "", fmt.Errorf("duration: %w", err)
	}
	return h.clock.Advance(d).Format(time.RFC3339), nil
}

// recordBalances appends every seeded account's final balances.
func (h *Harness) recordBalances(ctx context.Context, accounts []AccountSeed, result *Result) error {
	if len(accounts) == 0 {
		return nil
	}
	result.AddLine("balances:")
	for _, seed := range accounts {
		acct, err := h.market.Account(ctx, seed.UserID)
		if err != nil {
			return fmt.Errorf("read balance %s: %w", seed.UserID, err)
		}
		result.AddLine(fmt.Sprintf("  %s money=%d reps=%d", acct.UserID, acct.Money, acct.ReputationPoints))
	}
	return nil
}

// describeStep renders the input half of a transcript line.
func describeStep(step Step) string {
	var b strings.Builder
	switch step.Action {
	case ActionCreate:
		fmt.Fprintf(&b, "%s create reps=%d ryo=%d", step.As, step.Args.Reps, step.Args.Ryo)
	case ActionDelist, ActionTake:
		fmt.Fprintf(&b, "%s %s %s", step.As, step.Action, step.Args.Offer)
	case ActionList:
		fmt.Fprintf(&b, "list cursor=%d limit=%d", step.Args.Cursor, step.Args.Limit)
	case ActionAdvance:
		d, _ := time.ParseDuration(step.Args.Duration)
		fmt.Fprintf(&b, "advance %s", d)
	}
	if step.Args.IdempotencyKey != "" {
		fmt.Fprintf(&b, " key=%s", step.Args.IdempotencyKey)
	}
	return b.String()
}

func outcome(code string) string {
	if code == "" {
		return "ok"
	}
	return code
}

func formatCursor(c *int) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprint(*c)
}

