package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/blackmarket/internal/market"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Offers int
	Takers int
	Reps   int64
	Ryo    int64
}

// SimulationReport summarizes a simulate run.
type SimulationReport struct {
	Backend    string         `json:"backend"`
	Offers     int            `json:"offers"`
	Takers     int            `json:"takers"`
	Trades     int            `json:"trades"`
	Rejections map[string]int `json:"rejections"`
	Money      Totals         `json:"money"`
	Reps       Totals         `json:"reps"`
	FeesBurned int64          `json:"fees_burned"`
	Operations map[string]int `json:"operations"`
	Violations []string       `json:"violations,omitempty"`
}

// Totals is a balance sum taken before and after a run.
type Totals struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Race concurrent takers against fresh offers",
		Long: `Race concurrent takers against fresh offers on a throwaway database.

Each seller lists one offer, then every taker tries to take every offer at
the same time. The run fails if any offer is sold more than once or if
ryo or reputation points are created or lost.

The configured backend is used; the configured database path is not.

Exit codes:
  0 - Every offer sold exactly once and balances are conserved
  1 - An invariant was violated
  2 - Command error`,
		Example: `  blackmarket simulate --offers 10 --takers 8
  blackmarket simulate --backend bolt --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Offers, "offers", 5, "number of offers (one seller each)")
	cmd.Flags().IntVar(&opts.Takers, "takers", 4, "number of concurrent takers")
	cmd.Flags().Int64Var(&opts.Reps, "reps", 10, "reputation points per offer")
	cmd.Flags().Int64Var(&opts.Ryo, "ryo", 50, "ryo per offer")

	return cmd
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	if opts.Offers < 1 || opts.Takers < 1 {
		return NewExitError(ExitCommandError, "--offers and --takers must be at least 1")
	}
	if opts.Reps < 1 || opts.Ryo < 1 {
		return NewExitError(ExitCommandError, "--reps and --ryo must be at least 1")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.newLogger(cmd, cfg)

	dir, err := os.MkdirTemp("", "blackmarket-simulate-*")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create temp dir", err)
	}
	defer os.RemoveAll(dir)

	st, err := openStore(cfg.Backend, filepath.Join(dir, "simulate.db"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	m := market.New(st, cfg.Market,
		market.WithLogger(logger),
		market.WithMetrics(market.PrometheusMetrics("blackmarket", reg)),
	)

	report, err := simulate(cmd.Context(), m, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "simulation failed", err)
	}
	report.Backend = cfg.Backend
	if report.Operations, err = operationCounts(reg); err != nil {
		return WrapExitError(ExitCommandError, "failed to gather metrics", err)
	}

	f := opts.formatter(cmd)
	if err := f.Success(report, describeSimulation(report)); err != nil {
		return err
	}
	if len(report.Violations) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invariant violation(s)", len(report.Violations)))
	}
	return nil
}

// simulate seeds accounts, lists one offer per seller and races every taker
// against every offer.
func simulate(ctx context.Context, m *market.Market, opts *SimulateOptions) (*SimulationReport, error) {
	fee := m.Config().ListingFee
	report := &SimulationReport{
		Offers:     opts.Offers,
		Takers:     opts.Takers,
		Rejections: map[string]int{},
	}

	var users []string
	for i := 0; i < opts.Offers; i++ {
		id := fmt.Sprintf("seller-%d", i+1)
		if err := m.OpenAccount(ctx, market.Account{UserID: id, ReputationPoints: opts.Reps + fee}); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	for i := 0; i < opts.Takers; i++ {
		id := fmt.Sprintf("taker-%d", i+1)
		if err := m.OpenAccount(ctx, market.Account{UserID: id, Money: opts.Ryo * int64(opts.Offers)}); err != nil {
			return nil, err
		}
		users = append(users, id)
	}

	var err error
	if report.Money.Before, report.Reps.Before, err = sumBalances(ctx, m, users); err != nil {
		return nil, err
	}

	offerIDs := make([]string, 0, opts.Offers)
	for i := 0; i < opts.Offers; i++ {
		offer, err := m.CreateOffer(ctx, fmt.Sprintf("seller-%d", i+1), opts.Reps, opts.Ryo)
		if err != nil {
			return nil, err
		}
		offerIDs = append(offerIDs, offer.ID)
	}
	report.FeesBurned = fee * int64(opts.Offers)

	var mu sync.Mutex
	wins := make(map[string]int, len(offerIDs))
	g, gctx := errgroup.WithContext(ctx)
	for _, offerID := range offerIDs {
		for i := 0; i < opts.Takers; i++ {
			taker := fmt.Sprintf("taker-%d", i+1)
			g.Go(func() error {
				_, err := m.TakeOffer(gctx, taker, offerID)
				code := market.CodeOf(err)
				if err != nil && code == "" {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins[offerID]++
					report.Trades++
				} else {
					report.Rejections[string(code)]++
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if report.Money.After, report.Reps.After, err = sumBalances(ctx, m, users); err != nil {
		return nil, err
	}

	for _, id := range offerIDs {
		if wins[id] != 1 {
			report.Violations = append(report.Violations, fmt.Sprintf("offer %s sold %d times", id, wins[id]))
		}
	}
	if report.Money.After != report.Money.Before {
		report.Violations = append(report.Violations,
			fmt.Sprintf("ryo not conserved: %d before, %d after", report.Money.Before, report.Money.After))
	}
	if report.Reps.After+report.FeesBurned != report.Reps.Before {
		report.Violations = append(report.Violations,
			fmt.Sprintf("reps not conserved: %d before, %d after plus %d in fees", report.Reps.Before, report.Reps.After, report.FeesBurned))
	}
	for _, code := range sortedKeys(report.Rejections) {
		if code != string(market.ErrCodeAlreadyTaken) {
			report.Violations = append(report.Violations,
				fmt.Sprintf("unexpected rejection %s (%d)", code, report.Rejections[code]))
		}
	}
	return report, nil
}

func sumBalances(ctx context.Context, m *market.Market, users []string) (money, reps int64, err error) {
	for _, id := range users {
		acct, err := m.Account(ctx, id)
		if err != nil {
			return 0, 0, err
		}
		money += acct.Money
		reps += acct.ReputationPoints
	}
	return money, reps, nil
}

// operationCounts reads blackmarket_market_operations_total back from reg,
// keyed "operation/outcome".
func operationCounts(reg *prometheus.Registry) (map[string]int, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, mf := range families {
		if mf.GetName() != "blackmarket_market_operations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var op, outcome string
			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "operation":
					op = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			counts[op+"/"+outcome] = int(metric.GetCounter().GetValue())
		}
	}
	return counts, nil
}

func describeSimulation(r *SimulationReport) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Simulated %d offers x %d takers on %s\n", r.Offers, r.Takers, r.Backend)
	fmt.Fprintf(&b, "  trades:      %s\n", formatAmount(int64(r.Trades)))
	for _, code := range sortedKeys(r.Rejections) {
		fmt.Fprintf(&b, "  %-12s %s\n", strings.ToLower(code)+":", formatAmount(int64(r.Rejections[code])))
	}
	fmt.Fprintf(&b, "  ryo:         %s -> %s\n", formatAmount(r.Money.Before), formatAmount(r.Money.After))
	fmt.Fprintf(&b, "  reps:        %s -> %s (+%s fees)\n", formatAmount(r.Reps.Before), formatAmount(r.Reps.After), formatAmount(r.FeesBurned))
	if len(r.Operations) > 0 {
		fmt.Fprintln(&b, "operations:")
		for _, key := range sortedKeys(r.Operations) {
			fmt.Fprintf(&b, "  %s %s\n", key, formatAmount(int64(r.Operations[key])))
		}
	}
	if len(r.Violations) == 0 {
		fmt.Fprintln(&b, "✓ Every offer sold exactly once; balances conserved")
		return b.String()
	}
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "✗ %s\n", v)
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
