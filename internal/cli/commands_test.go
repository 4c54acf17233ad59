package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blackmarket/internal/config"
	"github.com/roach88/blackmarket/internal/market"
)

// cliEnv runs root commands against a private database and env file.
type cliEnv struct {
	t       *testing.T
	backend string
	db      string
	envFile string
}

func newCLIEnv(t *testing.T, backend string, dotenv string) *cliEnv {
	t.Helper()
	for _, key := range []string{"DB", "BACKEND", "LOG_LEVEL", "LISTING_FEE", "FREEZE_WINDOW", "DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE"} {
		t.Setenv(config.EnvPrefix+key, "")
	}

	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(dotenv), 0600))
	return &cliEnv{
		t:       t,
		backend: backend,
		db:      filepath.Join(dir, "market.db"),
		envFile: envFile,
	}
}

// run executes the root command and returns stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--db", e.db, "--backend", e.backend, "--env-file", e.envFile))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "output: %s", out)
	return out
}

// runJSON executes with --format json and decodes data into v.
func (e *cliEnv) runJSON(v any, args ...string) CLIResponse {
	e.t.Helper()
	out, _ := e.run(append(args, "--format", "json")...)
	var resp struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if v != nil && resp.Status == "ok" {
		require.NoError(e.t, json.Unmarshal(resp.Data, v))
	}
	return resp.CLIResponse
}

func TestAccountOpenAndShow(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")

	out := env.mustRun("account", "open", "alice", "--username", "Alice", "--money", "1000", "--reps", "100")
	assert.Contains(t, out, "Opened account alice")
	assert.Contains(t, out, "alice (Alice)")
	assert.Contains(t, out, "money: 1,000 ryo")
	assert.Contains(t, out, "reps:  100")

	var acct market.Account
	resp := env.runJSON(&acct, "account", "show", "alice")
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, market.Account{UserID: "alice", Username: "Alice", Money: 1000, ReputationPoints: 100}, acct)
}

func TestAccountOpen_Duplicate(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")
	env.mustRun("account", "open", "alice")

	out, err := env.run("account", "open", "alice")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [VALIDATION]: account already exists")
}

func TestAccountShow_NotFound(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")

	resp := env.runJSON(nil, "account", "show", "ghost")
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestOfferLifecycle(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			env := newCLIEnv(t, backend, "")
			env.mustRun("account", "open", "alice", "--reps", "100")
			env.mustRun("account", "open", "bob", "--money", "100")

			var offer market.Offer
			resp := env.runJSON(&offer, "offer", "create", "--as", "alice", "--reps", "10", "--ryo", "50")
			require.Equal(t, "ok", resp.Status)
			assert.Equal(t, "alice", offer.CreatorUserID)
			assert.Equal(t, "5", offer.RyoPerRep.String())

			var page market.Page
			env.runJSON(&page, "offers", "list")
			require.Len(t, page.Offers, 1)
			assert.Equal(t, offer.ID, page.Offers[0].ID)
			assert.Nil(t, page.NextCursor)

			out := env.mustRun("offer", "take", offer.ID, "--as", "bob")
			assert.Contains(t, out, "paid 50 ryo to alice for 10 reps")

			var alice, bob market.Account
			env.runJSON(&alice, "account", "show", "alice")
			env.runJSON(&bob, "account", "show", "bob")
			assert.Equal(t, int64(50), alice.Money)
			assert.Equal(t, int64(85), alice.ReputationPoints)
			assert.Equal(t, int64(50), bob.Money)
			assert.Equal(t, int64(10), bob.ReputationPoints)

			assert.Equal(t, "No open offers.\n", env.mustRun("offers", "list"))

			out, err := env.run("offer", "take", offer.ID, "--as", "bob")
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "Error [ALREADY_TAKEN]")
		})
	}
}

func TestOfferDelist_Frozen(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")
	env.mustRun("account", "open", "alice", "--reps", "100")

	var offer market.Offer
	env.runJSON(&offer, "offer", "create", "--as", "alice", "--reps", "10", "--ryo", "50")

	out, err := env.run("offer", "delist", offer.ID, "--as", "alice")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [STILL_FROZEN]")
}

func TestOfferDelist_ConfiguredWindowFromEnvFile(t *testing.T) {
	env := newCLIEnv(t, config.BackendBolt, "BLACKMARKET_FREEZE_WINDOW=0s\nBLACKMARKET_LISTING_FEE=0\n")
	env.mustRun("account", "open", "alice", "--reps", "10")

	var offer market.Offer
	env.runJSON(&offer, "offer", "create", "--as", "alice", "--reps", "10", "--ryo", "50")

	out := env.mustRun("offer", "delist", offer.ID, "--as", "alice")
	assert.Contains(t, out, "10 reps refunded")

	var alice market.Account
	env.runJSON(&alice, "account", "show", "alice")
	assert.Equal(t, int64(10), alice.ReputationPoints, "no fee charged when listing_fee is 0")
}

func TestOfferDelist_NotOwner(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "BLACKMARKET_FREEZE_WINDOW=0s\n")
	env.mustRun("account", "open", "alice", "--reps", "100")
	env.mustRun("account", "open", "mallory")

	var offer market.Offer
	env.runJSON(&offer, "offer", "create", "--as", "alice", "--reps", "10", "--ryo", "50")

	resp := env.runJSON(nil, "offer", "delist", offer.ID, "--as", "mallory")
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestOfferCreate_IdempotencyKey(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")
	env.mustRun("account", "open", "alice", "--reps", "100")

	env.mustRun("offer", "create", "--as", "alice", "--reps", "10", "--ryo", "50", "--idempotency-key", "k1")
	out, err := env.run("offer", "create", "--as", "alice", "--reps", "10", "--ryo", "50", "--idempotency-key", "k1")
	require.Error(t, err)
	assert.Contains(t, out, "Error [DUPLICATE_REQUEST]")

	var alice market.Account
	env.runJSON(&alice, "account", "show", "alice")
	assert.Equal(t, int64(85), alice.ReputationPoints, "retry must not escrow twice")
}

func TestOfferCreate_InsufficientReps(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")
	env.mustRun("account", "open", "alice", "--reps", "10")

	out, err := env.run("offer", "create", "--as", "alice", "--reps", "10", "--ryo", "50")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [INSUFFICIENT_BALANCE]")
}

func TestOfferCommand_RequiresAs(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")

	_, err := env.run("offer", "take", "offer-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "as" not set`)
}

func TestOffersList_TableAndPaging(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")
	env.mustRun("account", "open", "alice", "--username", "Alice", "--reps", "5000")
	env.mustRun("offer", "create", "--as", "alice", "--reps", "1000", "--ryo", "2500")
	env.mustRun("offer", "create", "--as", "alice", "--reps", "3", "--ryo", "10")

	out := env.mustRun("offers", "list")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "RYO/REP")
	assert.Contains(t, out, "1,000")
	assert.Contains(t, out, "2,500")
	assert.Contains(t, out, "2.50")
	assert.Contains(t, out, "3.33")
	assert.NotContains(t, out, "next cursor")

	out = env.mustRun("offers", "list", "--limit", "1")
	assert.Contains(t, out, "2.50", "cheapest per rep comes first")
	assert.NotContains(t, out, "3.33")
	assert.Contains(t, out, "next cursor: 1")

	out = env.mustRun("offers", "list", "--limit", "1", "--cursor", "1")
	assert.Contains(t, out, "3.33")
}

func TestOffersList_InvalidLimit(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")

	resp := env.runJSON(nil, "offers", "list", "--limit", "500")
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
}

func TestConfigErrorIsCommandError(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "BLACKMARKET_LISTING_FEE=lots\n")

	_, err := env.run("offers", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestSimulate(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			env := newCLIEnv(t, backend, "")

			var report SimulationReport
			resp := env.runJSON(&report, "simulate", "--offers", "3", "--takers", "4")
			require.Equal(t, "ok", resp.Status)

			assert.Equal(t, backend, report.Backend)
			assert.Equal(t, 3, report.Trades)
			assert.Equal(t, map[string]int{"ALREADY_TAKEN": 9}, report.Rejections)
			assert.Empty(t, report.Violations)
			assert.Equal(t, report.Money.Before, report.Money.After)
			assert.Equal(t, int64(15), report.FeesBurned)
			assert.Equal(t, report.Reps.Before, report.Reps.After+report.FeesBurned)
			assert.Equal(t, 3, report.Operations["create/ok"])
			assert.Equal(t, 3, report.Operations["take/ok"])
			assert.Equal(t, 9, report.Operations["take/already_taken"])
		})
	}
}

func TestSimulate_TextSummary(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")

	out := env.mustRun("simulate", "--offers", "2", "--takers", "2")
	assert.Contains(t, out, "Simulated 2 offers x 2 takers on sqlite")
	assert.Contains(t, out, "already_taken:")
	assert.Contains(t, out, "✓ Every offer sold exactly once")
}

func TestSimulate_RejectsBadFlags(t *testing.T) {
	env := newCLIEnv(t, config.BackendSQLite, "")

	_, err := env.run("simulate", "--takers", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
