package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/blackmarket/internal/market"
)

// Scenario is a scripted market session: seed accounts, run steps in order
// as named users, then check balances and offer state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the manual clock's initial time (RFC 3339).
	// Defaults to 2026-01-01T00:00:00Z.
	Start string `yaml:"start,omitempty"`

	// Market overrides the default market tunables.
	Market *MarketConfig `yaml:"market,omitempty"`

	// Accounts are opened before the first step.
	Accounts []AccountSeed `yaml:"accounts"`

	// Steps run sequentially. Offers are assigned ids offer-1, offer-2, ...
	// in creation order. A create rejected before its transaction (bad
	// amounts, low balance) consumes no id; a duplicate idempotency key does.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// MarketConfig mirrors market.Config with YAML-friendly types.
type MarketConfig struct {
	ListingFee   *int64 `yaml:"listing_fee,omitempty"`
	FreezeWindow string `yaml:"freeze_window,omitempty"`
	PageSize     int    `yaml:"page_size,omitempty"`
}

// AccountSeed is an opening account.
type AccountSeed struct {
	UserID   string `yaml:"user_id"`
	Username string `yaml:"username,omitempty"`
	Avatar   string `yaml:"avatar,omitempty"`
	Money    int64  `yaml:"money"`
	Reps     int64  `yaml:"reps"`
}

// Step is one market call or clock movement.
type Step struct {
	// As is the acting user (required for create, delist and take).
	As string `yaml:"as,omitempty"`

	// Action is one of create, delist, take, list, advance.
	Action string `yaml:"action"`

	// Args holds the action's arguments.
	Args StepArgs `yaml:"args"`

	// Expect is the expected outcome. Nil means success is expected.
	Expect *Expect `yaml:"expect,omitempty"`
}

// StepArgs are the union of arguments across actions.
type StepArgs struct {
	Reps           int64  `yaml:"reps,omitempty"`
	Ryo            int64  `yaml:"ryo,omitempty"`
	Offer          string `yaml:"offer,omitempty"`
	Duration       string `yaml:"duration,omitempty"`
	Cursor         int    `yaml:"cursor,omitempty"`
	Limit          int    `yaml:"limit,omitempty"`
	IdempotencyKey string `yaml:"idempotency_key,omitempty"`
}

// Expect describes a step's expected outcome.
type Expect struct {
	// Code is the expected rejection code; empty means success.
	Code string `yaml:"code,omitempty"`

	// Offers is the expected id order of a list step.
	Offers []string `yaml:"offers,omitempty"`

	// NextCursor is the expected cursor of a list step; -1 means none.
	NextCursor *int `yaml:"next_cursor,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is balance, offer_state, or open_offers.
	Type string `yaml:"type"`

	// User is the account checked by balance.
	User string `yaml:"user,omitempty"`

	// Money and Reps are the expected balances (balance). Nil skips the check.
	Money *int64 `yaml:"money,omitempty"`
	Reps  *int64 `yaml:"reps,omitempty"`

	// Offer and State are checked by offer_state. State is open, taken or gone.
	Offer string `yaml:"offer,omitempty"`
	State string `yaml:"state,omitempty"`

	// Purchaser optionally pins the buyer of a taken offer.
	Purchaser string `yaml:"purchaser,omitempty"`

	// Offers is the full expected listing order (open_offers).
	Offers []string `yaml:"offers,omitempty"`
}

// Step action names.
const (
	ActionCreate  = "create"
	ActionDelist  = "delist"
	ActionTake    = "take"
	ActionList    = "list"
	ActionAdvance = "advance"
)

// Assertion type constants.
const (
	AssertBalance    = "balance"
	AssertOfferState = "offer_state"
	AssertOpenOffers = "open_offers"
)

// Offer states for offer_state assertions.
const (
	StateOpen  = "open"
	StateTaken = "taken"
	StateGone  = "gone"
)

var knownCodes = map[string]bool{
	string(market.ErrCodeValidation):          true,
	string(market.ErrCodeInsufficientBalance): true,
	string(market.ErrCodeNotFound):            true,
	string(market.ErrCodeUnauthorized):        true,
	string(market.ErrCodeAlreadyTaken):        true,
	string(market.ErrCodeStillFrozen):         true,
	string(market.ErrCodeDuplicateRequest):    true,
	string(market.ErrCodeBalanceLimit):        true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if s.Market != nil && s.Market.FreezeWindow != "" {
		if _, err := time.ParseDuration(s.Market.FreezeWindow); err != nil {
			return fmt.Errorf("market.freeze_window: %w", err)
		}
	}

	seen := make(map[string]bool)
	for i, acct := range s.Accounts {
		if acct.UserID == "" {
			return fmt.Errorf("accounts[%d]: user_id is required", i)
		}
		if seen[acct.UserID] {
			return fmt.Errorf("accounts[%d]: duplicate user_id %q", i, acct.UserID)
		}
		seen[acct.UserID] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Action {
	case ActionCreate:
		if st.As == "" {
			return fmt.Errorf("steps[%d]: as is required for create", index)
		}
	case ActionDelist, ActionTake:
		if st.As == "" {
			return fmt.Errorf("steps[%d]: as is required for %s", index, st.Action)
		}
		if st.Args.Offer == "" {
			return fmt.Errorf("steps[%d]: args.offer is required for %s", index, st.Action)
		}
	case ActionList:
	case ActionAdvance:
		if st.Args.Duration == "" {
			return fmt.Errorf("steps[%d]: args.duration is required for advance", index)
		}
		if _, err := time.ParseDuration(st.Args.Duration); err != nil {
			return fmt.Errorf("steps[%d]: args.duration: %w", index, err)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}

	if st.Expect != nil && st.Expect.Code != "" && !knownCodes[st.Expect.Code] {
		return fmt.Errorf("steps[%d].expect: unknown code %q", index, st.Expect.Code)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertBalance:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for balance", index)
		}
		if a.Money == nil && a.Reps == nil {
			return fmt.Errorf("assertions[%d]: money or reps is required for balance", index)
		}
	case AssertOfferState:
		if a.Offer == "" {
			return fmt.Errorf("assertions[%d]: offer is required for offer_state", index)
		}
		switch a.State {
		case StateOpen, StateTaken, StateGone:
		default:
			return fmt.Errorf("assertions[%d]: state must be open, taken or gone", index)
		}
	case AssertOpenOffers:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
