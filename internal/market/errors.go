package market

import (
	"errors"
	"fmt"
)

// Store-level sentinels. Stores wrap these; Market translates them into
// typed *Error values before they reach callers.
var (
	// ErrRecordNotFound is returned when an account or offer row does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned when inserting a row whose key is taken.
	ErrRecordExists = errors.New("record already exists")

	// ErrBalanceOverflow is returned when a credit would push a balance
	// past math.MaxInt64. The credit is not applied.
	ErrBalanceOverflow = errors.New("balance would overflow")
)

// Error is a typed market rejection.
//
// Every rejection is reported before, or instead of, any committed mutation:
// either validation failed up front or the transaction was rolled back.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// UserID identifies the account involved, if any.
	UserID string

	// OfferID identifies the offer involved, if any.
	OfferID string
}

// ErrorCode categorizes market rejections.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed input (amounts, cursor, limit).
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeInsufficientBalance indicates a conditional debit affected zero rows.
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"

	// ErrCodeNotFound indicates a missing offer or account.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeUnauthorized indicates an ownership or self-trade violation.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeAlreadyTaken indicates the offer already has a purchaser.
	ErrCodeAlreadyTaken ErrorCode = "ALREADY_TAKEN"

	// ErrCodeStillFrozen indicates a delist before the freeze window elapsed.
	ErrCodeStillFrozen ErrorCode = "STILL_FROZEN"

	// ErrCodeDuplicateRequest indicates an idempotency key was already used.
	ErrCodeDuplicateRequest ErrorCode = "DUPLICATE_REQUEST"

	// ErrCodeBalanceLimit indicates a credit would exceed the largest
	// representable balance.
	ErrCodeBalanceLimit ErrorCode = "BALANCE_LIMIT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.OfferID != "" && e.UserID != "" {
		return fmt.Sprintf("%s: %s (offer=%s, user=%s)", e.Code, e.Message, e.OfferID, e.UserID)
	}
	if e.OfferID != "" {
		return fmt.Sprintf("%s: %s (offer=%s)", e.Code, e.Message, e.OfferID)
	}
	if e.UserID != "" {
		return fmt.Sprintf("%s: %s (user=%s)", e.Code, e.Message, e.UserID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a
// market rejection. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsValidation returns true if err is a validation rejection.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsInsufficientBalance returns true if a conditional debit failed.
func IsInsufficientBalance(err error) bool { return CodeOf(err) == ErrCodeInsufficientBalance }

// IsNotFound returns true if the offer or account does not exist.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsUnauthorized returns true for ownership and self-trade violations.
func IsUnauthorized(err error) bool { return CodeOf(err) == ErrCodeUnauthorized }

// IsAlreadyTaken returns true if the offer already has a purchaser.
func IsAlreadyTaken(err error) bool { return CodeOf(err) == ErrCodeAlreadyTaken }

// IsStillFrozen returns true if the offer cannot be delisted yet.
func IsStillFrozen(err error) bool { return CodeOf(err) == ErrCodeStillFrozen }

// IsDuplicateRequest returns true if the idempotency key was already claimed.
func IsDuplicateRequest(err error) bool { return CodeOf(err) == ErrCodeDuplicateRequest }

// IsBalanceLimit returns true if a credit was refused to avoid overflow.
func IsBalanceLimit(err error) bool { return CodeOf(err) == ErrCodeBalanceLimit }

func newValidationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

func newInsufficientReputation(userID string, needed int64) *Error {
	return &Error{
		Code:    ErrCodeInsufficientBalance,
		Message: fmt.Sprintf("not enough reputation points (need %d)", needed),
		UserID:  userID,
	}
}

func newInsufficientFunds(userID, offerID string, needed int64) *Error {
	return &Error{
		Code:    ErrCodeInsufficientBalance,
		Message: fmt.Sprintf("not enough ryo (need %d)", needed),
		UserID:  userID,
		OfferID: offerID,
	}
}

func newOfferNotFound(offerID string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "offer not found", OfferID: offerID}
}

func newAccountNotFound(userID string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "account not found", UserID: userID}
}

func newNotOwner(userID, offerID string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: "offer belongs to another user", UserID: userID, OfferID: offerID}
}

func newSelfTrade(userID, offerID string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: "cannot take your own offer", UserID: userID, OfferID: offerID}
}

func newAlreadyTaken(offerID string) *Error {
	return &Error{Code: ErrCodeAlreadyTaken, Message: "offer already taken", OfferID: offerID}
}

func newStillFrozen(offerID string, remaining string) *Error {
	return &Error{
		Code:    ErrCodeStillFrozen,
		Message: fmt.Sprintf("offer is frozen for another %s", remaining),
		OfferID: offerID,
	}
}

func newDuplicateRequest(userID, key string) *Error {
	return &Error{
		Code:    ErrCodeDuplicateRequest,
		Message: fmt.Sprintf("idempotency key %q already used", key),
		UserID:  userID,
	}
}

func newBalanceLimit(userID string) *Error {
	return &Error{Code: ErrCodeBalanceLimit, Message: "balance limit reached", UserID: userID}
}

// creditFailed turns an overflowing credit into a rejection and wraps
// anything else.
func creditFailed(userID, op string, err error) error {
	if errors.Is(err, ErrBalanceOverflow) {
		return newBalanceLimit(userID)
	}
	return fmt.Errorf("%s: %w", op, err)
}
