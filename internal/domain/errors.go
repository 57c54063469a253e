package domain

import (
	"errors"
	"fmt"
)

// Ledger error taxonomy. Callers match with errors.Is.
var (
	// ErrInvalidPolicy is returned when fee percentages do not sum to 100
	// or the fee rate is out of range.
	ErrInvalidPolicy = errors.New("invalid fee policy")

	// ErrInsufficientBalance is returned when a debit would take an account below its floor.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBelowMinimum is returned when an amount is below the allowed minimum.
	ErrBelowMinimum = errors.New("amount below minimum")

	// ErrAboveMaximum is returned when an amount is above the allowed maximum.
	ErrAboveMaximum = errors.New("amount above maximum")

	// ErrDailyLimitExceeded is returned when today's usage plus the request exceeds the daily limit.
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")

	// ErrWeeklyLimitExceeded is returned when this week's usage plus the request exceeds the weekly limit.
	ErrWeeklyLimitExceeded = errors.New("weekly limit exceeded")

	// ErrMonthlyLimitExceeded is returned when this month's usage plus the request exceeds the monthly limit.
	ErrMonthlyLimitExceeded = errors.New("monthly limit exceeded")

	// ErrDuplicateReference marks a replayed operation. It is an idempotent
	// no-op and is never surfaced to users as a failure.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrReorgInvalidation is returned when a deposit is invalidated by a chain reorg.
	ErrReorgInvalidation = errors.New("deposit invalidated by chain reorganization")

	// ErrExternalServiceUnavailable is returned when a chain watcher, rate oracle,
	// payout processor or KYC provider cannot be reached.
	ErrExternalServiceUnavailable = errors.New("external service unavailable")

	ErrUnknownAsset          = errors.New("unknown asset")
	ErrUnknownNetwork        = errors.New("unknown network")
	ErrUnknownDepositAddress = errors.New("unknown deposit address")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrAssetMismatch         = errors.New("asset mismatch")

	// ErrUnbalanced is returned when ledger entries do not sum to zero per asset.
	ErrUnbalanced = errors.New("ledger entries do not balance")

	// ErrInvalidEntry is returned when a ledger entry is malformed.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// LimitKind names the limit a withdrawal violated.
type LimitKind string

const (
	LimitMinimum LimitKind = "minimum"
	LimitMaximum LimitKind = "maximum"
	LimitDaily   LimitKind = "daily"
	LimitWeekly  LimitKind = "weekly"
	LimitMonthly LimitKind = "monthly"
)

// LimitError describes a violated withdrawal limit in USD-equivalent terms.
type LimitError struct {
	Kind      LimitKind
	Limit     UsdCents
	Used      UsdCents
	Requested UsdCents
}

// Remaining returns how much of the limit is still available.
func (e *LimitError) Remaining() UsdCents {
	r := e.Limit - e.Used
	if r < 0 {
		return 0
	}
	return r
}

func (e *LimitError) Error() string {
	switch e.Kind {
	case LimitMinimum:
		return fmt.Sprintf("amount %s is below the minimum of %s", e.Requested, e.Limit)
	case LimitMaximum:
		return fmt.Sprintf("amount %s exceeds the maximum of %s", e.Requested, e.Limit)
	}
	return fmt.Sprintf("exceeds %s limit of %s, %s remaining", e.Kind, e.Limit, e.Remaining())
}

func (e *LimitError) Unwrap() error {
	switch e.Kind {
	case LimitMinimum:
		return ErrBelowMinimum
	case LimitMaximum:
		return ErrAboveMaximum
	case LimitDaily:
		return ErrDailyLimitExceeded
	case LimitWeekly:
		return ErrWeeklyLimitExceeded
	}
	return ErrMonthlyLimitExceeded
}

// BalanceError describes a debit that would overdraw an account.
type BalanceError struct {
	Account   AccountKey
	Available Money
	Requested Money
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: available %s, requested %s",
		e.Account.Type, e.Available, e.Requested)
}

func (e *BalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
