/*
errors.go - Centralized error taxonomy for the points engine

PURPOSE:
  All error kinds in one place. HTTP handlers translate these to
  transport status codes; nothing else about transport leaks in here.

ERROR CATEGORIES:
  1. Missing documents     - account / campaign not found
  2. Idempotency rejections - duplicate referral, duplicate helper, replayed event
  3. Balance violations    - debit below zero
  4. Store failures        - lost transaction races after bounded retries

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

SEE ALSO:
  - mutator.go: Produces balance and conflict errors
  - api: Maps these to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a referenced account does not exist
	// and lazy creation is disabled.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account that already exists.
	// Registration is idempotent; callers treat this as "already registered".
	ErrAccountExists = errors.New("account already exists")

	// ErrCampaignNotFound is returned when a referenced campaign does not exist.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrAlreadyHelped is returned when a helper tries to cut the same
	// campaign twice. The check happens inside the campaign transaction.
	ErrAlreadyHelped = errors.New("helper already participated")

	// ErrAlreadyInvited is returned when an (inviter, invitee) pair has
	// already been rewarded.
	ErrAlreadyInvited = errors.New("referral already recorded")

	// ErrInsufficientBalance is returned when a debit would drive the
	// balance negative. No partial effect: neither balance nor ledger change.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateEvent is returned when an external event (e.g. a payment
	// webhook) is re-delivered with an id that was already processed.
	ErrDuplicateEvent = errors.New("event already processed")

	// ErrTransactionConflict is returned after a store transaction lost its
	// race and bounded retries were exhausted. Safe for callers to retry.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError carries the shortfall details for user-facing
// "not enough points" messages.
type InsufficientBalanceError struct {
	UserID    UserID
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: have %d, need %d", e.UserID, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrCampaignNotFound)
}

// IsConflict returns true for idempotency-guard rejections.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyHelped) ||
		errors.Is(err, ErrAlreadyInvited) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrDuplicateEvent)
}
