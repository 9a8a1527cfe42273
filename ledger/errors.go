/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds in one place. Callers distinguish failures with
  errors.Is/errors.As; the HTTP layer maps these onto status codes.

ERROR CATEGORIES:
  1. Ledger errors - constraint violations, malformed amounts
  2. Interpreter errors - unknown sparks, bad expressions
  3. Cross-store errors - ledger/blob divergence
  4. Availability errors - backing store unreachable
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
	// ErrNotFound is returned for unknown sparks, fields, or pending
	// transfers. Reading an absent account is NOT an error: it reads as 0.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned when a transfer amount is zero or negative.
	ErrInvalidAmount = errors.New("transfer amount must be positive")

	// ErrInvalidExpression is returned when a spark amount expression or
	// balance condition cannot be evaluated.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrInsufficientBalance is returned when a transfer would drive a
	// constrained account negative. The transfer is rejected atomically.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflict is returned when the ledger and the blob store disagree,
	// e.g. a reference transfer exists but the blob it points at is gone.
	ErrConflict = errors.New("dual-store conflict")

	// ErrForbidden is returned by the permission model on denial.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable is returned when the backing ledger or blob store
	// cannot be reached.
	ErrUnavailable = errors.New("backing store unavailable")

	// ErrPendingResolved is returned when posting or voiding a pending
	// transfer that was already posted, voided, or timed out.
	ErrPendingResolved = errors.New("pending transfer already resolved")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports which account would have been overdrawn.
type InsufficientBalanceError struct {
	Account   string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %d, requested %d",
		e.Account, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ConflictError reports a detected ledger/blob divergence.
type ConflictError struct {
	Account string
	Field   string
	Detail  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dual-store conflict on %s:%s: %s", e.Account, e.Field, e.Detail)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidExpression) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPendingResolved)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool { return errors.Is(err, ErrUnavailable) }
