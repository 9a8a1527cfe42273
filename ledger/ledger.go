/*
ledger.go - The transactional ledger contract

PURPOSE:
  Ledger is the narrow interface toward the external transactional ledger.
  The engine, router, spark interpreter, and permission model are all
  written against it, so a production adapter and an in-memory adapter can
  be swapped freely.

CRITICAL GUARANTEES REQUIRED OF IMPLEMENTATIONS:
  1. ATOMIC: a transfer either fully applies (debit source, credit
     destination) or not at all; rejection leaves every balance unchanged.
  2. CONSTRAINED: a transfer that would drive a constrained account
     negative fails with ErrInsufficientBalance. Concurrent transfers
     touching the same account must serialize with respect to this check.
  3. APPEND-ONLY: transfers are immutable facts. No update, no delete.
  4. AUTO-CREATE: transfers implicitly create absent endpoints with zero
     balances; reading an absent account returns 0, not an error.

IMPLEMENTATIONS:
  - store/sqlite: durable adapter (production)
  - ledger/store: in-memory adapter behind one exclusive lock (tests/demo
    only - not a substitute for a real transactional ledger at scale)

SEE ALSO:
  - engine.go: semantics layer adding naming conventions and audit access
*/
package ledger

import (
	"context"
	"time"
)

// Ledger is the contract toward the transactional ledger store.
type Ledger interface {
	// EnsureAccount creates an account with the given initial legs.
	// Idempotent: succeeds without effect if the account already exists.
	EnsureAccount(ctx context.Context, name string, initialDebits, initialCredits int64) error

	// Transfer atomically debits req.From and credits req.To.
	// Fails with ErrInvalidAmount if req.Amount <= 0 and with
	// ErrInsufficientBalance if a constrained account would go negative.
	// Absent endpoints are created with zero balances.
	Transfer(ctx context.Context, req TransferRequest) (Transfer, error)

	// LinkedBatch commits all transfers or none of them. Used by sparks
	// that must update several accounts atomically.
	LinkedBatch(ctx context.Context, reqs []TransferRequest) ([]Transfer, error)

	// Balance returns credits - debits. Unknown accounts read as 0.
	Balance(ctx context.Context, name string) (int64, error)

	// PendingTransfer reserves amount on both endpoints without posting.
	// The reservation counts against the constraint check so concurrent
	// debits cannot jointly overdraw a constrained account. After timeout
	// the ledger may auto-void the reservation.
	PendingTransfer(ctx context.Context, req TransferRequest, timeout time.Duration) (PendingID, error)

	// PostPending commits a reservation. Fails with ErrPendingResolved if
	// it was already posted, voided, or timed out.
	PostPending(ctx context.Context, id PendingID) (Transfer, error)

	// VoidPending cancels a reservation, releasing the held amounts.
	VoidPending(ctx context.Context, id PendingID) error

	// Accounts returns a snapshot of accounts matching the filter.
	Accounts(ctx context.Context, filter AccountFilter) ([]Account, error)

	// History returns up to limit transfers touching the named account,
	// most recent first.
	History(ctx context.Context, name string, limit int) ([]Transfer, error)

	// Recent returns the most recent limit transfers across all accounts
	// (most recent first) and the total number of transfers ever recorded.
	Recent(ctx context.Context, limit int) ([]Transfer, int64, error)
}
