/*
engine.go - Semantics layer over a Ledger

PURPOSE:
  The Engine wraps a Ledger with the naming conventions that turn raw
  double-entry accounting into a backend: system accounts, operation-code
  tagging, audit access, and the helper functions spark expressions use
  (hash, timestamp).

SYSTEM ACCOUNTS:
  system:genesis    unconstrained source all value originates from
  system:void       sink soft-deletion transfers target
  system:deleted    legacy alias sink (kept for old transfer history)
  system:operations operational markers

DELETION MODEL:
  Nothing is ever destroyed. "Deleting" an entity transfers its existence
  balance to system:void; balance reads then return zero but the account's
  transfer history remains fully queryable.

SEE ALSO:
  - ledger.go: the persistence contract
  - router/: hybrid routing of field values over this engine
  - spark/: the declarative operation interpreter
*/
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	Genesis    = "system:genesis"
	Void       = "system:void"
	Deleted    = "system:deleted"
	Operations = "system:operations"
)

// genesisReserve is the initial debit leg of system:genesis: the amount of
// value it can emit. Large enough to be unlimited in practice.
const genesisReserve = int64(1) << 62

// Engine is the semantics layer every higher component talks to.
type Engine struct {
	ledger Ledger
	log    zerolog.Logger
}

func NewEngine(l Ledger, log zerolog.Logger) *Engine {
	return &Engine{ledger: l, log: log.With().Str("component", "ledger").Logger()}
}

// Ledger exposes the underlying store for components that need the raw
// contract (linked batches, pending transfers).
func (e *Engine) Ledger() Ledger { return e.ledger }

// EnsureSystemAccounts creates the well-known accounts. Idempotent; called
// once at startup.
func (e *Engine) EnsureSystemAccounts(ctx context.Context) error {
	if err := e.ledger.EnsureAccount(ctx, Genesis, genesisReserve, 0); err != nil {
		return err
	}
	for _, name := range []string{Void, Deleted, Operations} {
		if err := e.ledger.EnsureAccount(ctx, name, 0, 0); err != nil {
			return err
		}
	}
	e.log.Debug().Msg("system accounts ready")
	return nil
}

// Transfer moves amount from one named account to another, tagging the
// transfer with the operation code implied by the endpoint names.
func (e *Engine) Transfer(ctx context.Context, from, to string, amount int64, metadata map[string]string) (Transfer, error) {
	tr, err := e.ledger.Transfer(ctx, TransferRequest{
		From:     from,
		To:       to,
		Amount:   amount,
		Code:     TransferCode(from, to),
		Metadata: metadata,
	})
	if err != nil {
		e.log.Debug().Err(err).Str("from", from).Str("to", to).Int64("amount", amount).Msg("transfer rejected")
		return Transfer{}, err
	}
	e.log.Debug().Str("id", string(tr.ID)).Str("from", from).Str("to", to).Int64("amount", amount).Msg("transfer committed")
	return tr, nil
}

// LinkedBatch commits all requests or none, filling in operation codes.
func (e *Engine) LinkedBatch(ctx context.Context, reqs []TransferRequest) ([]Transfer, error) {
	for i := range reqs {
		if reqs[i].Code == 0 {
			reqs[i].Code = TransferCode(reqs[i].From, reqs[i].To)
		}
	}
	return e.ledger.LinkedBatch(ctx, reqs)
}

// Balance returns the net balance of a named account (0 if absent).
func (e *Engine) Balance(ctx context.Context, name string) (int64, error) {
	return e.ledger.Balance(ctx, name)
}

// Exists reports whether an entity's existence balance is positive.
func (e *Engine) Exists(ctx context.Context, existenceAccount string) (bool, error) {
	b, err := e.ledger.Balance(ctx, existenceAccount)
	return b > 0, err
}

// PendingTransfer reserves value for two-phase commit (e.g. an inventory
// hold during checkout).
func (e *Engine) PendingTransfer(ctx context.Context, from, to string, amount int64, timeout time.Duration) (PendingID, error) {
	return e.ledger.PendingTransfer(ctx, TransferRequest{
		From:   from,
		To:     to,
		Amount: amount,
		Code:   TransferCode(from, to),
	}, timeout)
}

func (e *Engine) PostPending(ctx context.Context, id PendingID) (Transfer, error) {
	return e.ledger.PostPending(ctx, id)
}

func (e *Engine) VoidPending(ctx context.Context, id PendingID) error {
	return e.ledger.VoidPending(ctx, id)
}

// State returns every account's net balance, keyed by name.
func (e *Engine) State(ctx context.Context) (map[string]int64, error) {
	accounts, err := e.ledger.Accounts(ctx, AccountFilter{})
	if err != nil {
		return nil, err
	}
	state := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		state[a.Name] = a.Balance()
	}
	return state, nil
}

// History returns the most recent transfers touching one account.
func (e *Engine) History(ctx context.Context, account string, limit int) ([]Transfer, error) {
	return e.ledger.History(ctx, account, limit)
}

// AuditPage returns the most recent transfers across all accounts in
// reverse-chronological order, plus the total count of transfers recorded.
func (e *Engine) AuditPage(ctx context.Context, limit int) ([]Transfer, int64, error) {
	return e.ledger.Recent(ctx, limit)
}

// =============================================================================
// OPERATION CODE DERIVATION
// =============================================================================

// TransferCode infers the application-level operation from endpoint names.
func TransferCode(from, to string) OperationCode {
	switch {
	case from == Genesis && strings.HasSuffix(to, ":existence"):
		return CodeCreateEntity
	case to == Void || to == Deleted:
		return CodeDeleteEntity
	case from == Genesis:
		return CodeSetField
	default:
		return CodeTransfer
	}
}

// =============================================================================
// EXPRESSION HELPERS - Used by spark amount evaluation
// =============================================================================

// HashString encodes a string as a positive int64: SHA-256, first 8 bytes
// big-endian, absolute value. Lets enum and text values live as balances.
func HashString(s string) int64 {
	sum := sha256.Sum256([]byte(s))
	return positiveHash(binary.BigEndian.Uint64(sum[:8]))
}

// positiveHash folds an unsigned word into a positive int64. The single
// value whose negation overflows (math.MinInt64) maps to math.MaxInt64.
func positiveHash(u uint64) int64 {
	v := int64(u)
	if v < 0 {
		v = -v
	}
	if v < 0 {
		return math.MaxInt64
	}
	return v
}

// Timestamp returns the current epoch milliseconds.
func Timestamp() int64 {
	return time.Now().UnixMilli()
}
