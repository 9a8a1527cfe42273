/*
Package ledger provides the core accounting engine.

PURPOSE:
  This package contains the primitives the whole backend is built from:
  accounts with balances and value-conserving transfers between them.
  Application state - row existence, field values, ownership, permissions -
  is encoded as positive integer balances on uniquely-named accounts, and
  every state change is a transfer.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountID: fixed-width 128-bit identifier derived from the account name
  - Account: a named balance holder with separate debit and credit legs
  - Transfer: an immutable movement of value between two accounts
  - OperationCode: tags transfers with the high-level operation they serve

DESIGN PRINCIPLES:
  1. Immutability: transfers are never modified; deletion is a transfer
     to the system:void sink, never an update
  2. Double entry: every transfer debits one account and credits another,
     so total value is conserved outside genesis and void
  3. Name-addressed: account name strings are the only externally
     meaningful keys; a new field is simply a new account name

SEE ALSO:
  - addressing.go: name -> id derivation and account classification
  - ledger.go: the Ledger persistence contract
  - engine.go: the semantics layer over a Ledger
*/
package ledger

import (
	"encoding/hex"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID is the fixed-width ledger identifier for an account.
// It is deterministically derived from the account name (see DeriveID)
// and persisted by the backing ledger, so the derivation must never change.
type AccountID [16]byte

func (id AccountID) String() string { return hex.EncodeToString(id[:]) }

// TransferID uniquely identifies a committed transfer.
type TransferID string

// PendingID identifies a reserved-but-uncommitted two-phase transfer.
type PendingID string

// =============================================================================
// OPERATION CODES - What a transfer means at the application level
// =============================================================================

type OperationCode uint16

const (
	CodeCreateEntity OperationCode = 1
	CodeUpdateEntity OperationCode = 2
	CodeDeleteEntity OperationCode = 3
	CodeSetField     OperationCode = 5
	CodeTransfer     OperationCode = 7
	CodeGenesis      OperationCode = 100
)

// =============================================================================
// ACCOUNT - The only state-holding primitive
// =============================================================================

// Account is a snapshot of one named account. Balance is always
// Credits - Debits; the raw legs are kept so constraint checks and
// double-entry reporting stay possible.
type Account struct {
	ID        AccountID
	Name      string
	Debits    int64
	Credits   int64
	Class     Class
	CreatedAt time.Time
}

// Balance returns the net balance (credits - debits).
func (a Account) Balance() int64 { return a.Credits - a.Debits }

// AccountFilter restricts Accounts() queries.
type AccountFilter struct {
	Prefix string // only accounts whose name starts with Prefix ("" = all)
	Limit  int    // 0 = no limit
}

// =============================================================================
// TRANSFER - The only mutation primitive
// =============================================================================

// TransferRequest describes a transfer before it is committed.
type TransferRequest struct {
	From     string
	To       string
	Amount   int64
	Code     OperationCode
	Metadata map[string]string
}

// Transfer is an immutable, committed movement of value.
type Transfer struct {
	ID        TransferID
	From      string
	To        string
	Amount    int64
	Code      OperationCode
	Metadata  map[string]string
	Timestamp time.Time
}
