/*
addressing.go - Account naming, identity, and classification

PURPOSE:
  Maps human-readable account names to the fixed-width identifiers the
  backing ledger stores, and classifies an account's role and balance
  constraint from its name shape alone. Both functions are pure and must
  stay stable across versions: the derived ids are persisted externally.

NAMING CONVENTION:
  product:123:price     field value of an entity
  product:123:existence entity presence marker
  user:7:admin          permission flag
  user:7:write:products role grant
  product:123:owner:7   ownership edge
  system:genesis        unlimited value source
  system:void           soft-delete sink

CONSTRAINT SIDES:
  Mirrors double-entry asset-vs-liability treatment. "Outflow" accounts
  (genesis, inventory, cash, expenses, assets) are constrained so credits
  cannot exceed debits; every other account is constrained so debits
  cannot exceed credits, which is what makes balances non-negative and
  lets a balance read double as a permission check.
*/
package ledger

import (
	"crypto/sha256"
	"strings"
)

// ConstraintSide selects which leg of an account the ledger's
// non-negativity constraint binds.
type ConstraintSide int

const (
	// ConstrainDebits: debits must not exceed credits (net balance >= 0).
	// The default for entity, field, and permission accounts.
	ConstrainDebits ConstraintSide = iota

	// ConstrainCredits: credits must not exceed debits. Used for outflow
	// accounts that emit value (genesis, inventory, cash).
	ConstrainCredits
)

func (s ConstraintSide) String() string {
	if s == ConstrainCredits {
		return "credits"
	}
	return "debits"
}

// Class is the structural role of an account, derived from its name.
type Class struct {
	IsSystem     bool
	IsExistence  bool
	IsPermission bool
	Side         ConstraintSide
}

// Kind is a short label for the account's role, used in storage and logs.
func (c Class) Kind() string {
	switch {
	case c.IsExistence:
		return "existence"
	case c.IsPermission:
		return "permission"
	case c.IsSystem:
		return "system"
	default:
		return "entity"
	}
}

// DeriveID derives the stable 128-bit ledger identifier for an account
// name: SHA-256 over the UTF-8 name, first 16 bytes, little-endian word
// order. Cryptographic strength keeps distinct names collision-free in
// practice. Persisted externally - never change this derivation.
func DeriveID(name string) AccountID {
	sum := sha256.Sum256([]byte(name))
	var id AccountID
	// little-endian: reverse the first 16 digest bytes
	for i := 0; i < 16; i++ {
		id[i] = sum[15-i]
	}
	return id
}

// Classify derives an account's structural role from its name.
func Classify(name string) Class {
	c := Class{
		IsSystem:    strings.HasPrefix(name, "system:"),
		IsExistence: strings.HasSuffix(name, ":existence"),
	}
	c.IsPermission = isPermissionName(name)
	if isOutflowName(name) {
		c.Side = ConstrainCredits
	}
	return c
}

// isOutflowName reports whether the account holds its balance on the
// debit leg (value flows out of it).
func isOutflowName(name string) bool {
	return strings.HasPrefix(name, "system:genesis") ||
		strings.Contains(name, ":inventory") ||
		strings.Contains(name, ":expense") ||
		strings.Contains(name, ":asset") ||
		strings.Contains(name, ":cash")
}

// isPermissionName matches user:<id>:<verb>[:<resource_type>] and
// <resource_type>:<id>:owner:<user_id>.
func isPermissionName(name string) bool {
	parts := strings.Split(name, ":")
	switch {
	case (len(parts) == 3 || len(parts) == 4) && parts[0] == "user":
		// user:<id>:admin, user:<id>:read:all, user:<id>:write:products
		return isPermissionVerb(parts[2])
	case len(parts) == 4 && parts[2] == "owner":
		return true
	}
	return false
}

func isPermissionVerb(v string) bool {
	switch v {
	case "admin", "read", "write", "delete", "create", "execute":
		return true
	}
	return false
}
