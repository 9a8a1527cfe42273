/*
Package perm derives access control from account balances.

PURPOSE:
  Permissions, ownership, and role grants are 1-unit balances on
  specifically-named accounts. A check is a handful of O(1) balance
  lookups with fixed precedence, not a policy evaluation.

PRECEDENCE (first positive balance wins):
  1. user:<id>:admin                      -> allow everything
  2. user:<id>:<action>:all               -> allow the action globally
  3. user:<id>:<action>:<resource_type>   -> allow for the type; write and
     delete additionally require ownership of the specific resource
  4. <type>:<rid>:owner:<user>            -> owners always reach their own
  5. deny

GRANT / REVOKE:
  Granting is a 1-unit transfer from system:genesis to the permission
  account, metadata recording who granted to whom. Revoking transfers the
  unit to system:void. Both therefore appear in the audit log like every
  other mutation.
*/
package perm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/ledger"
)

// Actions understood by the model.
const (
	ActionRead    = "read"
	ActionWrite   = "write"
	ActionDelete  = "delete"
	ActionCreate  = "create"
	ActionExecute = "execute"
)

// Decision is the outcome of a check plus the rule that produced it.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule"`
}

// Account name constructors.

func AdminAccount(userID string) string {
	return "user:" + userID + ":admin"
}

func ActionAllAccount(userID, action string) string {
	return "user:" + userID + ":" + action + ":all"
}

func ActionTypeAccount(userID, action, resourceType string) string {
	return "user:" + userID + ":" + action + ":" + resourceType
}

func OwnerAccount(resourceType, resourceID, userID string) string {
	return resourceType + ":" + resourceID + ":owner:" + userID
}

// Checker evaluates the precedence chain over engine balances.
type Checker struct {
	engine *ledger.Engine
	log    zerolog.Logger
}

func New(engine *ledger.Engine, log zerolog.Logger) *Checker {
	return &Checker{engine: engine, log: log.With().Str("component", "perm").Logger()}
}

// Check walks the precedence chain for one user/action/resource triple.
func (c *Checker) Check(ctx context.Context, userID, action, resourceType, resourceID string) (Decision, error) {
	admin, err := c.positive(ctx, AdminAccount(userID))
	if err != nil {
		return Decision{}, err
	}
	if admin {
		return Decision{Allowed: true, Rule: "admin"}, nil
	}

	all, err := c.positive(ctx, ActionAllAccount(userID, action))
	if err != nil {
		return Decision{}, err
	}
	if all {
		return Decision{Allowed: true, Rule: "action:all"}, nil
	}

	typed, err := c.positive(ctx, ActionTypeAccount(userID, action, resourceType))
	if err != nil {
		return Decision{}, err
	}
	if typed {
		// Mutating a specific resource needs ownership on top of the
		// type-level grant.
		if (action == ActionWrite || action == ActionDelete) && resourceID != "" {
			owner, err := c.positive(ctx, OwnerAccount(resourceType, resourceID, userID))
			if err != nil {
				return Decision{}, err
			}
			if !owner {
				return Decision{Allowed: false, Rule: "owner-required"}, nil
			}
		}
		return Decision{Allowed: true, Rule: "action:type"}, nil
	}

	if resourceID != "" {
		owner, err := c.positive(ctx, OwnerAccount(resourceType, resourceID, userID))
		if err != nil {
			return Decision{}, err
		}
		if owner {
			return Decision{Allowed: true, Rule: "owner"}, nil
		}
	}

	return Decision{Allowed: false, Rule: "deny"}, nil
}

// Require is Check that fails with ErrForbidden on denial.
func (c *Checker) Require(ctx context.Context, userID, action, resourceType, resourceID string) error {
	decision, err := c.Check(ctx, userID, action, resourceType, resourceID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		c.log.Debug().
			Str("user", userID).Str("action", action).
			Str("resource_type", resourceType).Str("resource_id", resourceID).
			Str("rule", decision.Rule).Msg("denied")
		return fmt.Errorf("%s %s/%s for user %s: %w", action, resourceType, resourceID, userID, ledger.ErrForbidden)
	}
	return nil
}

// Grant plants a 1-unit balance on a permission account. Granting an
// already-granted permission stacks units; revocation drains one.
func (c *Checker) Grant(ctx context.Context, account, granter string) error {
	_, err := c.engine.Transfer(ctx, ledger.Genesis, account, 1, map[string]string{
		"granted_by": granter,
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("account", account).Str("granted_by", granter).Msg("permission granted")
	return nil
}

// Revoke drains one unit from a permission account into the void. Revoking
// a permission that was never granted fails with InsufficientBalance.
func (c *Checker) Revoke(ctx context.Context, account, revoker string) error {
	_, err := c.engine.Transfer(ctx, account, ledger.Void, 1, map[string]string{
		"revoked_by": revoker,
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("account", account).Str("revoked_by", revoker).Msg("permission revoked")
	return nil
}

func (c *Checker) positive(ctx context.Context, account string) (bool, error) {
	balance, err := c.engine.Balance(ctx, account)
	return balance > 0, err
}
