/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for testing and demos. Each scenario creates records, balances,
	and permission grants that demonstrate specific features.

AVAILABLE SCENARIOS:

	shop:        Users, a product catalog, ownership, and one purchase
	permissions: Users with grants at every precedence level
	audit-trail: A record's full create/update/delete history

HOW SCENARIOS WORK:
 1. Create records via the hybrid router (numeric fields become
    balances, text fields become blobs with ledger references)
 2. Fund user balance accounts from system:genesis
 3. Grant permissions as 1-unit transfers
 4. Optionally run transfers between entities

USAGE VIA API:

	POST /api/scenarios/{id}/load

NOTE:

	Scenarios never reset existing data. Re-loading one skips records
	that already exist, so a second load is harmless.

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

SEE ALSO:
  - handlers.go: Remaining handler implementations
  - router/router.go: Value routing used by record creation
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/perm"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "shop",
		Name:        "Demo shop",
		Description: "Two users, three products with prices and stock, ownership, and a completed purchase",
	},
	{
		ID:          "permissions",
		Name:        "Permission ladder",
		Description: "Users granted at each precedence level: admin, action:all, action:type, owner",
	},
	{
		ID:          "audit-trail",
		Name:        "Audit trail",
		Description: "A record created, updated, and deleted, leaving its full history behind",
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario populates the ledger with one scenario's data.
// POST /api/scenarios/{id}/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var err error
	switch id {
	case "shop":
		err = loadShopScenario(ctx, h)
	case "permissions":
		err = loadPermissionsScenario(ctx, h)
	case "audit-trail":
		err = loadAuditTrailScenario(ctx, h)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown scenario %q", id), nil)
		return
	}
	if err != nil {
		writeDomainError(w, "failed to load scenario", err)
		return
	}

	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": id})
}

// =============================================================================
// LOADERS
// =============================================================================

// createRecord builds one record, skipping it if a previous load already
// created it.
func createRecord(ctx context.Context, h *Handler, table, id string, fields map[string]string) error {
	err := h.Router.CreateRecord(ctx, table, id, fields)
	if errors.Is(err, ledger.ErrConflict) {
		return nil
	}
	return err
}

func fundOnce(ctx context.Context, h *Handler, account string, amount int64) error {
	balance, err := h.Engine.Balance(ctx, account)
	if err != nil || balance > 0 {
		return err
	}
	_, err = h.Engine.Transfer(ctx, ledger.Genesis, account, amount, nil)
	return err
}

func grantOnce(ctx context.Context, h *Handler, account, granter string) error {
	balance, err := h.Engine.Balance(ctx, account)
	if err != nil || balance > 0 {
		return err
	}
	return h.Perms.Grant(ctx, account, granter)
}

func loadShopScenario(ctx context.Context, h *Handler) error {
	if err := createRecord(ctx, h, "user", "alice", map[string]string{
		"email": "alice@example.com",
	}); err != nil {
		return err
	}
	if err := createRecord(ctx, h, "user", "bob", map[string]string{
		"email": "bob@example.com",
	}); err != nil {
		return err
	}
	if err := fundOnce(ctx, h, "user:alice:balance", 10_000); err != nil {
		return err
	}
	if err := fundOnce(ctx, h, "user:bob:balance", 5_000); err != nil {
		return err
	}

	products := []struct {
		id     string
		fields map[string]string
	}{
		{"kb-1", map[string]string{"name": "Wireless Keyboard", "price": "2999", "stock": "10"}},
		{"ms-1", map[string]string{"name": "Vertical Mouse", "price": "4500", "stock": "4"}},
		{"hub-1", map[string]string{"name": "USB-C Hub", "price": "1999", "stock": "25"}},
	}
	for _, p := range products {
		if err := createRecord(ctx, h, "product", p.id, p.fields); err != nil {
			return err
		}
		if err := grantOnce(ctx, h, perm.OwnerAccount("product", p.id, "bob"), "scenario"); err != nil {
			return err
		}
	}

	// Alice buys the keyboard once: payment to bob, one unit of stock
	// consumed, linked so the purchase is all-or-nothing.
	paid, err := h.Engine.Balance(ctx, "user:bob:balance")
	if err != nil {
		return err
	}
	if paid > 5_000 {
		return nil // purchase already recorded by a previous load
	}
	_, err = h.Engine.LinkedBatch(ctx, []ledger.TransferRequest{
		{From: "user:alice:balance", To: "user:bob:balance", Amount: 2999,
			Metadata: map[string]string{"product": "product:kb-1"}},
		{From: "product:kb-1:stock", To: ledger.Void, Amount: 1},
	})
	return err
}

func loadPermissionsScenario(ctx context.Context, h *Handler) error {
	if err := createRecord(ctx, h, "document", "readme", map[string]string{
		"title": "Getting Started",
		"views": "0",
	}); err != nil {
		return err
	}

	grants := []string{
		perm.AdminAccount("root"),
		perm.ActionAllAccount("auditor", perm.ActionRead),
		perm.ActionTypeAccount("editor", perm.ActionWrite, "document"),
		perm.OwnerAccount("document", "readme", "editor"),
		perm.OwnerAccount("document", "readme", "casual"),
	}
	for _, account := range grants {
		if err := grantOnce(ctx, h, account, "scenario"); err != nil {
			return err
		}
	}
	return nil
}

func loadAuditTrailScenario(ctx context.Context, h *Handler) error {
	// The existence account has history once the scenario ran; check the
	// trail instead of the balance, which deletion returns to zero.
	history, err := h.Engine.History(ctx, "order:audit-demo:existence", 1)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		return nil
	}

	if err := h.Router.CreateRecord(ctx, "order", "audit-demo", map[string]string{
		"total":  "1500",
		"status": "open",
	}); err != nil {
		return err
	}
	if err := h.Router.SetField(ctx, "order", "audit-demo", "status", "shipped"); err != nil {
		return err
	}
	if err := h.Router.SetField(ctx, "order", "audit-demo", "total", "1750"); err != nil {
		return err
	}
	return h.Router.DeleteRecord(ctx, "order", "audit-demo")
}
