/*
handlers.go - HTTP API handlers for the ledger backend

PURPOSE:
  Exposes the ledger engine, spark interpreter, record emulation, and
  permission model via REST. Handles HTTP request/response and JSON
  serialization, delegating all semantics to the domain packages.

ENDPOINTS:
  Ledger:
    POST   /api/transfer                Direct transfer
    GET    /api/balance/{account}       Net balance (0 if absent)
    GET    /api/accounts                List accounts (?prefix=&limit=)
    GET    /api/accounts/{account}/history  Per-account transfer log
    GET    /api/audit                   Global audit page (?limit=)
    POST   /api/pending                 Open a two-phase reservation
    POST   /api/pending/{id}/post       Commit a reservation
    POST   /api/pending/{id}/void       Cancel a reservation

  Sparks:
    GET    /api/sparks                  Catalog listing
    POST   /api/sparks/{name}/invoke    Run a spark
    PUT    /api/sparks/{name}           Install/replace a template
    DELETE /api/sparks/{name}           Remove a template

  Records (table emulation over accounts):
    POST   /api/records/{table}         Create record
    GET    /api/records/{table}/{id}    Read record
    PUT    /api/records/{table}/{id}    Update fields
    DELETE /api/records/{table}/{id}    Soft-delete
    GET    /api/records/{table}/{id}/fields/{field}  Read one field

  Permissions:
    POST   /api/permissions/grant       Grant (1-unit genesis transfer)
    POST   /api/permissions/revoke      Revoke (1-unit transfer to void)
    GET    /api/permissions/check       Evaluate precedence chain

  Operational:
    GET    /api/stats                   Counts across both stores

SECURITY NOTE:
  Endpoints carry no authentication; the permission model governs domain
  access, not transport access. Front with an authenticating proxy in
  production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/perm"
	"github.com/warp/ledger-engine/router"
	"github.com/warp/ledger-engine/spark"
)

const defaultPageLimit = 100

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Router *router.Router
	Sparks *spark.Engine
	Perms  *perm.Checker
	Blobs  *blobstore.Store

	log zerolog.Logger
}

// NewHandler wires the handler over the domain components.
func NewHandler(engine *ledger.Engine, rt *router.Router, sparks *spark.Engine, perms *perm.Checker, blobs *blobstore.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Router: rt,
		Sparks: sparks,
		Perms:  perms,
		Blobs:  blobs,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// Transfer posts a direct transfer.
// POST /api/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required", nil)
		return
	}

	tr, err := h.Engine.Transfer(r.Context(), req.From, req.To, req.Amount, req.Metadata)
	if err != nil {
		writeDomainError(w, "Transfer rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(tr))
}

// GetBalance returns the net balance of one account.
// GET /api/balance/{account}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	balance, err := h.Engine.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, "Failed to read balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Account: account, Balance: balance})
}

// ListAccounts returns accounts, optionally filtered by prefix.
// GET /api/accounts?prefix=&limit=
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	filter := ledger.AccountFilter{
		Prefix: r.URL.Query().Get("prefix"),
		Limit:  queryLimit(r, defaultPageLimit),
	}

	accounts, err := h.Engine.Ledger().Accounts(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = AccountDTO{
			ID:      a.ID.String(),
			Name:    a.Name,
			Kind:    a.Class.Kind(),
			Debits:  a.Debits,
			Credits: a.Credits,
			Balance: a.Balance(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistory returns the transfer log for one account, newest first.
// GET /api/accounts/{account}/history?limit=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	transfers, err := h.Engine.History(r.Context(), account, queryLimit(r, defaultPageLimit))
	if err != nil {
		writeDomainError(w, "Failed to read history", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTOs(transfers))
}

// GetAudit returns the most recent transfers across all accounts.
// GET /api/audit?limit=
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	transfers, total, err := h.Engine.AuditPage(r.Context(), queryLimit(r, defaultPageLimit))
	if err != nil {
		writeDomainError(w, "Failed to read audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, AuditDTO{Transfers: toTransferDTOs(transfers), Total: total})
}

// =============================================================================
// TWO-PHASE TRANSFER HANDLERS
// =============================================================================

// OpenPending opens a reservation.
// POST /api/pending
func (h *Handler) OpenPending(w http.ResponseWriter, r *http.Request) {
	var req PendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Engine.PendingTransfer(r.Context(), req.From, req.To, req.Amount, millis(req.TimeoutMS))
	if err != nil {
		writeDomainError(w, "Reservation rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, PendingDTO{ID: string(id)})
}

// PostPending commits a reservation.
// POST /api/pending/{id}/post
func (h *Handler) PostPending(w http.ResponseWriter, r *http.Request) {
	id := ledger.PendingID(chi.URLParam(r, "id"))

	tr, err := h.Engine.PostPending(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to post reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(tr))
}

// VoidPending cancels a reservation.
// POST /api/pending/{id}/void
func (h *Handler) VoidPending(w http.ResponseWriter, r *http.Request) {
	id := ledger.PendingID(chi.URLParam(r, "id"))

	if err := h.Engine.VoidPending(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to void reservation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SPARK HANDLERS
// =============================================================================

// ListSparks returns the catalog listing.
// GET /api/sparks
func (h *Handler) ListSparks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Sparks.Catalog().List())
}

// InvokeSpark runs a named spark with caller inputs.
// POST /api/sparks/{name}/invoke
func (h *Handler) InvokeSpark(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Sparks.Invoke(r.Context(), name, req.Inputs)
	if err != nil {
		writeDomainError(w, "Spark failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PutSpark installs or replaces a template.
// PUT /api/sparks/{name}
func (h *Handler) PutSpark(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var template spark.Spark
	if err := json.NewDecoder(r.Body).Decode(&template); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Sparks.Catalog().Add(name, template); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid spark template", err)
		return
	}
	h.log.Info().Str("spark", name).Msg("spark installed")
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSpark removes a template.
// DELETE /api/sparks/{name}
func (h *Handler) DeleteSpark(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.Sparks.Catalog().Remove(name); err != nil {
		writeDomainError(w, "Failed to remove spark", err)
		return
	}
	h.log.Info().Str("spark", name).Msg("spark removed")
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECORD HANDLERS - Table emulation over accounts
// =============================================================================

// CreateRecord materializes a record with its fields. A missing id is
// generated.
// POST /api/records/{table}
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := h.Router.CreateRecord(r.Context(), table, req.ID, req.Fields); err != nil {
		writeDomainError(w, "Failed to create record", err)
		return
	}
	writeJSON(w, http.StatusCreated, RecordDTO{Table: table, ID: req.ID, Fields: req.Fields})
}

// GetRecord reads a full record.
// GET /api/records/{table}/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")

	fields, err := h.Router.ReadRecord(r.Context(), table, id)
	if err != nil {
		writeDomainError(w, "Failed to read record", err)
		return
	}
	writeJSON(w, http.StatusOK, RecordDTO{Table: table, ID: id, Fields: fields})
}

// UpdateRecord sets fields on an existing record.
// PUT /api/records/{table}/{id}
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	alive, err := h.Router.Exists(r.Context(), table, id)
	if err != nil {
		writeDomainError(w, "Failed to read record", err)
		return
	}
	if !alive {
		writeError(w, http.StatusNotFound, "Record not found", nil)
		return
	}

	for field, value := range req.Fields {
		if err := h.Router.SetField(r.Context(), table, id, field, value); err != nil {
			writeDomainError(w, "Failed to update field "+field, err)
			return
		}
	}

	fields, err := h.Router.ReadRecord(r.Context(), table, id)
	if err != nil {
		writeDomainError(w, "Failed to read record", err)
		return
	}
	writeJSON(w, http.StatusOK, RecordDTO{Table: table, ID: id, Fields: fields})
}

// DeleteRecord soft-deletes a record.
// DELETE /api/records/{table}/{id}
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")

	if err := h.Router.DeleteRecord(r.Context(), table, id); err != nil {
		writeDomainError(w, "Failed to delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetField reads a single field.
// GET /api/records/{table}/{id}/fields/{field}
func (h *Handler) GetField(w http.ResponseWriter, r *http.Request) {
	table, id, field := chi.URLParam(r, "table"), chi.URLParam(r, "id"), chi.URLParam(r, "field")

	value, err := h.Router.ReadField(r.Context(), table, id, field)
	if err != nil {
		writeDomainError(w, "Failed to read field", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"table": table, "id": id, "field": field, "value": value})
}

// =============================================================================
// PERMISSION HANDLERS
// =============================================================================

// GrantPermission plants a 1-unit balance on the permission account
// described by the request.
// POST /api/permissions/grant
func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	account, by, ok := h.permissionAccount(w, r)
	if !ok {
		return
	}

	if err := h.Perms.Grant(r.Context(), account, by); err != nil {
		writeDomainError(w, "Failed to grant permission", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"account": account})
}

// RevokePermission drains a unit from the permission account.
// POST /api/permissions/revoke
func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	account, by, ok := h.permissionAccount(w, r)
	if !ok {
		return
	}

	if err := h.Perms.Revoke(r.Context(), account, by); err != nil {
		writeDomainError(w, "Failed to revoke permission", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account})
}

// CheckPermission evaluates the precedence chain.
// GET /api/permissions/check?user=&action=&resource_type=&resource_id=
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, action := q.Get("user"), q.Get("action")
	if userID == "" || action == "" {
		writeError(w, http.StatusBadRequest, "user and action are required", nil)
		return
	}

	decision, err := h.Perms.Check(r.Context(), userID, action, q.Get("resource_type"), q.Get("resource_id"))
	if err != nil {
		writeDomainError(w, "Failed to check permission", err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// permissionAccount resolves the account named by a PermissionRequest.
func (h *Handler) permissionAccount(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return "", "", false
	}
	if req.UserID == "" || req.By == "" {
		writeError(w, http.StatusBadRequest, "user_id and by are required", nil)
		return "", "", false
	}

	switch {
	case req.Admin:
		return perm.AdminAccount(req.UserID), req.By, true
	case req.Owner:
		if req.ResourceType == "" || req.ResourceID == "" {
			writeError(w, http.StatusBadRequest, "resource_type and resource_id are required for ownership", nil)
			return "", "", false
		}
		return perm.OwnerAccount(req.ResourceType, req.ResourceID, req.UserID), req.By, true
	case req.Action != "" && req.ResourceType != "":
		return perm.ActionTypeAccount(req.UserID, req.Action, req.ResourceType), req.By, true
	case req.Action != "":
		return perm.ActionAllAccount(req.UserID, req.Action), req.By, true
	default:
		writeError(w, http.StatusBadRequest, "one of admin, owner, or action must be set", nil)
		return "", "", false
	}
}

// =============================================================================
// OPERATIONAL HANDLERS
// =============================================================================

// GetStats summarizes both stores.
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Engine.Ledger().Accounts(r.Context(), ledger.AccountFilter{})
	if err != nil {
		writeDomainError(w, "Failed to count accounts", err)
		return
	}
	_, total, err := h.Engine.AuditPage(r.Context(), 1)
	if err != nil {
		writeDomainError(w, "Failed to count transfers", err)
		return
	}
	blobStats, err := h.Blobs.Stats(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to read blob stats", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		Accounts:     len(accounts),
		Transfers:    total,
		Sparks:       h.Sparks.Catalog().Len(),
		BlobRecords:  blobStats.Records,
		ContentBytes: blobStats.ContentBytes,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
