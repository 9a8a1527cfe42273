/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire-format structs plus the JSON/error helpers shared by all handlers.
  Domain types never cross the HTTP boundary directly.

ERROR MAPPING:
  Domain errors carry their own taxonomy; toStatus folds it onto HTTP:
  - NotFound                          -> 404
  - InvalidAmount / InvalidExpression -> 400
  - InsufficientBalance               -> 422
  - Forbidden                         -> 403
  - Conflict (dual-store divergence, duplicate record) -> 409
  - Unavailable                       -> 503
  - anything else                     -> 500
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// TransferRequest posts a direct transfer.
type TransferRequest struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PendingRequest opens a two-phase reservation.
type PendingRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// InvokeRequest carries spark inputs.
type InvokeRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// RecordRequest creates or updates an emulated record.
type RecordRequest struct {
	ID     string            `json:"id,omitempty"`
	Fields map[string]string `json:"fields"`
}

// PermissionRequest grants or revokes a permission account.
type PermissionRequest struct {
	UserID       string `json:"user_id"`
	Action       string `json:"action,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Admin        bool   `json:"admin,omitempty"`
	Owner        bool   `json:"owner,omitempty"`
	By           string `json:"by"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// TransferDTO is one posted transfer.
type TransferDTO struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Amount    int64             `json:"amount"`
	Code      int               `json:"code"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// AccountDTO is one account with its derived identity.
type AccountDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Debits  int64  `json:"debits"`
	Credits int64  `json:"credits"`
	Balance int64  `json:"balance"`
}

// BalanceDTO answers a single balance lookup.
type BalanceDTO struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// AuditDTO is one page of the transfer log.
type AuditDTO struct {
	Transfers []TransferDTO `json:"transfers"`
	Total     int64         `json:"total"`
}

// RecordDTO is an emulated record.
type RecordDTO struct {
	Table  string            `json:"table"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// PendingDTO acknowledges a reservation.
type PendingDTO struct {
	ID string `json:"id"`
}

// StatsDTO is the operational summary.
type StatsDTO struct {
	Accounts     int   `json:"accounts"`
	Transfers    int64 `json:"transfers"`
	Sparks       int   `json:"sparks"`
	BlobRecords  int   `json:"blob_records"`
	ContentBytes int64 `json:"content_bytes"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, toStatus(err), message, err)
}

func toStatus(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrPendingResolved):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toTransferDTO(tr ledger.Transfer) TransferDTO {
	return TransferDTO{
		ID:        string(tr.ID),
		From:      tr.From,
		To:        tr.To,
		Amount:    tr.Amount,
		Code:      int(tr.Code),
		Metadata:  tr.Metadata,
		Timestamp: tr.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func toTransferDTOs(transfers []ledger.Transfer) []TransferDTO {
	dtos := make([]TransferDTO, len(transfers))
	for i, tr := range transfers {
		dtos[i] = toTransferDTO(tr)
	}
	return dtos
}
