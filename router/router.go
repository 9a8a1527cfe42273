/*
Package router places field values on the correct storage substrate.

PURPOSE:
  Records are emulated on top of accounts. Every field of every record is
  an account named <table>:<id>:<field>; every record has an existence
  account <table>:<id>:existence holding 1 unit while the record is alive.

ROUTING RULE:
  Non-negative integers and booleans become ledger balances directly.
  Everything else (text, JSON, negative numbers) goes to the blob store,
  and the field account holds a single reference unit so the ledger still
  knows the field exists.

TRUTH SPLIT:
  The ledger is the existence truth: a field exists iff its account was
  materialized, a record exists iff its existence balance is positive.
  The blob store is the content truth for routed text. A blob without its
  ledger reference, and a tagged reference without its blob, are both
  divergences and read as conflicts; they are reported, never silently
  repaired.

UPDATE SEMANTICS:
  Updating a ledger-routed field zeroes the old balance into system:void
  and credits the new value from system:genesis, in one linked batch.
  Setting a field to its current value is a no-op.

SEE ALSO:
  - ledger/engine.go: transfer semantics and system accounts
  - blobstore/: text persistence
*/
package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
)

// Route says where a value lives.
type Route int

const (
	RouteLedger Route = iota
	RouteBlob
)

// RouteFor classifies a raw value. Booleans and non-negative integers fit
// in a balance; everything else needs the blob store.
func RouteFor(value string) Route {
	if value == "true" || value == "false" {
		return RouteLedger
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
		return RouteLedger
	}
	return RouteBlob
}

// LedgerValue converts a ledger-routed value to its balance.
func LedgerValue(value string) int64 {
	switch value {
	case "true":
		return 1
	case "false":
		return 0
	}
	n, _ := strconv.ParseInt(value, 10, 64)
	return n
}

// FieldAccount names the account holding one field of one record.
func FieldAccount(table, id, field string) string {
	return table + ":" + id + ":" + field
}

// ExistenceAccount names the account whose balance marks a record alive.
func ExistenceAccount(table, id string) string {
	return table + ":" + id + ":existence"
}

// Router applies the routing rule over an engine and a blob store.
type Router struct {
	engine *ledger.Engine
	blobs  *blobstore.Store
	log    zerolog.Logger
}

func New(engine *ledger.Engine, blobs *blobstore.Store, log zerolog.Logger) *Router {
	return &Router{
		engine: engine,
		blobs:  blobs,
		log:    log.With().Str("component", "router").Logger(),
	}
}

// CreateRecord materializes a record: 1 existence unit plus one account per
// field. Creating an already-alive record is an error.
func (r *Router) CreateRecord(ctx context.Context, table, id string, fields map[string]string) error {
	existence := ExistenceAccount(table, id)
	alive, err := r.engine.Exists(ctx, existence)
	if err != nil {
		return err
	}
	if alive {
		return &ledger.ConflictError{Account: existence, Detail: "record already exists"}
	}

	if _, err := r.engine.Transfer(ctx, ledger.Genesis, existence, 1, nil); err != nil {
		return err
	}
	for field, value := range fields {
		if err := r.SetField(ctx, table, id, field, value); err != nil {
			return err
		}
	}
	r.log.Debug().Str("table", table).Str("id", id).Int("fields", len(fields)).Msg("record created")
	return nil
}

// SetField writes one field, routing the value by shape.
func (r *Router) SetField(ctx context.Context, table, id, field, value string) error {
	if field == "existence" {
		return fmt.Errorf("%w: existence is not a writable field", ledger.ErrInvalidAmount)
	}

	account := FieldAccount(table, id, field)
	if RouteFor(value) == RouteLedger {
		return r.setLedgerField(ctx, account, LedgerValue(value))
	}
	return r.setBlobField(ctx, account, value)
}

func (r *Router) setLedgerField(ctx context.Context, account string, target int64) error {
	// A previous text value leaves a blob behind; the numeric write
	// supersedes it.
	if _, err := r.blobs.Delete(ctx, account); err != nil {
		return err
	}

	current, err := r.engine.Balance(ctx, account)
	if err != nil {
		return err
	}
	if current == target {
		// Idempotent: re-setting the same value records nothing.
		if target == 0 {
			return r.engine.Ledger().EnsureAccount(ctx, account, 0, 0)
		}
		return nil
	}

	var reqs []ledger.TransferRequest
	if current > 0 {
		reqs = append(reqs, ledger.TransferRequest{From: account, To: ledger.Void, Amount: current})
	}
	if target > 0 {
		reqs = append(reqs, ledger.TransferRequest{From: ledger.Genesis, To: account, Amount: target})
	}
	if len(reqs) == 0 {
		return r.engine.Ledger().EnsureAccount(ctx, account, 0, 0)
	}
	_, err = r.engine.LinkedBatch(ctx, reqs)
	return err
}

func (r *Router) setBlobField(ctx context.Context, account, value string) error {
	rec, err := r.blobs.Put(ctx, account, value)
	if err != nil {
		return err
	}

	// The ledger reference is exactly 1 unit for blob-routed fields. The
	// credit carries the blob key so readers can tell this reference from
	// a numeric balance of 1.
	current, err := r.engine.Balance(ctx, account)
	if err != nil {
		return err
	}
	if current == 1 {
		// Only a no-op if the existing unit is already a tagged
		// reference; a numeric balance of 1 still needs re-routing.
		tagged, err := blobRouted(ctx, r.engine, account)
		if err != nil {
			return err
		}
		if tagged {
			return nil
		}
	}

	metadata := map[string]string{
		blobstore.MetaBlobKey: strconv.FormatUint(rec.Key, 16),
	}
	var reqs []ledger.TransferRequest
	if current > 0 {
		reqs = append(reqs, ledger.TransferRequest{From: account, To: ledger.Void, Amount: current})
	}
	reqs = append(reqs, ledger.TransferRequest{From: ledger.Genesis, To: account, Amount: 1, Metadata: metadata})
	_, err = r.engine.LinkedBatch(ctx, reqs)
	return err
}

// ReadField resolves one field, blob content winning over the raw balance.
// A blob whose ledger reference is gone reads as ErrConflict.
func (r *Router) ReadField(ctx context.Context, table, id, field string) (string, error) {
	alive, err := r.engine.Exists(ctx, ExistenceAccount(table, id))
	if err != nil {
		return "", err
	}
	if !alive {
		return "", ledger.ErrNotFound
	}

	account := FieldAccount(table, id, field)
	balance, err := r.engine.Balance(ctx, account)
	if err != nil {
		return "", err
	}

	rec, err := r.blobs.Get(ctx, account)
	switch {
	case err == nil && balance > 0:
		return rec.Content, nil
	case err == nil:
		r.log.Warn().Str("account", account).Msg("blob present without ledger reference")
		return "", &ledger.ConflictError{
			Account: account,
			Field:   field,
			Detail:  "stored content has no ledger reference",
		}
	case err != ledger.ErrNotFound:
		return "", err
	}

	if balance > 0 {
		// A tagged reference whose blob is gone is the other divergence
		// direction; the raw balance must not leak out as a value.
		routed, err := blobRouted(ctx, r.engine, account)
		if err != nil {
			return "", err
		}
		if routed {
			r.log.Warn().Str("account", account).Msg("ledger reference without blob")
			return "", &ledger.ConflictError{
				Account: account,
				Field:   field,
				Detail:  "ledger reference has no stored content",
			}
		}
	}

	materialized, err := r.fieldMaterialized(ctx, account)
	if err != nil {
		return "", err
	}
	if !materialized {
		return "", ledger.ErrNotFound
	}
	return strconv.FormatInt(balance, 10), nil
}

// ReadRecord resolves every field of a live record.
func (r *Router) ReadRecord(ctx context.Context, table, id string) (map[string]string, error) {
	alive, err := r.engine.Exists(ctx, ExistenceAccount(table, id))
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, ledger.ErrNotFound
	}

	prefix := table + ":" + id + ":"
	accounts, err := r.engine.Ledger().Accounts(ctx, ledger.AccountFilter{Prefix: prefix})
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string)
	for _, a := range accounts {
		field := strings.TrimPrefix(a.Name, prefix)
		if field == "existence" || strings.Contains(field, ":") {
			continue
		}
		value, err := r.ReadField(ctx, table, id, field)
		if err == ledger.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		fields[field] = value
	}
	return fields, nil
}

// DeleteRecord soft-deletes: the existence balance moves to system:void.
// Field accounts and blobs stay put; reads are gated on existence, and the
// full transfer history remains queryable.
func (r *Router) DeleteRecord(ctx context.Context, table, id string) error {
	existence := ExistenceAccount(table, id)
	balance, err := r.engine.Balance(ctx, existence)
	if err != nil {
		return err
	}
	if balance <= 0 {
		return ledger.ErrNotFound
	}

	if _, err := r.engine.Transfer(ctx, existence, ledger.Void, balance, nil); err != nil {
		return err
	}
	r.log.Debug().Str("table", table).Str("id", id).Msg("record voided")
	return nil
}

// Exists reports whether a record is alive.
func (r *Router) Exists(ctx context.Context, table, id string) (bool, error) {
	return r.engine.Exists(ctx, ExistenceAccount(table, id))
}

// fieldMaterialized distinguishes a field set to zero from one never set.
func (r *Router) fieldMaterialized(ctx context.Context, account string) (bool, error) {
	accounts, err := r.engine.Ledger().Accounts(ctx, ledger.AccountFilter{Prefix: account, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(accounts) > 0 && accounts[0].Name == account, nil
}

// refHistoryDepth bounds how far route detection scans back for the newest
// credit. Field accounts only ever see value writes and void zeroings, so
// the newest credit sits near the front.
const refHistoryDepth = 32

// blobRouted reports whether an account's current value was blob-routed:
// the newest credit into it carries the blob key tag.
func blobRouted(ctx context.Context, engine *ledger.Engine, account string) (bool, error) {
	history, err := engine.History(ctx, account, refHistoryDepth)
	if err != nil {
		return false, err
	}
	for _, tr := range history {
		if tr.To != account {
			continue
		}
		_, tagged := tr.Metadata[blobstore.MetaBlobKey]
		return tagged, nil
	}
	return false, nil
}
