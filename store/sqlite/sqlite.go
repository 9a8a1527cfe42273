/*
Package sqlite provides a SQLite-backed implementation of the Ledger interface.

PURPOSE:
  Durable double-entry ledger. Accounts carry running debit/credit legs;
  transfers are an append-only log. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The transfers table is never updated or deleted. Corrections happen through
  compensating transfers (credit back, route to system:void).

KEY TABLES:
  accounts:  name, debit/credit legs, pending legs, constraint side
  transfers: immutable log of all posted transfers
  pending:   two-phase reservations with optional expiry

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus SQL transactions for atomicity.
  In production with PostgreSQL, database-level concurrency control (row
  locks on accounts) handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/ledger.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.Ledger using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; a second connection would just
	// contend on the file lock.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts with running debit/credit legs
	CREATE TABLE IF NOT EXISTS accounts (
		name TEXT PRIMARY KEY,
		debits INTEGER NOT NULL DEFAULT 0,
		credits INTEGER NOT NULL DEFAULT 0,
		pending_debits INTEGER NOT NULL DEFAULT 0,
		pending_credits INTEGER NOT NULL DEFAULT 0,
		constraint_side TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Transfers (append-only ledger)
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		from_account TEXT NOT NULL,
		to_account TEXT NOT NULL,
		amount INTEGER NOT NULL,
		code INTEGER NOT NULL,
		metadata_json TEXT,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path: per-account history, newest first
	CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers(from_account, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_transfers_to ON transfers(to_account, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_transfers_seq ON transfers(seq DESC);

	-- Two-phase reservations
	CREATE TABLE IF NOT EXISTS pending (
		id TEXT PRIMARY KEY,
		from_account TEXT NOT NULL,
		to_account TEXT NOT NULL,
		amount INTEGER NOT NULL,
		code INTEGER NOT NULL,
		metadata_json TEXT,
		expires_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_expires ON pending(expires_at)
		WHERE expires_at IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER INTERFACE
// =============================================================================

// EnsureAccount creates an account if it does not exist. Existing accounts
// are left untouched, including their legs.
func (s *Store) EnsureAccount(ctx context.Context, name string, initialDebits, initialCredits int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureAccountTx(ctx, s.db, name, initialDebits, initialCredits)
}

func (s *Store) ensureAccountTx(ctx context.Context, db execer, name string, initialDebits, initialCredits int64) error {
	class := ledger.Classify(name)
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (name, debits, credits, constraint_side, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, initialDebits, initialCredits,
		class.Side.String(), class.Kind(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure account %q: %w", name, err)
	}
	return nil
}

// Transfer atomically moves amount from one account to another.
func (s *Store) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.Transfer, error) {
	transfers, err := s.LinkedBatch(ctx, []ledger.TransferRequest{req})
	if err != nil {
		return ledger.Transfer{}, err
	}
	return transfers[0], nil
}

// LinkedBatch applies all transfers inside one SQL transaction. A constraint
// violation on any leg rolls back every balance change in the batch.
func (s *Store) LinkedBatch(ctx context.Context, reqs []ledger.TransferRequest) ([]ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range reqs {
		if req.Amount <= 0 {
			return nil, ledger.ErrInvalidAmount
		}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	out := make([]ledger.Transfer, 0, len(reqs))
	for _, req := range reqs {
		tr, err := s.applyTx(ctx, sqlTx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return out, nil
}

// applyTx posts a single transfer inside an open SQL transaction: both leg
// updates, the constraint check, and the log row.
func (s *Store) applyTx(ctx context.Context, tx *sql.Tx, req ledger.TransferRequest) (ledger.Transfer, error) {
	if err := s.ensureAccountTx(ctx, tx, req.From, 0, 0); err != nil {
		return ledger.Transfer{}, err
	}
	if err := s.ensureAccountTx(ctx, tx, req.To, 0, 0); err != nil {
		return ledger.Transfer{}, err
	}

	if err := s.checkTx(ctx, tx, req); err != nil {
		return ledger.Transfer{}, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET debits = debits + ? WHERE name = ?",
		req.Amount, req.From,
	); err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to debit %q: %w", req.From, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET credits = credits + ? WHERE name = ?",
		req.Amount, req.To,
	); err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to credit %q: %w", req.To, err)
	}

	tr := ledger.Transfer{
		ID:        ledger.TransferID(uuid.NewString()),
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Code:      req.Code,
		Metadata:  req.Metadata,
		Timestamp: time.Now().UTC(),
	}

	var metadataJSON []byte
	if len(tr.Metadata) > 0 {
		metadataJSON, _ = json.Marshal(tr.Metadata)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transfers (id, from_account, to_account, amount, code, metadata_json, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transfers), ?)`,
		string(tr.ID), tr.From, tr.To, tr.Amount, int64(tr.Code),
		nullString(string(metadataJSON)),
		tr.Timestamp.Format(time.RFC3339Nano),
	); err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to append transfer: %w", err)
	}

	return tr, nil
}

// checkTx enforces each account's constraint side, pending legs included.
func (s *Store) checkTx(ctx context.Context, tx *sql.Tx, req ledger.TransferRequest) error {
	var (
		fromDebits, fromCredits, fromPendingDebits int64
		fromSide                                   string
	)
	err := tx.QueryRowContext(ctx,
		"SELECT debits, credits, pending_debits, constraint_side FROM accounts WHERE name = ?",
		req.From,
	).Scan(&fromDebits, &fromCredits, &fromPendingDebits, &fromSide)
	if err != nil {
		return fmt.Errorf("failed to load account %q: %w", req.From, err)
	}

	if fromSide == ledger.ConstrainDebits.String() &&
		fromDebits+fromPendingDebits+req.Amount > fromCredits {
		return &ledger.InsufficientBalanceError{
			Account:   req.From,
			Available: fromCredits - fromDebits - fromPendingDebits,
			Requested: req.Amount,
		}
	}

	var (
		toDebits, toCredits, toPendingCredits int64
		toSide                                string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT debits, credits, pending_credits, constraint_side FROM accounts WHERE name = ?",
		req.To,
	).Scan(&toDebits, &toCredits, &toPendingCredits, &toSide)
	if err != nil {
		return fmt.Errorf("failed to load account %q: %w", req.To, err)
	}

	if toSide == ledger.ConstrainCredits.String() &&
		toCredits+toPendingCredits+req.Amount > toDebits {
		return &ledger.InsufficientBalanceError{
			Account:   req.To,
			Available: toDebits - toCredits - toPendingCredits,
			Requested: req.Amount,
		}
	}

	return nil
}

// Balance returns credits minus debits. Unknown accounts have balance zero.
func (s *Store) Balance(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var debits, credits int64
	err := s.db.QueryRowContext(ctx,
		"SELECT debits, credits FROM accounts WHERE name = ?", name,
	).Scan(&debits, &credits)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load balance for %q: %w", name, err)
	}
	return credits - debits, nil
}

// =============================================================================
// TWO-PHASE TRANSFERS
// =============================================================================

// PendingTransfer reserves amount against the source account. The reservation
// counts against the constraint check until posted, voided, or expired.
func (s *Store) PendingTransfer(ctx context.Context, req ledger.TransferRequest, timeout time.Duration) (ledger.PendingID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Amount <= 0 {
		return "", ledger.ErrInvalidAmount
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.expireTx(ctx, sqlTx); err != nil {
		return "", err
	}
	if err := s.ensureAccountTx(ctx, sqlTx, req.From, 0, 0); err != nil {
		return "", err
	}
	if err := s.ensureAccountTx(ctx, sqlTx, req.To, 0, 0); err != nil {
		return "", err
	}
	if err := s.checkTx(ctx, sqlTx, req); err != nil {
		return "", err
	}

	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE accounts SET pending_debits = pending_debits + ? WHERE name = ?",
		req.Amount, req.From,
	); err != nil {
		return "", fmt.Errorf("failed to reserve debit on %q: %w", req.From, err)
	}
	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE accounts SET pending_credits = pending_credits + ? WHERE name = ?",
		req.Amount, req.To,
	); err != nil {
		return "", fmt.Errorf("failed to reserve credit on %q: %w", req.To, err)
	}

	var metadataJSON []byte
	if len(req.Metadata) > 0 {
		metadataJSON, _ = json.Marshal(req.Metadata)
	}

	var expiresAt *string
	if timeout > 0 {
		t := time.Now().UTC().Add(timeout).Format(time.RFC3339Nano)
		expiresAt = &t
	}

	id := ledger.PendingID(uuid.NewString())
	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO pending (id, from_account, to_account, amount, code, metadata_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(id), req.From, req.To, req.Amount, int64(req.Code),
		nullString(string(metadataJSON)), expiresAt,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return "", fmt.Errorf("failed to record pending transfer: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit pending transfer: %w", err)
	}
	return id, nil
}

// PostPending converts a reservation into a posted transfer.
func (s *Store) PostPending(ctx context.Context, id ledger.PendingID) (ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	req, err := s.takePendingTx(ctx, sqlTx, id)
	if err != nil {
		return ledger.Transfer{}, err
	}

	// The reservation already passed the constraint check and is released
	// in the same transaction that posts, so posting cannot overdraw.
	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE accounts SET debits = debits + ? WHERE name = ?",
		req.Amount, req.From,
	); err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to debit %q: %w", req.From, err)
	}
	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE accounts SET credits = credits + ? WHERE name = ?",
		req.Amount, req.To,
	); err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to credit %q: %w", req.To, err)
	}

	tr := ledger.Transfer{
		ID:        ledger.TransferID(uuid.NewString()),
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Code:      req.Code,
		Metadata:  req.Metadata,
		Timestamp: time.Now().UTC(),
	}

	var metadataJSON []byte
	if len(tr.Metadata) > 0 {
		metadataJSON, _ = json.Marshal(tr.Metadata)
	}

	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO transfers (id, from_account, to_account, amount, code, metadata_json, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transfers), ?)`,
		string(tr.ID), tr.From, tr.To, tr.Amount, int64(tr.Code),
		nullString(string(metadataJSON)),
		tr.Timestamp.Format(time.RFC3339Nano),
	); err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to append transfer: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.Transfer{}, fmt.Errorf("failed to commit posted transfer: %w", err)
	}
	return tr, nil
}

// VoidPending cancels a reservation and releases the reserved legs.
func (s *Store) VoidPending(ctx context.Context, id ledger.PendingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := s.takePendingTx(ctx, sqlTx, id); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// takePendingTx loads a live reservation, deletes it, and releases its
// reserved legs. Expired or unknown reservations return ErrPendingResolved.
func (s *Store) takePendingTx(ctx context.Context, tx *sql.Tx, id ledger.PendingID) (ledger.TransferRequest, error) {
	if err := s.expireTx(ctx, tx); err != nil {
		return ledger.TransferRequest{}, err
	}

	var (
		req          ledger.TransferRequest
		code         int64
		metadataJSON sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		"SELECT from_account, to_account, amount, code, metadata_json FROM pending WHERE id = ?",
		string(id),
	).Scan(&req.From, &req.To, &req.Amount, &code, &metadataJSON)
	if err == sql.ErrNoRows {
		return ledger.TransferRequest{}, ledger.ErrPendingResolved
	}
	if err != nil {
		return ledger.TransferRequest{}, fmt.Errorf("failed to load pending transfer: %w", err)
	}

	req.Code = ledger.OperationCode(code)
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &req.Metadata)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET pending_debits = pending_debits - ? WHERE name = ?",
		req.Amount, req.From,
	); err != nil {
		return ledger.TransferRequest{}, fmt.Errorf("failed to release debit on %q: %w", req.From, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET pending_credits = pending_credits - ? WHERE name = ?",
		req.Amount, req.To,
	); err != nil {
		return ledger.TransferRequest{}, fmt.Errorf("failed to release credit on %q: %w", req.To, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending WHERE id = ?", string(id)); err != nil {
		return ledger.TransferRequest{}, fmt.Errorf("failed to delete pending transfer: %w", err)
	}

	return req, nil
}

// expireTx releases every reservation past its deadline.
func (s *Store) expireTx(ctx context.Context, tx *sql.Tx) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows, err := tx.QueryContext(ctx,
		"SELECT id, from_account, to_account, amount FROM pending WHERE expires_at IS NOT NULL AND expires_at < ?",
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to query expired reservations: %w", err)
	}

	type expired struct {
		id     string
		from   string
		to     string
		amount int64
	}
	var stale []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.from, &e.to, &e.amount); err != nil {
			rows.Close()
			return err
		}
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range stale {
		if _, err := tx.ExecContext(ctx,
			"UPDATE accounts SET pending_debits = pending_debits - ? WHERE name = ?",
			e.amount, e.from,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE accounts SET pending_credits = pending_credits - ? WHERE name = ?",
			e.amount, e.to,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pending WHERE id = ?", e.id); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Accounts returns accounts matching the filter, ordered by name.
func (s *Store) Accounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT name, debits, credits, created_at FROM accounts"
	var args []any
	if filter.Prefix != "" {
		query += " WHERE name >= ? AND name < ?"
		args = append(args, filter.Prefix, prefixUpperBound(filter.Prefix))
	}
	query += " ORDER BY name"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var (
			a         ledger.Account
			createdAt string
		)
		if err := rows.Scan(&a.Name, &a.Debits, &a.Credits, &createdAt); err != nil {
			return nil, err
		}
		a.ID = ledger.DeriveID(a.Name)
		a.Class = ledger.Classify(a.Name)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// History returns transfers touching an account, newest first.
func (s *Store) History(ctx context.Context, name string, limit int) ([]ledger.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, from_account, to_account, amount, code, metadata_json, created_at
		FROM transfers
		WHERE from_account = ? OR to_account = ?
		ORDER BY seq DESC
	`
	args := []any{name, name}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryTransfers(ctx, query, args...)
}

// Recent returns the most recent transfers plus the total log length.
func (s *Store) Recent(ctx context.Context, limit int) ([]ledger.Transfer, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transfers").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transfers: %w", err)
	}

	query := `
		SELECT id, from_account, to_account, amount, code, metadata_json, created_at
		FROM transfers
		ORDER BY seq DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	transfers, err := s.queryTransfers(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return transfers, total, nil
}

func (s *Store) queryTransfers(ctx context.Context, query string, args ...any) ([]ledger.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []ledger.Transfer
	for rows.Next() {
		var (
			tr           ledger.Transfer
			id           string
			code         int64
			metadataJSON sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&id, &tr.From, &tr.To, &tr.Amount, &code, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		tr.ID = ledger.TransferID(id)
		tr.Code = ledger.OperationCode(code)
		tr.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &tr.Metadata)
		}
		transfers = append(transfers, tr)
	}
	return transfers, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transfers", "pending", "accounts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, for range scans on the name index.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + "\xff"
}
