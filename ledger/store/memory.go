// Package store provides Ledger implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY LEDGER - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every operation behind a single exclusive lock. That is
// acceptable for single-process, low-throughput use and for tests; it is
// explicitly not a substitute for a real transactional ledger at scale.
type Memory struct {
	mu        sync.Mutex
	accounts  map[string]*account
	transfers []ledger.Transfer
	pending   map[ledger.PendingID]*reservation
}

type account struct {
	debits         int64
	credits        int64
	pendingDebits  int64
	pendingCredits int64
	class          ledger.Class
	createdAt      time.Time
}

type reservation struct {
	req       ledger.TransferRequest
	expiresAt time.Time // zero = never
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*account),
		pending:  make(map[ledger.PendingID]*reservation),
	}
}

func (m *Memory) EnsureAccount(_ context.Context, name string, initialDebits, initialCredits int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[name]; ok {
		return nil
	}
	m.accounts[name] = &account{
		debits:    initialDebits,
		credits:   initialCredits,
		class:     ledger.Classify(name),
		createdAt: time.Now(),
	}
	return nil
}

func (m *Memory) Transfer(_ context.Context, req ledger.TransferRequest) (ledger.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(req, nil); err != nil {
		return ledger.Transfer{}, err
	}
	return m.applyLocked(req), nil
}

func (m *Memory) LinkedBatch(_ context.Context, reqs []ledger.TransferRequest) ([]ledger.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check the whole batch against cumulative deltas before applying
	// anything, so rejection leaves every balance untouched.
	deltas := make(map[string]*legs)
	for _, req := range reqs {
		if err := m.checkLocked(req, deltas); err != nil {
			return nil, err
		}
		debit(deltas, req.From, req.Amount)
		credit(deltas, req.To, req.Amount)
	}

	out := make([]ledger.Transfer, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, m.applyLocked(req))
	}
	return out, nil
}

func (m *Memory) Balance(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[name]
	if !ok {
		return 0, nil
	}
	return a.credits - a.debits, nil
}

func (m *Memory) PendingTransfer(_ context.Context, req ledger.TransferRequest, timeout time.Duration) (ledger.PendingID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()
	if err := m.checkLocked(req, nil); err != nil {
		return "", err
	}

	from, to := m.getOrCreateLocked(req.From), m.getOrCreateLocked(req.To)
	from.pendingDebits += req.Amount
	to.pendingCredits += req.Amount

	id := ledger.PendingID(uuid.NewString())
	res := &reservation{req: req}
	if timeout > 0 {
		res.expiresAt = time.Now().Add(timeout)
	}
	m.pending[id] = res
	return id, nil
}

func (m *Memory) PostPending(_ context.Context, id ledger.PendingID) (ledger.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()
	res, ok := m.pending[id]
	if !ok {
		return ledger.Transfer{}, ledger.ErrPendingResolved
	}
	m.releaseLocked(res)
	delete(m.pending, id)
	return m.applyLocked(res.req), nil
}

func (m *Memory) VoidPending(_ context.Context, id ledger.PendingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()
	res, ok := m.pending[id]
	if !ok {
		return ledger.ErrPendingResolved
	}
	m.releaseLocked(res)
	delete(m.pending, id)
	return nil
}

func (m *Memory) Accounts(_ context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		if filter.Prefix == "" || strings.HasPrefix(name, filter.Prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if filter.Limit > 0 && len(names) > filter.Limit {
		names = names[:filter.Limit]
	}

	out := make([]ledger.Account, 0, len(names))
	for _, name := range names {
		a := m.accounts[name]
		out = append(out, ledger.Account{
			ID:        ledger.DeriveID(name),
			Name:      name,
			Debits:    a.debits,
			Credits:   a.credits,
			Class:     a.class,
			CreatedAt: a.createdAt,
		})
	}
	return out, nil
}

func (m *Memory) History(_ context.Context, name string, limit int) ([]ledger.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.Transfer
	for i := len(m.transfers) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		tr := m.transfers[i]
		if tr.From == name || tr.To == name {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]ledger.Transfer, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := int64(len(m.transfers))
	n := len(m.transfers)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ledger.Transfer, 0, n)
	for i := len(m.transfers) - 1; i >= len(m.transfers)-n; i-- {
		out = append(out, m.transfers[i])
	}
	return out, total, nil
}

// =============================================================================
// INTERNALS - All require m.mu held
// =============================================================================

type legs struct {
	debits  int64
	credits int64
}

func debit(d map[string]*legs, name string, amount int64) {
	l := d[name]
	if l == nil {
		l = &legs{}
		d[name] = l
	}
	l.debits += amount
}

func credit(d map[string]*legs, name string, amount int64) {
	l := d[name]
	if l == nil {
		l = &legs{}
		d[name] = l
	}
	l.credits += amount
}

func (m *Memory) getOrCreateLocked(name string) *account {
	a, ok := m.accounts[name]
	if !ok {
		a = &account{class: ledger.Classify(name), createdAt: time.Now()}
		m.accounts[name] = a
	}
	return a
}

// checkLocked validates a request without applying it. deltas holds leg
// increments already accepted earlier in the same batch.
func (m *Memory) checkLocked(req ledger.TransferRequest, deltas map[string]*legs) error {
	if req.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}

	from, to := m.getOrCreateLocked(req.From), m.getOrCreateLocked(req.To)

	fromDebits, fromCredits := from.debits+from.pendingDebits, from.credits
	toDebits, toCredits := to.debits, to.credits+to.pendingCredits
	if l, ok := deltas[req.From]; ok {
		fromDebits += l.debits
		fromCredits += l.credits
	}
	if l, ok := deltas[req.To]; ok {
		toDebits += l.debits
		toCredits += l.credits
	}

	// Debiting From: its debits grow. Crediting To: its credits grow.
	if from.class.Side == ledger.ConstrainDebits && fromDebits+req.Amount > fromCredits {
		return &ledger.InsufficientBalanceError{
			Account:   req.From,
			Available: fromCredits - fromDebits,
			Requested: req.Amount,
		}
	}
	if to.class.Side == ledger.ConstrainCredits && toCredits+req.Amount > toDebits {
		return &ledger.InsufficientBalanceError{
			Account:   req.To,
			Available: toDebits - toCredits,
			Requested: req.Amount,
		}
	}
	return nil
}

// applyLocked commits a request already validated by checkLocked.
func (m *Memory) applyLocked(req ledger.TransferRequest) ledger.Transfer {
	from, to := m.getOrCreateLocked(req.From), m.getOrCreateLocked(req.To)
	from.debits += req.Amount
	to.credits += req.Amount

	tr := ledger.Transfer{
		ID:        ledger.TransferID(uuid.NewString()),
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Code:      req.Code,
		Metadata:  req.Metadata,
		Timestamp: time.Now(),
	}
	m.transfers = append(m.transfers, tr)
	return tr
}

func (m *Memory) releaseLocked(res *reservation) {
	from, to := m.getOrCreateLocked(res.req.From), m.getOrCreateLocked(res.req.To)
	from.pendingDebits -= res.req.Amount
	to.pendingCredits -= res.req.Amount
}

func (m *Memory) expireLocked() {
	now := time.Now()
	for id, res := range m.pending {
		if !res.expiresAt.IsZero() && res.expiresAt.Before(now) {
			m.releaseLocked(res)
			delete(m.pending, id)
		}
	}
}
