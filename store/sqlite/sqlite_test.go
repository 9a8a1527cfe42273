package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) (*sqlite.Store, *ledger.Engine) {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	eng := ledger.NewEngine(s, zerolog.Nop())
	require.NoError(t, eng.EnsureSystemAccounts(context.Background()))
	return s, eng
}

// =============================================================================
// CORE CONTRACT - durable adapter behaves like the in-memory one
// =============================================================================

func TestSQLite_TransferAndBalance(t *testing.T) {
	_, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 1000, map[string]string{"reason": "signup"})
	require.NoError(t, err)
	_, err = eng.Transfer(ctx, "user:1:balance", "user:2:balance", 400, nil)
	require.NoError(t, err)

	b1, err := eng.Balance(ctx, "user:1:balance")
	require.NoError(t, err)
	b2, err := eng.Balance(ctx, "user:2:balance")
	require.NoError(t, err)
	assert.Equal(t, int64(600), b1)
	assert.Equal(t, int64(400), b2)
}

func TestSQLite_OverdrawRollsBack(t *testing.T) {
	_, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 100, nil)
	require.NoError(t, err)

	_, err = eng.Transfer(ctx, "user:1:balance", "user:2:balance", 150, nil)
	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100), insufficient.Available)

	b, err := eng.Balance(ctx, "user:1:balance")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b)
}

func TestSQLite_LinkedBatchAtomic(t *testing.T) {
	_, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 100, nil)
	require.NoError(t, err)

	_, err = eng.LinkedBatch(ctx, []ledger.TransferRequest{
		{From: "user:1:balance", To: "merchant:1:balance", Amount: 70},
		{From: "user:1:balance", To: "merchant:2:balance", Amount: 70},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	for account, want := range map[string]int64{
		"user:1:balance":     100,
		"merchant:1:balance": 0,
		"merchant:2:balance": 0,
	} {
		b, err := eng.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, want, b, account)
	}
}

func TestSQLite_PendingLifecycle(t *testing.T) {
	_, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 100, nil)
	require.NoError(t, err)

	id, err := eng.PendingTransfer(ctx, "user:1:balance", "merchant:1:balance", 90, time.Minute)
	require.NoError(t, err)

	// The hold constrains further spending.
	_, err = eng.Transfer(ctx, "user:1:balance", "user:2:balance", 20, nil)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	tr, err := eng.PostPending(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(90), tr.Amount)

	err = eng.VoidPending(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrPendingResolved)
}

func TestSQLite_PendingExpiry(t *testing.T) {
	_, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 100, nil)
	require.NoError(t, err)

	id, err := eng.PendingTransfer(ctx, "user:1:balance", "merchant:1:balance", 90, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = eng.PostPending(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrPendingResolved)

	// The lapsed hold releases its value.
	_, err = eng.Transfer(ctx, "user:1:balance", "user:2:balance", 100, nil)
	assert.NoError(t, err)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestSQLite_AccountsPrefixAndClassification(t *testing.T) {
	_, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:existence", 1, nil)
	require.NoError(t, err)
	_, err = eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 50, nil)
	require.NoError(t, err)

	accounts, err := eng.Ledger().Accounts(ctx, ledger.AccountFilter{Prefix: "user:1:"})
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "user:1:balance", accounts[0].Name)
	assert.Equal(t, "user:1:existence", accounts[1].Name)
	assert.Equal(t, "entity", accounts[0].Class.Kind())
	assert.Equal(t, "existence", accounts[1].Class.Kind())
}

func TestSQLite_HistoryOrderAndMetadata(t *testing.T) {
	_, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 100, map[string]string{"step": "first"})
	require.NoError(t, err)
	_, err = eng.Transfer(ctx, "user:1:balance", "user:2:balance", 25, map[string]string{"step": "second"})
	require.NoError(t, err)

	history, err := eng.History(ctx, "user:1:balance", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Metadata["step"])
	assert.Equal(t, "first", history[1].Metadata["step"])

	recent, total, err := eng.AuditPage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, recent, 1)
	assert.Equal(t, "second", recent[0].Metadata["step"])
}

func TestSQLite_Reset(t *testing.T) {
	s, eng := newTestStore(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, ledger.Genesis, "user:1:balance", 100, nil)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	b, err := eng.Balance(ctx, "user:1:balance")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b)

	_, total, err := eng.AuditPage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}
