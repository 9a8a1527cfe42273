package spark_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/spark"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestSparkEngine(t *testing.T) (*spark.Engine, *ledger.Engine) {
	t.Helper()
	ctx := context.Background()

	eng := ledger.NewEngine(store.NewMemory(), zerolog.Nop())
	require.NoError(t, eng.EnsureSystemAccounts(ctx))

	blobs, err := blobstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	return spark.NewEngine(spark.NewCatalog(), eng, blobs, zerolog.Nop()), eng
}

func addSpark(t *testing.T, e *spark.Engine, name string, s spark.Spark) {
	t.Helper()
	require.NoError(t, e.Catalog().Add(name, s))
}

func balanceOf(t *testing.T, eng *ledger.Engine, account string) int64 {
	t.Helper()
	b, err := eng.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

// =============================================================================
// INVOCATION
// =============================================================================

func TestSpark_InvokeTransfers(t *testing.T) {
	// GIVEN: a spark funding a user and recording a purchase
	// WHEN: it is invoked with inputs
	// THEN: the resulting balances reflect every operation

	e, eng := newTestSparkEngine(t)
	addSpark(t, e, "fund_and_buy", spark.Spark{
		Inputs: []string{"user_id", "amount"},
		Operations: []spark.Operation{
			{Type: spark.OpTransfer, From: "system:genesis", To: "user:{user_id}:balance", Amount: "{amount}"},
			{Type: spark.OpTransfer, From: "user:{user_id}:balance", To: "merchant:1:balance", Amount: 250, StoreAs: "payment"},
		},
	})

	out, err := e.Invoke(context.Background(), "fund_and_buy", map[string]any{
		"user_id": "7",
		"amount":  1000,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(750), balanceOf(t, eng, "user:7:balance"))
	assert.Equal(t, int64(250), balanceOf(t, eng, "merchant:1:balance"))
	assert.NotEmpty(t, out["payment"], "store_as exposes the transfer id")
	assert.Equal(t, out["op_1"], out["payment"])
}

func TestSpark_UnknownSpark(t *testing.T) {
	e, _ := newTestSparkEngine(t)
	_, err := e.Invoke(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSpark_MissingInput(t *testing.T) {
	e, _ := newTestSparkEngine(t)
	addSpark(t, e, "needs_user", spark.Spark{
		Inputs: []string{"user_id"},
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "user:{user_id}:balance"},
		},
	})

	_, err := e.Invoke(context.Background(), "needs_user", map[string]any{})
	assert.ErrorIs(t, err, ledger.ErrInvalidExpression)
}

// =============================================================================
// CONDITIONS AND FAILURE HANDLING
// =============================================================================

func TestSpark_ConditionFailurePropagates(t *testing.T) {
	e, _ := newTestSparkEngine(t)
	addSpark(t, e, "check_stock", spark.Spark{
		Inputs: []string{"product_id"},
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "product:{product_id}:stock", Condition: ">= 1"},
		},
	})

	_, err := e.Invoke(context.Background(), "check_stock", map[string]any{"product_id": "1"})
	assert.ErrorIs(t, err, spark.ErrConditionFailed)
}

func TestSpark_OnFailReturnShortCircuits(t *testing.T) {
	// GIVEN: a lookup spark whose existence check carries on_fail "return"
	// WHEN: the check fails
	// THEN: the caller gets an empty result, not an error, and later
	//       operations never run

	e, eng := newTestSparkEngine(t)
	addSpark(t, e, "get_product", spark.Spark{
		Inputs: []string{"id"},
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "product:{id}:existence", Condition: "> 0", OnFail: spark.OnFailReturn},
			{Type: spark.OpTransfer, From: "system:genesis", To: "audit:reads", Amount: 1},
		},
	})

	out, err := e.Invoke(context.Background(), "get_product", map[string]any{"id": "404"})

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, int64(0), balanceOf(t, eng, "audit:reads"), "operations after the short-circuit must not run")
}

func TestSpark_UnknownConditionRejected(t *testing.T) {
	e, eng := newTestSparkEngine(t)
	_, err := eng.Transfer(context.Background(), "system:genesis", "user:1:balance", 10, nil)
	require.NoError(t, err)

	addSpark(t, e, "odd_check", spark.Spark{
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "user:1:balance", Condition: "< 100"},
		},
	})

	_, err = e.Invoke(context.Background(), "odd_check", nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidExpression)
}

// =============================================================================
// INTERPOLATION AND EXPRESSIONS
// =============================================================================

func TestSpark_StoredResultsShadowInputs(t *testing.T) {
	// A stored result named like an input wins during interpolation.
	e, eng := newTestSparkEngine(t)
	_, err := eng.Transfer(context.Background(), "system:genesis", "config:tax:rate", 19, nil)
	require.NoError(t, err)

	addSpark(t, e, "apply_rate", spark.Spark{
		Inputs: []string{"rate"},
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "config:tax:rate", StoreAs: "rate"},
			{Type: spark.OpTransfer, From: "system:genesis", To: "order:1:tax", Amount: "{rate}"},
		},
	})

	_, err = e.Invoke(context.Background(), "apply_rate", map[string]any{"rate": 5})
	require.NoError(t, err)
	assert.Equal(t, int64(19), balanceOf(t, eng, "order:1:tax"), "stored rate shadows the input rate")
}

func TestSpark_AmountExpressions(t *testing.T) {
	e, eng := newTestSparkEngine(t)
	addSpark(t, e, "record_rating", spark.Spark{
		Inputs: []string{"rating"},
		Operations: []spark.Operation{
			{Type: spark.OpTransfer, From: "system:genesis", To: "review:1:rating", Amount: "hash({rating})"},
			{Type: spark.OpTransfer, From: "system:genesis", To: "review:1:created_at", Amount: "timestamp()"},
			{Type: spark.OpTransfer, From: "system:genesis", To: "review:1:verified", Amount: "true"},
		},
	})

	before := ledger.Timestamp()
	_, err := e.Invoke(context.Background(), "record_rating", map[string]any{"rating": "five stars"})
	require.NoError(t, err)

	assert.Equal(t, ledger.HashString("five stars"), balanceOf(t, eng, "review:1:rating"))
	assert.GreaterOrEqual(t, balanceOf(t, eng, "review:1:created_at"), before)
	assert.Equal(t, int64(1), balanceOf(t, eng, "review:1:verified"))
}

func TestSpark_InvalidAmountExpression(t *testing.T) {
	e, _ := newTestSparkEngine(t)
	addSpark(t, e, "bad_amount", spark.Spark{
		Operations: []spark.Operation{
			{Type: spark.OpTransfer, From: "system:genesis", To: "user:1:balance", Amount: "not a number"},
		},
	})

	_, err := e.Invoke(context.Background(), "bad_amount", nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidExpression)
}

// =============================================================================
// BLOB OPERATIONS
// =============================================================================

func TestSpark_BlobTransferStoresContent(t *testing.T) {
	e, eng := newTestSparkEngine(t)
	addSpark(t, e, "set_email", spark.Spark{
		Inputs: []string{"user_id", "email"},
		Operations: []spark.Operation{
			{Type: spark.OpTransfer, From: "system:genesis", To: "user:{user_id}:email", Amount: "{email}", Blob: true},
		},
	})
	addSpark(t, e, "get_email", spark.Spark{
		Inputs: []string{"user_id"},
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "user:{user_id}:email", Blob: true, StoreAs: "email"},
		},
	})

	_, err := e.Invoke(context.Background(), "set_email", map[string]any{
		"user_id": "1",
		"email":   "alice@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), balanceOf(t, eng, "user:1:email"), "blob fields hold a one-unit reference")

	out, err := e.Invoke(context.Background(), "get_email", map[string]any{"user_id": "1"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", out["email"])
}

func TestSpark_BlobBalanceWithoutContentIsConflict(t *testing.T) {
	// GIVEN: a stored email whose blob content has vanished
	// WHEN: a blob-flagged balance step reads it
	// THEN: the dangling reference surfaces as a conflict, not an empty value

	ctx := context.Background()
	eng := ledger.NewEngine(store.NewMemory(), zerolog.Nop())
	require.NoError(t, eng.EnsureSystemAccounts(ctx))
	blobs, err := blobstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	e := spark.NewEngine(spark.NewCatalog(), eng, blobs, zerolog.Nop())

	addSpark(t, e, "set_email", spark.Spark{
		Inputs: []string{"user_id", "email"},
		Operations: []spark.Operation{
			{Type: spark.OpTransfer, From: "system:genesis", To: "user:{user_id}:email", Amount: "{email}", Blob: true},
		},
	})
	addSpark(t, e, "get_email", spark.Spark{
		Inputs: []string{"user_id"},
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "user:{user_id}:email", Blob: true, StoreAs: "email"},
		},
	})

	_, err = e.Invoke(ctx, "set_email", map[string]any{"user_id": "1", "email": "alice@example.com"})
	require.NoError(t, err)

	found, err := blobs.Delete(ctx, "user:1:email")
	require.NoError(t, err)
	require.True(t, found)

	_, err = e.Invoke(ctx, "get_email", map[string]any{"user_id": "1"})
	require.ErrorIs(t, err, ledger.ErrConflict)
}

// =============================================================================
// METADATA
// =============================================================================

func TestSpark_GetMetadata(t *testing.T) {
	e, eng := newTestSparkEngine(t)
	ctx := context.Background()

	_, err := eng.Transfer(ctx, "system:genesis", "user:1:write:products", 1, map[string]string{"granted_by": "admin-9"})
	require.NoError(t, err)

	addSpark(t, e, "who_granted", spark.Spark{
		Inputs: []string{"account"},
		Operations: []spark.Operation{
			{Type: spark.OpGetMetadata, Account: "{account}", Field: "granted_by", StoreAs: "grantor"},
		},
	})

	out, err := e.Invoke(ctx, "who_granted", map[string]any{"account": "user:1:write:products"})
	require.NoError(t, err)
	assert.Equal(t, "admin-9", out["grantor"])

	_, err = e.Invoke(ctx, "who_granted", map[string]any{"account": "user:2:write:products"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// LINKED SPARKS
// =============================================================================

func TestSpark_LinkedCommitsAtomically(t *testing.T) {
	// GIVEN: a linked spark whose last transfer overdraws
	// WHEN: it is invoked
	// THEN: none of its transfers are applied

	e, eng := newTestSparkEngine(t)
	ctx := context.Background()
	_, err := eng.Transfer(ctx, "system:genesis", "user:1:balance", 100, nil)
	require.NoError(t, err)

	addSpark(t, e, "split_payment", spark.Spark{
		Linked: true,
		Operations: []spark.Operation{
			{Type: spark.OpTransfer, From: "user:1:balance", To: "merchant:1:balance", Amount: 80},
			{Type: spark.OpTransfer, From: "user:1:balance", To: "merchant:2:balance", Amount: 80},
		},
	})

	_, err = e.Invoke(ctx, "split_payment", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, int64(100), balanceOf(t, eng, "user:1:balance"))
	assert.Equal(t, int64(0), balanceOf(t, eng, "merchant:1:balance"))
	assert.Equal(t, int64(0), balanceOf(t, eng, "merchant:2:balance"))
}

func TestSpark_LinkedExposesTransferIDsAfterCommit(t *testing.T) {
	e, eng := newTestSparkEngine(t)
	ctx := context.Background()
	_, err := eng.Transfer(ctx, "system:genesis", "user:1:balance", 100, nil)
	require.NoError(t, err)

	addSpark(t, e, "pay", spark.Spark{
		Linked: true,
		Operations: []spark.Operation{
			{Type: spark.OpTransfer, From: "user:1:balance", To: "merchant:1:balance", Amount: 60, StoreAs: "payment"},
		},
	})

	out, err := e.Invoke(ctx, "pay", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out["payment"])
	assert.Equal(t, int64(40), balanceOf(t, eng, "user:1:balance"))
}

// =============================================================================
// RETURN TEMPLATES
// =============================================================================

func TestSpark_ReturnTemplates(t *testing.T) {
	e, eng := newTestSparkEngine(t)
	ctx := context.Background()
	_, err := eng.Transfer(ctx, "system:genesis", "product:1:price", 2999, nil)
	require.NoError(t, err)

	addSpark(t, e, "describe", spark.Spark{
		Inputs: []string{"id"},
		Operations: []spark.Operation{
			{Type: spark.OpBalance, Account: "product:{id}:price", StoreAs: "price"},
		},
		Return: map[string]string{
			"id":    "{id}",
			"price": "{price}",
		},
	})

	out, err := e.Invoke(ctx, "describe", map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "1", "price": "2999"}, out)
}
