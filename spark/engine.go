/*
engine.go - Spark invocation

EXECUTION MODEL:
  Invoke resolves the template, binds inputs, then runs each operation in
  declared order. Every step's templated strings are interpolated against
  inputs plus the results stored so far; stored results shadow inputs of
  the same name. Results land under "op_<i>" and, when the step declares
  store_as, under that label too.

FAILURE:
  A failing step with on_fail "return" short-circuits the spark into an
  empty, non-error result. Anything else propagates the error. Steps
  already committed stay committed: there is no rollback. Sparks needing
  all-or-nothing semantics declare "linked": true, which batches their
  transfers into one atomic ledger commit at the end of the run (their
  transfer ids are then not interpolable by later steps).
*/
package spark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
)

// ErrConditionFailed marks a balance-check step whose condition did not hold.
var ErrConditionFailed = errors.New("balance condition failed")

// metadataHistoryDepth bounds how far get_metadata scans back.
const metadataHistoryDepth = 256

// Engine executes templates from a catalog against the ledger and the
// blob store.
type Engine struct {
	catalog *Catalog
	ledger  *ledger.Engine
	blobs   *blobstore.Store
	log     zerolog.Logger
}

func NewEngine(catalog *Catalog, l *ledger.Engine, blobs *blobstore.Store, log zerolog.Logger) *Engine {
	return &Engine{
		catalog: catalog,
		ledger:  l,
		blobs:   blobs,
		log:     log.With().Str("component", "spark").Logger(),
	}
}

// Catalog exposes the template catalog for administrative actions.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Invoke runs a named spark with the given inputs and returns its result
// map. An on_fail "return" short-circuit yields an empty map and nil error.
func (e *Engine) Invoke(ctx context.Context, name string, inputs map[string]any) (map[string]any, error) {
	spark, ok := e.catalog.Get(name)
	if !ok {
		return nil, fmt.Errorf("spark %q: %w", name, ledger.ErrNotFound)
	}
	for _, required := range spark.Inputs {
		if _, ok := inputs[required]; !ok {
			return nil, fmt.Errorf("spark %q: missing input %q: %w", name, required, ledger.ErrInvalidExpression)
		}
	}

	e.log.Debug().Str("spark", name).Int("operations", len(spark.Operations)).Msg("invoking")

	run := &invocation{engine: e, inputs: inputs, stored: make(map[string]any)}

	for i, op := range spark.Operations {
		result, err := run.step(ctx, spark, i, op)
		if err != nil {
			if strings.HasPrefix(op.OnFail, OnFailReturn) {
				e.log.Debug().Str("spark", name).Int("step", i).Err(err).Msg("short-circuit return")
				return map[string]any{}, nil
			}
			return nil, fmt.Errorf("spark %q step %d: %w", name, i, err)
		}
		run.store(i, op.StoreAs, result)
	}

	if err := run.commitBatch(ctx, spark); err != nil {
		return nil, fmt.Errorf("spark %q: %w", name, err)
	}

	if spark.Return != nil {
		out := make(map[string]any, len(spark.Return))
		for key, template := range spark.Return {
			out[key] = run.interpolate(template)
		}
		return out, nil
	}
	return run.stored, nil
}

// invocation is the ephemeral per-call context.
type invocation struct {
	engine *Engine
	inputs map[string]any
	stored map[string]any

	// Linked mode: transfers accumulate here and commit in one batch.
	batch      []ledger.TransferRequest
	batchSlots []batchSlot
	blobWrites []blobWrite
}

type batchSlot struct {
	index   int
	storeAs string
}

type blobWrite struct {
	account string
	content string
}

func (r *invocation) store(index int, label string, result any) {
	if result == nil {
		return
	}
	r.stored[fmt.Sprintf("op_%d", index)] = result
	if label != "" {
		r.stored[label] = result
	}
}

func (r *invocation) step(ctx context.Context, spark Spark, index int, op Operation) (any, error) {
	switch op.Type {
	case OpTransfer:
		return r.transferStep(ctx, spark, index, op)
	case OpBalance:
		return r.balanceStep(ctx, op)
	case OpGetMetadata:
		return r.metadataStep(ctx, op)
	default:
		return nil, fmt.Errorf("unknown operation type %q: %w", op.Type, ledger.ErrInvalidExpression)
	}
}

// =============================================================================
// TRANSFER STEPS
// =============================================================================

func (r *invocation) transferStep(ctx context.Context, spark Spark, index int, op Operation) (any, error) {
	from := r.interpolate(op.From)
	to := r.interpolate(op.To)
	metadata := r.interpolateMetadata(op.Metadata)

	if op.Blob {
		// Text route: content to the blob store, a 1-unit reference
		// transfer to the ledger. The blob key derives from the
		// destination account name, so rewrites reuse the same key.
		content := r.interpolate(valueString(op.Amount))
		key := blobstore.KeyFor(to)
		if metadata == nil {
			metadata = make(map[string]string)
		}
		metadata[blobstore.MetaBlobKey] = strconv.FormatUint(key, 16)

		if spark.Linked {
			r.blobWrites = append(r.blobWrites, blobWrite{account: to, content: content})
			r.enqueue(index, op.StoreAs, ledger.TransferRequest{From: from, To: to, Amount: 1, Metadata: metadata})
			return nil, nil
		}

		if _, err := r.engine.blobs.Put(ctx, to, content); err != nil {
			return nil, err
		}
		tr, err := r.engine.ledger.Transfer(ctx, from, to, 1, metadata)
		if err != nil {
			return nil, err
		}
		return string(tr.ID), nil
	}

	amount, err := r.evaluateAmount(op.Amount)
	if err != nil {
		return nil, err
	}

	if spark.Linked {
		r.enqueue(index, op.StoreAs, ledger.TransferRequest{From: from, To: to, Amount: amount, Metadata: metadata})
		return nil, nil
	}

	tr, err := r.engine.ledger.Transfer(ctx, from, to, amount, metadata)
	if err != nil {
		return nil, err
	}
	return string(tr.ID), nil
}

func (r *invocation) enqueue(index int, storeAs string, req ledger.TransferRequest) {
	r.batch = append(r.batch, req)
	r.batchSlots = append(r.batchSlots, batchSlot{index: index, storeAs: storeAs})
}

// commitBatch posts a linked spark's accumulated transfers atomically,
// then its blob writes. Transfer ids become visible in stored results
// only after the commit.
func (r *invocation) commitBatch(ctx context.Context, spark Spark) error {
	if !spark.Linked || len(r.batch) == 0 {
		return nil
	}

	transfers, err := r.engine.ledger.LinkedBatch(ctx, r.batch)
	if err != nil {
		return err
	}
	for i, tr := range transfers {
		slot := r.batchSlots[i]
		r.store(slot.index, slot.storeAs, string(tr.ID))
	}

	for _, w := range r.blobWrites {
		if _, err := r.engine.blobs.Put(ctx, w.account, w.content); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// BALANCE AND METADATA STEPS
// =============================================================================

func (r *invocation) balanceStep(ctx context.Context, op Operation) (any, error) {
	account := r.interpolate(op.Account)

	balance, err := r.engine.ledger.Balance(ctx, account)
	if err != nil {
		return nil, err
	}

	if op.Blob {
		// Text read: the ledger reference gates existence, the blob
		// store supplies content.
		if balance <= 0 {
			return nil, nil
		}
		rec, err := r.engine.blobs.Get(ctx, account)
		if err == ledger.ErrNotFound {
			// The reference says content exists; its absence is a
			// divergence, not an empty value.
			return nil, &ledger.ConflictError{
				Account: account,
				Detail:  "ledger reference has no stored content",
			}
		}
		if err != nil {
			return nil, err
		}
		return rec.Content, nil
	}

	if op.Condition != "" {
		if err := checkCondition(account, balance, op.Condition); err != nil {
			return nil, err
		}
	}
	return balance, nil
}

func checkCondition(account string, balance int64, condition string) error {
	switch {
	case condition == "> 0":
		if balance <= 0 {
			return fmt.Errorf("%w: %s = %d (want > 0)", ErrConditionFailed, account, balance)
		}
	case strings.HasPrefix(condition, "== "):
		expected, err := strconv.ParseInt(strings.TrimSpace(condition[3:]), 10, 64)
		if err != nil {
			return fmt.Errorf("condition %q: %w", condition, ledger.ErrInvalidExpression)
		}
		if balance != expected {
			return fmt.Errorf("%w: %s = %d (want %d)", ErrConditionFailed, account, balance, expected)
		}
	case strings.HasPrefix(condition, ">= "):
		min, err := strconv.ParseInt(strings.TrimSpace(condition[3:]), 10, 64)
		if err != nil {
			return fmt.Errorf("condition %q: %w", condition, ledger.ErrInvalidExpression)
		}
		if balance < min {
			return fmt.Errorf("%w: %s = %d (want >= %d)", ErrConditionFailed, account, balance, min)
		}
	default:
		return fmt.Errorf("condition %q: %w", condition, ledger.ErrInvalidExpression)
	}
	return nil
}

// metadataStep returns the named metadata field from the most recent
// transfer touching the account that carries it.
func (r *invocation) metadataStep(ctx context.Context, op Operation) (any, error) {
	account := r.interpolate(op.Account)
	field := r.interpolate(op.Field)

	history, err := r.engine.ledger.History(ctx, account, metadataHistoryDepth)
	if err != nil {
		return nil, err
	}
	for _, tr := range history {
		if value, ok := tr.Metadata[field]; ok {
			return value, nil
		}
	}
	return nil, fmt.Errorf("metadata %q on %s: %w", field, account, ledger.ErrNotFound)
}

// =============================================================================
// INTERPOLATION AND EXPRESSIONS
// =============================================================================

// interpolate substitutes every {name} placeholder. Stored results are
// applied before inputs, so they shadow inputs of the same name.
func (r *invocation) interpolate(template string) string {
	result := template
	for key, value := range r.stored {
		result = strings.ReplaceAll(result, "{"+key+"}", valueString(value))
	}
	for key, value := range r.inputs {
		result = strings.ReplaceAll(result, "{"+key+"}", valueString(value))
	}
	return result
}

func (r *invocation) interpolateMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		out[key] = r.interpolate(value)
	}
	return out
}

// evaluateAmount resolves a transfer amount expression: a literal number,
// a boolean, hash(x), timestamp(), or an interpolated string that must
// parse as an integer.
func (r *invocation) evaluateAmount(expr any) (int64, error) {
	switch v := expr.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("amount %q: %w", v.String(), ledger.ErrInvalidExpression)
		}
		return n, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		interpolated := r.interpolate(v)
		switch {
		case strings.HasPrefix(interpolated, "hash(") && strings.HasSuffix(interpolated, ")"):
			return ledger.HashString(interpolated[5 : len(interpolated)-1]), nil
		case interpolated == "timestamp()":
			return ledger.Timestamp(), nil
		case interpolated == "true":
			return 1, nil
		case interpolated == "false":
			return 0, nil
		}
		n, err := strconv.ParseInt(interpolated, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q: %w", interpolated, ledger.ErrInvalidExpression)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("amount type %T: %w", expr, ledger.ErrInvalidExpression)
	}
}

// valueString renders an input or stored value for interpolation.
func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integers without a
		// fractional part.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		body, _ := json.Marshal(t)
		return string(body)
	}
}
