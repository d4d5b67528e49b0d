// Package ledger hosts contract invocations on a versioned world-state backend. Every invocation runs
// to completion against its own read-set and write-set; the write-set is applied atomically at commit
// time if none of the keys it read have changed (optimistic MVCC), otherwise nothing is written.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"censustwin/contract"

	"github.com/google/uuid"
)

// Result is the outcome of a committed (or evaluated) invocation.
type Result struct {
	TxID        string
	BlockHeight uint64 // zero for evaluate transactions
	Payload     []byte
}

// InvokeFunc is the body of one invocation.
type InvokeFunc func(tx *TxContext) ([]byte, error)

// Runtime executes invocations against a Backend.
type Runtime struct {
	backend Backend
	sink    EventSink
	logger  *log.Logger
	now     func() time.Time
	newTxID func() string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithEventSink hands committed events to sink.
func WithEventSink(sink EventSink) Option {
	return func(r *Runtime) { r.sink = sink }
}

// WithClock overrides the source of transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithTxIDGenerator overrides transaction id generation.
func WithTxIDGenerator(gen func() string) Option {
	return func(r *Runtime) { r.newTxID = gen }
}

// NewRuntime creates a Runtime over backend.
func NewRuntime(backend Backend, logger *log.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		newTxID: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the underlying store.
func (r *Runtime) Backend() Backend { return r.backend }

// Submit executes fn and commits its write-set atomically. If fn fails or the commit conflicts,
// nothing is written and no event is published.
func (r *Runtime) Submit(ctx context.Context, caller contract.Identity, fn InvokeFunc) (*Result, error) {
	tx := r.begin(ctx, caller, false)
	payload, err := fn(tx)
	if err != nil {
		return nil, err
	}

	height, err := r.backend.Apply(ctx, tx.commit())
	if err != nil {
		if errors.Is(err, ErrMVCCConflict) {
			return nil, fmt.Errorf("tx %s: %w", tx.txID, err)
		}
		return nil, &contract.FatalError{Op: "commit tx " + tx.txID, Err: err}
	}

	if tx.event != nil && r.sink != nil {
		ev := *tx.event
		ev.BlockHeight = height
		if err := r.sink.Publish(ctx, ev); err != nil {
			// The transaction is already committed; the event is lost, not the write.
			r.logger.Printf("Failed to publish event %s for tx %s: %v", ev.Name, ev.TxID, err)
		}
	}
	return &Result{TxID: tx.txID, BlockHeight: height, Payload: payload}, nil
}

// Evaluate executes fn without committing. Any write attempt fails with ErrReadOnly.
func (r *Runtime) Evaluate(ctx context.Context, caller contract.Identity, fn InvokeFunc) (*Result, error) {
	tx := r.begin(ctx, caller, true)
	payload, err := fn(tx)
	if err != nil {
		return nil, err
	}
	return &Result{TxID: tx.txID, Payload: payload}, nil
}

// Invoke runs a named contract function, as a submit or an evaluate transaction depending on
// whether the function is read-only.
func (r *Runtime) Invoke(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*Result, error) {
	fn, err := contract.Lookup(function)
	if err != nil {
		return nil, err
	}
	body := func(tx *TxContext) ([]byte, error) {
		return contract.Invoke(tx, function, args)
	}
	if fn.ReadOnly {
		return r.Evaluate(ctx, caller, body)
	}
	return r.Submit(ctx, caller, body)
}

func (r *Runtime) begin(ctx context.Context, caller contract.Identity, readOnly bool) *TxContext {
	// The timestamp is fixed before execution so the contract never reads a local clock.
	return newTxContext(ctx, r.backend, r.newTxID(), r.now().UTC(), caller, readOnly)
}
