package blockchain

import (
	"context"
	"errors"

	"censustwin/blockchain/types"
	"censustwin/contract"
	"censustwin/ledger"
)

// LedgerClient defines the generic interface for invoking the census contract.
// Implementations may run the contract in-process or call a deployed contract on a remote chain.
type LedgerClient interface {
	// SubmitTransaction runs a state-changing contract function and waits for it to commit
	SubmitTransaction(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error)

	// EvaluateTransaction runs a read-only contract function without committing anything
	EvaluateTransaction(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error)

	// Stats reports world-state counters
	Stats(ctx context.Context) (*types.LedgerStats, error)

	// Describe returns the connection summary reported by the ledger status endpoint
	Describe() types.LedgerDescription

	// Close closes the client and releases resources
	Close() error

	// Config returns the configuration associated with the client
	Config() any
}

// Invoke routes a named contract function to Submit or Evaluate according to the
// function's read-only flag.
func Invoke(ctx context.Context, c LedgerClient, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error) {
	fn, err := contract.Lookup(function)
	if err != nil {
		return nil, err
	}
	if fn.ReadOnly {
		return c.EvaluateTransaction(ctx, caller, function, args)
	}
	return c.SubmitTransaction(ctx, caller, function, args)
}

// Classify maps an invocation error onto an InvocationStatus.
func Classify(err error) types.InvocationStatus {
	if err == nil {
		return types.StatusSuccess
	}
	if errors.Is(err, ledger.ErrMVCCConflict) {
		return types.StatusConflict
	}
	switch contract.ErrorCode(err) {
	case contract.CodeAlreadyExists, contract.CodeNotFound, contract.CodeInvalidArgument:
		return types.StatusRejected
	}
	return types.StatusFailed
}
