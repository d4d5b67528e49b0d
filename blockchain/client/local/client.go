// Package local runs the census contract in-process on a ledger.Runtime, backed by the in-memory
// store or by PostgreSQL.
package local

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"censustwin/blockchain/types"
	"censustwin/config"
	"censustwin/contract"
	"censustwin/ledger"
	"censustwin/ledger/memory"
	"censustwin/ledger/postgres"
)

// Client invokes the contract through an in-process runtime
type Client struct {
	runtime *ledger.Runtime
	cfg     *config.BlockchainConfig
	local   *LocalConfig
	logger  *log.Logger
}

// NewLocalClient opens the configured backend and wraps it in a runtime. Committed contract events
// are handed to sink, which may be nil.
func NewLocalClient(ctx context.Context, cfg *config.BlockchainConfig, sink ledger.EventSink, logger *log.Logger) (*Client, error) {
	localCfg, ok := cfg.ChainSpecific.(*LocalConfig)
	if !ok {
		return nil, fmt.Errorf("invalid local ledger configuration type")
	}

	var backend ledger.Backend
	switch localCfg.Backend {
	case BackendPostgres:
		store, err := postgres.NewPostgresStore(ctx, localCfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres world state: %w", err)
		}
		backend = store
	default:
		backend = memory.New()
	}

	var opts []ledger.Option
	if sink != nil {
		opts = append(opts, ledger.WithEventSink(sink))
	}

	logger.Printf("Local ledger runtime initialized (backend: %s, channel: %s, contract: %s)",
		localCfg.Backend, localCfg.Channel, localCfg.ContractName)

	return NewClient(ledger.NewRuntime(backend, logger, opts...), cfg, logger), nil
}

// NewClient wraps an existing runtime. cfg.ChainSpecific may be nil, in which case defaults are reported.
func NewClient(runtime *ledger.Runtime, cfg *config.BlockchainConfig, logger *log.Logger) *Client {
	localCfg, ok := cfg.ChainSpecific.(*LocalConfig)
	if !ok || localCfg == nil {
		localCfg = &LocalConfig{}
		localCfg.SetDefaults()
	}
	return &Client{runtime: runtime, cfg: cfg, local: localCfg, logger: logger}
}

// SubmitTransaction commits a contract invocation, resubmitting on MVCC conflicts up to the
// configured retry limit.
func (c *Client) SubmitTransaction(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := func(tx *ledger.TxContext) ([]byte, error) {
		return contract.Invoke(tx, function, args)
	}

	for attempt := 0; ; attempt++ {
		res, err := c.runtime.Submit(ctx, caller, body)
		if err == nil {
			return toTxResult(res), nil
		}
		if !errors.Is(err, ledger.ErrMVCCConflict) || attempt >= c.cfg.RetryLimit {
			return nil, err
		}
		c.logger.Printf("MVCC conflict on %s (attempt %d/%d), resubmitting: %v", function, attempt+1, c.cfg.RetryLimit, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(c.cfg.RetryInterval) * time.Millisecond):
		}
	}
}

// EvaluateTransaction runs a contract function without committing
func (c *Client) EvaluateTransaction(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.runtime.Evaluate(ctx, caller, func(tx *ledger.TxContext) ([]byte, error) {
		return contract.Invoke(tx, function, args)
	})
	if err != nil {
		return nil, err
	}
	return toTxResult(res), nil
}

// Stats counts records and access log entries in the world state
func (c *Client) Stats(ctx context.Context) (*types.LedgerStats, error) {
	reporter, ok := c.runtime.Backend().(ledger.StatsReporter)
	if !ok {
		return &types.LedgerStats{}, nil
	}
	counts, err := reporter.CountByDocType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count world state documents: %w", err)
	}
	return &types.LedgerStats{
		RecordsCount: counts[contract.DocTypeRecord],
		LogsCount:    counts[contract.DocTypeAccessLog],
	}, nil
}

// Describe reports the local runtime as a mock ledger
func (c *Client) Describe() types.LedgerDescription {
	return types.LedgerDescription{
		BlockchainType: "local",
		Mode:           "local",
		Channel:        c.local.Channel,
		Contract:       c.local.ContractName,
	}
}

// Config returns the configuration associated with the client
func (c *Client) Config() any {
	return c.local
}

// Close releases the backend
func (c *Client) Close() error {
	c.logger.Println("Closing local ledger runtime...")
	return c.runtime.Backend().Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.TimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
}

func toTxResult(res *ledger.Result) *types.TxResult {
	return &types.TxResult{TransactionID: res.TxID, BlockHeight: res.BlockHeight, Payload: res.Payload}
}
