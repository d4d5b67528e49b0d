package local

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"

	"censustwin/config"
	"censustwin/contract"
	"censustwin/ledger"
	"censustwin/ledger/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var caller = contract.Identity{AuthorityID: "CensusAuthorityMSP", IdentityID: "enumerator-7"}

// conflictingStore fails the first n commits with an MVCC conflict.
type conflictingStore struct {
	*memory.Store
	remaining atomic.Int32
	attempts  atomic.Int32
}

func (s *conflictingStore) Apply(ctx context.Context, c *ledger.Commit) (uint64, error) {
	s.attempts.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return 0, ledger.ErrMVCCConflict
	}
	return s.Store.Apply(ctx, c)
}

func newTestClient(backend ledger.Backend, retryLimit int) *Client {
	logger := log.New(io.Discard, "", 0)
	cfg := &config.BlockchainConfig{BlockchainType: "local", RetryLimit: retryLimit, RetryInterval: 1, TimeoutSeconds: 5}
	return NewClient(ledger.NewRuntime(backend, logger), cfg, logger)
}

func initArgs(recordID string) map[string]string {
	return map[string]string{
		contract.ParamRecordID: recordID, contract.ParamDataHash: "h1", contract.ParamMetadata: "{}",
	}
}

func TestSubmitTransaction_ResubmitsOnConflict(t *testing.T) {
	store := &conflictingStore{Store: memory.New()}
	store.remaining.Store(2)
	c := newTestClient(store, 3)

	res, err := c.SubmitTransaction(context.Background(), caller, contract.FnInitializeRecord, initArgs("REC1"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.attempts.Load())
	assert.Equal(t, uint64(1), res.BlockHeight)
	assert.Equal(t, res.TransactionID, string(res.Payload))
}

func TestSubmitTransaction_GivesUpAfterRetryLimit(t *testing.T) {
	store := &conflictingStore{Store: memory.New()}
	store.remaining.Store(10)
	c := newTestClient(store, 2)

	_, err := c.SubmitTransaction(context.Background(), caller, contract.FnInitializeRecord, initArgs("REC1"))
	assert.ErrorIs(t, err, ledger.ErrMVCCConflict)
	assert.Equal(t, int32(3), store.attempts.Load())
}

func TestSubmitTransaction_ContractErrorsAreNotRetried(t *testing.T) {
	store := &conflictingStore{Store: memory.New()}
	c := newTestClient(store, 3)

	_, err := c.SubmitTransaction(context.Background(), caller, contract.FnInitializeRecord, initArgs("REC1"))
	require.NoError(t, err)
	_, err = c.SubmitTransaction(context.Background(), caller, contract.FnInitializeRecord, initArgs("REC1"))
	assert.ErrorIs(t, err, contract.ErrAlreadyExists)
	assert.Equal(t, int32(1), store.attempts.Load())
}

func TestStatsAndDescribe(t *testing.T) {
	c := newTestClient(memory.New(), 0)
	ctx := context.Background()

	_, err := c.SubmitTransaction(ctx, caller, contract.FnInitializeRecord, initArgs("REC1"))
	require.NoError(t, err)
	_, err = c.SubmitTransaction(ctx, caller, contract.FnInitializeRecord, initArgs("REC2"))
	require.NoError(t, err)
	_, err = c.SubmitTransaction(ctx, caller, contract.FnLogAccess, map[string]string{
		contract.ParamRecordID: "REC1", contract.ParamAccessorID: "auditor-1", contract.ParamReason: "spot check",
	})
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordsCount)
	assert.Equal(t, 3, stats.LogsCount)

	desc := c.Describe()
	assert.Equal(t, "local", desc.Mode)
	assert.Equal(t, "census-channel", desc.Channel)
	assert.Equal(t, "census-contract", desc.Contract)
	require.NoError(t, c.Close())
}

func TestLocalConfig_Validate(t *testing.T) {
	cfg := &LocalConfig{Backend: "sqlite"}
	assert.ErrorContains(t, cfg.Validate(), "unsupported local backend")

	cfg = &LocalConfig{Backend: BackendPostgres}
	cfg.SetDefaults()
	assert.ErrorContains(t, cfg.Validate(), "DSN is required")

	cfg, err := LoadLocalConfig("../../../config/clients/local.yml")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
}
