package chainmaker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"censustwin/config"
	"censustwin/contract"

	"chainmaker.org/chainmaker/pb-go/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	cm := &ChainMakerConfig{ChainID: "chain1", ContractName: "census_contract"}
	cm.SetDefaults()
	return &Client{cfg: &config.BlockchainConfig{TimeoutSeconds: 10}, cm: cm}
}

func TestLoadChainMakerConfig(t *testing.T) {
	cfg, err := LoadChainMakerConfig("../../../config/clients/chainmaker.yml")
	require.NoError(t, err)
	assert.Equal(t, "census_contract", cfg.ContractName)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, 10, cfg.Nodes[0].ConnCount)

	path := filepath.Join(t.TempDir(), "cm.yml")
	require.NoError(t, os.WriteFile(path, []byte("chain_id: chain1\norg_id: org1\n"), 0o600))
	_, err = LoadChainMakerConfig(path)
	assert.ErrorContains(t, err, "contract_name is required")
}

func TestParams_AppendsCallerAfterSortedArgs(t *testing.T) {
	c := testClient()
	kvs, err := c.params(contract.Identity{AuthorityID: "CensusAuthorityMSP", IdentityID: "enumerator-7"},
		map[string]string{"record_id": "REC1", "data_hash": "h1"})
	require.NoError(t, err)

	var keys []string
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
	}
	assert.Equal(t, []string{"data_hash", "record_id", "caller_authority_id", "caller_identity_id"}, keys)
	assert.Equal(t, "enumerator-7", string(kvs[3].Value))

	_, err = c.params(contract.Identity{AuthorityID: "CensusAuthorityMSP"}, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)
}

func TestResult(t *testing.T) {
	c := testClient()

	res, err := c.result(contract.FnInitializeRecord, &common.TxResponse{
		Code:           common.TxStatusCode_SUCCESS,
		TxId:           "tx1",
		TxBlockHeight:  7,
		ContractResult: &common.ContractResult{Result: []byte("tx1")},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.BlockHeight)
	assert.Equal(t, "tx1", res.TransactionID)

	_, err = c.result(contract.FnInitializeRecord, &common.TxResponse{
		Code:           common.TxStatusCode_CONTRACT_FAIL,
		ContractResult: &common.ContractResult{Message: contract.EncodeError(fmt.Errorf("%w: record REC1", contract.ErrAlreadyExists))},
	})
	assert.ErrorIs(t, err, contract.ErrAlreadyExists)

	_, err = c.result(contract.FnInitializeRecord, &common.TxResponse{Code: common.TxStatusCode_TIMEOUT, Message: "timeout"})
	assert.ErrorIs(t, err, contract.ErrFatal)

	_, err = c.result(contract.FnGetRecord, &common.TxResponse{Code: common.TxStatusCode_SUCCESS})
	assert.ErrorIs(t, err, contract.ErrFatal)
}

func TestTimeoutSeconds(t *testing.T) {
	c := testClient()
	assert.Equal(t, int64(10), c.timeoutSeconds(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second+500*time.Millisecond)
	defer cancel()
	assert.Equal(t, int64(3), c.timeoutSeconds(ctx))

	c.cfg.TimeoutSeconds = 0
	assert.Equal(t, int64(-1), c.timeoutSeconds(context.Background()))
}

func TestCountJSONArray(t *testing.T) {
	n, err := countJSONArray([]byte(`[{"a":1},{"b":2}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = countJSONArray([]byte(`{}`))
	assert.Error(t, err)
}
