package chainmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"censustwin/blockchain/types"
	"censustwin/config"
	"censustwin/contract"

	"chainmaker.org/chainmaker/pb-go/v2/common"
	sdk "chainmaker.org/chainmaker/sdk-go/v2"
)

// Client is the wrapper around the ChainMaker SDK client. It calls the census contract deployed
// under ContractName; the contract returns errors as "CODE: message" in the result message.
type Client struct {
	sdkClient *sdk.ChainClient
	cfg       *config.BlockchainConfig
	cm        *ChainMakerConfig
	logger    *log.Logger
}

// NewChainMakerClient initializes the ChainMaker SDK client with the combined configuration
func NewChainMakerClient(cfg *config.BlockchainConfig, logger *log.Logger) (*Client, error) {
	logger.Println("Initializing ChainMaker SDK client...")

	chainmakerCfg, ok := cfg.ChainSpecific.(*ChainMakerConfig)
	if !ok {
		return nil, fmt.Errorf("invalid ChainMaker configuration type")
	}

	clientOptions := []sdk.ChainClientOption{
		sdk.WithChainClientOrgId(chainmakerCfg.OrgID),
		sdk.WithChainClientChainId(chainmakerCfg.ChainID),
		sdk.WithUserKeyFilePath(chainmakerCfg.UserKeyPath),
		sdk.WithUserCrtFilePath(chainmakerCfg.UserCertPath),
		sdk.WithUserSignKeyFilePath(chainmakerCfg.UserSignKeyPath),
		sdk.WithUserSignCrtFilePath(chainmakerCfg.UserSignCertPath),
	}

	for _, nodeCfg := range chainmakerCfg.Nodes {
		if nodeCfg.UseTLS && len(nodeCfg.CaPaths) == 0 {
			return nil, fmt.Errorf("node %s has TLS enabled but no CaPaths provided", nodeCfg.Address)
		}
		sdkNodeConfig := sdk.NewNodeConfig(
			sdk.WithNodeAddr(nodeCfg.Address),
			sdk.WithNodeConnCnt(nodeCfg.ConnCount),
			sdk.WithNodeUseTLS(nodeCfg.UseTLS),
			sdk.WithNodeCAPaths(nodeCfg.CaPaths),
			sdk.WithNodeTLSHostName(nodeCfg.TLSHostName),
		)
		clientOptions = append(clientOptions, sdk.AddChainClientNodeConfig(sdkNodeConfig))
	}

	if cfg.RetryLimit > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryLimit(cfg.RetryLimit))
	}
	if cfg.RetryInterval > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryInterval(cfg.RetryInterval))
	}

	client, err := sdk.NewChainClient(clientOptions...)
	if err != nil {
		logger.Printf("Failed to build ChainMaker SDK client: %v\n", err)
		return nil, err
	}

	if err := client.EnableCertHash(); err != nil {
		logger.Printf("Warning: Failed to enable cert hash: %v\n", err)
	}

	logger.Printf("ChainMaker SDK client initialized (chain: %s, contract: %s).", chainmakerCfg.ChainID, chainmakerCfg.ContractName)

	return &Client{sdkClient: client, cfg: cfg, cm: chainmakerCfg, logger: logger}, nil
}

// Config returns the configuration associated with the client.
func (c *Client) Config() any {
	return c.cm
}

// Close stops the SDK client
func (c *Client) Close() error {
	c.logger.Println("Closing ChainMaker SDK client...")
	if err := c.sdkClient.Stop(); err != nil {
		c.logger.Printf("Error stopping ChainMaker SDK client: %v", err)
		return fmt.Errorf("failed to stop ChainMaker SDK client: %w", err)
	}
	return nil
}

// SubmitTransaction invokes the contract and waits for the transaction result
func (c *Client) SubmitTransaction(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error) {
	kvs, err := c.params(caller, args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.sdkClient.InvokeContract(c.cm.ContractName, function, "", kvs, c.timeoutSeconds(ctx), true)
	if err != nil {
		return nil, &contract.FatalError{Op: "invoke " + function, Err: err}
	}
	return c.result(function, resp)
}

// EvaluateTransaction queries the contract without creating a transaction
func (c *Client) EvaluateTransaction(ctx context.Context, caller contract.Identity, function string, args map[string]string) (*types.TxResult, error) {
	kvs, err := c.params(caller, args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.sdkClient.QueryContract(c.cm.ContractName, function, kvs, c.timeoutSeconds(ctx))
	if err != nil {
		return nil, &contract.FatalError{Op: "query " + function, Err: err}
	}
	res, err := c.result(function, resp)
	if err != nil {
		return nil, err
	}
	res.BlockHeight = 0
	return res, nil
}

// Stats counts records by querying every status. Access logs are keyed per record on chain and
// cannot be counted without a full scan, so LogsCount stays zero.
func (c *Client) Stats(ctx context.Context) (*types.LedgerStats, error) {
	stats := &types.LedgerStats{}
	statuses := append([]contract.RecordStatus{contract.StatusPendingReview}, contract.Decisions...)
	for _, status := range statuses {
		kvs := []*common.KeyValuePair{{Key: contract.ParamStatus, Value: []byte(status)}}
		resp, err := c.sdkClient.QueryContract(c.cm.ContractName, contract.FnQueryByStatus, kvs, c.timeoutSeconds(ctx))
		if err != nil {
			return nil, fmt.Errorf("SDK query failed: %w", err)
		}
		res, err := c.result(contract.FnQueryByStatus, resp)
		if err != nil {
			return nil, err
		}
		n, err := countJSONArray(res.Payload)
		if err != nil {
			return nil, err
		}
		stats.RecordsCount += n
	}
	return stats, nil
}

// Describe reports the chain and contract the client is bound to
func (c *Client) Describe() types.LedgerDescription {
	return types.LedgerDescription{
		BlockchainType: "chainmaker",
		Mode:           "network",
		Channel:        c.cm.ChainID,
		Contract:       c.cm.ContractName,
	}
}

func (c *Client) params(caller contract.Identity, args map[string]string) ([]*common.KeyValuePair, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]*common.KeyValuePair, 0, len(keys)+2)
	for _, k := range keys {
		kvs = append(kvs, &common.KeyValuePair{Key: k, Value: []byte(args[k])})
	}
	kvs = append(kvs,
		&common.KeyValuePair{Key: c.cm.ParamKeyAuthorityID, Value: []byte(caller.AuthorityID)},
		&common.KeyValuePair{Key: c.cm.ParamKeyIdentityID, Value: []byte(caller.IdentityID)},
	)
	return kvs, nil
}

func (c *Client) result(function string, resp *common.TxResponse) (*types.TxResult, error) {
	if resp.Code != common.TxStatusCode_SUCCESS {
		if resp.ContractResult != nil && resp.ContractResult.Message != "" {
			return nil, contract.ErrorFromMessage(resp.ContractResult.Message)
		}
		return nil, &contract.FatalError{
			Op:  function,
			Err: fmt.Errorf("contract execution failed: %s (code: %d)", resp.Message, resp.Code),
		}
	}
	if resp.ContractResult == nil {
		return nil, &contract.FatalError{Op: function, Err: fmt.Errorf("nil contract result (tx: %s)", resp.TxId)}
	}
	return &types.TxResult{
		TransactionID: resp.TxId,
		BlockHeight:   resp.TxBlockHeight,
		Payload:       resp.ContractResult.Result,
	}, nil
}

// timeoutSeconds bounds the SDK call by the configured timeout and the context deadline.
func (c *Client) timeoutSeconds(ctx context.Context) int64 {
	timeout := int64(c.cfg.TimeoutSeconds)
	if deadline, ok := ctx.Deadline(); ok {
		if left := int64(time.Until(deadline).Seconds()); left > 0 && (timeout <= 0 || left < timeout) {
			timeout = left
		}
	}
	if timeout <= 0 {
		return -1
	}
	return timeout
}

func countJSONArray(payload []byte) (int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return 0, fmt.Errorf("failed to decode contract query result: %w", err)
	}
	return len(items), nil
}
