package blockchain

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"censustwin/blockchain/client/chainmaker"
	"censustwin/blockchain/client/local"
	"censustwin/config"
	"censustwin/ledger"
)

// BlockchainType represents the type of ledger client
type BlockchainType string

const (
	Local      BlockchainType = "local"
	ChainMaker BlockchainType = "chainmaker"
)

var (
	_ LedgerClient = (*local.Client)(nil)
	_ LedgerClient = (*chainmaker.Client)(nil)
)

// LoadChainSpecificConfig loads clients/<type>.yml relative to configDir
func LoadChainSpecificConfig(blockchainType string, configDir string) (any, error) {
	switch BlockchainType(blockchainType) {
	case Local, "":
		return local.LoadLocalConfig(filepath.Join(configDir, "clients", "local.yml"))
	case ChainMaker:
		return chainmaker.LoadChainMakerConfig(filepath.Join(configDir, "clients", "chainmaker.yml"))
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", blockchainType)
	}
}

// NewLedgerClient creates a ledger client based on the configuration. sink receives committed
// contract events from the local runtime; ChainMaker emits its events on chain and ignores it.
func NewLedgerClient(ctx context.Context, cfg *config.BlockchainConfig, sink ledger.EventSink, logger *log.Logger) (LedgerClient, error) {
	switch BlockchainType(cfg.BlockchainType) {
	case Local, "":
		return local.NewLocalClient(ctx, cfg, sink, logger)
	case ChainMaker:
		return chainmaker.NewChainMakerClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", cfg.BlockchainType)
	}
}

// NewLedgerClientFromFile creates a ledger client from configuration files
func NewLedgerClientFromFile(ctx context.Context, configPath string, sink ledger.EventSink, logger *log.Logger) (LedgerClient, error) {
	cfg, err := config.LoadBlockchainConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load common config from file '%s': %w", configPath, err)
	}

	chainSpecificCfg, err := LoadChainSpecificConfig(cfg.BlockchainType, filepath.Dir(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load chain-specific config: %w", err)
	}

	cfg.ChainSpecific = chainSpecificCfg
	return NewLedgerClient(ctx, cfg, sink, logger)
}
