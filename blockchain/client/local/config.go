package local

import (
	"fmt"
	"os"
	"path/filepath"

	"censustwin/config"

	"gopkg.in/yaml.v2"
)

// Backend names accepted in clients/local.yml
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// LocalConfig stores settings for the in-process ledger runtime
type LocalConfig struct {
	Backend      string                `yaml:"backend"` // memory or postgres
	Database     config.DatabaseConfig `yaml:"database"`
	Channel      string                `yaml:"channel"`
	ContractName string                `yaml:"contract_name"`
}

// SetDefaults fills in the backend and the names reported by the status endpoint
func (c *LocalConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
		fmt.Printf("Warning: backend not set, defaulting to %s\n", c.Backend)
	}
	if c.Channel == "" {
		c.Channel = "census-channel"
	}
	if c.ContractName == "" {
		c.ContractName = "census-contract"
	}
	if c.Backend == BackendPostgres {
		c.Database.SetDefaults()
	}
}

// Validate checks the selected backend is usable
func (c *LocalConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendPostgres:
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database configuration error: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported local backend: %s", c.Backend)
	}
}

// LoadLocalConfig loads local runtime configuration from the specified YAML file path
func LoadLocalConfig(path string) (*LocalConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of local config file: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read local config file '%s': %w", absPath, err)
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse local YAML config file: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
