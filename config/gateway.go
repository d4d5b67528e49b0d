package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// KafkaProducerConfig configures the publisher of committed ledger events and queued invocations
type KafkaProducerConfig struct {
	Brokers          []string `yaml:"brokers"`           // empty disables the producer
	EventsTopic      string   `yaml:"events_topic"`      // committed ledger events; empty disables event publishing
	InvocationsTopic string   `yaml:"invocations_topic"` // queued invocations for the engine; empty disables queueing

	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BatchBytes   int           `yaml:"batch_bytes"`

	RequiredAcks string `yaml:"required_acks"` // none, one, all
	Async        bool   `yaml:"async"`

	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// Enabled reports whether a broker list was configured
func (c *KafkaProducerConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// InvocationQueueConfig controls batching of invocations queued for the engine
type InvocationQueueConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	FlushChannelBuffer int           `yaml:"flush_channel_buffer"`
}

// SetDefaults sets batching defaults
func (c *InvocationQueueConfig) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
		fmt.Printf("Warning: invocation_queue.batch_size not set or invalid, defaulting to %d\n", c.BatchSize)
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 200 * time.Millisecond
		fmt.Printf("Warning: invocation_queue.batch_timeout not set, defaulting to %s\n", c.BatchTimeout)
	}
	if c.FlushChannelBuffer <= 0 {
		c.FlushChannelBuffer = 16
	}
}

// HttpServerConfig defines HTTP server configuration
type HttpServerConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// SetDefaults fills zero timeouts
func (c *HttpServerConfig) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = 1 << 20 // 1 MB
	}
}

// IdentityConfig controls how the caller identity is read from inbound requests.
// Authentication happens upstream; the gateway trusts these headers.
type IdentityConfig struct {
	AuthorityHeader    string `yaml:"authority_header"`
	IdentityHeader     string `yaml:"identity_header"`
	DefaultAuthorityID string `yaml:"default_authority_id"` // used when the authority header is absent
}

// SetDefaults sets header names
func (c *IdentityConfig) SetDefaults() {
	if c.AuthorityHeader == "" {
		c.AuthorityHeader = "X-Authority-ID"
		fmt.Printf("Warning: identity.authority_header not set, defaulting to %s\n", c.AuthorityHeader)
	}
	if c.IdentityHeader == "" {
		c.IdentityHeader = "X-Identity-ID"
		fmt.Printf("Warning: identity.identity_header not set, defaulting to %s\n", c.IdentityHeader)
	}
}

// MonitoringConfig defines metrics and health endpoints
type MonitoringConfig struct {
	EnableMetrics   bool   `yaml:"enable_metrics"`
	MetricsPath     string `yaml:"metrics_path"`
	MetricsAddr     string `yaml:"metrics_addr"` // engine only; the gateway serves metrics on its HTTP listener
	HealthCheckPath string `yaml:"health_check_path"`
}

// SetDefaults sets reasonable default values for monitoring configuration
func (c *MonitoringConfig) SetDefaults() {
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
		fmt.Printf("Warning: monitoring.metrics_path not set, defaulting to %s\n", c.MetricsPath)
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
		fmt.Printf("Warning: monitoring.health_check_path not set, defaulting to %s\n", c.HealthCheckPath)
	}
}

// GatewayConfig defines all configuration for the ledger gateway
type GatewayConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`

	KafkaProducer   KafkaProducerConfig   `yaml:"kafka_producer"`
	InvocationQueue InvocationQueueConfig `yaml:"invocation_queue"`
	HttpServer      HttpServerConfig      `yaml:"http_server"`
	Identity        IdentityConfig        `yaml:"identity"`
	Monitoring      MonitoringConfig      `yaml:"monitoring"`
	Tracing         TracingConfig         `yaml:"tracing"`

	BlockchainClientConfigPath string `yaml:"blockchain_client_config_path"`
}

// LoadGatewayConfig loads gateway configuration from the specified YAML file path
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config file '%s': %w", path, err)
	}

	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gateway YAML config file: %w", err)
	}

	cfg.HttpServer.SetDefaults()
	cfg.InvocationQueue.SetDefaults()
	cfg.Identity.SetDefaults()
	cfg.Monitoring.SetDefaults()
	cfg.Tracing.SetDefaults("censustwin-gateway")

	if err := cfg.Tracing.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if cfg.HttpListenAddr == "" && cfg.GrpcListenAddr == "" {
		return nil, fmt.Errorf("configuration error: at least one of http_listen_addr or grpc_listen_addr must be configured")
	}
	if cfg.BlockchainClientConfigPath == "" {
		return nil, fmt.Errorf("configuration error: blockchain_client_config_path is required")
	}
	if cfg.KafkaProducer.Enabled() && cfg.KafkaProducer.EventsTopic == "" && cfg.KafkaProducer.InvocationsTopic == "" {
		return nil, fmt.Errorf("configuration error: kafka_producer needs events_topic or invocations_topic when brokers are set")
	}

	return &cfg, nil
}
