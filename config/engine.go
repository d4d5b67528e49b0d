package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// KafkaConsumerConfig defines the queue of contract invocations read by the engine
type KafkaConsumerConfig struct {
	Brokers           []string `yaml:"brokers"`            // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic             string   `yaml:"topic"`              // invocation topic
	GroupID           string   `yaml:"group_id"`           // consumer group
	Count             int      `yaml:"count"`              // number of consumers to create
	SessionTimeout    string   `yaml:"session_timeout"`    //
	HeartbeatInterval string   `yaml:"heartbeat_interval"` //
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`  // earliest/latest
	UseMock           bool     `yaml:"use_mock"`           // replay built-in invocations instead of Kafka
	RetryTopic        string   `yaml:"retry_topic"`        // NACKed invocations are requeued here, defaults to topic
}

// SetDefaults sets reasonable default values for Kafka consumer configuration
func (c *KafkaConsumerConfig) SetDefaults() {
	if c.Count <= 0 {
		c.Count = 1
		fmt.Printf("Warning: kafka_consumer.count not set or invalid, defaulting to %d\n", c.Count)
	}
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
		fmt.Printf("Warning: kafka_consumer.session_timeout not set, defaulting to %s\n", c.SessionTimeout)
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "3s"
		fmt.Printf("Warning: kafka_consumer.heartbeat_interval not set, defaulting to %s\n", c.HeartbeatInterval)
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
		fmt.Printf("Warning: kafka_consumer.auto_offset_reset not set, defaulting to %s\n", c.AutoOffsetReset)
	}
	if c.RetryTopic == "" && c.Topic != "" {
		c.RetryTopic = c.Topic
		fmt.Printf("Warning: kafka_consumer.retry_topic not set, defaulting to %s\n", c.RetryTopic)
	}
}

// Validate checks the consumer can be built
func (c *KafkaConsumerConfig) Validate() error {
	if c.UseMock {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka_consumer.brokers is required")
	}
	if c.Topic == "" || c.GroupID == "" {
		return fmt.Errorf("kafka_consumer.topic and kafka_consumer.group_id are required")
	}
	return nil
}

// WorkerConfig defines how invocations are executed against the ledger
type WorkerConfig struct {
	Concurrency        int           `yaml:"concurrency"`          // workers per consumer
	ConsumerRetryDelay time.Duration `yaml:"consumer_retry_delay"` // pause after a consumer error
	LedgerTimeout      time.Duration `yaml:"ledger_timeout"`       // per-invocation deadline
	MaxConflictRetries int           `yaml:"max_conflict_retries"` // in-process resubmits on MVCC conflict
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
		fmt.Printf("Warning: worker.concurrency not set or invalid, defaulting to %d\n", c.Concurrency)
	}
	if c.ConsumerRetryDelay <= 0 {
		c.ConsumerRetryDelay = 5 * time.Second
		fmt.Printf("Warning: worker.consumer_retry_delay not set, defaulting to %s\n", c.ConsumerRetryDelay)
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 15 * time.Second
		fmt.Printf("Warning: worker.ledger_timeout not set, defaulting to %s\n", c.LedgerTimeout)
	}
	if c.MaxConflictRetries < 0 {
		c.MaxConflictRetries = 0
	}
}

// EngineConfig defines all configuration for the invocation engine
type EngineConfig struct {
	KafkaConsumer KafkaConsumerConfig `yaml:"kafka_consumer"`
	Worker        WorkerConfig        `yaml:"worker"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Tracing       TracingConfig       `yaml:"tracing"`

	BlockchainClientConfigPath string `yaml:"blockchain_client_config_path"`
}

// LoadEngineConfig loads configuration from the specified YAML file path
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	cfg.KafkaConsumer.SetDefaults()
	cfg.Worker.SetDefaults()
	cfg.Monitoring.SetDefaults()
	cfg.Tracing.SetDefaults("censustwin-engine")

	if err := cfg.Tracing.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.KafkaConsumer.Validate(); err != nil {
		return nil, fmt.Errorf("kafka consumer configuration error: %w", err)
	}
	if cfg.BlockchainClientConfigPath == "" {
		return nil, fmt.Errorf("configuration error: blockchain_client_config_path is required")
	}

	return &cfg, nil
}
