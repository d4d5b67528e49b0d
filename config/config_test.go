package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_SampleDirectory(t *testing.T) {
	cfg, err := LoadConfig(".")
	require.NoError(t, err)
	require.NotNil(t, cfg.Gateway)
	require.NotNil(t, cfg.Engine)
	require.NotNil(t, cfg.Blockchain)

	assert.Equal(t, ":8080", cfg.Gateway.HttpListenAddr)
	assert.Equal(t, 200*time.Millisecond, cfg.Gateway.InvocationQueue.BatchTimeout)
	assert.False(t, cfg.Gateway.KafkaProducer.Enabled())
	assert.Equal(t, "CensusAuthorityMSP", cfg.Gateway.Identity.DefaultAuthorityID)

	assert.True(t, cfg.Engine.KafkaConsumer.UseMock)
	assert.Equal(t, 3, cfg.Engine.Worker.MaxConflictRetries)
	assert.Equal(t, 15*time.Second, cfg.Engine.Worker.LedgerTimeout)

	assert.Equal(t, "local", cfg.Blockchain.BlockchainType)
	assert.Equal(t, 3, cfg.Blockchain.RetryLimit)
}

func TestLoadConfig_MissingFilesLeaveNil(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cfg.Gateway)
	assert.Nil(t, cfg.Engine)
	assert.Nil(t, cfg.Blockchain)
}

func TestLoadGatewayConfig_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "gateway.yml", `
http_listen_addr: ":8081"
blockchain_client_config_path: "client.yml"
tracing:
  enabled: true
`)
	cfg, err := LoadGatewayConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.HttpServer.ReadTimeout)
	assert.Equal(t, 1<<20, cfg.HttpServer.MaxHeaderBytes)
	assert.Equal(t, 100, cfg.InvocationQueue.BatchSize)
	assert.Equal(t, "X-Authority-ID", cfg.Identity.AuthorityHeader)
	assert.Equal(t, "X-Identity-ID", cfg.Identity.IdentityHeader)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)
	assert.Equal(t, "censustwin-gateway", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)
}

func TestLoadGatewayConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no listener",
			content: `blockchain_client_config_path: "client.yml"`,
			wantErr: "http_listen_addr or grpc_listen_addr",
		},
		{
			name:    "no client config",
			content: `grpc_listen_addr: ":9090"`,
			wantErr: "blockchain_client_config_path is required",
		},
		{
			name: "producer without topics",
			content: `
grpc_listen_addr: ":9090"
blockchain_client_config_path: "client.yml"
kafka_producer:
  brokers: ["localhost:9092"]
`,
			wantErr: "events_topic or invocations_topic",
		},
		{
			name: "sampling rate out of range",
			content: `
grpc_listen_addr: ":9090"
blockchain_client_config_path: "client.yml"
tracing:
  enabled: true
  sampling_rate: 1.5
`,
			wantErr: "sampling_rate",
		},
		{
			name:    "bad yaml",
			content: "http_listen_addr: [",
			wantErr: "failed to parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "gateway.yml", tt.content)
			_, err := LoadGatewayConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEngineConfig(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "engine.yml", `
blockchain_client_config_path: "client.yml"
kafka_consumer:
  use_mock: true
worker:
  max_conflict_retries: -2
`)
	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.KafkaConsumer.Count)
	assert.Equal(t, "earliest", cfg.KafkaConsumer.AutoOffsetReset)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Worker.ConsumerRetryDelay)
	assert.Zero(t, cfg.Worker.MaxConflictRetries)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.Tracing.ServiceName)

	path = writeFile(t, dir, "kafka.yml", `
blockchain_client_config_path: "client.yml"
kafka_consumer:
  brokers: ["localhost:9092"]
`)
	_, err = LoadEngineConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic and kafka_consumer.group_id are required")

	path = writeFile(t, dir, "retry.yml", `
blockchain_client_config_path: "client.yml"
kafka_consumer:
  brokers: ["localhost:9092"]
  topic: "census-invocations"
  group_id: "census-engine"
`)
	cfg, err = LoadEngineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "census-invocations", cfg.KafkaConsumer.RetryTopic)

	_, err = LoadEngineConfig(filepath.Join(dir, "absent.yml"))
	require.Error(t, err)
}

func TestDatabaseConfig_Validate(t *testing.T) {
	cfg := DatabaseConfig{}
	cfg.SetDefaults()
	assert.Equal(t, 20, cfg.MaxConnections)
	assert.Equal(t, 2, cfg.MinConnections)
	assert.EqualError(t, cfg.Validate(), "database DSN is required")

	cfg.DSN = "postgres://localhost/census"
	require.NoError(t, cfg.Validate())

	cfg.MinConnections = 30
	assert.ErrorContains(t, cfg.Validate(), "cannot be greater than")
}

func TestLoadBlockchainConfig_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.yml", "retry_limit: 2\n")
	cfg, err := LoadBlockchainConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.BlockchainType)
	assert.Equal(t, 15, cfg.TimeoutSeconds)
	assert.Equal(t, 2, cfg.RetryLimit)
}
