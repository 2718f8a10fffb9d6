package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a configuration that passes Validate, for tests to
// break one field at a time.
func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.HTTPPort = 8080
	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = 6379
	cfg.Jobs.LockTTL = 90 * time.Second
	cfg.Jobs.HeartbeatInterval = 30 * time.Second
	cfg.Jobs.ResultTTL = 168 * time.Hour
	cfg.Pipeline.Concurrency = 8
	cfg.Pipeline.FailureThreshold = 0.5
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Anthropic.APIKey = "test-key"
	cfg.Logging.Level = "info"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.JobsTopic = "reports.jobs"
	return cfg
}

// ---------------------------------------------------------------------------
// TestLoad
// ---------------------------------------------------------------------------

// Load tests set environment variables, so they cannot run in parallel.

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REPORTGEN_LLM_ANTHROPIC_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddress())

	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)

	assert.Equal(t, 90*time.Second, cfg.Jobs.LockTTL)
	assert.Equal(t, 30*time.Second, cfg.Jobs.HeartbeatInterval)
	assert.Equal(t, 168*time.Hour, cfg.Jobs.ResultTTL)

	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.InDelta(t, 0.5, cfg.Pipeline.FailureThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Pipeline.MinCommentRunes)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.LLM.Model)
	assert.Equal(t, "test-key", cfg.LLM.Anthropic.APIKey)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "report_pipeline", cfg.Metrics.Namespace)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "reports.jobs", cfg.Kafka.JobsTopic)
	assert.Equal(t, "report-pipeline-workers", cfg.Kafka.GroupID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REPORTGEN_LLM_ANTHROPIC_API_KEY", "test-key")
	t.Setenv("REPORTGEN_SERVER_HTTP_PORT", "9090")
	t.Setenv("REPORTGEN_REDIS_HOST", "redis.internal")
	t.Setenv("REPORTGEN_JOBS_LOCK_TTL", "2m")
	t.Setenv("REPORTGEN_PIPELINE_CONCURRENCY", "16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.LockTTL)
	assert.Equal(t, 16, cfg.Pipeline.Concurrency)
}

func TestLoad_SecretsComeFromEnv(t *testing.T) {
	t.Setenv("REPORTGEN_LLM_PROVIDER", "openai")
	t.Setenv("REPORTGEN_LLM_OPENAI_API_KEY", "openai-key")
	t.Setenv("REPORTGEN_REDIS_PASSWORD", "redis-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai-key", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "redis-secret", cfg.Redis.Password)
}

func TestLoad_MissingProviderKeyFails(t *testing.T) {
	t.Setenv("REPORTGEN_LLM_ANTHROPIC_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPORTGEN_LLM_ANTHROPIC_API_KEY")
}

// ---------------------------------------------------------------------------
// TestConfig_Validate
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "invalid http port",
			mutate:  func(cfg *Config) { cfg.Server.HTTPPort = 0 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "missing redis host",
			mutate:  func(cfg *Config) { cfg.Redis.Host = "" },
			wantErr: "redis host is required",
		},
		{
			name:    "invalid redis port",
			mutate:  func(cfg *Config) { cfg.Redis.Port = 70000 },
			wantErr: "invalid redis port",
		},
		{
			name:    "zero lock ttl",
			mutate:  func(cfg *Config) { cfg.Jobs.LockTTL = 0 },
			wantErr: "lock_ttl must be positive",
		},
		{
			name:    "heartbeat not below lock ttl",
			mutate:  func(cfg *Config) { cfg.Jobs.HeartbeatInterval = cfg.Jobs.LockTTL },
			wantErr: "heartbeat_interval",
		},
		{
			name:    "zero result ttl",
			mutate:  func(cfg *Config) { cfg.Jobs.ResultTTL = 0 },
			wantErr: "result_ttl must be positive",
		},
		{
			name:    "zero concurrency",
			mutate:  func(cfg *Config) { cfg.Pipeline.Concurrency = 0 },
			wantErr: "concurrency must be positive",
		},
		{
			name:    "failure threshold above one",
			mutate:  func(cfg *Config) { cfg.Pipeline.FailureThreshold = 1.5 },
			wantErr: "failure_threshold",
		},
		{
			name:    "invalid log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "no kafka brokers",
			mutate:  func(cfg *Config) { cfg.Kafka.Brokers = nil },
			wantErr: "kafka brokers are required",
		},
		{
			name:    "no jobs topic",
			mutate:  func(cfg *Config) { cfg.Kafka.JobsTopic = "" },
			wantErr: "jobs_topic is required",
		},
		{
			name: "anthropic provider without key",
			mutate: func(cfg *Config) {
				cfg.LLM.Anthropic.APIKey = ""
			},
			wantErr: "REPORTGEN_LLM_ANTHROPIC_API_KEY",
		},
		{
			name: "openai provider without key",
			mutate: func(cfg *Config) {
				cfg.LLM.Provider = "openai"
			},
			wantErr: "REPORTGEN_LLM_OPENAI_API_KEY",
		},
		{
			name:    "unsupported provider",
			mutate:  func(cfg *Config) { cfg.LLM.Provider = "bedrock" },
			wantErr: "unsupported LLM provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
