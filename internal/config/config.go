// Package config provides configuration management for the report pipeline service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the report pipeline service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Redis contains shared store connection settings.
	Redis RedisConfig `mapstructure:"redis"`
	// Jobs contains job coordination settings (locking, checkpoints, retention).
	Jobs JobsConfig `mapstructure:"jobs"`
	// Pipeline contains stage execution settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// LLM contains LLM client settings for the pipeline stages.
	LLM LLMConfig `mapstructure:"llm"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains job transport settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig holds shared store connection configuration.
type RedisConfig struct {
	// Host is the Redis server hostname.
	Host string `mapstructure:"host"`
	// Port is the Redis server port (default: 6379).
	Port int `mapstructure:"port"`
	// Password is the Redis password (loaded from REPORTGEN_REDIS_PASSWORD env var).
	Password string `mapstructure:"-"`
	// DB is the logical database index.
	DB int `mapstructure:"db"`
	// DialTimeout is the maximum time to establish a connection.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// ReadTimeout is the per-command read timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-command write timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxRetries is the number of command retries before giving up.
	MaxRetries int `mapstructure:"max_retries"`
	// MinRetryBackoff is the minimum backoff between command retries.
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	// MaxRetryBackoff is the maximum backoff between command retries.
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// JobsConfig holds job coordination settings.
type JobsConfig struct {
	// LockTTL bounds how long a silent worker keeps a job claimed.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// HeartbeatInterval is how often a running job refreshes its lock.
	// Must be well below lock_ttl; defaults to lock_ttl / 3 when zero.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// ResultTTL bounds how long progress and result records are retained.
	ResultTTL time.Duration `mapstructure:"result_ttl"`
	// ReleaseTimeout bounds lock release and failure checkpoints during shutdown.
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
}

// PipelineConfig holds stage execution settings.
type PipelineConfig struct {
	// Concurrency is the default in-flight LLM call cap per stage.
	Concurrency int `mapstructure:"concurrency"`
	// FailureThreshold is the tolerated unit failure ratio per stage (0.0-1.0).
	// A stage aborts when its failure ratio strictly exceeds this value.
	FailureThreshold float64 `mapstructure:"failure_threshold"`
	// MinCommentRunes is the minimum comment length to enter the pipeline.
	MinCommentRunes int `mapstructure:"min_comment_runes"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the LLM provider (anthropic, openai).
	Provider string `mapstructure:"provider"`
	// Model is the default model when a job does not name one.
	Model string `mapstructure:"model"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// RateLimit is the maximum requests per second to the provider.
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateBurst is the burst size for the rate limiter.
	RateBurst int `mapstructure:"rate_burst"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (loaded from REPORTGEN_LLM_ANTHROPIC_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// BaseURL is the Anthropic API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI-specific settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (loaded from REPORTGEN_LLM_OPENAI_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// BaseURL is the OpenAI API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace is the metric name prefix.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds job transport settings.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// JobsTopic carries submitted jobs to workers.
	JobsTopic string `mapstructure:"jobs_topic"`
	// LifecycleTopic carries job lifecycle notifications.
	LifecycleTopic string `mapstructure:"lifecycle_topic"`
	// GroupID is the worker consumer group.
	GroupID string `mapstructure:"group_id"`
	// LifecycleEnabled controls whether lifecycle events are published.
	LifecycleEnabled bool `mapstructure:"lifecycle_enabled"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("REPORTGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/report-pipeline-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Redis.Password = os.Getenv("REPORTGEN_REDIS_PASSWORD")
	cfg.LLM.Anthropic.APIKey = os.Getenv("REPORTGEN_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.OpenAI.APIKey = os.Getenv("REPORTGEN_LLM_OPENAI_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.min_retry_backoff", "8ms")
	v.SetDefault("redis.max_retry_backoff", "512ms")

	// Job coordination defaults
	v.SetDefault("jobs.lock_ttl", "90s")
	v.SetDefault("jobs.heartbeat_interval", "30s")
	v.SetDefault("jobs.result_ttl", "168h")
	v.SetDefault("jobs.release_timeout", "5s")

	// Pipeline defaults
	v.SetDefault("pipeline.concurrency", 8)
	v.SetDefault("pipeline.failure_threshold", 0.5)
	v.SetDefault("pipeline.min_comment_runes", 5)

	// LLM defaults
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")
	v.SetDefault("llm.rate_limit", 10.0)
	v.SetDefault("llm.rate_burst", 20)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "report_pipeline")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.jobs_topic", "reports.jobs")
	v.SetDefault("kafka.lifecycle_topic", "reports.lifecycle")
	v.SetDefault("kafka.group_id", "report-pipeline-workers")
	v.SetDefault("kafka.lifecycle_enabled", true)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	// Validate Redis config
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}

	// Validate job coordination config
	if c.Jobs.LockTTL <= 0 {
		return fmt.Errorf("jobs lock_ttl must be positive")
	}
	if c.Jobs.HeartbeatInterval >= c.Jobs.LockTTL {
		return fmt.Errorf("jobs heartbeat_interval (%s) must be below lock_ttl (%s)",
			c.Jobs.HeartbeatInterval, c.Jobs.LockTTL)
	}
	if c.Jobs.ResultTTL <= 0 {
		return fmt.Errorf("jobs result_ttl must be positive")
	}

	// Validate pipeline config
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline concurrency must be positive")
	}
	if c.Pipeline.FailureThreshold < 0 || c.Pipeline.FailureThreshold > 1 {
		return fmt.Errorf("pipeline failure_threshold must be between 0 and 1")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if c.Kafka.JobsTopic == "" {
		return fmt.Errorf("kafka jobs_topic is required")
	}

	// Validate that the configured LLM provider has its required API key set.
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires REPORTGEN_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider)
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires REPORTGEN_LLM_OPENAI_API_KEY to be set", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	return nil
}
