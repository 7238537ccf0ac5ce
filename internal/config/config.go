package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Qloo      QlooConfig      `mapstructure:"qloo"`
	Plaid     PlaidConfig     `mapstructure:"plaid"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `mapstructure:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `mapstructure:"allowed_origins"`
	// 64 hex characters (32 bytes) for AES-256-GCM
	EncryptionKey string `mapstructure:"encryption_key"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Rate    int  `mapstructure:"rate"`
	Window  int  `mapstructure:"window"` // in seconds
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OpenAIConfig struct {
	APIKey           string  `mapstructure:"api_key"`
	BaseURL          string  `mapstructure:"base_url"`
	Model            string  `mapstructure:"model"`
	ChatMaxTokens    int     `mapstructure:"chat_max_tokens"`
	ExtractMaxTokens int     `mapstructure:"extract_max_tokens"`
	MatchMaxTokens   int     `mapstructure:"match_max_tokens"`
	ChatTemperature  float64 `mapstructure:"chat_temperature"`
	Temperature      float64 `mapstructure:"temperature"`
}

type QlooConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DefaultCity string        `mapstructure:"default_city"`
	DefaultAge  int           `mapstructure:"default_age"`
	Concurrency int           `mapstructure:"concurrency"`
}

type PlaidConfig struct {
	Env             string        `mapstructure:"env"`
	BaseURL         string        `mapstructure:"base_url"`
	ClientID        string        `mapstructure:"client_id"`
	Secret          string        `mapstructure:"secret"`
	Timeout         time.Duration `mapstructure:"timeout"`
	SyncMaxAttempts int           `mapstructure:"sync_max_attempts"`
	SyncMaxPolls    int           `mapstructure:"sync_max_polls"`
	SyncTimeout     time.Duration `mapstructure:"sync_timeout"`
	SyncBackoff     time.Duration `mapstructure:"sync_backoff"`
	SyncMaxBackoff  time.Duration `mapstructure:"sync_max_backoff"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type FeaturesConfig struct {
	StrictMatching   bool `mapstructure:"strict_matching"`
	DedupeAcrossRuns bool `mapstructure:"dedupe_across_runs"`
	EventHooks       bool `mapstructure:"event_hooks"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.path", "./cultureq.db")
	v.SetDefault("security.max_request_body_size", 10<<20)
	v.SetDefault("security.allowed_origins", "*")
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rate", 100)
	v.SetDefault("rate_limit.window", 60)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.chat_max_tokens", 300)
	v.SetDefault("openai.extract_max_tokens", 500)
	v.SetDefault("openai.match_max_tokens", 2000)
	v.SetDefault("openai.chat_temperature", 0.7)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("qloo.api_key", "")
	v.SetDefault("qloo.base_url", "https://hackathon.api.qloo.com")
	v.SetDefault("qloo.timeout", "15s")
	v.SetDefault("qloo.default_city", "New York")
	v.SetDefault("qloo.default_age", 28)
	v.SetDefault("qloo.concurrency", 4)
	v.SetDefault("plaid.env", "sandbox")
	v.SetDefault("plaid.base_url", "")
	v.SetDefault("plaid.client_id", "")
	v.SetDefault("plaid.secret", "")
	v.SetDefault("plaid.timeout", "30s")
	v.SetDefault("plaid.sync_max_attempts", 10)
	v.SetDefault("plaid.sync_max_polls", 500)
	v.SetDefault("plaid.sync_timeout", "30s")
	v.SetDefault("plaid.sync_backoff", "250ms")
	v.SetDefault("plaid.sync_max_backoff", "2s")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", "cultureq-api")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "cultureq.events")
	v.SetDefault("features.strict_matching", true)
	v.SetDefault("features.dedupe_across_runs", false)
	v.SetDefault("features.event_hooks", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig loads configuration from defaults, an optional config file and
// the environment. A .env file in the working directory is loaded first if
// present. Environment variables take precedence over config file values
// (SERVER_PORT overrides server.port).
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// EncryptionKeyBytes decodes the configured AES key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Plaid.SyncMaxAttempts <= 0 {
		return fmt.Errorf("plaid sync max attempts must be positive")
	}
	if c.Plaid.SyncMaxPolls <= 0 {
		return fmt.Errorf("plaid sync max polls must be positive")
	}
	if c.Plaid.SyncTimeout <= 0 {
		return fmt.Errorf("plaid sync timeout must be positive")
	}
	if c.Qloo.Concurrency <= 0 {
		return fmt.Errorf("qloo concurrency must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}
	return nil
}
