// Package config loads and validates HybridConfig, the single
// configuration object the orchestrator's constructor accepts per
// spec.md §6. It keeps the teacher's viper-based LoadConfig/
// LoadConfigFromEnv/setDefaults/Validate structure
// (internal/config/config.go), replacing the alert-history-specific
// profile/storage/LLM/webhook sections with the hybrid store's
// ttl/resilience/security/observability/fast_tier/durable_tier sections.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is HybridConfig: the orchestrator's constructor input, plus the
// ambient fast-tier/durable-tier connection settings and the teacher's
// log/app/metrics sections.
type Config struct {
	TTL           TTLConfig           `mapstructure:"ttl"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`

	EnableWriteBehind bool   `mapstructure:"enable_write_behind"`
	MasterKey         string `mapstructure:"master_key"`

	FastTier    FastTierConfig    `mapstructure:"fast_tier"`
	DurableTier DurableTierConfig `mapstructure:"durable_tier"`

	Log     LogConfig     `mapstructure:"log"`
	App     AppConfig     `mapstructure:"app"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TTLConfig is HybridConfig's `ttl` section (all durations, written as Go
// duration strings such as "15m"): defaultTtl, credsTtl, keysTtl, lockTtl.
type TTLConfig struct {
	DefaultTtl time.Duration `mapstructure:"default_ttl"`
	CredsTtl   time.Duration `mapstructure:"creds_ttl"`
	KeysTtl    time.Duration `mapstructure:"keys_ttl"`
	LockTtl    time.Duration `mapstructure:"lock_ttl"`
}

// ResilienceConfig is HybridConfig's `resilience` section.
type ResilienceConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`
}

// EncryptionAlgorithm enumerates HybridConfig's security.encryptionAlgorithm.
type EncryptionAlgorithm string

const (
	EncryptionAEADSecretbox EncryptionAlgorithm = "aead-secretbox"
	EncryptionAES256GCM     EncryptionAlgorithm = "aes-256-gcm"
)

// CompressionAlgorithm enumerates HybridConfig's security.compressionAlgorithm.
type CompressionAlgorithm string

const (
	CompressionSnappy CompressionAlgorithm = "snappy"
	CompressionGzip   CompressionAlgorithm = "gzip"
)

// Environment enumerates HybridConfig's security.environment.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
	EnvironmentTest        Environment = "test"
)

// SecurityConfig is HybridConfig's `security` section.
type SecurityConfig struct {
	EnableEncryption     bool                 `mapstructure:"enable_encryption"`
	EnableCompression    bool                 `mapstructure:"enable_compression"`
	EncryptionAlgorithm  EncryptionAlgorithm  `mapstructure:"encryption_algorithm"`
	CompressionAlgorithm CompressionAlgorithm `mapstructure:"compression_algorithm"`
	KeyRotationDays      int                  `mapstructure:"key_rotation_days"`
	Environment          Environment          `mapstructure:"environment"`
}

// ObservabilityConfig is HybridConfig's `observability` section.
type ObservabilityConfig struct {
	EnableMetrics      bool          `mapstructure:"enable_metrics"`
	EnableTracing      bool          `mapstructure:"enable_tracing"`
	EnableDetailedLogs bool          `mapstructure:"enable_detailed_logs"`
	MetricsInterval    time.Duration `mapstructure:"metrics_interval"`
}

// FastTierConfig configures the go-redis connection backing C1.
type FastTierConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	CASMaxAttempts  int           `mapstructure:"cas_max_attempts"`
}

// DurableTierConfig configures the pgx pool backing C2.
type DurableTierConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Database          string        `mapstructure:"database"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// LogConfig mirrors the teacher's logging configuration, unchanged in
// shape since structured logging is an ambient concern.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig holds application identity fields, trimmed of the teacher's
// deployment-profile concept (not part of this spec's scope).
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsConfig holds the Prometheus scrape-endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// LoadConfig loads HybridConfig from a YAML file overlaid with
// environment variables, mirroring the teacher's LoadConfig.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigFromEnv loads HybridConfig from environment variables only.
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("ttl.default_ttl", "15m")
	viper.SetDefault("ttl.creds_ttl", "15m")
	viper.SetDefault("ttl.keys_ttl", "24h")
	viper.SetDefault("ttl.lock_ttl", "30m")

	viper.SetDefault("resilience.operation_timeout", "3s")
	viper.SetDefault("resilience.max_retries", 5)
	viper.SetDefault("resilience.retry_base_delay", "50ms")
	viper.SetDefault("resilience.retry_multiplier", 2.0)

	viper.SetDefault("security.enable_encryption", false)
	viper.SetDefault("security.enable_compression", false)
	viper.SetDefault("security.encryption_algorithm", "aes-256-gcm")
	viper.SetDefault("security.compression_algorithm", "gzip")
	viper.SetDefault("security.key_rotation_days", 90)
	viper.SetDefault("security.environment", "production")

	viper.SetDefault("observability.enable_metrics", true)
	viper.SetDefault("observability.enable_tracing", false)
	viper.SetDefault("observability.enable_detailed_logs", false)
	viper.SetDefault("observability.metrics_interval", "15s")

	viper.SetDefault("enable_write_behind", false)
	viper.SetDefault("master_key", "")

	viper.SetDefault("fast_tier.addr", "localhost:6379")
	viper.SetDefault("fast_tier.db", 0)
	viper.SetDefault("fast_tier.pool_size", 10)
	viper.SetDefault("fast_tier.min_idle_conns", 1)
	viper.SetDefault("fast_tier.dial_timeout", "5s")
	viper.SetDefault("fast_tier.read_timeout", "3s")
	viper.SetDefault("fast_tier.write_timeout", "3s")
	viper.SetDefault("fast_tier.max_retries", 3)
	viper.SetDefault("fast_tier.min_retry_backoff", "8ms")
	viper.SetDefault("fast_tier.max_retry_backoff", "512ms")
	viper.SetDefault("fast_tier.key_prefix", "authstate")
	viper.SetDefault("fast_tier.cas_max_attempts", 10)

	viper.SetDefault("durable_tier.host", "localhost")
	viper.SetDefault("durable_tier.port", 5432)
	viper.SetDefault("durable_tier.database", "authstore")
	viper.SetDefault("durable_tier.user", "authstore")
	viper.SetDefault("durable_tier.password", "")
	viper.SetDefault("durable_tier.ssl_mode", "disable")
	viper.SetDefault("durable_tier.max_conns", 25)
	viper.SetDefault("durable_tier.min_conns", 2)
	viper.SetDefault("durable_tier.max_conn_lifetime", "1h")
	viper.SetDefault("durable_tier.max_conn_idle_time", "30m")
	viper.SetDefault("durable_tier.health_check_period", "30s")
	viper.SetDefault("durable_tier.connect_timeout", "10s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("app.name", "go-auth-store")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "production")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)
}

// Validate enforces the Config error-kind rules from spec.md §7: TTLs
// >= 1s and integer-valued, operationTimeout in [100ms, 60s], maxRetries
// <= 10, retryMultiplier >= 1, and, when encryption is enabled,
// keyRotationDays >= 1 and a 64-hex-char masterKey.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"ttl.default_ttl": c.TTL.DefaultTtl, "ttl.creds_ttl": c.TTL.CredsTtl,
		"ttl.keys_ttl": c.TTL.KeysTtl, "ttl.lock_ttl": c.TTL.LockTtl,
	} {
		if d < time.Second || d%time.Second != 0 {
			return fmt.Errorf("config: %s must be an integer number of seconds >= 1s, got %v", name, d)
		}
	}

	if c.Resilience.OperationTimeout < 100*time.Millisecond || c.Resilience.OperationTimeout > 60*time.Second {
		return fmt.Errorf("config: resilience.operation_timeout must be in [100ms, 60s], got %v", c.Resilience.OperationTimeout)
	}
	if c.Resilience.MaxRetries > 10 {
		return fmt.Errorf("config: resilience.max_retries must be <= 10, got %d", c.Resilience.MaxRetries)
	}
	if c.Resilience.RetryMultiplier < 1 {
		return fmt.Errorf("config: resilience.retry_multiplier must be >= 1, got %f", c.Resilience.RetryMultiplier)
	}

	if c.Security.EnableEncryption {
		if c.Security.KeyRotationDays < 1 {
			return fmt.Errorf("config: security.key_rotation_days must be >= 1 when encryption is enabled, got %d", c.Security.KeyRotationDays)
		}
		if len(c.MasterKey) != 64 {
			return fmt.Errorf("config: master_key must be 64 hex characters when encryption is enabled, got %d chars", len(c.MasterKey))
		}
		if _, err := hex.DecodeString(c.MasterKey); err != nil {
			return fmt.Errorf("config: master_key must be hex-encoded: %w", err)
		}
	}

	switch c.Security.EncryptionAlgorithm {
	case EncryptionAEADSecretbox, EncryptionAES256GCM, "":
	default:
		return fmt.Errorf("config: invalid security.encryption_algorithm: %s", c.Security.EncryptionAlgorithm)
	}
	switch c.Security.CompressionAlgorithm {
	case CompressionSnappy, CompressionGzip, "":
	default:
		return fmt.Errorf("config: invalid security.compression_algorithm: %s", c.Security.CompressionAlgorithm)
	}
	switch c.Security.Environment {
	case EnvironmentDevelopment, EnvironmentProduction, EnvironmentTest, "":
	default:
		return fmt.Errorf("config: invalid security.environment: %s", c.Security.Environment)
	}

	if c.Log.Level == "" {
		return fmt.Errorf("config: log.level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("config: app.name cannot be empty")
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// IsDebug returns true if debug mode is enabled.
func (c *Config) IsDebug() bool { return c.App.Debug || c.IsDevelopment() }
