package durabletier

import (
	"fmt"
	"time"
)

// Config mirrors the teacher's PostgresConfig shape
// (database/postgres/config.go), trimmed to what the durable tier needs.
type Config struct {
	Host     string `yaml:"host" env:"AUTHSTORE_DB_HOST"`
	Port     int    `yaml:"port" env:"AUTHSTORE_DB_PORT"`
	Database string `yaml:"database" env:"AUTHSTORE_DB_NAME"`
	User     string `yaml:"user" env:"AUTHSTORE_DB_USER"`
	Password string `yaml:"password" env:"AUTHSTORE_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"AUTHSTORE_DB_SSL_MODE"`

	MaxConns int32 `yaml:"max_conns" env:"AUTHSTORE_DB_MAX_CONNS"`
	MinConns int32 `yaml:"min_conns" env:"AUTHSTORE_DB_MIN_CONNS"`

	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" env:"AUTHSTORE_DB_MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" env:"AUTHSTORE_DB_MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" env:"AUTHSTORE_DB_HEALTH_CHECK_PERIOD"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"AUTHSTORE_DB_CONNECT_TIMEOUT"`

	// DocumentCacheTTL is the short-lived in-process read cache TTL
	// absorbing read amplification, per spec.md §4.2 ("~5s TTL").
	DocumentCacheTTL time.Duration

	// RetryBaseDelay/Multiplier/MaxRetries configure the
	// duplicate-key-conflict retry loop on upsert, sourced from
	// HybridConfig.resilience in practice.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryMultiplier float64
	MaxRetries     int
}

// DefaultConfig mirrors postgres.DefaultConfig with auth-store-appropriate
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              5432,
		Database:          "authstore",
		User:              "authstore",
		SSLMode:           "disable",
		MaxConns:          20,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    30 * time.Second,
		DocumentCacheTTL:  5 * time.Second,
		RetryBaseDelay:    50 * time.Millisecond,
		RetryMaxDelay:     2 * time.Second,
		RetryMultiplier:   2.0,
		MaxRetries:        5,
	}
}

// Validate mirrors postgres.PostgresConfig.Validate.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("durabletier: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("durabletier: port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("durabletier: database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("durabletier: user is required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("durabletier: max connections must be greater than 0")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("durabletier: min connections must be in [0, max connections]")
	}
	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("durabletier: invalid ssl mode %q", c.SSLMode)
	}
	return nil
}

// DSN returns the pgx connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
