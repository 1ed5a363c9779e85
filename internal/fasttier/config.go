package fasttier

import (
	"fmt"
	"time"
)

// Config mirrors the teacher's cache.CacheConfig shape (pool/timeout/retry
// settings for the go-redis client), trimmed of the alerting-specific
// circuit-breaker/metrics-enabled toggles that belong to the orchestrator
// and metrics registry here instead.
type Config struct {
	Addr     string `env:"AUTHSTORE_REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"AUTHSTORE_REDIS_PASSWORD" default:""`
	DB       int    `env:"AUTHSTORE_REDIS_DB" default:"0"`

	PoolSize     int `env:"AUTHSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int `env:"AUTHSTORE_REDIS_MIN_IDLE_CONNS" default:"1"`

	DialTimeout  time.Duration `env:"AUTHSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `env:"AUTHSTORE_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `env:"AUTHSTORE_REDIS_WRITE_TIMEOUT" default:"3s"`

	MaxRetries      int           `env:"AUTHSTORE_REDIS_MAX_RETRIES" default:"3"`
	MinRetryBackoff time.Duration `env:"AUTHSTORE_REDIS_MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `env:"AUTHSTORE_REDIS_MAX_RETRY_BACKOFF" default:"512ms"`

	// DefaultTTL is applied to the main + meta record pair when Set is
	// called with ttl == 0, sourced from HybridConfig's ttl.defaultTtl.
	DefaultTTL time.Duration

	// KeyPrefix namespaces every key this store touches, e.g. "authstate".
	KeyPrefix string `default:"authstate"`

	// CASMaxAttempts bounds the optimistic-watch retry loop in Set before
	// it gives up and surfaces a storage error.
	CASMaxAttempts int `default:"10"`
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// cache.NewRedisCache fallback construction.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "localhost:6379",
		DB:              0,
		PoolSize:        10,
		MinIdleConns:    1,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DefaultTTL:      24 * time.Hour,
		KeyPrefix:       "authstate",
		CASMaxAttempts:  10,
	}
}

// Validate mirrors cache.CacheConfig.Validate.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("fasttier: addr must not be empty")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("fasttier: pool size must be positive")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("fasttier: dial timeout must be positive")
	}
	if c.CASMaxAttempts <= 0 {
		c.CASMaxAttempts = 10
	}
	return nil
}
