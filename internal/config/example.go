package config

import (
	"fmt"
	"log"
	"os"
)

// ExampleLoadConfig demonstrates how to load configuration
func ExampleLoadConfig() {
	cfg, err := LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("App: %s v%s\n", cfg.App.Name, cfg.App.Version)
	fmt.Printf("Fast tier: %s\n", cfg.FastTier.Addr)
	fmt.Printf("Durable tier: %s:%d/%s\n", cfg.DurableTier.Host, cfg.DurableTier.Port, cfg.DurableTier.Database)
	fmt.Printf("Environment: %s\n", cfg.App.Environment)
	fmt.Printf("Debug: %t\n", cfg.IsDebug())
}

// ExampleLoadConfigFromEnv demonstrates loading config from environment only
func ExampleLoadConfigFromEnv() {
	os.Setenv("FAST_TIER_ADDR", "redis.internal:6379")
	os.Setenv("DURABLE_TIER_HOST", "prod-db.example.com")
	os.Setenv("APP_ENVIRONMENT", "production")
	os.Setenv("APP_DEBUG", "false")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config from env: %v", err)
	}

	fmt.Printf("Fast tier addr from env: %s\n", cfg.FastTier.Addr)
	fmt.Printf("Durable tier host from env: %s\n", cfg.DurableTier.Host)
	fmt.Printf("Environment from env: %s\n", cfg.App.Environment)
	fmt.Printf("Debug from env: %t\n", cfg.App.Debug)
}

// ExampleConfigValidation demonstrates config validation
func ExampleConfigValidation() {
	cfg := &Config{
		TTL: TTLConfig{
			DefaultTtl: defaultValidationTTL,
			CredsTtl:   defaultValidationTTL,
			KeysTtl:    defaultValidationTTL,
			LockTtl:    defaultValidationTTL,
		},
		Resilience: ResilienceConfig{
			OperationTimeout: 3_000_000_000, // 3s, expressed as time.Duration nanoseconds
			MaxRetries:       5,
			RetryMultiplier:  2,
		},
		Security: SecurityConfig{
			EnableEncryption: false,
			Environment:      EnvironmentProduction,
		},
		Log: LogConfig{Level: "info"},
		App: AppConfig{Name: "go-auth-store"},
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	fmt.Println("Configuration is valid!")
}

// ExampleEnvironmentHelpers demonstrates environment helper methods
func ExampleEnvironmentHelpers() {
	devCfg := &Config{App: AppConfig{Environment: "development", Debug: false}}

	fmt.Printf("Is Development: %t\n", devCfg.IsDevelopment())
	fmt.Printf("Is Production: %t\n", devCfg.IsProduction())
	fmt.Printf("Is Debug: %t\n", devCfg.IsDebug())

	prodCfg := &Config{App: AppConfig{Environment: "production", Debug: false}}

	fmt.Printf("Is Development: %t\n", prodCfg.IsDevelopment())
	fmt.Printf("Is Production: %t\n", prodCfg.IsProduction())
	fmt.Printf("Is Debug: %t\n", prodCfg.IsDebug())
}

// ExampleConfigWithDefaults demonstrates loading config with defaults
func ExampleConfigWithDefaults() {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Default fast tier addr: %s\n", cfg.FastTier.Addr)
	fmt.Printf("Default durable tier host: %s\n", cfg.DurableTier.Host)
	fmt.Printf("Default app name: %s\n", cfg.App.Name)
}

// ExampleConfigOverride demonstrates how environment variables override file values
func ExampleConfigOverride() {
	os.Setenv("FAST_TIER_ADDR", "env-redis.example.com:6380")
	os.Setenv("DURABLE_TIER_HOST", "env-override.example.com")

	cfg, err := LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Fast tier addr (env override): %s\n", cfg.FastTier.Addr)
	fmt.Printf("Durable tier host (env override): %s\n", cfg.DurableTier.Host)
	fmt.Printf("App name (from file): %s\n", cfg.App.Name)
}

const defaultValidationTTL = 900_000_000_000 // 15m, expressed as time.Duration nanoseconds
