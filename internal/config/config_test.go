package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears viper's global state between tests.
// Note: environment variables are read at runtime via AutomaticEnv,
// so we also unset any vars we set in tests to avoid cross-test pollution.
func resetViper() {
	viper.Reset()
}

// unsetEnvKeys unsets provided environment variable keys.
func unsetEnvKeys(keys ...string) {
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}

// writeTempYAML writes a temporary YAML file with given content and returns its path.
func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
	return path
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	resetViper()
	unsetEnvKeys(
		"FAST_TIER_ADDR", "DURABLE_TIER_HOST", "DURABLE_TIER_PORT",
		"APP_ENVIRONMENT", "APP_DEBUG", "MASTER_KEY",
	)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.FastTier.Addr)
	assert.Equal(t, "localhost", cfg.DurableTier.Host)
	assert.Equal(t, 5432, cfg.DurableTier.Port)
	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, false, cfg.App.Debug)
	assert.Equal(t, 15*time.Minute, cfg.TTL.DefaultTtl)
	assert.Equal(t, 3*time.Second, cfg.Resilience.OperationTimeout)
	assert.False(t, cfg.Security.EnableEncryption, "defaults leave encryption disabled so masterKey isn't required")
}

func TestLoadConfig_File(t *testing.T) {
	resetViper()
	unsetEnvKeys("FAST_TIER_ADDR", "DURABLE_TIER_HOST", "APP_ENVIRONMENT", "APP_DEBUG")

	yaml := `
app:
  environment: "production"
  debug: false
fast_tier:
  addr: "redis:6379"
durable_tier:
  host: "db.local"
  port: 5433
  database: "testdb"
  user: "user"
  password: "pass"
  ssl_mode: "disable"
log:
  level: "debug"
security:
  enable_encryption: false
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.False(t, cfg.App.Debug)

	assert.Equal(t, "redis:6379", cfg.FastTier.Addr)

	assert.Equal(t, "db.local", cfg.DurableTier.Host)
	assert.Equal(t, 5433, cfg.DurableTier.Port)
	assert.Equal(t, "testdb", cfg.DurableTier.Database)
	assert.Equal(t, "user", cfg.DurableTier.User)
	assert.Equal(t, "pass", cfg.DurableTier.Password)
	assert.Equal(t, "disable", cfg.DurableTier.SSLMode)

	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	resetViper()
	yaml := `
fast_tier:
  addr: "file-redis:6379"
durable_tier:
  host: "file-db.local"
app:
  environment: "development"
  debug: true
security:
  enable_encryption: false
`
	path := writeTempYAML(t, yaml)

	require.NoError(t, os.Setenv("FAST_TIER_ADDR", "env-redis:6380"))
	require.NoError(t, os.Setenv("DURABLE_TIER_HOST", "env-db.local"))
	require.NoError(t, os.Setenv("APP_ENVIRONMENT", "production"))
	require.NoError(t, os.Setenv("APP_DEBUG", "false"))
	t.Cleanup(func() {
		unsetEnvKeys("FAST_TIER_ADDR", "DURABLE_TIER_HOST", "APP_ENVIRONMENT", "APP_DEBUG")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6380", cfg.FastTier.Addr, "env should override file")
	assert.Equal(t, "env-db.local", cfg.DurableTier.Host, "env should override file")
	assert.Equal(t, "production", cfg.App.Environment, "env should override file")
	assert.Equal(t, false, cfg.App.Debug, "env should override file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	resetViper()
	unsetEnvKeys("FAST_TIER_ADDR")

	invalid := `
fast_tier:
  addr: : invalid
`
	path := writeTempYAML(t, invalid)

	cfg, err := LoadConfig(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidationErrorOnTTL(t *testing.T) {
	resetViper()
	unsetEnvKeys("FAST_TIER_ADDR")

	yaml := `
ttl:
  default_ttl: "500ms"
security:
  enable_encryption: false
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.Error(t, err, "sub-second TTLs must fail validation")
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidationErrorOnOperationTimeout(t *testing.T) {
	resetViper()
	unsetEnvKeys("FAST_TIER_ADDR")

	yaml := `
resilience:
  operation_timeout: "70s"
security:
  enable_encryption: false
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.Error(t, err, "operation_timeout above 60s must fail validation")
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidationErrorOnMissingMasterKey(t *testing.T) {
	resetViper()
	unsetEnvKeys("FAST_TIER_ADDR", "MASTER_KEY")

	yaml := `
security:
  enable_encryption: true
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.Error(t, err, "enabling encryption without a 64-hex master key must fail validation")
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidMasterKeyPasses(t *testing.T) {
	resetViper()
	unsetEnvKeys("FAST_TIER_ADDR", "MASTER_KEY")

	yaml := `
security:
  enable_encryption: true
master_key: "` + testMasterKeyHex + `"
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Security.EnableEncryption)
}

const testMasterKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
