package config

import (
	"testing"
)

func TestDefaultConfigSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewDefaultConfigSanitizer()

	cfg := &Config{
		MasterKey: testMasterKeyHex,
		FastTier: FastTierConfig{
			Password: "redispass",
		},
		DurableTier: DurableTierConfig{
			Password: "pgpass",
		},
		App: AppConfig{
			Name: "go-auth-store",
		},
	}

	sanitized := sanitizer.Sanitize(cfg)

	if sanitized.MasterKey != "***REDACTED***" {
		t.Errorf("MasterKey = %v, want ***REDACTED***", sanitized.MasterKey)
	}

	if sanitized.FastTier.Password != "***REDACTED***" {
		t.Errorf("FastTier.Password = %v, want ***REDACTED***", sanitized.FastTier.Password)
	}

	if sanitized.DurableTier.Password != "***REDACTED***" {
		t.Errorf("DurableTier.Password = %v, want ***REDACTED***", sanitized.DurableTier.Password)
	}

	if sanitized.App.Name != cfg.App.Name {
		t.Errorf("App.Name = %v, want %v", sanitized.App.Name, cfg.App.Name)
	}
}

func TestDefaultConfigSanitizer_DeepCopy(t *testing.T) {
	sanitizer := NewDefaultConfigSanitizer()

	cfg := &Config{
		MasterKey: "original",
		App:       AppConfig{Name: "go-auth-store"},
	}

	sanitized := sanitizer.Sanitize(cfg)

	if cfg.MasterKey != "original" {
		t.Error("Sanitize() mutated original config")
	}

	if sanitized == cfg {
		t.Error("Sanitize() did not create deep copy")
	}
}

func TestNewConfigSanitizer_CustomRedaction(t *testing.T) {
	customValue := "[HIDDEN]"
	sanitizer := NewConfigSanitizer(customValue)

	cfg := &Config{MasterKey: "secret"}

	sanitized := sanitizer.Sanitize(cfg)

	if sanitized.MasterKey != customValue {
		t.Errorf("MasterKey = %v, want %v", sanitized.MasterKey, customValue)
	}
}

func TestDefaultConfigSanitizer_EmptyConfig(t *testing.T) {
	sanitizer := NewDefaultConfigSanitizer()
	cfg := &Config{}

	sanitized := sanitizer.Sanitize(cfg)

	if sanitized == nil {
		t.Error("Sanitize() returned nil for empty config")
	}
}
