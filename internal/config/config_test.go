package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
	if !strings.Contains(cfg.Store.Path, "balancechain") {
		t.Errorf("store path should live under a balancechain data dir: %s", cfg.Store.Path)
	}
}

func TestConfigPathEndsInConfigToml(t *testing.T) {
	if !strings.HasSuffix(ConfigPath(), "config.toml") {
		t.Errorf("ConfigPath() = %q, want suffix config.toml", ConfigPath())
	}
}

func TestLoadNonexistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info default", cfg.Logging.Level)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[store]
path = "/custom/chain.db"

[caps]
daily_cap = 10

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Path != "/custom/chain.db" {
		t.Errorf("Store.Path = %q, want /custom/chain.db", cfg.Store.Path)
	}
	if cfg.Caps.DailyCap != 10 {
		t.Errorf("Caps.DailyCap = %d, want 10", cfg.Caps.DailyCap)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// Fields left unset in the file keep their defaults.
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json default", cfg.Logging.Format)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("this is not { valid"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for invalid TOML")
	}
}

func TestValidateRejectsBadLoggingLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unsupported logging level")
	}
}

func TestValidateRejectsInvertedCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Caps.DailyCap = 100
	cfg.Caps.MonthlyCap = 50
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when daily_cap exceeds monthly_cap")
	}
}

func TestValidateRejectsEmptyStorePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an empty store path")
	}
}

func TestLoadOrCreateWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected created=true for a missing config file")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config file to be written: %v", err)
	}

	again, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("expected created=false once the file exists")
	}
	if again.Store.Path != cfg.Store.Path {
		t.Errorf("reloaded Store.Path = %q, want %q", again.Store.Path, cfg.Store.Path)
	}
}

func TestCapsConfigLimitsOverridesOnlySetFields(t *testing.T) {
	c := CapsConfig{DailyCap: 10}
	limits := c.Limits()
	if limits.Daily != 10 {
		t.Errorf("Daily = %d, want 10", limits.Daily)
	}
	if limits.Monthly != 0 {
		t.Errorf("Monthly = %d, want 0 (unset, resolved later by caps.NewWithLimits)", limits.Monthly)
	}
}
