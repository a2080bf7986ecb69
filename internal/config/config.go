// Package config handles configuration loading and validation for BalanceChain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete node configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version"`

	// Store configures the sqlite-backed chain database.
	Store StoreConfig `toml:"store" json:"store"`

	// Signing configures the identity keypair.
	Signing SigningConfig `toml:"signing" json:"signing"`

	// Caps overrides the protocol's quota constants. Production deploys
	// should leave this empty — it exists for test harnesses only
	// (non-zero fields here override the §6 constants at Accountant
	// construction time, never silently at runtime).
	Caps CapsConfig `toml:"caps" json:"caps"`

	// Logging configures the slog sink.
	Logging LoggingConfig `toml:"logging" json:"logging"`

	// Backup configures where encrypted identity backups are written.
	Backup BackupConfig `toml:"backup" json:"backup"`

	mu sync.RWMutex `toml:"-" json:"-"`
}

// StoreConfig holds chain-database configuration.
type StoreConfig struct {
	// Path is the path to the sqlite database file.
	Path string `toml:"path" json:"path"`

	// BusyTimeoutMs is the sqlite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

// SigningConfig holds identity-keypair configuration.
type SigningConfig struct {
	// Algorithm is the signing algorithm. BalanceChain always uses
	// ecdsa-p256 (see codec); this field is recorded for forward
	// compatibility with a future algorithm tag, not consulted by codec.
	Algorithm string `toml:"algorithm" json:"algorithm"`
}

// CapsConfig overrides the protocol's quota constants (internal/caps).
// A zero field means "use the built-in constant".
type CapsConfig struct {
	DailyCap        int64 `toml:"daily_cap" json:"daily_cap"`
	MonthlyCap      int64 `toml:"monthly_cap" json:"monthly_cap"`
	YearlyCap       int64 `toml:"yearly_cap" json:"yearly_cap"`
	InitialUnlocked int64 `toml:"initial_unlocked" json:"initial_unlocked"`
}

// LoggingConfig holds structured-logging configuration.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level"`

	// Format is "json" or "text".
	Format string `toml:"format" json:"format"`

	// Output is "stderr", "stdout", "file", or "both".
	Output string `toml:"output" json:"output"`

	// FilePath overrides the platform default log file path when Output
	// is "file" or "both".
	FilePath string `toml:"file_path" json:"file_path"`

	// MaxSizeMB is the size a log file may reach before it is rotated.
	// A zero value means "use the built-in default".
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb"`

	// MaxAgeDays is how long a rotated log file is kept before cleanup
	// deletes it. A zero value means "use the built-in default".
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days"`

	// MaxBackups is how many rotated log files are kept regardless of
	// age. A zero value means "use the built-in default".
	MaxBackups int `toml:"max_backups" json:"max_backups"`

	// Compress gzips a log file once it is rotated out.
	Compress bool `toml:"compress" json:"compress"`

	// AddSource adds the calling file and line to each log entry. Useful
	// while debugging a validator rule locally; left off by default
	// since it adds noise to every application log line (the audit log
	// has its own handler and is not affected).
	AddSource bool `toml:"add_source" json:"add_source"`
}

// BackupConfig holds encrypted identity backup configuration.
type BackupConfig struct {
	// Dir is the directory encrypted backup files are written to and
	// read from by default.
	Dir string `toml:"dir" json:"dir"`
}

// DefaultConfig returns a Config populated with BalanceChain's defaults.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()
	return &Config{
		Version: Version,
		Store: StoreConfig{
			Path:          paths.DatabaseFile,
			BusyTimeoutMs: 5000,
		},
		Signing: SigningConfig{
			Algorithm: "ecdsa-p256",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxAgeDays: 30,
			MaxBackups: 5,
			Compress:   true,
		},
		Backup: BackupConfig{
			Dir: paths.BackupDir,
		},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Config{
		Version: c.Version,
		Store:   c.Store,
		Signing: c.Signing,
		Caps:    c.Caps,
		Logging: c.Logging,
		Backup:  c.Backup,
	}
	return clone
}

// Load reads and parses the TOML configuration file at path, merging
// the result over DefaultConfig. A missing file is not an error — it
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrCreate loads the configuration at path, writing a default
// config file there first if none exists.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("config: create default: %w", err)
		}
		return cfg, true, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Save writes cfg to path as TOML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

// ConfigPath returns the default config file location for the platform.
func ConfigPath() string {
	return GetDefaultPaths().ConfigFile
}

// Platform constants for feature detection.
const (
	PlatformMacOS   = "darwin"
	PlatformLinux   = "linux"
	PlatformWindows = "windows"
)
