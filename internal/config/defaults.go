// Package config handles configuration loading and validation for BalanceChain.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/balancechain/
//   - Linux:   ~/.local/share/balancechain/
//   - Windows: %APPDATA%\balancechain\
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return linuxDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return linuxConfigDir()
	}
}

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "balancechain")
}

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "balancechain")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "balancechain")
}

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "balancechain")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "balancechain")
}

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "balancechain")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Roaming", "balancechain")
}

// DefaultPaths holds the default filesystem layout for a platform.
type DefaultPaths struct {
	DataDir      string
	ConfigDir    string
	ConfigFile   string
	DatabaseFile string
	BackupDir    string
}

// GetDefaultPaths returns the default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()

	return &DefaultPaths{
		DataDir:      dataDir,
		ConfigDir:    configDir,
		ConfigFile:   filepath.Join(configDir, "config.toml"),
		DatabaseFile: filepath.Join(dataDir, "chain.db"),
		BackupDir:    filepath.Join(dataDir, "backups"),
	}
}
