package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Application directory name used across all platforms.
const appName = "nightsync"

// Config file name.
const configFileName = "config.toml"

// State database file name.
const stateFileName = "nightsync.db"

// DefaultConfigPath returns the full path of the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/nightsync).
// On macOS, uses ~/Library/Application Support/nightsync per Apple guidelines.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	}
}

// DefaultStatePath returns the full path of the local entity database.
func DefaultStatePath() string {
	dir := defaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, stateFileName)
}

// defaultDataDir returns the platform-specific directory for application data
// (state database, logs). On Linux, respects XDG_DATA_HOME; macOS collapses
// config and data into one directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".local", "share", appName)
	}
}
