package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal: silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. Supports the zero-config first
// run: status and import work before the user has written a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)

		return cfg, nil
	}

	return Load(path)
}

// Environment variable names for overrides. Environment wins over the config
// file so credentials can be kept out of it.
const (
	EnvURL       = "NIGHTSYNC_URL"
	EnvAPISecret = "NIGHTSYNC_API_SECRET"
	EnvToken     = "NIGHTSYNC_TOKEN"
)

// applyEnvOverrides overwrites server settings from the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvURL); v != "" {
		cfg.Server.URL = v
	}

	if v := os.Getenv(EnvAPISecret); v != "" {
		cfg.Server.APISecret = v
	}

	if v := os.Getenv(EnvToken); v != "" {
		cfg.Server.Token = v
	}
}
