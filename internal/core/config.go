package core

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName    = "magpie"
	registryFileName = "magpie.yaml"
	settingsFileName = "settings.json"
)

// Config holds the resolved filesystem layout: where the registry lives,
// where binaries are installed, and where backups are kept.
type Config struct {
	RegistryPath string // registry file (MAGPIE_CONFIG)
	BinDir       string // installed executables (MAGPIE_BIN_DIR)
	DataDir      string // backups and staging (MAGPIE_DATA_DIR)
}

// NewConfig resolves the layout from environment variables, falling back to
// XDG-style defaults under the user's home directory.
func NewConfig() (Config, error) {
	var cfg Config

	if p := os.Getenv("MAGPIE_CONFIG"); p != "" {
		cfg.RegistryPath = p
	} else {
		base, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("locating config directory: %w", err)
		}
		cfg.RegistryPath = filepath.Join(base, configDirName, registryFileName)
	}

	if p := os.Getenv("MAGPIE_BIN_DIR"); p != "" {
		cfg.BinDir = p
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("locating home directory: %w", err)
		}
		cfg.BinDir = filepath.Join(home, ".local", "bin")
	}

	if p := os.Getenv("MAGPIE_DATA_DIR"); p != "" {
		cfg.DataDir = p
	} else if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		cfg.DataDir = filepath.Join(xdg, configDirName)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("locating home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".local", "share", configDirName)
	}

	return cfg, nil
}

// SettingsPath returns the path of the optional settings file, which lives
// next to the registry.
func (c Config) SettingsPath() string {
	return filepath.Join(filepath.Dir(c.RegistryPath), settingsFileName)
}

// EnsureDirs creates the config, bin, and data directories.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{filepath.Dir(c.RegistryPath), c.BinDir, c.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
