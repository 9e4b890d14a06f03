package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted as YAML.
// Environment variables override file values at load time; command line
// flags override both.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	Store         StoreConfig   `yaml:"store"`
	Logging       LoggingConfig `yaml:"logging"`
}

type StoreConfig struct {
	Dir string `yaml:"dir"` // directory holding LibraryCashier.db
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Store:         StoreConfig{Dir: "."},
		Logging:       LoggingConfig{Level: "info", Format: "text"},
	}
}

// Env var names used as overrides.
const (
	EnvStoreDir  = "LIBCASHIER_STORE_DIR"
	EnvLogLevel  = "LIBCASHIER_LOG_LEVEL"
	EnvLogFormat = "LIBCASHIER_LOG_FORMAT"
	EnvLogFile   = "LIBCASHIER_LOG_FILE"
)

// DefaultPath returns the per-user config file path.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve config directory: %w", err)
	}
	return filepath.Join(base, "libcashier", "config.yaml"), nil
}

// Load reads the config file at path (DefaultPath when empty), applies it
// over the defaults and then applies environment overrides. A missing file
// is not an error; a malformed one is.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if v := strings.TrimSpace(src.Store.Dir); v != "" {
		dst.Store.Dir = v
	}
	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.File); v != "" {
		dst.Logging.File = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvStoreDir)); v != "" {
		cfg.Store.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}
