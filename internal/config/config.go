// Package config provides configuration management for linkup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDaemonPort is the port the orchestration daemon listens on.
	DefaultDaemonPort = 37640
	// DefaultBackendPort is the port the REST backend listens on.
	DefaultBackendPort = 8000
)

// Config holds all runtime settings for the daemon and the backend.
type Config struct {
	// DaemonPort is the HTTP port of the orchestration daemon.
	DaemonPort int `yaml:"daemon_port"`

	// BackendPort is the HTTP port of the REST backend.
	BackendPort int `yaml:"backend_port"`

	// BackendURL is the base URL the daemon uses to reach the backend.
	BackendURL string `yaml:"backend_url"`

	// TranscribeURL and DraftURL point the backend at its upstream AI
	// services. Empty means the deterministic fallbacks are always used.
	TranscribeURL string `yaml:"transcribe_url"`
	DraftURL      string `yaml:"draft_url"`

	// RedisAddr enables Redis-backed replication when non-empty; empty
	// keeps replication in-process.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// LocalSecret seals the cached auth token at rest.
	LocalSecret string `yaml:"local_secret"`

	// DataDir overrides the default on-disk location for the local cache
	// and the backend database.
	DataDir string `yaml:"data_dir"`
}

var (
	mu       sync.RWMutex
	instance *Config
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DaemonPort:  DefaultDaemonPort,
		BackendPort: DefaultBackendPort,
		BackendURL:  fmt.Sprintf("http://localhost:%d", DefaultBackendPort),
		LocalSecret: "linkup-local",
	}
}

// Load builds the configuration: defaults, then the YAML settings file if
// present, then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(SettingsPath()); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", SettingsPath(), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)

	mu.Lock()
	instance = cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns the loaded configuration, loading it on first use. A load
// failure falls back to defaults.
func Get() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	cfg, err := Load()
	if err != nil {
		cfg = Default()
		mu.Lock()
		instance = cfg
		mu.Unlock()
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LINKUP_DAEMON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.DaemonPort = port
		}
	}
	if v := os.Getenv("LINKUP_BACKEND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.BackendPort = port
		}
	}
	if v := os.Getenv("LINKUP_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("LINKUP_TRANSCRIBE_URL"); v != "" {
		cfg.TranscribeURL = v
	}
	if v := os.Getenv("LINKUP_DRAFT_URL"); v != "" {
		cfg.DraftURL = v
	}
	if v := os.Getenv("LINKUP_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("LINKUP_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LINKUP_LOCAL_SECRET"); v != "" {
		cfg.LocalSecret = v
	}
	if v := os.Getenv("LINKUP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

// DataDir returns the on-disk root for linkup state.
func DataDir() string {
	if cfg := Get(); cfg.DataDir != "" {
		return cfg.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".linkup")
}

// DBPath returns the backend database location.
func DBPath() string {
	return filepath.Join(DataDir(), "linkup.db")
}

// CachePath returns the local key-value cache location.
func CachePath() string {
	return filepath.Join(DataDir(), "cache.db")
}

// SettingsPath returns the YAML settings file location.
func SettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".linkup", "settings.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// Reset clears the cached instance. Tests use it to re-trigger loading.
func Reset() {
	mu.Lock()
	instance = nil
	mu.Unlock()
}
