package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Timeouts  TimeoutConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	// Port 0 asks the OS for an ephemeral port.
	Port        int
	OpenBrowser bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type TimeoutConfig struct {
	HeartbeatGrace time.Duration
	PruneAfter     time.Duration
}

type RetentionConfig struct {
	RecoveryDays int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        0,
			OpenBrowser: true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Timeouts: TimeoutConfig{
			HeartbeatGrace: 60 * time.Second,
			PruneAfter:     60 * time.Second,
		},
		Retention: RetentionConfig{
			RecoveryDays: 7,
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/parley/config.json with PARLEY_* environment variables
// overriding file values.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Derived paths under the data directory.

func (c Config) RegistryPath() string {
	return filepath.Join(c.Storage.DataDir, "sessions.json")
}

func (c Config) RecoveryDir() string {
	return filepath.Join(c.Storage.DataDir, "recovery")
}

func (c Config) UploadDir() string {
	return filepath.Join(c.Storage.DataDir, "uploads")
}

func (c Config) RecoveryRetention() time.Duration {
	return time.Duration(c.Retention.RecoveryDays) * 24 * time.Hour
}

// SlogLevel maps the configured level name to a slog.Level, defaulting to
// Info for unknown values.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
