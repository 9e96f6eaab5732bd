// Package config loads the service configuration: defaults, then the
// platform backend, then TFMT_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/tfmt/internal/retry"
	"github.com/kalambet/tfmt/internal/storage"
)

const appName = "tfmt"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Retry     RetryConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type StorageConfig struct {
	DataDir string
	Backend string
}

type LogConfig struct {
	Level string
}

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 16,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: storage.BackendJSON,
		},
		Log: LogConfig{
			Level: "info",
		},
		Retry: RetryConfig{
			MaxRetries:   retry.DefaultMaxRetries,
			InitialDelay: retry.DefaultInitialDelay,
			MaxDelay:     retry.DefaultMaxDelay,
			Multiplier:   retry.DefaultMultiplier,
		},
	}
}

// Load reads configuration from the platform-native backend and
// environment variables.
//
// On macOS the backend is UserDefaults (domain: com.tfmt.app).
// Elsewhere it is a TOML file at $XDG_CONFIG_HOME/tfmt/config.toml.
//
// Environment variables (TFMT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("invalid config: server.max_conns must be >= 0")
	}
	switch c.Storage.Backend {
	case storage.BackendJSON, storage.BackendSQLite:
	default:
		return fmt.Errorf("invalid config: storage.backend %q (want %s or %s)", c.Storage.Backend, storage.BackendJSON, storage.BackendSQLite)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("invalid config: storage.data_dir is empty")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: log.level %q", c.Log.Level)
	}
	return nil
}

// RetryOptions converts the retry section into engine options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
	}
}
