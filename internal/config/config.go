package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Admin     AdminConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Migration MigrationConfig
	Guest     GuestConfig

	// TopologyPath names the YAML pipeline topology file. Empty means
	// the built-in default chain.
	TopologyPath string `envconfig:"VMIO_TOPOLOGY" default:""`

	// ShutdownTimeout bounds one plugin's shutdown during teardown.
	ShutdownTimeout time.Duration `envconfig:"VMIO_SHUTDOWN_TIMEOUT" default:"10s"`
}

// AdminConfig holds admin HTTP server configuration.
type AdminConfig struct {
	Port string `envconfig:"VMIO_PORT" default:"8600"`
	Host string `envconfig:"VMIO_HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"VMIO_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"VMIO_LOG_DEV" default:"false"`
}

// RateLimitConfig holds admin-surface rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"VMIO_RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"VMIO_RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"VMIO_RATE_LIMIT_ENABLED" default:"true"`
}

// MigrationConfig holds state-stream configuration.
type MigrationConfig struct {
	// ChunkSize is the transfer chunk for state save/restore.
	ChunkSize int `envconfig:"VMIO_MIGRATION_CHUNK" default:"65536"`
	// PendingWrites bounds restore writes buffered before plugin init
	// completes.
	PendingWrites int `envconfig:"VMIO_MIGRATION_PENDING" default:"64"`
}

// GuestConfig holds emulated guest parameters.
type GuestConfig struct {
	// MemoryBytes is the guest physical memory size.
	MemoryBytes uint64 `envconfig:"VMIO_GUEST_MEMORY" default:"16777216"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Admin: AdminConfig{
			Port: "8600",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Migration: MigrationConfig{
			ChunkSize:     65536,
			PendingWrites: 64,
		},
		Guest: GuestConfig{
			MemoryBytes: 16 << 20,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}
