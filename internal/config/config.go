// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all staging engine configuration.
type Config struct {
	Staging StagingConfig
	Bridge  BridgeConfig
	Logging LogConfig
}

// StagingConfig governs step buffering and reader liveness.
type StagingConfig struct {
	// MaxBufferedSteps bounds how many sealed-but-unretired steps a
	// stream keeps before the oldest unadmitted one is evicted.
	// 0 means unbounded.
	MaxBufferedSteps int `envconfig:"STAGE_MAX_BUFFERED_STEPS" default:"0"`

	// DefaultTimeout bounds a reader's BeginStep wait when the caller
	// does not pass an explicit timeout.
	DefaultTimeout time.Duration `envconfig:"STAGE_DEFAULT_TIMEOUT" default:"60s"`
}

// BridgeConfig holds the websocket transport endpoints.
type BridgeConfig struct {
	Addr             string        `envconfig:"STAGE_BRIDGE_ADDR" default:"localhost:7400"`
	HandshakeTimeout time.Duration `envconfig:"STAGE_BRIDGE_HANDSHAKE_TIMEOUT" default:"10s"`

	// CompressThreshold is the payload size in bytes above which step
	// data is zstd-compressed on the wire. 0 disables compression.
	CompressThreshold int `envconfig:"STAGE_BRIDGE_COMPRESS_THRESHOLD" default:"4096"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"STAGE_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"STAGE_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
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
		Staging: StagingConfig{
			MaxBufferedSteps: 0,
			DefaultTimeout:   60 * time.Second,
		},
		Bridge: BridgeConfig{
			Addr:              "localhost:7400",
			HandshakeTimeout:  10 * time.Second,
			CompressThreshold: 4096,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
