// Package config loads the process configuration for the demo daemon from
// YAML: unmarshal into the zero value, overwrite zero fields with
// defaults, then validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loopwire/transporter/wire"
)

// Config is the process-level configuration for cmd/transporterd.
// Per-call options (namespace, timeout, codec) are also available
// programmatically via endpoint.ServerOption/ClientOption; this type
// exists for the demo binary's YAML file and env-free startup.
type Config struct {
	Namespace      string `yaml:"namespace"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Codec          string `yaml:"codec"` // "json" (default) or "msgpack"
	MaxFrameBytes  int    `yaml:"max_frame_bytes"`
	Debug          bool   `yaml:"debug"`
}

// Load reads and parses filename, filling in defaults for zero-valued
// TimeoutSeconds, Codec and MaxFrameBytes. Namespace and Debug keep
// whatever the file gives them.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.Codec == "" {
		cfg.Codec = "json"
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}

	if cfg.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("timeout_seconds cannot be negative: %d", cfg.TimeoutSeconds)
	}
	if cfg.MaxFrameBytes < 0 {
		return nil, fmt.Errorf("max_frame_bytes cannot be negative: %d", cfg.MaxFrameBytes)
	}

	return &cfg, nil
}

// Timeout returns the configured per-request timeout as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NewCodec builds the wire.Codec named by c.Codec.
func (c *Config) NewCodec() (wire.Codec, error) {
	switch c.Codec {
	case "json":
		return &wire.JSONCodec{MaxFrameBytes: c.MaxFrameBytes}, nil
	case "msgpack":
		return &wire.MsgpackCodec{MaxFrameBytes: c.MaxFrameBytes}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", c.Codec)
	}
}
