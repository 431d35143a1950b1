// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skylightio/skylightd/lib/ipc"
)

// Config is the complete daemon configuration.
type Config struct {
	// Agent configures the daemon loop and its socket.
	Agent AgentConfig `yaml:"agent"`

	// Collector configures trace batching and the upstream handoff.
	Collector CollectorConfig `yaml:"collector"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log"`
}

// AgentConfig configures the daemon loop.
type AgentConfig struct {
	// SockfilePath is the directory holding daemon-{pid}.sock. Required.
	SockfilePath string `yaml:"sockfile_path"`

	// Keepalive is how long the daemon stays up with no connected
	// agents before shutting itself down.
	// Default: 60s
	Keepalive Duration `yaml:"keepalive"`

	// Tick bounds each readiness wait.
	// Default: 1s
	Tick Duration `yaml:"tick"`

	// SanityInterval is how often the lockfile and socket file are
	// re-verified. Zero means once per Tick.
	SanityInterval Duration `yaml:"sanity_interval"`

	// MaxFrameBytes is the largest frame payload accepted from an agent.
	// Default: 16 MiB
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	// MetricsPath, when set, receives a Prometheus text exposition of
	// the daemon's counters after every self-check.
	MetricsPath string `yaml:"metrics_path"`
}

// CollectorConfig configures trace batching.
type CollectorConfig struct {
	// FlushInterval is the longest a trace waits before its batch is
	// flushed. Default: 5s
	FlushInterval Duration `yaml:"flush_interval"`

	// FlushThresholdBytes triggers an early flush once the pending batch
	// reaches this encoded size. Default: 256 KiB
	FlushThresholdBytes int `yaml:"flush_threshold_bytes"`

	// BufferMaxBytes bounds batches waiting to be shipped; the oldest
	// are dropped first. Default: 64 MiB
	BufferMaxBytes int `yaml:"buffer_max_bytes"`

	// Compression is "none", "lz4", or "zstd". Default: zstd
	Compression string `yaml:"compression"`

	// UpstreamSocket, when set, is a Unix socket batches are streamed
	// to. Without it batches are logged and discarded.
	UpstreamSocket string `yaml:"upstream_socket"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info
	Level string `yaml:"level"`
}

// Default returns the configuration used before any file or
// environment overrides are applied.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Keepalive:     Duration(60 * time.Second),
			Tick:          Duration(time.Second),
			MaxFrameBytes: ipc.MaxPayloadLength,
		},
		Collector: CollectorConfig{
			FlushInterval:       Duration(5 * time.Second),
			FlushThresholdBytes: 256 * 1024,
			BufferMaxBytes:      64 * 1024 * 1024,
			Compression:         "zstd",
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile loads configuration from path on top of Default. An empty
// path returns the defaults. ${HOME} and ${VAR:-default} references in
// path-valued settings are expanded.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.expandVariables()
	return cfg, nil
}

// SanityEvery returns the effective self-check interval.
func (a AgentConfig) SanityEvery() time.Duration {
	if a.SanityInterval <= 0 {
		return a.Tick.Std()
	}
	return a.SanityInterval.Std()
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.SockfilePath == "" {
		errs = append(errs, errors.New("agent.sockfile_path is required"))
	}
	if c.Agent.Keepalive <= 0 {
		errs = append(errs, fmt.Errorf("agent.keepalive must be positive, got %s", c.Agent.Keepalive))
	}
	if c.Agent.Tick <= 0 {
		errs = append(errs, fmt.Errorf("agent.tick must be positive, got %s", c.Agent.Tick))
	}
	if c.Agent.SanityInterval < 0 {
		errs = append(errs, fmt.Errorf("agent.sanity_interval must not be negative, got %s", c.Agent.SanityInterval))
	}
	if c.Agent.MaxFrameBytes <= 0 || c.Agent.MaxFrameBytes > ipc.MaxPayloadLength {
		errs = append(errs, fmt.Errorf("agent.max_frame_bytes must be between 1 and %d, got %d",
			ipc.MaxPayloadLength, c.Agent.MaxFrameBytes))
	}
	if c.Collector.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("collector.flush_interval must be positive, got %s", c.Collector.FlushInterval))
	}
	if c.Collector.FlushThresholdBytes <= 0 {
		errs = append(errs, fmt.Errorf("collector.flush_threshold_bytes must be positive, got %d", c.Collector.FlushThresholdBytes))
	}
	if c.Collector.BufferMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("collector.buffer_max_bytes must be positive, got %d", c.Collector.BufferMaxBytes))
	}
	switch c.Collector.Compression {
	case "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("collector.compression must be none, lz4, or zstd, got %q", c.Collector.Compression))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Config) expandVariables() {
	c.Agent.SockfilePath = expandVars(c.Agent.SockfilePath)
	c.Agent.MetricsPath = expandVars(c.Agent.MetricsPath)
	c.Collector.UpstreamSocket = expandVars(c.Collector.UpstreamSocket)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Duration is a time.Duration that reads from YAML and the environment
// either as a Go duration string ("90s", "1m") or as a bare number of
// seconds ("60", "0.5").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration parses the formats Duration accepts.
func ParseDuration(text string) (Duration, error) {
	text = strings.TrimSpace(text)
	if seconds, err := strconv.ParseFloat(text, 64); err == nil {
		return Duration(seconds * float64(time.Second)), nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	return Duration(parsed), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }
