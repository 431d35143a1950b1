// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// EnvPrefix starts every configuration environment variable.
const EnvPrefix = "SKYLIGHT_"

// Names of the configuration environment variables. The reload path
// relies on ToEnv and ApplyEnv agreeing on this table.
const (
	EnvConfigFile          = "SKYLIGHT_CONFIG"
	EnvSockfilePath        = "SKYLIGHT_AGENT_SOCKFILE_PATH"
	EnvKeepalive           = "SKYLIGHT_AGENT_KEEPALIVE"
	EnvTick                = "SKYLIGHT_AGENT_TICK"
	EnvSanityInterval      = "SKYLIGHT_AGENT_SANITY_INTERVAL"
	EnvMaxFrameBytes       = "SKYLIGHT_AGENT_MAX_FRAME_BYTES"
	EnvMetricsPath         = "SKYLIGHT_AGENT_METRICS_PATH"
	EnvFlushInterval       = "SKYLIGHT_COLLECTOR_FLUSH_INTERVAL"
	EnvFlushThresholdBytes = "SKYLIGHT_COLLECTOR_FLUSH_THRESHOLD_BYTES"
	EnvBufferMaxBytes      = "SKYLIGHT_COLLECTOR_BUFFER_MAX_BYTES"
	EnvCompression         = "SKYLIGHT_COLLECTOR_COMPRESSION"
	EnvUpstreamSocket      = "SKYLIGHT_COLLECTOR_UPSTREAM_SOCKET"
	EnvLogLevel            = "SKYLIGHT_LOG_LEVEL"
)

type envBinding struct {
	name string
	get  func(*Config) string
	set  func(*Config, string) error
}

func stringBinding(name string, field func(*Config) *string) envBinding {
	return envBinding{
		name: name,
		get:  func(c *Config) string { return *field(c) },
		set: func(c *Config, value string) error {
			*field(c) = value
			return nil
		},
	}
}

func durationBinding(name string, field func(*Config) *Duration) envBinding {
	return envBinding{
		name: name,
		get:  func(c *Config) string { return field(c).String() },
		set: func(c *Config, value string) error {
			parsed, err := ParseDuration(value)
			if err != nil {
				return err
			}
			*field(c) = parsed
			return nil
		},
	}
}

func intBinding(name string, field func(*Config) *int) envBinding {
	return envBinding{
		name: name,
		get:  func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, value string) error {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer %q", value)
			}
			*field(c) = parsed
			return nil
		},
	}
}

var envBindings = []envBinding{
	stringBinding(EnvSockfilePath, func(c *Config) *string { return &c.Agent.SockfilePath }),
	durationBinding(EnvKeepalive, func(c *Config) *Duration { return &c.Agent.Keepalive }),
	durationBinding(EnvTick, func(c *Config) *Duration { return &c.Agent.Tick }),
	durationBinding(EnvSanityInterval, func(c *Config) *Duration { return &c.Agent.SanityInterval }),
	intBinding(EnvMaxFrameBytes, func(c *Config) *int { return &c.Agent.MaxFrameBytes }),
	stringBinding(EnvMetricsPath, func(c *Config) *string { return &c.Agent.MetricsPath }),
	durationBinding(EnvFlushInterval, func(c *Config) *Duration { return &c.Collector.FlushInterval }),
	intBinding(EnvFlushThresholdBytes, func(c *Config) *int { return &c.Collector.FlushThresholdBytes }),
	intBinding(EnvBufferMaxBytes, func(c *Config) *int { return &c.Collector.BufferMaxBytes }),
	stringBinding(EnvCompression, func(c *Config) *string { return &c.Collector.Compression }),
	stringBinding(EnvUpstreamSocket, func(c *Config) *string { return &c.Collector.UpstreamSocket }),
	stringBinding(EnvLogLevel, func(c *Config) *string { return &c.Log.Level }),
}

// ApplyEnv overrides settings from environment variables found through
// lookup (normally os.LookupEnv). Variables that are unset or empty
// leave the current value alone. Every malformed value is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, binding := range envBindings {
		value, ok := lookup(binding.name)
		if !ok || value == "" {
			continue
		}
		if err := binding.set(c, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", binding.name, err))
		}
	}
	return errors.Join(errs...)
}

// ToEnv serializes every non-empty setting as NAME=value pairs, sorted
// by name. Applying the result with ApplyEnv to Default reproduces c.
func (c *Config) ToEnv() []string {
	environment := make([]string, 0, len(envBindings))
	for _, binding := range envBindings {
		value := binding.get(c)
		if value == "" {
			continue
		}
		environment = append(environment, binding.name+"="+value)
	}
	sort.Strings(environment)
	return environment
}

// MapLookup adapts a map to the lookup signature ApplyEnv takes.
func MapLookup(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}
