// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skylightio/skylightd/lib/ipc"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Agent.Keepalive.Std() != 60*time.Second {
		t.Errorf("keepalive = %s, want 1m0s", cfg.Agent.Keepalive)
	}
	if cfg.Agent.SanityEvery() != time.Second {
		t.Errorf("sanity interval = %s, want tick (1s)", cfg.Agent.SanityEvery())
	}
	if cfg.Collector.Compression != "zstd" {
		t.Errorf("compression = %q, want zstd", cfg.Collector.Compression)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "sockfile_path") {
		t.Errorf("Validate on defaults = %v, want missing sockfile_path", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("SKYLIGHT_TEST_RUN", "/run/skylight-test")
	path := filepath.Join(t.TempDir(), "skylightd.yaml")
	content := `
agent:
  sockfile_path: ${SKYLIGHT_TEST_RUN}/sock
  keepalive: 90
  tick: 250ms
collector:
  compression: lz4
  flush_interval: 2s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agent.SockfilePath != "/run/skylight-test/sock" {
		t.Errorf("sockfile_path = %q", cfg.Agent.SockfilePath)
	}
	if cfg.Agent.Keepalive.Std() != 90*time.Second {
		t.Errorf("keepalive = %s, want 1m30s", cfg.Agent.Keepalive)
	}
	if cfg.Agent.Tick.Std() != 250*time.Millisecond {
		t.Errorf("tick = %s, want 250ms", cfg.Agent.Tick)
	}
	if cfg.Collector.FlushThresholdBytes != 256*1024 {
		t.Errorf("unset field lost its default: %d", cfg.Collector.FlushThresholdBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  keepalive: soon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestEnvRoundTrip(t *testing.T) {
	original := Default()
	original.Agent.SockfilePath = "/tmp/skylight"
	original.Agent.Keepalive = Duration(15 * time.Second)
	original.Agent.MetricsPath = "/tmp/skylight/metrics.prom"
	original.Collector.Compression = "none"
	original.Collector.UpstreamSocket = "/tmp/upstream.sock"

	values := map[string]string{}
	for _, pair := range original.ToEnv() {
		name, value, _ := strings.Cut(pair, "=")
		values[name] = value
	}
	if values[EnvKeepalive] != "15s" {
		t.Errorf("%s = %q, want 15s", EnvKeepalive, values[EnvKeepalive])
	}

	restored := Default()
	if err := restored.ApplyEnv(MapLookup(values)); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if *restored != *original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", *restored, *original)
	}
}

func TestApplyEnvReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(MapLookup(map[string]string{
		EnvKeepalive:     "forever",
		EnvMaxFrameBytes: "lots",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{EnvKeepalive, EnvMaxFrameBytes} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"keepalive", func(c *Config) { c.Agent.Keepalive = 0 }, "agent.keepalive"},
		{"tick", func(c *Config) { c.Agent.Tick = -1 }, "agent.tick"},
		{"compression", func(c *Config) { c.Collector.Compression = "gzip" }, "collector.compression"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"buffer", func(c *Config) { c.Collector.BufferMaxBytes = 0 }, "collector.buffer_max_bytes"},
		{"frame size zero", func(c *Config) { c.Agent.MaxFrameBytes = 0 }, "agent.max_frame_bytes"},
		{"frame size past protocol limit", func(c *Config) { c.Agent.MaxFrameBytes = ipc.MaxPayloadLength + 1 }, "agent.max_frame_bytes"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			cfg.Agent.SockfilePath = "/tmp/skylight"
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate = %v, want mention of %s", err, test.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"60":   60 * time.Second,
		"0.5":  500 * time.Millisecond,
		"2m":   2 * time.Minute,
		" 3s ": 3 * time.Second,
	}
	for input, want := range tests {
		got, err := ParseDuration(input)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", input, err)
			continue
		}
		if got.Std() != want {
			t.Errorf("ParseDuration(%q) = %s, want %s", input, got, want)
		}
	}
}
