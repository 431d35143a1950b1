// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skylightio/skylightd/lib/config"
	"github.com/skylightio/skylightd/lib/daemon"
)

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"--version"}, config.MapLookup(nil), &stdout, &stderr); err != nil {
		t.Fatalf("run --version: %v", err)
	}
	output := stdout.String()
	if !strings.HasPrefix(output, "skylightd ") || !strings.Contains(output, "Platform: ") {
		t.Errorf("version output = %q", output)
	}
}

func TestRunBootErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"no environment", nil, "missing lockfile FD"},
		{"garbage fd", map[string]string{daemon.EnvLockfileFD: "x"}, "invalid lockfile FD"},
		{"no lockfile path", map[string]string{daemon.EnvLockfileFD: "3"}, "missing lockfile path"},
		{
			"no sockfile path",
			map[string]string{daemon.EnvLockfileFD: "3", daemon.EnvLockfilePath: "/tmp/skylight.pid"},
			"missing sockfile path",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(nil, config.MapLookup(test.env), &stdout, &stderr)
			if err == nil || err.Error() != test.want {
				t.Fatalf("run = %v, want %q", err, test.want)
			}
		})
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skylight.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  sockfile_path: /tmp\n  keepalive: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	env := map[string]string{daemon.EnvLockfileFD: "3", daemon.EnvLockfilePath: "/tmp/skylight.pid"}

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--config", path}, config.MapLookup(env), &stdout, &stderr); err == nil {
		t.Fatal("run accepted an unparseable keepalive")
	}

	env[config.EnvSockfilePath] = dir
	env[config.EnvCompression] = "brotli"
	err := run(nil, config.MapLookup(env), &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "collector.compression") {
		t.Fatalf("run = %v, want compression validation error", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-such-flag"}, config.MapLookup(nil), &stdout, &stderr); err == nil {
		t.Fatal("run accepted an unknown flag")
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skylight.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  sockfile_path: /var/run/skylight\n  keepalive: 90\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig("", config.MapLookup(map[string]string{
		config.EnvConfigFile: path,
		config.EnvLogLevel:   "debug",
	}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Agent.SockfilePath != "/var/run/skylight" {
		t.Errorf("sockfile path = %q", cfg.Agent.SockfilePath)
	}
	if cfg.Agent.Keepalive.Std().Seconds() != 90 {
		t.Errorf("keepalive = %s, want 90s", cfg.Agent.Keepalive)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}
