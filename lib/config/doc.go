// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads daemon configuration.
//
// Settings come from three layers, each overriding the last:
// [Default], an optional YAML file (--config or SKYLIGHT_CONFIG), and
// SKYLIGHT_* environment variables. The environment layer is also how
// configuration survives a reload: the running daemon serializes its
// effective configuration with [Config.ToEnv] into the environment of
// the replacement process, which reads it back with [Config.ApplyEnv].
package config
