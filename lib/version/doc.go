// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information and the version
// ordering used to decide whether an agent's Hello announces a newer
// daemon.
//
// Version information is injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/skylightio/skylightd/lib/version.Version=1.4.0"
//
// [Newer] is the only comparison the daemon loop needs: when a
// connecting agent reports a version that is strictly newer than
// [Version], the daemon re-executes itself with the agent's command.
package version
