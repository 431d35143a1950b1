// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Skylightd is the per-host telemetry daemon. Instrumented
// applications start it through the agent library, which locks the
// host lockfile and passes the locked descriptor as fd 3:
//
//	SKYLIGHT_LOCKFILE_FD=3
//	SKYLIGHT_LOCKFILE_PATH=/var/run/skylight/skylight.pid
//	SKYLIGHT_AGENT_SOCKFILE_PATH=/var/run/skylight
//
// The daemon stamps its PID into the lockfile, listens on
// daemon-{pid}.sock in the sockfile directory, and batches the traces
// agents send it. It exits when no agent has been connected for the
// keepalive period, when its lockfile or socket file is taken away, or
// on SIGTERM/SIGINT. An agent announcing a newer version causes the
// daemon to exec that version in place, handing over the lockfile and
// listening socket.
//
// Configuration comes from an optional YAML file (--config or
// SKYLIGHT_CONFIG) overlaid with SKYLIGHT_* environment variables.
package main
