// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon implements the skylightd core: a single-threaded
// accept/dispatch loop over a Unix socket that receives traces from
// instrumented agents and hands them to a [Collector].
//
// The daemon is a per-host singleton. An agent acquires an exclusive
// lock on the lockfile, starts the daemon with that file as an
// inherited descriptor, and the daemon stamps its PID into it. From
// then on the daemon periodically re-verifies that the lockfile still
// exists, still names it, and that its socket file is still present;
// losing any of these means another process may have taken over, and
// the daemon shuts down.
//
// The daemon also shuts down after a keepalive period with no connected
// agents, and on SIGTERM or SIGINT. When an agent's [ipc.Hello]
// announces a newer version, the daemon re-executes itself with the
// agent's command line. The lockfile and the listening socket survive
// the exec, so agents keep the same socket path and the singleton lock
// is never released.
//
// Source files:
//
//   - identity.go: lockfile and socket file ownership
//   - listener.go: raw non-blocking Unix listener
//   - conn.go: per-agent framing over a non-blocking socket
//   - server.go: the poll loop and its lifecycle
//   - reload.go: exec-based hot upgrade
//   - boot.go: the environment contract and process bootstrap
//   - metrics.go: Prometheus counters written to a textfile
package daemon
