// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the client side of the skylight daemon: what an
// instrumented application links to start the daemon and hand it
// traces.
//
//   - Spawn takes the host-wide lockfile and starts skylightd with the
//     locked descriptor inherited as fd 3. When another process already
//     holds the lock a daemon is running and Spawn returns
//     ErrAlreadyRunning.
//
//   - FindSocket derives the daemon socket from the PID the daemon
//     stamped into the lockfile.
//
//   - Dial connects to that socket and announces the agent's version
//     and daemon command in a Hello, which may trigger a hot upgrade.
//     Client.SubmitTrace then streams framed traces.
package agent
