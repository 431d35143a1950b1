// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] returns a short /tmp directory for Unix sockets.
// [RequireReceive], [RequireClosed], and [Eventually] bound every wait
// on another goroutine with a real timeout so a broken daemon loop
// fails the test instead of hanging it. [UniqueID] produces
// distinguishable identifiers.
//
// All helpers call t.Fatalf on failure.
package testutil
