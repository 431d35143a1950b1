// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash fingerprints executables by content.
//
// Before a reload the daemon hashes the binary it is about to exec and
// records the digest in the reload watchdog; the successor compares it
// with its own executable to tell which build actually came up. Version
// strings alone cannot distinguish a rebuilt binary from a stale one
// installed under the same path.
package binhash
