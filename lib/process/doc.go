// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package process centralizes the raw stderr output a daemon binary is
// allowed to produce: boot failures reported before logging is set up.
// Everything else goes through slog.
package process
