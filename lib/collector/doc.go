// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector turns the traces decoded by the daemon loop into
// sealed batches and ships them upstream.
//
// Traces accumulate until the flush interval elapses or the pending
// batch reaches its size threshold. A flushed [Batch] is CBOR-encoded,
// digested with a keyed BLAKE3 hash, compressed (zstd or LZ4, falling
// back to none when the data does not shrink), and wrapped in an
// [Envelope]. Envelopes wait in a byte-bounded [Buffer] that drops the
// oldest entries under pressure. A background shipper delivers them
// with exponential backoff and drains what it can on shutdown.
package collector
