// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the wire protocol between instrumented agents and
// the daemon on the daemon's Unix socket.
//
// Every message is a frame: a 5-byte header (1 byte type tag + 4 byte
// big-endian payload length) followed by a CBOR payload. Agents send a
// [Hello] first and then any number of [Trace] frames. Frames with a
// tag this daemon does not know decode to [Unknown] so newer agents can
// introduce message types without breaking older daemons.
//
// [Parse] works on an in-memory buffer and never blocks, which is what
// the daemon's non-blocking connection reader needs. [ReadMessage] and
// [WriteMessage] are the stream forms used by agents and tests.
package ipc
