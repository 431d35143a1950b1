// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR encoding configuration.
//
// CBOR is the payload format for everything the daemon speaks or
// stores: Hello and Trace messages on the agent socket, collector
// batches handed to the shipper, and the exec watchdog file.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types that are only ever CBOR use `cbor` struct tags.
package codec
