// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"

	"github.com/skylightio/skylightd/lib/codec"
	"github.com/skylightio/skylightd/lib/ipc"
)

// TagBatch is the frame type the socket shipper writes upstream.
const TagBatch byte = 0x10

// Batch is the set of traces flushed together.
type Batch struct {
	// Sequence increases by one per flushed batch within a process.
	Sequence uint64 `cbor:"sequence"`

	// Hostname and PID identify the daemon that produced the batch.
	Hostname string `cbor:"hostname"`
	PID      int    `cbor:"pid"`

	// CreatedAt is the flush time in nanoseconds since the Unix epoch.
	CreatedAt int64 `cbor:"created_at"`

	Traces []*ipc.Trace `cbor:"traces"`
}

// Envelope is what the shipper sends: a compressed, digested batch.
type Envelope struct {
	Digest      string      `cbor:"digest"`
	Sequence    uint64      `cbor:"sequence"`
	TraceCount  int         `cbor:"trace_count"`
	Compression Compression `cbor:"compression"`
	Size        int         `cbor:"size"`
	Payload     []byte      `cbor:"payload"`
}

// Seal encodes, digests, and compresses batch into the CBOR bytes of an
// Envelope.
func Seal(batch *Batch, want Compression) ([]byte, Digest, error) {
	encoded, err := codec.Marshal(batch)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("encoding batch %d: %w", batch.Sequence, err)
	}
	digest := DigestBatch(encoded)
	payload, used, err := compress(encoded, want)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("compressing batch %d: %w", batch.Sequence, err)
	}
	envelope, err := codec.Marshal(Envelope{
		Digest:      digest.String(),
		Sequence:    batch.Sequence,
		TraceCount:  len(batch.Traces),
		Compression: used,
		Size:        len(encoded),
		Payload:     payload,
	})
	if err != nil {
		return nil, Digest{}, fmt.Errorf("encoding envelope %d: %w", batch.Sequence, err)
	}
	return envelope, digest, nil
}

// Open decodes envelope bytes, decompresses the payload, verifies its
// digest, and returns the batch.
func Open(data []byte) (*Batch, error) {
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	encoded, err := decompress(envelope.Payload, envelope.Compression, envelope.Size)
	if err != nil {
		return nil, fmt.Errorf("envelope %d: %w", envelope.Sequence, err)
	}
	if digest := DigestBatch(encoded).String(); digest != envelope.Digest {
		return nil, fmt.Errorf("envelope %d: digest mismatch: have %s, computed %s", envelope.Sequence, envelope.Digest, digest)
	}
	var batch Batch
	if err := codec.Unmarshal(encoded, &batch); err != nil {
		return nil, fmt.Errorf("decoding batch %d: %w", envelope.Sequence, err)
	}
	return &batch, nil
}
