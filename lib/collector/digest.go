// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest identifies a batch by the BLAKE3 keyed hash of its
// uncompressed CBOR encoding. Upstream receivers use it to discard
// batches delivered twice after a shipper retry.
type Digest [32]byte

// batchDomainKey separates batch digests from any other BLAKE3 use.
// Changing it changes every batch identifier.
var batchDomainKey = [32]byte{
	's', 'k', 'y', 'l', 'i', 'g', 'h', 't', '.', 'c', 'o', 'l', 'l', 'e', 'c', 't',
	'o', 'r', '.', 'b', 'a', 't', 'c', 'h', 0, 0, 0, 0, 0, 0, 0, 0,
}

// DigestBatch hashes an encoded batch.
func DigestBatch(encoded []byte) Digest {
	hasher, err := blake3.NewKeyed(batchDomainKey[:])
	if err != nil {
		panic("collector: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// String returns the lowercase hex form.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns the first 12 hex characters, for logs.
func (d Digest) Short() string { return hex.EncodeToString(d[:6]) }
