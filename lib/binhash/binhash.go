// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is the BLAKE3-256 hash of a file's contents.
type Digest [32]byte

// HashFile streams the file at path through BLAKE3.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// HashExecutable hashes the binary of the running process.
func HashExecutable() (Digest, error) {
	path, err := os.Executable()
	if err != nil {
		return Digest{}, fmt.Errorf("locating executable: %w", err)
	}
	return HashFile(path)
}

// String returns the lowercase hex encoding, the form written to
// watchdog files and logs.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// ParseDigest parses the output of Digest.String.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing binary digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("binary digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
