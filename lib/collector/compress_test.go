// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("span db.sql.query SELECT * FROM users WHERE id = ?\n"), 200)

	for _, algorithm := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			compressed, used, err := compress(data, algorithm)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if used != algorithm {
				t.Fatalf("used = %q, want %q", used, algorithm)
			}
			if algorithm != CompressionNone && len(compressed) >= len(data) {
				t.Errorf("compressed size %d not smaller than input %d", len(compressed), len(data))
			}
			restored, err := decompress(compressed, used, len(data))
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(restored, data) {
				t.Error("round trip altered data")
			}
		})
	}
}

func TestCompressIncompressibleFallsBack(t *testing.T) {
	data := make([]byte, 4096)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	for _, algorithm := range []Compression{CompressionLZ4, CompressionZstd} {
		compressed, used, err := compress(data, algorithm)
		if err != nil {
			t.Fatalf("compress(%s): %v", algorithm, err)
		}
		if used != CompressionNone {
			t.Errorf("compress(%s) used %q for random data, want none", algorithm, used)
		}
		if !bytes.Equal(compressed, data) {
			t.Errorf("compress(%s) altered incompressible data", algorithm)
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	compressed, used, err := compress(data, CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decompress(compressed, used, len(data)+1); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		if _, err := ParseCompression(name); err != nil {
			t.Errorf("ParseCompression(%q): %v", name, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression(gzip) should fail")
	}
}
