// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleMessage struct {
	Endpoint string `cbor:"endpoint"`
	Category string `cbor:"category,omitempty"`
	Count    int    `cbor:"count"`
}

func TestMarshalDeterministic(t *testing.T) {
	message := map[string]any{"zeta": 1, "alpha": "x", "mid": []any{1, 2}}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(message)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("map encoding is not deterministic: %x vs %x", first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{
		"endpoint": "GET /users",
		"count":    3,
		"future":   "field from a newer agent",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleMessage
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Endpoint != "GET /users" || decoded.Count != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	data, err := Marshal(sampleMessage{Endpoint: "a"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data = append(data, 0x00)

	var decoded sampleMessage
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {"count": 1, "count": 2}
	data := []byte{0xa2, 0x65, 'c', 'o', 'u', 'n', 't', 0x01, 0x65, 'c', 'o', 'u', 'n', 't', 0x02}

	var decoded sampleMessage
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("expected error for duplicate map key")
	}
}
