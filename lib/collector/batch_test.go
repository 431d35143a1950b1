// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"strings"
	"testing"

	"github.com/skylightio/skylightd/lib/codec"
	"github.com/skylightio/skylightd/lib/ipc"
)

func testTrace(uuid string) *ipc.Trace {
	return &ipc.Trace{
		UUID:     uuid,
		Endpoint: "PostsController#index",
		Start:    1_700_000_000_000_000_000,
		Spans: []ipc.Span{
			{Parent: -1, Category: "app.rack.request", Duration: 8_000_000},
			{Parent: 0, Category: "view.render.template", Title: "posts/index", Started: 2_000_000, Duration: 3_000_000},
		},
	}
}

func testBatch(count int) *Batch {
	batch := &Batch{Sequence: 7, Hostname: "web-1", PID: 4242, CreatedAt: 1_700_000_001_000_000_000}
	for i := range count {
		batch.Traces = append(batch.Traces, testTrace(strings.Repeat("a", i+1)))
	}
	return batch
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, algorithm := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			original := testBatch(20)
			sealed, digest, err := Seal(original, algorithm)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if digest == (Digest{}) {
				t.Error("Seal returned zero digest")
			}

			opened, err := Open(sealed)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if opened.Sequence != 7 || opened.Hostname != "web-1" || opened.PID != 4242 {
				t.Errorf("batch header = %d/%s/%d", opened.Sequence, opened.Hostname, opened.PID)
			}
			if len(opened.Traces) != 20 {
				t.Fatalf("got %d traces, want 20", len(opened.Traces))
			}
			for i, trace := range opened.Traces {
				if trace.UUID != original.Traces[i].UUID {
					t.Errorf("trace %d uuid = %q, want %q", i, trace.UUID, original.Traces[i].UUID)
				}
			}
		})
	}
}

func TestOpenRejectsDigestMismatch(t *testing.T) {
	sealed, _, err := Seal(testBatch(3), CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	var envelope Envelope
	if err := codec.Unmarshal(sealed, &envelope); err != nil {
		t.Fatal(err)
	}
	envelope.Digest = DigestBatch([]byte("something else")).String()
	tampered, err := codec.Marshal(envelope)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Open(tampered)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("Open(tampered) error = %v, want digest mismatch", err)
	}
}

func TestDigestBatchDeterministic(t *testing.T) {
	first := DigestBatch([]byte("payload"))
	second := DigestBatch([]byte("payload"))
	if first != second {
		t.Error("same input produced different digests")
	}
	if first == DigestBatch([]byte("payload2")) {
		t.Error("different input produced same digest")
	}
	if len(first.String()) != 64 || len(first.Short()) != 12 {
		t.Errorf("String/Short lengths = %d/%d", len(first.String()), len(first.Short()))
	}
}
