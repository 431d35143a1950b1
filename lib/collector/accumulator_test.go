// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import "testing"

func TestAccumulatorFlushEmpty(t *testing.T) {
	accumulator := NewAccumulator(0)
	if batch := accumulator.Flush(); batch != nil {
		t.Fatalf("Flush on empty accumulator = %+v, want nil", batch)
	}
}

func TestAccumulatorSequence(t *testing.T) {
	accumulator := NewAccumulator(0)
	for round := range 3 {
		if _, err := accumulator.Add(testTrace("t")); err != nil {
			t.Fatal(err)
		}
		batch := accumulator.Flush()
		if batch == nil {
			t.Fatalf("round %d: nil batch", round)
		}
		if batch.Sequence != uint64(round) {
			t.Errorf("round %d: sequence = %d", round, batch.Sequence)
		}
		// An empty flush does not consume a sequence number.
		accumulator.Flush()
	}
}

func TestAccumulatorThreshold(t *testing.T) {
	accumulator := NewAccumulator(1)
	full, err := accumulator.Add(testTrace("first"))
	if err != nil {
		t.Fatal(err)
	}
	if !full {
		t.Error("Add past threshold should report full")
	}
	if accumulator.SizeBytes() == 0 {
		t.Error("SizeBytes not tracked")
	}

	disabled := NewAccumulator(0)
	for range 100 {
		full, _ := disabled.Add(testTrace("x"))
		if full {
			t.Fatal("threshold 0 should never report full")
		}
	}
	batch := disabled.Flush()
	if len(batch.Traces) != 100 {
		t.Errorf("batch holds %d traces, want 100", len(batch.Traces))
	}
	if disabled.Len() != 0 || disabled.SizeBytes() != 0 {
		t.Error("Flush did not reset the accumulator")
	}
}
