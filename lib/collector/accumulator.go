// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"sync"

	"github.com/skylightio/skylightd/lib/codec"
	"github.com/skylightio/skylightd/lib/ipc"
)

// Accumulator gathers traces between flushes and tracks their
// approximate encoded size so a flush can be triggered early.
//
// Thread-safe: Add runs on the daemon loop while the flush loop calls
// Flush.
type Accumulator struct {
	mu             sync.Mutex
	traces         []*ipc.Trace
	sizeBytes      int
	sequenceNumber uint64
	flushThreshold int
}

// NewAccumulator creates an Accumulator. A threshold of 0 disables
// size-based flushing.
func NewAccumulator(flushThreshold int) *Accumulator {
	return &Accumulator{flushThreshold: flushThreshold}
}

// Add appends trace and reports whether the accumulated size has
// reached the flush threshold.
func (a *Accumulator) Add(trace *ipc.Trace) (bool, error) {
	encoded, err := codec.Marshal(trace)
	if err != nil {
		return false, fmt.Errorf("measuring trace %s: %w", trace.UUID, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.traces = append(a.traces, trace)
	a.sizeBytes += len(encoded)
	return a.flushThreshold > 0 && a.sizeBytes >= a.flushThreshold, nil
}

// Flush drains the accumulated traces into a Batch, or returns nil when
// nothing has arrived since the last flush. Each non-nil batch takes
// the next sequence number.
func (a *Accumulator) Flush() *Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.traces) == 0 {
		return nil
	}
	batch := &Batch{
		Sequence: a.sequenceNumber,
		Traces:   a.traces,
	}
	a.traces = nil
	a.sizeBytes = 0
	a.sequenceNumber++
	return batch
}

// Len returns the number of traces waiting for the next flush.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.traces)
}

// SizeBytes returns the approximate encoded size of pending traces.
func (a *Accumulator) SizeBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sizeBytes
}
