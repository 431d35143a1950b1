// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"sync"
)

// Buffer is a byte-bounded FIFO of sealed envelopes waiting to ship.
// When a Push does not fit, the oldest envelopes are dropped: a stalled
// upstream costs old data rather than daemon memory.
//
// Notify has capacity 1 and is signalled on every Push.
type Buffer struct {
	mu        sync.Mutex
	entries   [][]byte
	totalSize int
	maxSize   int
	dropped   uint64
	notify    chan struct{}
}

// NewBuffer creates a Buffer holding at most maxSize bytes.
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		panic(fmt.Sprintf("buffer: maxSize must be positive, got %d", maxSize))
	}
	return &Buffer{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Push appends data, evicting from the front as needed. An entry larger
// than the whole buffer is rejected.
func (b *Buffer) Push(data []byte) error {
	size := len(data)
	if size == 0 {
		return fmt.Errorf("buffer: refusing to push empty entry")
	}
	if size > b.maxSize {
		return fmt.Errorf("buffer: entry size %d exceeds max buffer size %d", size, b.maxSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.totalSize+size > b.maxSize && len(b.entries) > 0 {
		b.totalSize -= len(b.entries[0])
		b.entries[0] = nil
		b.entries = b.entries[1:]
		b.dropped++
	}
	b.entries = append(b.entries, data)
	b.totalSize += size

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Peek returns the oldest entry, or nil when empty.
func (b *Buffer) Peek() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[0]
}

// Pop removes the oldest entry.
func (b *Buffer) Pop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return
	}
	b.totalSize -= len(b.entries[0])
	b.entries[0] = nil
	b.entries = b.entries[1:]
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// SizeBytes returns the total buffered bytes.
func (b *Buffer) SizeBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

// Dropped returns how many entries have been evicted.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Notify is signalled when data is pushed.
func (b *Buffer) Notify() <-chan struct{} { return b.notify }
