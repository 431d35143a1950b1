// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/ipc"
	"github.com/skylightio/skylightd/lib/testutil"
)

// recordingShipper records shipped envelopes. The first failures calls
// to Ship return an error.
type recordingShipper struct {
	mu        sync.Mutex
	envelopes [][]byte
	failures  int
	attempts  int
	shipped   chan struct{}
}

func newRecordingShipper(failures int) *recordingShipper {
	return &recordingShipper{failures: failures, shipped: make(chan struct{}, 64)}
}

func (s *recordingShipper) Ship(_ context.Context, envelope []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("upstream unavailable")
	}
	s.envelopes = append(s.envelopes, envelope)
	s.shipped <- struct{}{}
	return nil
}

func (s *recordingShipper) recorded() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.envelopes...)
}

func (s *recordingShipper) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func TestRunShipperRetriesWithBackoff(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	buffer := NewBuffer(1024)
	shipper := newRecordingShipper(2)
	var shipped atomic.Uint64

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runShipper(ctx, buffer, shipper, fake, &shipped, slog.New(slog.DiscardHandler))
	}()

	buffer.Push([]byte("envelope"))

	// First failure waits initialBackoff, second waits twice that.
	fake.WaitForTimers(1)
	fake.Advance(initialBackoff)
	fake.WaitForTimers(1)
	fake.Advance(2 * initialBackoff)

	testutil.RequireReceive(t, shipper.shipped, 5*time.Second, "envelope never shipped")
	if shipper.attemptCount() != 3 {
		t.Errorf("attempts = %d, want 3", shipper.attemptCount())
	}
	if shipped.Load() != 1 || buffer.Len() != 0 {
		t.Errorf("shipped = %d, buffer len = %d", shipped.Load(), buffer.Len())
	}

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "shipper did not stop")
}

func TestRunShipperDrainsOnCancel(t *testing.T) {
	buffer := NewBuffer(1024)
	buffer.Push([]byte("one"))
	buffer.Push([]byte("two"))
	// Consume the notification so the loop only sees cancellation.
	<-buffer.Notify()

	shipper := newRecordingShipper(0)
	var shipped atomic.Uint64
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runShipper(ctx, buffer, shipper, clock.Real(), &shipped, slog.New(slog.DiscardHandler))

	recorded := shipper.recorded()
	if len(recorded) != 2 || string(recorded[0]) != "one" || string(recorded[1]) != "two" {
		t.Fatalf("drained %q, want [one two]", recorded)
	}
}

func TestDrainBufferStopsAtFirstFailure(t *testing.T) {
	buffer := NewBuffer(1024)
	buffer.Push([]byte("one"))
	buffer.Push([]byte("two"))

	var shipped atomic.Uint64
	drainBuffer(buffer, newRecordingShipper(1), &shipped, slog.New(slog.DiscardHandler))

	if shipped.Load() != 0 || buffer.Len() != 2 {
		t.Errorf("shipped = %d, remaining = %d; want 0, 2", shipped.Load(), buffer.Len())
	}
}

func TestSocketShipperWritesBatchFrames(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "upstream.sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	type frame struct {
		tag     byte
		payload []byte
	}
	frames := make(chan frame, 2)
	go func() {
		connection, err := listener.Accept()
		if err != nil {
			return
		}
		defer connection.Close()
		for {
			tag, payload, err := ipc.ReadFrame(connection)
			if err != nil {
				return
			}
			frames <- frame{tag, payload}
		}
	}()

	shipper := NewSocketShipper(path)
	defer shipper.Close()

	for _, envelope := range []string{"first", "second"} {
		if err := shipper.Ship(context.Background(), []byte(envelope)); err != nil {
			t.Fatalf("Ship(%s): %v", envelope, err)
		}
	}
	for _, want := range []string{"first", "second"} {
		got := testutil.RequireReceive(t, frames, 5*time.Second, "frame not received")
		if got.tag != TagBatch {
			t.Errorf("tag = %#x, want %#x", got.tag, TagBatch)
		}
		if !bytes.Equal(got.payload, []byte(want)) {
			t.Errorf("payload = %q, want %q", got.payload, want)
		}
	}
}

func TestSocketShipperDialFailure(t *testing.T) {
	shipper := NewSocketShipper(filepath.Join(testutil.SocketDir(t), "absent.sock"))
	if err := shipper.Ship(context.Background(), []byte("x")); err == nil {
		t.Fatal("Ship to missing socket should fail")
	}
	if err := shipper.Close(); err != nil {
		t.Errorf("Close without connection: %v", err)
	}
}
