// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/ipc"
)

// Shipper delivers one sealed envelope upstream.
type Shipper interface {
	Ship(ctx context.Context, envelope []byte) error
}

// LogShipper accepts every envelope and logs it. It is used when no
// upstream socket is configured, so the pipeline still runs end to end.
type LogShipper struct {
	Logger *slog.Logger
}

// Ship implements Shipper.
func (s LogShipper) Ship(_ context.Context, envelope []byte) error {
	s.Logger.Debug("batch discarded (no upstream configured)", "bytes", len(envelope))
	return nil
}

// SocketShipper streams envelopes as TagBatch frames over a Unix
// socket, reconnecting after any write failure.
type SocketShipper struct {
	path string

	mu         sync.Mutex
	connection net.Conn
}

// NewSocketShipper creates a shipper for the upstream socket at path.
// It connects lazily on the first Ship.
func NewSocketShipper(path string) *SocketShipper {
	return &SocketShipper{path: path}
}

// Ship implements Shipper.
func (s *SocketShipper) Ship(ctx context.Context, envelope []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connection == nil {
		var dialer net.Dialer
		connection, err := dialer.DialContext(ctx, "unix", s.path)
		if err != nil {
			return fmt.Errorf("connecting to upstream %s: %w", s.path, err)
		}
		s.connection = connection
	}

	// A context without a deadline clears any previous one.
	deadline, _ := ctx.Deadline()
	s.connection.SetWriteDeadline(deadline)

	if err := ipc.WriteFrame(s.connection, TagBatch, envelope); err != nil {
		s.connection.Close()
		s.connection = nil
		return err
	}
	return nil
}

// Close closes the upstream connection, if any.
func (s *SocketShipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connection == nil {
		return nil
	}
	err := s.connection.Close()
	s.connection = nil
	return err
}

// Retry backoff for the shipper: doubles per consecutive failure,
// resets on success.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// drainTimeout bounds the final best-effort delivery at shutdown.
const drainTimeout = 5 * time.Second

// runShipper ships buffered envelopes until ctx is cancelled, then
// makes one final drain pass.
func runShipper(ctx context.Context, buffer *Buffer, shipper Shipper, clk clock.Clock, shipped *atomic.Uint64, logger *slog.Logger) {
	backoff := initialBackoff

	for {
		select {
		case <-buffer.Notify():
		case <-ctx.Done():
			drainBuffer(buffer, shipper, shipped, logger)
			return
		}

		for {
			data := buffer.Peek()
			if data == nil {
				break
			}
			if err := shipper.Ship(ctx, data); err != nil {
				if ctx.Err() != nil {
					drainBuffer(buffer, shipper, shipped, logger)
					return
				}
				logger.Warn("batch ship failed, will retry",
					"error", err,
					"backoff", backoff,
					"buffer_entries", buffer.Len(),
				)
				select {
				case <-clk.After(backoff):
				case <-ctx.Done():
					drainBuffer(buffer, shipper, shipped, logger)
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			buffer.Pop()
			shipped.Add(1)
			backoff = initialBackoff
		}
	}
}

// drainBuffer ships what it can within drainTimeout and abandons the
// rest at the first failure.
func drainBuffer(buffer *Buffer, shipper Shipper, shipped *atomic.Uint64, logger *slog.Logger) {
	drainContext, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		data := buffer.Peek()
		if data == nil {
			return
		}
		if err := shipper.Ship(drainContext, data); err != nil {
			logger.Warn("drain: batch ship failed, abandoning remaining",
				"error", err,
				"remaining", buffer.Len(),
			)
			return
		}
		buffer.Pop()
		shipped.Add(1)
	}
}
