// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/config"
	"github.com/skylightio/skylightd/lib/ipc"
)

// Options configures a Collector. Config is required; the rest default
// sensibly when zero.
type Options struct {
	Config config.CollectorConfig

	// Shipper overrides the shipper chosen from Config.UpstreamSocket.
	Shipper Shipper

	Clock  clock.Clock
	Logger *slog.Logger

	// Hostname and PID are stamped on every batch. Default to the
	// running process.
	Hostname string
	PID      int
}

// Collector batches traces submitted by the daemon loop, seals each
// batch into an envelope, and ships envelopes upstream in the
// background.
type Collector struct {
	accumulator   *Accumulator
	buffer        *Buffer
	shipper       Shipper
	compression   Compression
	flushInterval time.Duration
	clock         clock.Clock
	logger        *slog.Logger
	hostname      string
	pid           int

	submitted atomic.Uint64
	rejected  atomic.Uint64
	batches   atomic.Uint64
	shipped   atomic.Uint64

	mu      sync.Mutex
	spawned bool
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New validates options and builds an idle Collector. Nothing runs
// until Spawn.
func New(options Options) (*Collector, error) {
	cfg := options.Config
	compression, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	flushInterval := time.Duration(cfg.FlushInterval)
	if flushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %s", flushInterval)
	}
	if cfg.BufferMaxBytes <= 0 {
		return nil, fmt.Errorf("buffer max bytes must be positive, got %d", cfg.BufferMaxBytes)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	hostname := options.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	pid := options.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	shipper := options.Shipper
	if shipper == nil {
		if cfg.UpstreamSocket != "" {
			shipper = NewSocketShipper(cfg.UpstreamSocket)
		} else {
			shipper = LogShipper{Logger: logger}
		}
	}

	return &Collector{
		accumulator:   NewAccumulator(cfg.FlushThresholdBytes),
		buffer:        NewBuffer(cfg.BufferMaxBytes),
		shipper:       shipper,
		compression:   compression,
		flushInterval: flushInterval,
		clock:         clk,
		logger:        logger,
		hostname:      hostname,
		pid:           pid,
	}, nil
}

// Spawn starts the flush loop and the shipper. When ctx is cancelled
// the flush loop seals whatever is pending and the shipper drains the
// buffer. Spawn may be called at most once.
func (c *Collector) Spawn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spawned {
		return errors.New("collector already spawned")
	}
	c.spawned = true

	flushContext, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	shipContext, stopShipping := context.WithCancel(context.Background())
	shipperDone := make(chan struct{})
	go func() {
		defer close(shipperDone)
		runShipper(shipContext, c.buffer, c.shipper, c.clock, &c.shipped, c.logger)
	}()

	go func() {
		defer close(c.done)
		c.runFlushLoop(flushContext)
		stopShipping()
		<-shipperDone
	}()

	c.logger.Debug("collector started",
		"flush_interval", c.flushInterval,
		"compression", c.compression,
	)
	return nil
}

// Submit queues a trace for the next batch. A batch that crosses the
// size threshold is sealed immediately.
func (c *Collector) Submit(trace *ipc.Trace) {
	full, err := c.accumulator.Add(trace)
	if err != nil {
		c.rejected.Add(1)
		c.logger.Warn("dropping trace", "uuid", trace.UUID, "error", err)
		return
	}
	c.submitted.Add(1)
	if full {
		c.flushToBuffer()
	}
}

// Close flushes pending traces and waits for the shipper to drain.
// Safe to call more than once and before Spawn.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		spawned, cancel, done := c.spawned, c.cancel, c.done
		c.mu.Unlock()

		if spawned {
			cancel()
			<-done
		} else {
			c.flushToBuffer()
			drainBuffer(c.buffer, c.shipper, &c.shipped, c.logger)
		}

		if closer, ok := c.shipper.(io.Closer); ok {
			c.closeErr = closer.Close()
		}
	})
	return c.closeErr
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Submitted     uint64
	Rejected      uint64
	Pending       int
	Batches       uint64
	Buffered      int
	BufferedBytes int
	Dropped       uint64
	Shipped       uint64
}

// Stats returns the current pipeline counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Submitted:     c.submitted.Load(),
		Rejected:      c.rejected.Load(),
		Pending:       c.accumulator.Len(),
		Batches:       c.batches.Load(),
		Buffered:      c.buffer.Len(),
		BufferedBytes: c.buffer.SizeBytes(),
		Dropped:       c.buffer.Dropped(),
		Shipped:       c.shipped.Load(),
	}
}

func (c *Collector) runFlushLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flushToBuffer()
		case <-ctx.Done():
			c.flushToBuffer()
			return
		}
	}
}

// flushToBuffer seals the pending traces, if any, and pushes the
// envelope for the shipper.
func (c *Collector) flushToBuffer() {
	batch := c.accumulator.Flush()
	if batch == nil {
		return
	}
	batch.Hostname = c.hostname
	batch.PID = c.pid
	batch.CreatedAt = c.clock.Now().UnixNano()

	envelope, digest, err := Seal(batch, c.compression)
	if err != nil {
		c.logger.Error("failed to seal trace batch",
			"error", err,
			"sequence", batch.Sequence,
		)
		return
	}
	c.batches.Add(1)

	if err := c.buffer.Push(envelope); err != nil {
		c.logger.Error("failed to push batch to buffer",
			"error", err,
			"size", len(envelope),
			"sequence", batch.Sequence,
		)
		return
	}
	c.logger.Debug("batch sealed",
		"sequence", batch.Sequence,
		"traces", len(batch.Traces),
		"digest", digest.Short(),
		"bytes", len(envelope),
	)
}
