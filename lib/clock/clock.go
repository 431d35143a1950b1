// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations used by the daemon loop
// and the collector so tests can drive keepalive, self-check, and
// flush timing deterministically.
package clock

import "time"

// Clock is injected wherever the daemon reads or waits on time.
// Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. The channel has capacity 1;
// ticks are dropped when the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }
