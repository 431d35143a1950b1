// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/skylightio/skylightd/lib/ipc"
)

// ErrTransportClosed means the agent disconnected or the socket failed.
var ErrTransportClosed = errors.New("transport closed")

// readChunk is how much one Read pulls from the socket.
const readChunk = 64 * 1024

// Conn frames messages from one agent socket. It never blocks: Read
// either returns a message already complete in the buffer, performs a
// single non-blocking read, or reports that nothing is ready yet.
//
// Conn is owned by the daemon loop and is not safe for concurrent use.
type Conn struct {
	fd         int
	maxPayload uint32
	buffer     []byte
	chunk      []byte
	closed     bool
}

// NewConn wraps a connected, non-blocking socket descriptor.
func NewConn(fd int, maxPayload int) *Conn {
	return &Conn{
		fd:         fd,
		maxPayload: uint32(maxPayload),
		chunk:      make([]byte, readChunk),
	}
}

// FD returns the socket descriptor.
func (c *Conn) FD() int { return c.fd }

// Buffered returns the number of received bytes not yet consumed.
func (c *Conn) Buffered() int { return len(c.buffer) }

// Read returns the next message. A nil message with a nil error means
// no complete frame is available yet and the caller should wait for
// readability. Errors wrap ErrTransportClosed or ipc.ErrProtocol;
// after either the connection must be closed.
//
// Callers drain a readable connection by calling Read until it returns
// (nil, nil), since one readiness event may cover several frames.
func (c *Conn) Read() (ipc.Message, error) {
	if c.closed {
		return nil, ErrTransportClosed
	}
	if message, err := c.extract(); message != nil || err != nil {
		return message, err
	}

	for {
		n, err := unix.Read(c.fd, c.chunk)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		case n == 0:
			if len(c.buffer) > 0 {
				return nil, fmt.Errorf("%w: peer closed with %d bytes of partial frame", ErrTransportClosed, len(c.buffer))
			}
			return nil, ErrTransportClosed
		}
		c.buffer = append(c.buffer, c.chunk[:n]...)
		return c.extract()
	}
}

func (c *Conn) extract() (ipc.Message, error) {
	message, consumed, err := ipc.Parse(c.buffer, c.maxPayload)
	if err != nil || message == nil {
		return nil, err
	}
	remaining := copy(c.buffer, c.buffer[consumed:])
	c.buffer = c.buffer[:remaining]
	return message, nil
}

// Close closes the socket. Closing twice returns nil.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.buffer = nil
	return unix.Close(c.fd)
}
