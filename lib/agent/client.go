// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/skylightio/skylightd/lib/daemon"
	"github.com/skylightio/skylightd/lib/ipc"
)

// FindSocket returns the socket of the daemon whose PID is recorded
// in the lockfile.
func FindSocket(lockfilePath, sockfileDir string) (string, error) {
	content, err := os.ReadFile(lockfilePath)
	if err != nil {
		return "", fmt.Errorf("reading lockfile: %w", err)
	}
	recorded := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(recorded)
	if err != nil || pid <= 0 {
		return "", fmt.Errorf("lockfile %s holds %q, not a pid", lockfilePath, recorded)
	}
	return daemon.SocketPath(sockfileDir, pid), nil
}

// Client is one agent connection to the daemon. Safe for concurrent
// use; each message is written as a single frame.
type Client struct {
	mu         sync.Mutex
	connection net.Conn
}

// Dial connects to the daemon at socketPath and, when hello is
// non-nil, announces the agent with it.
func Dial(ctx context.Context, socketPath string, hello *ipc.Hello) (*Client, error) {
	var dialer net.Dialer
	connection, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to skylight daemon at %s: %w", socketPath, err)
	}
	client := &Client{connection: connection}
	if hello != nil {
		if err := client.send(hello); err != nil {
			connection.Close()
			return nil, err
		}
	}
	return client, nil
}

// SubmitTrace validates trace and sends it to the daemon.
func (c *Client) SubmitTrace(trace *ipc.Trace) error {
	if err := trace.Validate(); err != nil {
		return err
	}
	return c.send(trace)
}

func (c *Client) send(message ipc.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ipc.WriteMessage(c.connection, message)
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	return c.connection.Close()
}
