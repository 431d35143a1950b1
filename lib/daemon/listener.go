// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// listenBacklog is the pending-connection queue for the daemon socket.
const listenBacklog = 128

// Listener is a non-blocking Unix stream socket driven by the daemon's
// poll loop. It is kept as a raw descriptor rather than a net.Listener
// so it can be polled alongside the connections and handed across exec
// unchanged.
type Listener struct {
	mu   sync.Mutex
	fd   int
	path string
}

// Listen creates the daemon socket at path. The parent directory is
// created with mode 0700 if missing, a leftover socket file at exactly
// path is replaced, and the new socket is made accessible to its owner
// only.
func Listen(path string) (*Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
		}
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &Listener{fd: fd, path: path}, nil
}

// InheritListener adopts a listening socket passed across exec. The
// descriptor must be a bound Unix stream socket.
func InheritListener(fd int) (*Listener, error) {
	socketType, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, fmt.Errorf("inherited listener fd %d: %w", fd, err)
	}
	if socketType != unix.SOCK_STREAM {
		return nil, fmt.Errorf("inherited listener fd %d is not a stream socket", fd)
	}
	address, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("inherited listener fd %d: %w", fd, err)
	}
	unixAddress, ok := address.(*unix.SockaddrUnix)
	if !ok {
		return nil, fmt.Errorf("inherited listener fd %d is not a Unix socket", fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("setting listener non-blocking: %w", err)
	}
	unix.CloseOnExec(fd)
	return &Listener{fd: fd, path: unixAddress.Name}, nil
}

// FD returns the listening descriptor, or -1 once closed.
func (l *Listener) FD() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fd
}

// Path returns the filesystem path the socket is bound to.
func (l *Listener) Path() string { return l.path }

// Accept takes one pending connection. It returns (-1, nil) when no
// connection is pending or the peer gave up before accept completed.
// The returned descriptor is non-blocking and close-on-exec.
func (l *Listener) Accept() (int, error) {
	fd := l.FD()
	if fd < 0 {
		return -1, errors.New("listener closed")
	}
	for {
		connectionFD, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return connectionFD, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.ECONNABORTED):
			return -1, nil
		default:
			return -1, fmt.Errorf("accept: %w", err)
		}
	}
}

// Close closes the listening descriptor. The socket file is left in
// place; Identity.Release removes it. Idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}
