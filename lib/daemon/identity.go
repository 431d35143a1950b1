// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Identity failures. Each one means this process can no longer prove
// it is the host's daemon, and the loop must stop.
var (
	ErrStaleLockfile             = errors.New("lockfile gone")
	ErrLockfileUnreadable        = errors.New("could not read lockfile")
	ErrLockfileOwnershipMismatch = errors.New("lockfile points to different process")
	ErrMissingSockfile           = errors.New("sockfile gone")
)

// IsIdentityError reports whether err came from an identity check.
func IsIdentityError(err error) bool {
	return errors.Is(err, ErrStaleLockfile) ||
		errors.Is(err, ErrLockfileUnreadable) ||
		errors.Is(err, ErrLockfileOwnershipMismatch) ||
		errors.Is(err, ErrMissingSockfile)
}

// Identity ties the running process to its lockfile and socket file.
type Identity struct {
	// PID is the daemon's process id. exec preserves it, so it is the
	// same before and after a reload.
	PID int

	// LockfilePath is the path the inherited lockfile handle was opened
	// from. Verify re-reads it by path, not by handle, so that a
	// lockfile replaced on disk is noticed.
	LockfilePath string

	// SockfileDir is the directory holding the daemon socket.
	SockfileDir string

	mu       sync.Mutex
	lockfile *os.File
	released bool
}

// Acquire validates that lockfile is an open handle on lockfilePath
// and records this process as its owner by writing pid into it. The
// exclusive lock itself is taken by whoever spawned the daemon; the
// daemon only inherits it.
func Acquire(lockfile *os.File, lockfilePath, sockfileDir string, pid int) (*Identity, error) {
	if lockfile == nil {
		return nil, errors.New("lockfile handle is required")
	}
	if lockfilePath == "" {
		return nil, errors.New("lockfile path is required")
	}
	if sockfileDir == "" {
		return nil, errors.New("sockfile path is required")
	}

	handleInfo, err := lockfile.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat lockfile handle: %w", err)
	}
	pathInfo, err := os.Stat(lockfilePath)
	if err != nil {
		return nil, fmt.Errorf("stat lockfile %s: %w", lockfilePath, err)
	}
	if !os.SameFile(handleInfo, pathInfo) {
		return nil, fmt.Errorf("lockfile handle does not refer to %s", lockfilePath)
	}

	identity := &Identity{
		PID:          pid,
		LockfilePath: lockfilePath,
		SockfileDir:  sockfileDir,
		lockfile:     lockfile,
	}
	if err := identity.stamp(); err != nil {
		return nil, err
	}
	return identity, nil
}

// stamp writes the PID through the inherited handle. After a reload
// the content is already correct and the rewrite is a no-op.
func (i *Identity) stamp() error {
	content := []byte(strconv.Itoa(i.PID))
	if err := i.lockfile.Truncate(0); err != nil {
		return fmt.Errorf("truncating lockfile: %w", err)
	}
	if _, err := i.lockfile.WriteAt(content, 0); err != nil {
		return fmt.Errorf("writing pid to lockfile: %w", err)
	}
	if err := i.lockfile.Sync(); err != nil {
		return fmt.Errorf("syncing lockfile: %w", err)
	}
	return nil
}

// SocketPath returns {sockfile_path}/daemon-{pid}.sock.
func (i *Identity) SocketPath() string {
	return SocketPath(i.SockfileDir, i.PID)
}

// SocketPath derives the daemon socket path for pid.
func SocketPath(sockfileDir string, pid int) string {
	return filepath.Join(sockfileDir, "daemon-"+strconv.Itoa(pid)+".sock")
}

// Lockfile returns the inherited lockfile handle. It is nil after
// Release.
func (i *Identity) Lockfile() *os.File {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lockfile
}

// Verify checks that the lockfile still exists on disk and names this
// process. Leading and trailing whitespace in the file is ignored.
func (i *Identity) Verify() error {
	if _, err := os.Stat(i.LockfilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStaleLockfile, i.LockfilePath)
		}
		return fmt.Errorf("%w: %v", ErrLockfileUnreadable, err)
	}
	content, err := os.ReadFile(i.LockfilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStaleLockfile, i.LockfilePath)
		}
		return fmt.Errorf("%w: %v", ErrLockfileUnreadable, err)
	}
	recorded := strings.TrimSpace(string(content))
	if recorded != strconv.Itoa(i.PID) {
		return fmt.Errorf("%w: lockfile has %q, this process is %d", ErrLockfileOwnershipMismatch, recorded, i.PID)
	}
	return nil
}

// VerifySockfile checks that the daemon socket file is still present.
func (i *Identity) VerifySockfile() error {
	if _, err := os.Stat(i.SocketPath()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissingSockfile, i.SocketPath(), err)
	}
	return nil
}

// Check runs Verify then VerifySockfile.
func (i *Identity) Check() error {
	if err := i.Verify(); err != nil {
		return err
	}
	return i.VerifySockfile()
}

// Release removes the socket file and closes the lockfile handle. The
// lockfile itself is never deleted: once this process stops holding
// the lock, a successor may already own the file at that path.
// Idempotent.
func (i *Identity) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return nil
	}
	i.released = true

	var errs []error
	if err := os.Remove(i.SocketPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing socket file: %w", err))
	}
	if err := i.lockfile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing lockfile: %w", err))
	}
	i.lockfile = nil
	return errors.Join(errs...)
}
