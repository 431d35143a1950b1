// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skylightio/skylightd/lib/config"
	"github.com/skylightio/skylightd/lib/daemon"
)

// ErrAlreadyRunning means another process holds the lockfile lock.
var ErrAlreadyRunning = errors.New("skylight daemon already running")

// inheritedLockfileFD is where ExtraFiles[0] lands in the child.
const inheritedLockfileFD = 3

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	// Binary is the skylightd executable.
	Binary string

	// Args follow Binary on the command line.
	Args []string

	// LockfilePath is the host-wide lockfile. Created if missing.
	LockfilePath string

	// Config is passed to the daemon through the environment.
	Config *config.Config

	// Environ supplies the base environment. Defaults to os.Environ.
	Environ func() []string

	// Stderr receives the daemon's log output. Nil discards it.
	Stderr io.Writer
}

// Process is a daemon started by Spawn.
type Process struct {
	PID          int
	LockfilePath string
	SocketPath   string

	command *exec.Cmd
}

// Spawn locks the lockfile and starts the daemon holding it. The lock
// belongs to the open file description, which the child inherits, so
// it stays held for as long as the daemon (or its exec successor) runs.
func Spawn(options SpawnOptions) (*Process, error) {
	if options.Binary == "" {
		return nil, errors.New("daemon binary is required")
	}
	if options.LockfilePath == "" {
		return nil, errors.New("lockfile path is required")
	}
	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(options.LockfilePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating lockfile directory: %w", err)
	}
	lockfile, err := os.OpenFile(options.LockfilePath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lockfile %s: %w", options.LockfilePath, err)
	}
	// The parent's copy is never needed past Start: the child holds
	// the lock through its own descriptor.
	defer lockfile.Close()

	if err := unix.Flock(int(lockfile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("locking %s: %w", options.LockfilePath, err)
	}

	command := exec.Command(options.Binary, options.Args...)
	command.Env = spawnEnvironment(options)
	command.ExtraFiles = []*os.File{lockfile}
	command.Stderr = options.Stderr
	command.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := command.Start(); err != nil {
		unix.Flock(int(lockfile.Fd()), unix.LOCK_UN)
		return nil, fmt.Errorf("starting %s: %w", options.Binary, err)
	}

	return &Process{
		PID:          command.Process.Pid,
		LockfilePath: options.LockfilePath,
		SocketPath:   daemon.SocketPath(options.Config.Agent.SockfilePath, command.Process.Pid),
		command:      command,
	}, nil
}

func spawnEnvironment(options SpawnOptions) []string {
	environ := os.Environ
	if options.Environ != nil {
		environ = options.Environ
	}
	var environment []string
	for _, entry := range environ() {
		if strings.HasPrefix(entry, config.EnvPrefix) {
			continue
		}
		environment = append(environment, entry)
	}
	environment = append(environment, options.Config.ToEnv()...)
	return append(environment,
		fmt.Sprintf("%s=%d", daemon.EnvLockfileFD, inheritedLockfileFD),
		daemon.EnvLockfilePath+"="+options.LockfilePath,
	)
}

// WaitReady blocks until the daemon socket exists or ctx ends.
func (p *Process) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(p.SocketPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", p.SocketPath, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Wait waits for the daemon to exit and releases its resources.
func (p *Process) Wait() error {
	return p.command.Wait()
}

// Signal delivers sig to the daemon.
func (p *Process) Signal(sig os.Signal) error {
	return p.command.Process.Signal(sig)
}
