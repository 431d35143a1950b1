// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skylightio/skylightd/lib/binhash"
	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/config"
	"github.com/skylightio/skylightd/lib/ipc"
	"github.com/skylightio/skylightd/lib/watchdog"
)

// ErrReload wraps every failure to replace the process. The daemon
// cannot continue after one: its connections are already closed.
var ErrReload = errors.New("reload failed")

// Boot environment variables. Together with config.ToEnv they are the
// complete contract between an exec'ing daemon and its replacement.
const (
	EnvLockfileFD   = "SKYLIGHT_LOCKFILE_FD"
	EnvLockfilePath = "SKYLIGHT_LOCKFILE_PATH"
	EnvListenerFD   = "SKYLIGHT_UDS_FD"
)

// ExecFunc replaces the process image. syscall.Exec in production.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// reload closes every agent connection, lets the collector flush, and
// hands over to the upgrader. A nil return means the image was
// replaced.
func (s *Server) reload(hello *ipc.Hello) error {
	s.metrics.Reloads.Inc()
	s.logger.Debug("closing all client connections")
	s.closeAllConnections(closeReasonReload)
	s.shutdownCollector()
	if writeErr := s.metrics.WriteTextfile(); writeErr != nil {
		s.logger.Debug("writing metrics textfile before reload", "error", writeErr)
	}

	s.logger.Debug("re-exec", "cmd", hello.Cmd)
	if err := s.upgrader.Upgrade(hello); err != nil {
		s.logger.Error("re-exec failed", "error", err)
		return err
	}
	s.replaced = true
	return nil
}

// ExecUpgrader re-executes the daemon with an agent-supplied command,
// passing the lockfile and listener descriptors and the effective
// configuration through the environment.
type ExecUpgrader struct {
	Identity *Identity
	Listener *Listener
	Config   *config.Config

	// Version is the running version, recorded in the watchdog.
	Version string

	// WatchdogPath receives the reload record. Empty disables it.
	WatchdogPath string

	// Exec defaults to syscall.Exec.
	Exec ExecFunc

	// Environ supplies the inherited environment. Defaults to
	// os.Environ.
	Environ func() []string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Upgrade implements Upgrader.
func (u *ExecUpgrader) Upgrade(hello *ipc.Hello) error {
	if len(hello.Cmd) == 0 {
		return fmt.Errorf("%w: agent sent no command", ErrReload)
	}
	argv0, err := resolveCommand(hello.Cmd[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReload, err)
	}

	lockfile := u.Identity.Lockfile()
	if lockfile == nil {
		return fmt.Errorf("%w: lockfile already released", ErrReload)
	}
	lockfileFD := int(lockfile.Fd())
	listenerFD := u.Listener.FD()

	for _, fd := range []int{lockfileFD, listenerFD} {
		if fd < 0 {
			continue
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0); err != nil {
			return fmt.Errorf("%w: clearing close-on-exec on fd %d: %v", ErrReload, fd, err)
		}
	}

	environment := u.environment(lockfileFD, listenerFD)

	if u.WatchdogPath != "" {
		now := time.Now()
		if u.Clock != nil {
			now = u.Clock.Now()
		}
		state := watchdog.State{
			Component:       "skylightd",
			PreviousVersion: u.Version,
			NewVersion:      hello.Version,
			Command:         hello.Cmd,
			PID:             u.Identity.PID,
			Timestamp:       now,
		}
		if digest, err := binhash.HashFile(argv0); err == nil {
			state.Binary = digest.String()
		} else {
			u.logger().Debug("hashing reload target", "path", argv0, "error", err)
		}
		if err := watchdog.Write(u.WatchdogPath, state); err != nil {
			u.logger().Warn("writing reload watchdog", "path", u.WatchdogPath, "error", err)
		}
	}

	execFunc := u.Exec
	if execFunc == nil {
		execFunc = syscall.Exec
	}
	u.logger().Info("exec'ing daemon", "argv0", argv0, "args", hello.Cmd[1:], "new_version", hello.Version)
	if err := execFunc(argv0, hello.Cmd, environment); err != nil {
		if u.WatchdogPath != "" {
			watchdog.Clear(u.WatchdogPath)
		}
		return fmt.Errorf("%w: exec %s: %v", ErrReload, argv0, err)
	}
	return nil
}

// environment builds the replacement's environment: the inherited
// variables minus any stale SKYLIGHT_ settings, then the effective
// configuration, then the descriptor contract.
func (u *ExecUpgrader) environment(lockfileFD, listenerFD int) []string {
	environ := os.Environ
	if u.Environ != nil {
		environ = u.Environ
	}
	var environment []string
	for _, entry := range environ() {
		if strings.HasPrefix(entry, config.EnvPrefix) {
			continue
		}
		environment = append(environment, entry)
	}
	environment = append(environment, u.Config.ToEnv()...)

	contract := []string{
		EnvLockfileFD + "=" + strconv.Itoa(lockfileFD),
		EnvLockfilePath + "=" + u.Identity.LockfilePath,
	}
	if listenerFD >= 0 {
		contract = append(contract, EnvListenerFD+"="+strconv.Itoa(listenerFD))
	}
	sort.Strings(contract)
	return append(environment, contract...)
}

func (u *ExecUpgrader) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}

// resolveCommand finds argv0 on PATH when it has no slash, the way a
// shell would.
func resolveCommand(name string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", name, err)
	}
	return path, nil
}
