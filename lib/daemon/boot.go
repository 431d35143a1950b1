// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/skylightio/skylightd/lib/binhash"
	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/config"
	"github.com/skylightio/skylightd/lib/watchdog"
)

// watchdogMaxAge bounds how old a reload record may be and still be
// reported. A healthy exec completes in well under a second.
const watchdogMaxAge = 5 * time.Minute

var digitsOnly = regexp.MustCompile(`^\d+$`)

// BootEnv is the descriptor contract read from the environment.
type BootEnv struct {
	// LockfileFD is the inherited, locked lockfile descriptor.
	LockfileFD int

	// LockfilePath is where that lockfile lives on disk.
	LockfilePath string

	// ListenerFD is the inherited listening socket, or -1 on first
	// boot.
	ListenerFD int
}

// ParseBootEnv reads the descriptor contract through lookup. The error
// text is meant to be printed as-is before exiting.
func ParseBootEnv(lookup func(string) (string, bool)) (BootEnv, error) {
	env := BootEnv{ListenerFD: -1}

	fd, ok := lookup(EnvLockfileFD)
	if !ok || fd == "" {
		return BootEnv{}, errors.New("missing lockfile FD")
	}
	if !digitsOnly.MatchString(fd) {
		return BootEnv{}, errors.New("invalid lockfile FD")
	}
	parsed, err := strconv.Atoi(fd)
	if err != nil {
		return BootEnv{}, fmt.Errorf("invalid lockfile FD: %v", err)
	}
	env.LockfileFD = parsed

	path, ok := lookup(EnvLockfilePath)
	if !ok || path == "" {
		return BootEnv{}, errors.New("missing lockfile path")
	}
	env.LockfilePath = path

	if listener, ok := lookup(EnvListenerFD); ok && listener != "" {
		if !digitsOnly.MatchString(listener) {
			return BootEnv{}, errors.New("invalid listener FD")
		}
		parsed, err := strconv.Atoi(listener)
		if err != nil {
			return BootEnv{}, fmt.Errorf("invalid listener FD: %v", err)
		}
		env.ListenerFD = parsed
	}
	return env, nil
}

// BootOptions carries everything Boot needs beyond the environment.
type BootOptions struct {
	Env       BootEnv
	Config    *config.Config
	Collector Collector
	Version   string
	Logger    *slog.Logger
	Clock     clock.Clock

	// PID defaults to os.Getpid.
	PID int

	// Exec defaults to syscall.Exec.
	Exec ExecFunc
}

// WatchdogPath returns where the reload record for lockfilePath lives.
func WatchdogPath(lockfilePath string) string {
	return lockfilePath + ".watchdog"
}

// Boot adopts the inherited lockfile, binds or inherits the listener,
// reports any pending reload record, and returns a Server ready to Run.
func Boot(options BootOptions) (*Server, error) {
	cfg := options.Config
	if cfg.Agent.SockfilePath == "" {
		return nil, errors.New("missing sockfile path")
	}
	if options.PID == 0 {
		options.PID = os.Getpid()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lockfile := os.NewFile(uintptr(options.Env.LockfileFD), options.Env.LockfilePath)
	if lockfile == nil {
		return nil, fmt.Errorf("invalid lockfile FD: %d", options.Env.LockfileFD)
	}
	if _, err := lockfile.Stat(); err != nil {
		return nil, fmt.Errorf("invalid lockfile FD: %v", err)
	}

	identity, err := Acquire(lockfile, options.Env.LockfilePath, cfg.Agent.SockfilePath, options.PID)
	if err != nil {
		lockfile.Close()
		return nil, err
	}

	var listener *Listener
	if options.Env.ListenerFD >= 0 {
		listener, err = InheritListener(options.Env.ListenerFD)
	} else {
		listener, err = Listen(identity.SocketPath())
	}
	if err != nil {
		identity.Release()
		return nil, err
	}

	watchdogPath := WatchdogPath(options.Env.LockfilePath)
	checkWatchdog(watchdogPath, options.Version, options.Clock.Now(), logger)

	upgrader := &ExecUpgrader{
		Identity:     identity,
		Listener:     listener,
		Config:       cfg,
		Version:      options.Version,
		WatchdogPath: watchdogPath,
		Exec:         options.Exec,
		Clock:        options.Clock,
		Logger:       logger,
	}

	server, err := NewServer(ServerConfig{
		Identity:       identity,
		Listener:       listener,
		Collector:      options.Collector,
		Upgrader:       upgrader,
		Clock:          options.Clock,
		Logger:         logger,
		Metrics:        NewMetrics(cfg.Agent.MetricsPath),
		Version:        options.Version,
		Keepalive:      cfg.Agent.Keepalive.Std(),
		Tick:           cfg.Agent.Tick.Std(),
		SanityInterval: cfg.Agent.SanityEvery(),
		MaxFrameBytes:  cfg.Agent.MaxFrameBytes,
	})
	if err != nil {
		listener.Close()
		identity.Release()
		return nil, err
	}
	return server, nil
}

// checkWatchdog reports the outcome of a reload that targeted this
// process and clears the record.
func checkWatchdog(path, running string, now time.Time, logger *slog.Logger) watchdog.Outcome {
	state, found, err := watchdog.Check(path, watchdogMaxAge, now)
	if err != nil {
		logger.Error("reading reload watchdog", "path", path, "error", err)
		return watchdog.Unrelated
	}
	if !found {
		watchdog.Clear(path)
		return watchdog.Unrelated
	}

	outcome := state.Classify(running)
	switch outcome {
	case watchdog.Succeeded:
		logger.Info("reload succeeded",
			"previous", state.PreviousVersion,
			"new", state.NewVersion,
			"binary_matches", binaryMatches(state.Binary),
		)
	case watchdog.RolledBack:
		logger.Error("reload failed: previous version restarted",
			"attempted", state.NewVersion,
			"current", state.PreviousVersion,
			"command", state.Command,
			"binary_matches", binaryMatches(state.Binary),
		)
	default:
		logger.Info("clearing stale reload watchdog",
			"current", running,
			"watchdog_previous", state.PreviousVersion,
			"watchdog_new", state.NewVersion,
		)
	}

	if err := watchdog.Clear(path); err != nil {
		logger.Error("clearing reload watchdog", "path", path, "error", err)
	}
	return outcome
}

// binaryMatches reports whether the running executable is the one the
// reload recorded. It is "unknown" when either side cannot be hashed.
func binaryMatches(recorded string) string {
	if recorded == "" {
		return "unknown"
	}
	running, err := binhash.HashExecutable()
	if err != nil {
		return "unknown"
	}
	return strconv.FormatBool(running.String() == recorded)
}
