// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skylightio/skylightd/lib/binhash"
	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/config"
	"github.com/skylightio/skylightd/lib/ipc"
	"github.com/skylightio/skylightd/lib/testutil"
	"github.com/skylightio/skylightd/lib/watchdog"
)

type execCall struct {
	argv0 string
	argv  []string
	envv  []string
}

func newTestUpgrader(t *testing.T, execErr error) (*ExecUpgrader, *[]execCall) {
	t.Helper()
	identity, _ := newTestIdentity(t, 31337)
	listener, err := Listen(identity.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })

	cfg := config.Default()
	cfg.Agent.SockfilePath = identity.SockfileDir
	cfg.Agent.Keepalive = config.Duration(30 * time.Second)

	var calls []execCall
	upgrader := &ExecUpgrader{
		Identity:     identity,
		Listener:     listener,
		Config:       cfg,
		Version:      "1.0.0",
		WatchdogPath: WatchdogPath(identity.LockfilePath),
		Exec: func(argv0 string, argv []string, envv []string) error {
			calls = append(calls, execCall{argv0, argv, envv})
			return execErr
		},
		Environ: func() []string {
			return []string{"PATH=/usr/bin:/bin", "HOME=/home/app", "SKYLIGHT_AGENT_KEEPALIVE=999", "SKYLIGHT_UDS_FD=42"}
		},
		Clock:  clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger: slog.New(slog.DiscardHandler),
	}
	return upgrader, &calls
}

func TestExecUpgraderHandsOffDescriptors(t *testing.T) {
	upgrader, calls := newTestUpgrader(t, nil)
	binary := filepath.Join(upgrader.Identity.SockfileDir, "skylightd")
	if err := os.WriteFile(binary, []byte("skylightd 1.1.0"), 0o755); err != nil {
		t.Fatal(err)
	}
	hello := &ipc.Hello{Version: "1.1.0", Cmd: []string{binary, "--log-level", "debug"}}

	if err := upgrader.Upgrade(hello); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("exec called %d times, want 1", len(*calls))
	}
	call := (*calls)[0]
	if call.argv0 != binary {
		t.Errorf("argv0 = %q", call.argv0)
	}
	if !slices.Equal(call.argv, hello.Cmd) {
		t.Errorf("argv = %q, want %q", call.argv, hello.Cmd)
	}

	lockfileFD := int(upgrader.Identity.Lockfile().Fd())
	listenerFD := upgrader.Listener.FD()
	for _, want := range []string{
		"PATH=/usr/bin:/bin",
		"HOME=/home/app",
		"SKYLIGHT_AGENT_KEEPALIVE=30s",
		"SKYLIGHT_AGENT_SOCKFILE_PATH=" + upgrader.Identity.SockfileDir,
		EnvLockfileFD + "=" + strconv.Itoa(lockfileFD),
		EnvLockfilePath + "=" + upgrader.Identity.LockfilePath,
		EnvListenerFD + "=" + strconv.Itoa(listenerFD),
	} {
		if !slices.Contains(call.envv, want) {
			t.Errorf("environment missing %q", want)
		}
	}
	for _, stale := range []string{"SKYLIGHT_AGENT_KEEPALIVE=999", "SKYLIGHT_UDS_FD=42"} {
		if slices.Contains(call.envv, stale) {
			t.Errorf("environment kept inherited %q", stale)
		}
	}

	for _, fd := range []int{lockfileFD, listenerFD} {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil {
			t.Fatal(err)
		}
		if flags&unix.FD_CLOEXEC != 0 {
			t.Errorf("fd %d still close-on-exec", fd)
		}
	}

	state, err := watchdog.Read(upgrader.WatchdogPath)
	if err != nil {
		t.Fatalf("reading watchdog: %v", err)
	}
	if state.PreviousVersion != "1.0.0" || state.NewVersion != "1.1.0" || state.PID != 31337 {
		t.Errorf("watchdog state = %+v", state)
	}
	digest, err := binhash.HashFile(binary)
	if err != nil {
		t.Fatal(err)
	}
	if state.Binary != digest.String() {
		t.Errorf("watchdog binary = %q, want %q", state.Binary, digest)
	}
}

func TestExecUpgraderExecFailure(t *testing.T) {
	upgrader, _ := newTestUpgrader(t, errors.New("exec format error"))
	err := upgrader.Upgrade(&ipc.Hello{Version: "2.0.0", Cmd: []string{"/opt/skylight/bin/skylightd"}})
	if !errors.Is(err, ErrReload) {
		t.Fatalf("Upgrade = %v, want ErrReload", err)
	}
	if _, statErr := os.Stat(upgrader.WatchdogPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("watchdog left behind after failed exec: %v", statErr)
	}
}

func TestExecUpgraderRejectsBadCommand(t *testing.T) {
	upgrader, calls := newTestUpgrader(t, nil)

	if err := upgrader.Upgrade(&ipc.Hello{Version: "2.0.0"}); !errors.Is(err, ErrReload) {
		t.Errorf("Upgrade with no command = %v, want ErrReload", err)
	}
	missing := "skylightd-not-installed-" + testutil.UniqueID("cmd")
	if err := upgrader.Upgrade(&ipc.Hello{Version: "2.0.0", Cmd: []string{missing}}); !errors.Is(err, ErrReload) {
		t.Errorf("Upgrade with unresolvable command = %v, want ErrReload", err)
	}
	if len(*calls) != 0 {
		t.Errorf("exec called %d times for bad commands", len(*calls))
	}
}

func TestResolveCommand(t *testing.T) {
	resolved, err := resolveCommand("sh")
	if err != nil {
		t.Skipf("no sh on PATH: %v", err)
	}
	if !filepath.IsAbs(resolved) {
		t.Errorf("resolveCommand(sh) = %q, want absolute path", resolved)
	}
	if got, _ := resolveCommand("./relative/skylightd"); got != "./relative/skylightd" {
		t.Errorf("resolveCommand kept %q, want path unchanged", got)
	}
}
