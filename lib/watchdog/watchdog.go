// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog records a daemon reload across exec().
//
// Before re-executing, the running daemon writes a State naming its own
// version and the version it is handing over to. The replacement reads
// the state on boot:
//
//   - its version equals NewVersion: the reload succeeded;
//   - its version equals PreviousVersion: the new build never came up
//     and an agent restarted the old one;
//   - neither: the file is left over from an unrelated upgrade.
//
// In every case the file is cleared after it has been reported. Writes
// are atomic (temporary file, fsync, rename) so a crash mid-write never
// leaves a torn state behind.
package watchdog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skylightio/skylightd/lib/codec"
)

// State records the context of a reload.
type State struct {
	// Component names the process being replaced, for diagnostics.
	Component string `cbor:"component"`

	// PreviousVersion is the version of the daemon that initiated the
	// reload.
	PreviousVersion string `cbor:"previous_version"`

	// NewVersion is the version the initiating agent announced.
	NewVersion string `cbor:"new_version"`

	// Command is the argv the daemon was re-executed with.
	Command []string `cbor:"command"`

	// Binary is the content digest of Command[0] when the reload
	// began. Empty when the binary could not be read.
	Binary string `cbor:"binary,omitempty"`

	// PID is the process id, which exec preserves.
	PID int `cbor:"pid"`

	// Timestamp is when the reload was initiated.
	Timestamp time.Time `cbor:"timestamp"`
}

// Outcome classifies a State relative to the running version.
type Outcome int

const (
	// Unrelated means the running version matches neither side.
	Unrelated Outcome = iota
	// Succeeded means the new version is running.
	Succeeded
	// RolledBack means the previous version is running again.
	RolledBack
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case RolledBack:
		return "rolled-back"
	default:
		return "unrelated"
	}
}

// Classify reports what running implies about the recorded reload.
func (s State) Classify(running string) Outcome {
	switch running {
	case s.NewVersion:
		return Succeeded
	case s.PreviousVersion:
		return RolledBack
	default:
		return Unrelated
	}
}

// Write atomically writes state to path with mode 0600. The parent
// directory must exist.
func Write(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling watchdog state: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary watchdog file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary watchdog file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary watchdog file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary watchdog file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming watchdog file into place: %w", err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Read parses the state at path. A missing file yields an error
// wrapping os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing watchdog file %s: %w", path, err)
	}
	return state, nil
}

// Check returns the state at path when it exists and was written no
// more than maxAge before now. A missing or stale file returns false
// and no error.
func Check(path string, maxAge time.Duration, now time.Time) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	if now.Sub(state.Timestamp) > maxAge {
		return State{}, false, nil
	}
	return state, true, nil
}

// Clear removes the state file. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing watchdog file: %w", err)
	}
	return nil
}
