// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version announced to agents and compared
	// against their Hello.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Semver is a parsed dotted version. Missing components are zero, so
// "1.2" equals "1.2.0".
type Semver struct {
	Major, Minor, Patch int
	// Pre is the pre-release suffix after '-', empty for releases.
	Pre string
}

// Parse parses "MAJOR[.MINOR[.PATCH]][-PRE][+BUILD]". A leading "v" is
// accepted. Build metadata is discarded.
func Parse(text string) (Semver, error) {
	original := text
	text = strings.TrimPrefix(strings.TrimSpace(text), "v")
	if index := strings.IndexByte(text, '+'); index >= 0 {
		text = text[:index]
	}

	var parsed Semver
	if index := strings.IndexByte(text, '-'); index >= 0 {
		parsed.Pre = text[index+1:]
		text = text[:index]
		if parsed.Pre == "" {
			return Semver{}, fmt.Errorf("version %q: empty pre-release", original)
		}
	}

	parts := strings.Split(text, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return Semver{}, fmt.Errorf("version %q: expected 1 to 3 numeric components", original)
	}
	fields := []*int{&parsed.Major, &parsed.Minor, &parsed.Patch}
	for index, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 {
			return Semver{}, fmt.Errorf("version %q: component %q is not a non-negative integer", original, part)
		}
		*fields[index] = value
	}
	return parsed, nil
}

// Compare returns -1, 0, or +1 as a orders before, equal to, or after
// b. A release orders after any of its pre-releases; pre-release
// identifiers compare numerically when both are numeric, lexically
// otherwise.
func Compare(a, b Semver) int {
	for _, pair := range [][2]int{{a.Major, b.Major}, {a.Minor, b.Minor}, {a.Patch, b.Patch}} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	switch {
	case a.Pre == b.Pre:
		return 0
	case a.Pre == "":
		return 1
	case b.Pre == "":
		return -1
	}
	return comparePre(a.Pre, b.Pre)
}

func comparePre(a, b string) int {
	left := strings.Split(a, ".")
	right := strings.Split(b, ".")
	for index := 0; index < len(left) && index < len(right); index++ {
		leftNumber, leftErr := strconv.Atoi(left[index])
		rightNumber, rightErr := strconv.Atoi(right[index])
		switch {
		case leftErr == nil && rightErr == nil:
			if leftNumber != rightNumber {
				if leftNumber < rightNumber {
					return -1
				}
				return 1
			}
		case leftErr == nil:
			return -1
		case rightErr == nil:
			return 1
		default:
			if cmp := strings.Compare(left[index], right[index]); cmp != 0 {
				return cmp
			}
		}
	}
	switch {
	case len(left) < len(right):
		return -1
	case len(left) > len(right):
		return 1
	}
	return 0
}

// Newer reports whether candidate is strictly newer than running. An
// unparseable candidate is never newer; an unparseable running version
// is treated as older than anything parseable.
func Newer(candidate, running string) bool {
	candidateVersion, err := Parse(candidate)
	if err != nil {
		return false
	}
	runningVersion, err := Parse(running)
	if err != nil {
		return true
	}
	return Compare(candidateVersion, runningVersion) > 0
}
