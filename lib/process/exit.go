// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// exit is replaced in tests.
var exit = os.Exit

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for failures that happen before the structured logger exists
// or after the daemon loop has stopped abnormally.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	exit(1)
}
