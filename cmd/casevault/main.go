// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

// Command casevault runs the CaseVault authentication service.
package main

import (
	"log/slog"
	"os"

	"github.com/casevault/casevault/pkg/errutil"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		errutil.LogError(slog.Default(), "command failed", err)
		os.Exit(1)
	}
}
