// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

// NewRootCmd creates the root command for the CaseVault CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "casevault",
		Short: "CaseVault - authentication and session service",
		Long: `CaseVault provides the authentication core for the CaseVault
case management platform: credential verification, session lifecycle,
and brute-force throttling.`,
		Version: version,
	}

	cmd.PersistentFlags().String("config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
