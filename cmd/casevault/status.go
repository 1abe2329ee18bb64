// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/casevault/casevault/internal/config"
	"github.com/casevault/casevault/internal/store"
)

// statusTimeout bounds the database connectivity check.
const statusTimeout = 10 * time.Second

// NewStatusCmd creates the status subcommand. It reports database
// connectivity and the current migration version.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report database connectivity and migration state",
		RunE:  runStatus,
	}

	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		cmd.Println("database: unreachable")
		return err
	}
	defer pool.Close()
	cmd.Println("database: ok")

	m, err := store.NewMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("failed to close migrator:", closeErr)
		}
	}()

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 && !dirty {
		cmd.Println("migrations: none applied")
		return nil
	}
	cmd.Printf("migrations: version %d, dirty: %v\n", version, dirty)
	return nil
}
