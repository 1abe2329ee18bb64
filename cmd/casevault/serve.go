// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/casevault/casevault/internal/audit"
	"github.com/casevault/casevault/internal/auth"
	authpg "github.com/casevault/casevault/internal/auth/postgres"
	"github.com/casevault/casevault/internal/config"
	"github.com/casevault/casevault/internal/logging"
	"github.com/casevault/casevault/internal/observability"
	"github.com/casevault/casevault/internal/store"
)

// shutdownTimeout bounds graceful shutdown of the observability server.
const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication service",
		Long: `Run the authentication service: connect to the database, start the
background sweepers and the metrics/health endpoints, and serve until
interrupted.`,
		RunE: runServe,
	}

	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")
	cmd.Flags().String("server.metrics_addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("server.log_format", "", "log format (json or text)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("casevault", version, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	// Observability server (optional).
	var obs *observability.Server
	if cfg.Server.MetricsAddr != "" {
		obs = observability.NewServer(cfg.Server.MetricsAddr, func() bool {
			return pool.Ping(ctx) == nil
		})
		if _, err := obs.Start(); err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(shutdownCtx); stopErr != nil {
				slog.Error("failed to stop observability server", "error", stopErr)
			}
		}()
	}

	svc, cleanup, err := buildAuthService(pool, cfg, obs)
	if err != nil {
		return err
	}
	defer cleanup()
	_ = svc // consumed in-process by the request-handling layers

	slog.Info("casevault service started",
		"metrics_addr", cfg.Server.MetricsAddr,
		"rate_limiting", cfg.Auth.RateLimit.Enabled,
		"session_cache", cfg.Auth.Session.CacheEnabled,
	)

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// buildAuthService wires the authentication core: repositories, hasher,
// rate limiter, session store with its sweeper, and the audit sink. The
// returned cleanup stops the background goroutines.
func buildAuthService(pool *pgxpool.Pool, cfg *config.Config, obs *observability.Server) (*auth.Service, func(), error) {
	accounts := authpg.NewAccountRepository(pool)
	sessionRepo := authpg.NewSessionRepository(pool)

	limiterCfg := auth.RateLimiterConfig{
		Enabled:         cfg.Auth.RateLimit.Enabled,
		Policies:        cfg.Auth.RateLimit.Policies(),
		CleanupInterval: cfg.Auth.RateLimit.CleanupInterval,
	}
	var sink audit.Sink = audit.NewSlogSink(slog.Default())
	if obs != nil {
		sink = observability.NewAuditSink(obs.Metrics(), sink)
	}

	sessionCfg := auth.SessionStoreConfig{
		DefaultTTL:      cfg.Auth.Session.DefaultTTL,
		RememberMeTTL:   cfg.Auth.Session.RememberMeTTL,
		CacheEnabled:    cfg.Auth.Session.CacheEnabled,
		CleanupInterval: cfg.Auth.Session.CleanupInterval,
		Audit:           sink,
	}

	var limiter *auth.RateLimiter
	var sessions *auth.SessionStore
	var err error
	if obs != nil {
		limiter = auth.NewRateLimiterWithRegistry(limiterCfg, obs.Registry())
		sessions, err = auth.NewSessionStoreWithRegistry(sessionRepo, sessionCfg, obs.Registry())
	} else {
		limiter = auth.NewRateLimiter(limiterCfg)
		sessions, err = auth.NewSessionStore(sessionRepo, sessionCfg)
	}
	if err != nil {
		limiter.Close()
		return nil, nil, err
	}

	svc, err := auth.NewService(accounts, sessions, auth.NewArgon2idHasher(), limiter, sink)
	if err != nil {
		limiter.Close()
		return nil, nil, err
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	sessions.Start(sweepCtx)

	cleanup := func() {
		cancelSweep()
		sessions.Stop()
		limiter.Close()
	}
	return svc, cleanup, nil
}
