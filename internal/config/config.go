// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

// Package config loads and validates service configuration from a YAML
// file with command-line flag overrides.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/casevault/casevault/internal/auth"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
}

// ServerConfig configures the process-level servers.
type ServerConfig struct {
	// MetricsAddr is the metrics/health HTTP listen address.
	// Empty disables the observability server.
	MetricsAddr string `koanf:"metrics_addr"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// AuthConfig configures the authentication core.
type AuthConfig struct {
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Session   SessionConfig   `koanf:"session"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	Login          LimitEntry `koanf:"login"`
	PasswordChange LimitEntry `koanf:"password_change"`
	Export         LimitEntry `koanf:"export"`
}

// LimitEntry is one row of the per-operation limit table. A zero
// LockDuration means the operation denies without locking once saturated.
type LimitEntry struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	Window       time.Duration `koanf:"window"`
	LockDuration time.Duration `koanf:"lock_duration"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	DefaultTTL      time.Duration `koanf:"default_ttl"`
	RememberMeTTL   time.Duration `koanf:"remember_me_ttl"`
	CacheEnabled    bool          `koanf:"cache_enabled"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// Default returns the configuration defaults. File and flag values are
// merged over it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddr: "127.0.0.1:9100",
			LogFormat:   "json",
		},
		Auth: AuthConfig{
			RateLimit: RateLimitConfig{
				Enabled:         true,
				CleanupInterval: auth.DefaultCleanupInterval,
				Login:           LimitEntry{MaxAttempts: 5, Window: 15 * time.Minute, LockDuration: 15 * time.Minute},
				PasswordChange:  LimitEntry{MaxAttempts: 5, Window: time.Hour, LockDuration: time.Hour},
				Export:          LimitEntry{MaxAttempts: 5, Window: 24 * time.Hour, LockDuration: 0},
			},
			Session: SessionConfig{
				DefaultTTL:      auth.DefaultSessionTTL,
				RememberMeTTL:   auth.RememberMeSessionTTL,
				CacheEnabled:    true,
				CleanupInterval: auth.DefaultSessionCleanupInterval,
			},
		},
	}
}

// Load reads configuration from the given YAML file (optional, empty path
// skips it) and merges flag overrides on top of the defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").
			With("operation", "unmarshal config").
			Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.LogFormat != "json" && c.Server.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.Server.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	for name, entry := range map[string]LimitEntry{
		"login":           c.Auth.RateLimit.Login,
		"password_change": c.Auth.RateLimit.PasswordChange,
		"export":          c.Auth.RateLimit.Export,
	} {
		if entry.MaxAttempts <= 0 {
			return oops.Code("CONFIG_INVALID").
				With("operation", name).
				Errorf("rate limit max_attempts must be positive")
		}
		if entry.Window <= 0 {
			return oops.Code("CONFIG_INVALID").
				With("operation", name).
				Errorf("rate limit window must be positive")
		}
	}
	if c.Auth.Session.DefaultTTL <= 0 || c.Auth.Session.RememberMeTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session durations must be positive")
	}
	return nil
}

// Policies converts the limit table into the rate limiter's policy map.
func (c *RateLimitConfig) Policies() map[auth.Operation]auth.LimitPolicy {
	return map[auth.Operation]auth.LimitPolicy{
		auth.OpLogin:          {MaxAttempts: c.Login.MaxAttempts, Window: c.Login.Window, LockDuration: c.Login.LockDuration},
		auth.OpPasswordChange: {MaxAttempts: c.PasswordChange.MaxAttempts, Window: c.PasswordChange.Window, LockDuration: c.PasswordChange.LockDuration},
		auth.OpExport:         {MaxAttempts: c.Export.MaxAttempts, Window: c.Export.Window, LockDuration: c.Export.LockDuration},
	}
}
