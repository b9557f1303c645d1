// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package config holds all application configuration, loaded via Koanf v2
// with layered sources (highest priority wins):
//
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables (HATCH_EMAIL, SYNC_INTERVAL, ...)
//
// Config is immutable after Load() and is passed by reference to every
// component that needs it; no component reads the environment directly.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the hatch-sync server.
type Config struct {
	Hatch   HatchConfig   `koanf:"hatch"`
	Google  GoogleConfig  `koanf:"google"`
	Sync    SyncConfig    `koanf:"sync"`
	State   StateConfig   `koanf:"state"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// HatchConfig holds Hatch cloud API credentials and client settings.
//
// Environment variables:
//   - HATCH_EMAIL / HATCH_PASSWORD: account credentials (required for any
//     upstream call; the server still starts without them and reports
//     hatch_configured=false on /health)
//   - HATCH_BASE_URL: override the Grow API base URL (tests)
//   - HATCH_CACHE_TTL_SECONDS: response cache TTL (default 900)
type HatchConfig struct {
	Email           string        `koanf:"email"`
	Password        string        `koanf:"password"`
	BaseURL         string        `koanf:"base_url"`
	Timeout         time.Duration `koanf:"timeout"`
	CacheTTLSeconds int           `koanf:"cache_ttl_seconds"`
	LoginTTL        time.Duration `koanf:"login_ttl"`
}

// Configured reports whether upstream credentials are present. Values are
// never logged or returned by the API.
func (h HatchConfig) Configured() bool {
	return h.Email != "" && h.Password != ""
}

// CacheTTL returns the response cache TTL as a duration.
func (h HatchConfig) CacheTTL() time.Duration {
	return time.Duration(h.CacheTTLSeconds) * time.Second
}

// GoogleConfig holds Google Calendar service-account settings.
//
// Environment variables:
//   - GOOGLE_SERVICE_ACCOUNT_FILE: path to the service account JSON key
//   - GOOGLE_CALENDAR_SHARE_EMAIL: personal account the tracker calendar is
//     shared with (writer role); empty disables sharing
type GoogleConfig struct {
	ServiceAccountFile string `koanf:"service_account_file"`
	CalendarShareEmail string `koanf:"calendar_share_email"`
}

// SyncConfig holds sync engine and scheduler tuning.
//
// LookbackSlack and SeenHorizon are operational tuning values, not design
// constants: slack compensates for upstream records that arrive slightly
// out of chronological order, and the horizon bounds the seen-set size.
type SyncConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Interval        time.Duration `koanf:"interval"`
	LookbackSlack   time.Duration `koanf:"lookback_slack"`
	SeenHorizon     time.Duration `koanf:"seen_horizon"`
	InitialLookback time.Duration `koanf:"initial_lookback"`
	Kinds           []string      `koanf:"kinds"`
}

// StateConfig holds the durable sync-state store location.
type StateConfig struct {
	Path string `koanf:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks ranges and cross-field constraints. Credentials are not
// required here: the server runs degraded without them.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Hatch.CacheTTLSeconds <= 0 {
		return fmt.Errorf("hatch.cache_ttl_seconds must be positive, got %d", c.Hatch.CacheTTLSeconds)
	}
	if c.Hatch.Timeout <= 0 {
		return fmt.Errorf("hatch.timeout must be positive, got %s", c.Hatch.Timeout)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.LookbackSlack < 0 {
		return fmt.Errorf("sync.lookback_slack must not be negative, got %s", c.Sync.LookbackSlack)
	}
	if c.Sync.SeenHorizon <= c.Sync.LookbackSlack {
		return fmt.Errorf("sync.seen_horizon (%s) must exceed sync.lookback_slack (%s)",
			c.Sync.SeenHorizon, c.Sync.LookbackSlack)
	}
	if c.Sync.InitialLookback <= 0 {
		return fmt.Errorf("sync.initial_lookback must be positive, got %s", c.Sync.InitialLookback)
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path must not be empty")
	}
	return nil
}
