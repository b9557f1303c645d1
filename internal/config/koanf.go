// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/hatch-sync/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults mirror
// the long-standing production values: 900s response cache, 50-minute login
// token reuse, 15-minute sync cadence.
func defaultConfig() *Config {
	return &Config{
		Hatch: HatchConfig{
			Email:           "",
			Password:        "",
			BaseURL:         "https://data.hatchbaby.com",
			Timeout:         50 * time.Second,
			CacheTTLSeconds: 900,
			LoginTTL:        50 * time.Minute,
		},
		Google: GoogleConfig{
			ServiceAccountFile: "service_account.json",
			CalendarShareEmail: "",
		},
		Sync: SyncConfig{
			Enabled:         true,
			Interval:        15 * time.Minute,
			LookbackSlack:   6 * time.Hour,
			SeenHorizon:     14 * 24 * time.Hour,
			InitialLookback: 30 * 24 * time.Hour,
			Kinds:           []string{"diaper", "feeding", "sleep", "weight"},
		},
		State: StateConfig{
			Path: "data/state",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Timeout:         60 * time.Second,
			CORSOrigins:     []string{"https://shray7.github.io", "http://localhost:5173", "http://localhost:8000"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envSections are top-level config sections addressable via environment
// variables: HATCH_EMAIL -> hatch.email, SYNC_LOOKBACK_SLACK ->
// sync.lookback_slack, and so on.
var envSections = []string{"hatch", "google", "sync", "state", "server", "logging"}

// envAliases maps environment variables that do not follow the
// SECTION_FIELD convention to their koanf paths.
var envAliases = map[string]string{
	"LOG_LEVEL":    "logging.level",
	"LOG_FORMAT":   "logging.format",
	"CORS_ORIGINS": "server.cors_origins",
}

// envTransform converts an environment variable name to a koanf path, or ""
// to skip unrelated variables.
func envTransform(name string) string {
	if path, ok := envAliases[name]; ok {
		return path
	}
	lower := strings.ToLower(name)
	for _, section := range envSections {
		if strings.HasPrefix(lower, section+"_") {
			return section + "." + strings.TrimPrefix(lower, section+"_")
		}
	}
	return ""
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
