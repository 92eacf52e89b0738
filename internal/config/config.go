// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package config loads the agent configuration from layered sources with
// clear precedence: environment variables override the config file, which
// overrides built-in defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fieldsync/config.yaml",
	"/etc/fieldsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "FIELDSYNC_CONFIG"

// envPrefix namespaces all fieldsync environment variables.
const envPrefix = "FIELDSYNC_"

// Config is the complete agent configuration.
type Config struct {
	Backend      BackendConfig      `koanf:"backend"`
	Cache        CacheConfig        `koanf:"cache"`
	Queue        QueueConfig        `koanf:"queue"`
	Location     LocationConfig     `koanf:"location"`
	Tracking     TrackingConfig     `koanf:"tracking"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Diagnostics  DiagnosticsConfig  `koanf:"diagnostics"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// BackendConfig describes the ERP backend and the transport budget used
// to reach it.
type BackendConfig struct {
	// BaseURL is the backend API root, e.g. "https://erp.example.com/api".
	BaseURL string `koanf:"base_url"`

	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// RequestTimeout bounds a standard request/response cycle.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// UploadTimeout is the longer tier for multipart uploads.
	UploadTimeout time.Duration `koanf:"upload_timeout"`

	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int `koanf:"max_retries"`

	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// CacheConfig tunes the in-memory response cache.
type CacheConfig struct {
	// SweepThreshold is the entry count above which expired entries are
	// swept on insert.
	SweepThreshold int `koanf:"sweep_threshold"`
}

// QueueConfig places the durable offline action queue.
type QueueConfig struct {
	// DataDir is the Badger directory holding pending actions.
	DataDir string `koanf:"data_dir"`
}

// LocationConfig tunes the position acquisition strategy.
type LocationConfig struct {
	// FreshnessWindow is how long a cached fix is served without
	// consulting the platform.
	FreshnessWindow time.Duration `koanf:"freshness_window"`

	// FixTimeout bounds a fresh GPS acquisition before falling back to
	// the cached position.
	FixTimeout time.Duration `koanf:"fix_timeout"`

	// StaticLatitude and StaticLongitude pin a headless agent to a fixed
	// site instead of platform location services. Both zero disables the
	// static provider.
	StaticLatitude  float64 `koanf:"static_latitude"`
	StaticLongitude float64 `koanf:"static_longitude"`
}

// HasStaticPosition reports whether a fixed site position is configured.
func (l LocationConfig) HasStaticPosition() bool {
	return l.StaticLatitude != 0 || l.StaticLongitude != 0
}

// TrackingConfig tunes the tracking model.
type TrackingConfig struct {
	// RouteCacheTTL is how long fetched routes are served from cache.
	RouteCacheTTL time.Duration `koanf:"route_cache_ttl"`
}

// ConnectivityConfig tunes the backend reachability monitor.
type ConnectivityConfig struct {
	// ProbeInterval is the reachability poll period.
	ProbeInterval time.Duration `koanf:"probe_interval"`

	// ProbeTimeout bounds a single reachability probe.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

// DiagnosticsConfig exposes the local diagnostics HTTP server.
type DiagnosticsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// LoggingConfig mirrors the logging package configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:        "",
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: 15 * time.Second,
			UploadTimeout:  60 * time.Second,
			MaxRetries:     2,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Cache: CacheConfig{
			SweepThreshold: 100,
		},
		Queue: QueueConfig{
			DataDir: "/data/fieldsync/queue",
		},
		Location: LocationConfig{
			FreshnessWindow: 2 * time.Minute,
			FixTimeout:      5 * time.Second,
		},
		Tracking: TrackingConfig{
			RouteCacheTTL: time.Minute,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    7411,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. built-in defaults
//  2. optional YAML config file
//  3. FIELDSYNC_* environment variables
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// FIELDSYNC_BACKEND_BASE_URL -> backend.base_url
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, checking the
// env override before the default search paths.
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

// envTransform maps FIELDSYNC_* variable names to koanf paths. The first
// underscore after the prefix separates the section; the rest stays a
// snake_case key.
//
//	FIELDSYNC_BACKEND_BASE_URL  -> backend.base_url
//	FIELDSYNC_LOGGING_LEVEL     -> logging.level
//	FIELDSYNC_QUEUE_DATA_DIR    -> queue.data_dir
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

// Validate checks invariants a misconfigured agent cannot run with.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not a valid URL", c.Backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must not be negative")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be positive")
	}
	if c.Cache.SweepThreshold <= 0 {
		return fmt.Errorf("cache.sweep_threshold must be positive")
	}
	if c.Queue.DataDir == "" {
		return fmt.Errorf("queue.data_dir is required")
	}
	if c.Location.FixTimeout <= 0 {
		return fmt.Errorf("location.fix_timeout must be positive")
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity.probe_interval must be positive")
	}
	if c.Diagnostics.Enabled && (c.Diagnostics.Port <= 0 || c.Diagnostics.Port > 65535) {
		return fmt.Errorf("diagnostics.port %d is out of range", c.Diagnostics.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// DiagnosticsAddr returns the listen address for the diagnostics server.
func (c *Config) DiagnosticsAddr() string {
	return fmt.Sprintf("%s:%d", c.Diagnostics.Host, c.Diagnostics.Port)
}
