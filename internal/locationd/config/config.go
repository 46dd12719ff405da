// Package config holds the daemon configuration: the HTTP control
// surface, delivery-policy thresholds, and the provider slots to bring
// up. Values come from built-in defaults, an optional YAML file, and
// environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// NodeID identifies this daemon instance in published events.
	NodeID string `yaml:"node_id"`

	// HTTPAddr is the control API listen address.
	HTTPAddr string `yaml:"http_addr"`

	LogLevel string `yaml:"log_level"`

	// EventBuffer is the size of the in-memory event stream buffer.
	// Zero disables the stream.
	EventBuffer int `yaml:"event_buffer"`

	// RecentFixTTLSeconds is how long the control API keeps recent fixes
	// queryable.
	RecentFixTTLSeconds int `yaml:"recent_fix_ttl_seconds"`

	Policy    PolicyConfig     `yaml:"policy"`
	Settings  SettingsConfig   `yaml:"settings"`
	Providers []ProviderConfig `yaml:"providers"`
}

// PolicyConfig tunes the delivery pipeline thresholds. Zero values keep
// the built-in defaults.
type PolicyConfig struct {
	CoarseIntervalFloorMillis     int64   `yaml:"coarse_interval_floor_ms"`
	MinRequestDelayMillis         int64   `yaml:"min_request_delay_ms"`
	MaxCurrentLocationAgeMillis   int64   `yaml:"max_current_location_age_ms"`
	MaxUpdateIntervalJitterMillis int64   `yaml:"max_update_interval_jitter_ms"`
	GetCurrentTimeoutMillis       int64   `yaml:"get_current_timeout_ms"`
	CoarseAccuracyM               float64 `yaml:"coarse_accuracy_m"`
}

// SettingsConfig seeds the in-process settings helper.
type SettingsConfig struct {
	LocationEnabled                  *bool    `yaml:"location_enabled"`
	CurrentUser                      int      `yaml:"current_user"`
	BackgroundThrottleIntervalMillis int64    `yaml:"background_throttle_interval_ms"`
	ThrottleExemptPackages           []string `yaml:"throttle_exempt_packages"`
	IgnoreSettingsAllowlist          []string `yaml:"ignore_settings_allowlist"`
}

// ProviderConfig describes one provider slot backed by a simulated
// driver.
type ProviderConfig struct {
	Name            string  `yaml:"name"`
	OriginLatitude  float64 `yaml:"origin_latitude"`
	OriginLongitude float64 `yaml:"origin_longitude"`
	AccuracyM       float64 `yaml:"accuracy_m"`
	Satellite       bool    `yaml:"satellite"`
}

// Default returns the stock configuration: one satellite-like and one
// network-like provider around a fixed origin.
func Default() *Config {
	return &Config{
		NodeID:              "waypointd",
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		EventBuffer:         1024,
		RecentFixTTLSeconds: 300,
		Providers: []ProviderConfig{
			{Name: "gps", OriginLatitude: 37.422, OriginLongitude: -122.084, AccuracyM: 5, Satellite: true},
			{Name: "network", OriginLatitude: 37.422, OriginLongitude: -122.084, AccuracyM: 50},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file
// at path, and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("WAYPOINT_NODE_ID"); v != "" {
		c.NodeID = v
	}
	if v := os.Getenv("WAYPOINT_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("WAYPOINT_LOGLEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WAYPOINT_EVENT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EventBuffer = n
		}
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name must not be empty", i)
		}
		if p.Name == "passive" {
			return fmt.Errorf("provider %d: the passive slot is built in", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %d: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.OriginLatitude < -90 || p.OriginLatitude > 90 {
			return fmt.Errorf("provider %s: origin latitude out of range", p.Name)
		}
		if p.OriginLongitude < -180 || p.OriginLongitude > 180 {
			return fmt.Errorf("provider %s: origin longitude out of range", p.Name)
		}
	}
	if c.RecentFixTTLSeconds < 0 || c.EventBuffer < 0 {
		return fmt.Errorf("recent_fix_ttl_seconds and event_buffer must not be negative")
	}
	return nil
}
