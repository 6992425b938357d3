// ABOUTME: Configuration loading and parsing for garage-assistant
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete garage-assistant configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend" toml:"backend"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Booking  BookingConfig  `yaml:"booking" toml:"booking"`
	Sessions SessionsConfig `yaml:"sessions" toml:"sessions"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Dedupe   DedupeConfig   `yaml:"dedupe" toml:"dedupe"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// BackendConfig holds the remote data API settings
type BackendConfig struct {
	BaseURL       string  `yaml:"base_url" toml:"base_url"`
	RegistryURL   string  `yaml:"registry_url" toml:"registry_url"` // optional, resolves base_url at startup
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// DatabaseConfig holds the credential database location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// MatrixConfig holds Matrix homeserver and room filtering configuration
type MatrixConfig struct {
	Homeserver      string   `yaml:"homeserver" toml:"homeserver"`
	UserID          string   `yaml:"user_id" toml:"user_id"`
	AccessToken     string   `yaml:"access_token" toml:"access_token"`
	Username        string   `yaml:"username" toml:"username"`
	Password        string   `yaml:"password" toml:"password"`
	RecoveryKey     string   `yaml:"recovery_key" toml:"recovery_key"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	CommandPrefix   string   `yaml:"command_prefix" toml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
}

// BookingConfig holds calendar and dialogue settings for the booking flow
type BookingConfig struct {
	DaysAhead     int    `yaml:"days_ahead" toml:"days_ahead"`
	ClosedWeekday string `yaml:"closed_weekday" toml:"closed_weekday"`
	OpenHour      int    `yaml:"open_hour" toml:"open_hour"`
	CloseHour     int    `yaml:"close_hour" toml:"close_hour"`
	Timezone      string `yaml:"timezone" toml:"timezone"`

	SlotInterval time.Duration `yaml:"-" toml:"-"`
	ErrorDelay   time.Duration `yaml:"-" toml:"-"`
	SessionTTL   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SlotIntervalRaw string `yaml:"slot_interval" toml:"slot_interval"`
	ErrorDelayRaw   string `yaml:"error_delay" toml:"error_delay"`
	SessionTTLRaw   string `yaml:"session_ttl" toml:"session_ttl"`
}

// SessionsConfig selects the flow session backing store
type SessionsConfig struct {
	Backend  string `yaml:"backend" toml:"backend"` // memory or redis
	RedisURL string `yaml:"redis_url" toml:"redis_url"`
}

// AuthConfig holds credential lifecycle settings
type AuthConfig struct {
	// StrictRemoteCheck treats an inconclusive who-am-I check as unlinked.
	StrictRemoteCheck bool `yaml:"strict_remote_check" toml:"strict_remote_check"`

	DefaultTokenLifetime time.Duration `yaml:"-" toml:"-"`
	RecheckInterval      time.Duration `yaml:"-" toml:"-"`

	DefaultTokenLifetimeRaw string `yaml:"default_token_lifetime" toml:"default_token_lifetime"`
	RecheckIntervalRaw      string `yaml:"recheck_interval" toml:"recheck_interval"`
}

// DedupeConfig holds inbound event deduplication settings
type DedupeConfig struct {
	MaxSize int `yaml:"max_size" toml:"max_size"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 15 * time.Second
	}
	if c.Backend.RatePerSecond == 0 {
		c.Backend.RatePerSecond = 10
	}
	if c.Backend.Burst == 0 {
		c.Backend.Burst = 20
	}

	if c.Booking.DaysAhead == 0 {
		c.Booking.DaysAhead = 14
	}
	if c.Booking.ClosedWeekday == "" {
		c.Booking.ClosedWeekday = "sunday"
	}
	if c.Booking.OpenHour == 0 && c.Booking.CloseHour == 0 {
		c.Booking.OpenHour = 9
		c.Booking.CloseHour = 18
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.SlotInterval == 0 {
		c.Booking.SlotInterval = 30 * time.Minute
	}
	if c.Booking.ErrorDelay == 0 {
		c.Booking.ErrorDelay = 1500 * time.Millisecond
	}
	if c.Booking.SessionTTL == 0 {
		c.Booking.SessionTTL = 2 * time.Hour
	}

	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "memory"
	}

	if c.Auth.DefaultTokenLifetime == 0 {
		c.Auth.DefaultTokenLifetime = time.Hour
	}

	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9464"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" && c.Backend.RegistryURL == "" {
		return fmt.Errorf("backend.base_url is required (or set backend.registry_url)")
	}
	for name, raw := range map[string]string{
		"backend.base_url":     c.Backend.BaseURL,
		"backend.registry_url": c.Backend.RegistryURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must use http or https scheme", name)
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.AccessToken == "" && (c.Matrix.Username == "" || c.Matrix.Password == "") {
		return fmt.Errorf("matrix.access_token or matrix.username and matrix.password are required")
	}
	if c.Matrix.AccessToken != "" && c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required with matrix.access_token")
	}

	if _, err := ParseWeekday(c.Booking.ClosedWeekday); err != nil {
		return fmt.Errorf("booking.closed_weekday: %w", err)
	}
	if c.Booking.OpenHour < 0 || c.Booking.CloseHour > 24 || c.Booking.OpenHour >= c.Booking.CloseHour {
		return fmt.Errorf("booking.open_hour must be before booking.close_hour")
	}
	if c.Booking.DaysAhead < 1 {
		return fmt.Errorf("booking.days_ahead must be positive")
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}

	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if c.Sessions.RedisURL == "" {
			return fmt.Errorf("sessions.redis_url is required when sessions.backend is redis")
		}
	default:
		return fmt.Errorf("sessions.backend must be memory or redis, got %q", c.Sessions.Backend)
	}

	return nil
}

// ParseWeekday converts an English weekday name (any case) into a time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"booking.slot_interval", cfg.Booking.SlotIntervalRaw, &cfg.Booking.SlotInterval},
		{"booking.error_delay", cfg.Booking.ErrorDelayRaw, &cfg.Booking.ErrorDelay},
		{"booking.session_ttl", cfg.Booking.SessionTTLRaw, &cfg.Booking.SessionTTL},
		{"auth.default_token_lifetime", cfg.Auth.DefaultTokenLifetimeRaw, &cfg.Auth.DefaultTokenLifetime},
		{"auth.recheck_interval", cfg.Auth.RecheckIntervalRaw, &cfg.Auth.RecheckInterval},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
