package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/mescon/cadence/internal/logger"
	"github.com/mescon/cadence/internal/sampler"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set.
type Config struct {
	// Interval is the sampling cadence (default: 1s)
	Interval time.Duration

	// RunFor stops sampling after this long; 0 runs until interrupted (default: 0)
	RunFor time.Duration

	// SummaryEvery is how often a summary line is logged; 0 disables it (default: 1m)
	SummaryEvery time.Duration

	// Format selects the report line format: "text" or "json" (default: "text")
	Format string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// LogDir enables a rotated log file in this directory (default: "", console only)
	LogDir string

	// Listen is the status server address; empty disables it (default: "")
	// Example: ":9464" or "127.0.0.1:9464"
	Listen string

	// ProcPath is the procfs mount point (default: /proc)
	ProcPath string
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() (*Config, error) {
	c := &Config{
		Format:   strings.ToLower(getEnvOrDefault("CADENCE_FORMAT", FormatText)),
		LogLevel: strings.ToLower(getEnvOrDefault("CADENCE_LOG_LEVEL", "info")),
		LogDir:   getEnvOrDefault("CADENCE_LOG_DIR", ""),
		Listen:   getEnvOrDefault("CADENCE_LISTEN", ""),
		ProcPath: getEnvOrDefault("CADENCE_PROC_PATH", sampler.DefaultProcPath),
	}

	var err error
	if c.Interval, err = getEnvIntervalOrDefault("CADENCE_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if c.RunFor, err = getEnvIntervalOrDefault("CADENCE_RUN_FOR", 0); err != nil {
		return nil, err
	}
	if c.SummaryEvery, err = getEnvIntervalOrDefault("CADENCE_SUMMARY_EVERY", time.Minute); err != nil {
		return nil, err
	}

	cfg = c
	return cfg, nil
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Interval:     100 * time.Millisecond,
		RunFor:       0,
		SummaryEvery: 0,
		Format:       FormatText,
		LogLevel:     "debug",
		LogDir:       "",
		Listen:       "",
		ProcPath:     sampler.DefaultProcPath,
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Interval <= 0 {
		result = multierror.Append(result, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.RunFor < 0 {
		result = multierror.Append(result, fmt.Errorf("run-for must not be negative, got %s", c.RunFor))
	}
	if c.SummaryEvery < 0 {
		result = multierror.Append(result, fmt.Errorf("summary-every must not be negative, got %s", c.SummaryEvery))
	}
	switch c.Format {
	case FormatText, FormatJSON:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown format %q (want %q or %q)", c.Format, FormatText, FormatJSON))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if c.ProcPath == "" {
		result = multierror.Append(result, fmt.Errorf("proc path must not be empty"))
	}
	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid listen address %q: %w", c.Listen, err))
		}
	}

	return result.ErrorOrNil()
}

// ParseInterval accepts a Go duration ("250ms", "5s") or a constant-delay
// cron descriptor ("@every 5s"). Cron descriptors are rounded to whole
// seconds with a one second minimum, as cron itself does.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
		return d, nil
	}

	sched, err := cron.ParseStandard(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	every, ok := sched.(cron.ConstantDelaySchedule)
	if !ok {
		return 0, fmt.Errorf("invalid interval %q: only @every descriptors have a fixed cadence", s)
	}
	return every.Delay, nil
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntervalOrDefault parses the environment variable with ParseInterval.
// An unparseable value is an error, not the default.
func getEnvIntervalOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := ParseInterval(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// FlagOverrides holds command-line flag values that can override environment variables.
// Interval-like flags are strings so they can carry cron descriptors.
type FlagOverrides struct {
	Interval     *string
	RunFor       *string
	SummaryEvery *string
	Format       *string
	LogLevel     *string
	LogDir       *string
	Listen       *string
	ProcPath     *string
}

// ApplyFlags applies command-line flag overrides to the configuration.
// Should be called after Load() and after flag parsing.
// Only non-nil, non-empty values override.
func ApplyFlags(flags FlagOverrides) error {
	if cfg == nil {
		return nil
	}

	intervals := []struct {
		name string
		flag *string
		dst  *time.Duration
	}{
		{"interval", flags.Interval, &cfg.Interval},
		{"run-for", flags.RunFor, &cfg.RunFor},
		{"summary-every", flags.SummaryEvery, &cfg.SummaryEvery},
	}
	for _, iv := range intervals {
		if iv.flag == nil || *iv.flag == "" {
			continue
		}
		d, err := ParseInterval(*iv.flag)
		if err != nil {
			return fmt.Errorf("--%s: %w", iv.name, err)
		}
		*iv.dst = d
	}

	if flags.Format != nil && *flags.Format != "" {
		cfg.Format = strings.ToLower(*flags.Format)
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.LogDir != nil && *flags.LogDir != "" {
		cfg.LogDir = *flags.LogDir
	}
	if flags.Listen != nil && *flags.Listen != "" {
		cfg.Listen = *flags.Listen
	}
	if flags.ProcPath != nil && *flags.ProcPath != "" {
		cfg.ProcPath = *flags.ProcPath
	}
	return nil
}
