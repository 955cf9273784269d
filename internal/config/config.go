// Package config holds livepatch's configuration. Values come from viper:
// defaults registered by SetDefaults, the config file, and LIVEPATCH_*
// environment variables, in increasing priority.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/livepatch/internal/logging"
)

// Config holds all configuration for livepatch
type Config struct {
	Reload  ReloadConfig  `mapstructure:"reload" yaml:"reload"`
	Units   UnitsConfig   `mapstructure:"units" yaml:"units"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ReloadConfig controls the reload scheduler
type ReloadConfig struct {
	// IntervalMs is the wait between the end of one reload cycle and the start
	// of the next (default: 1000)
	IntervalMs int `mapstructure:"interval_ms" yaml:"interval_ms"`
	// Watch starts a cycle early when a unit file is written (default: false)
	Watch bool `mapstructure:"watch" yaml:"watch"`
	// DebounceMs is how long file events are collected before a watch nudge (default: 100)
	DebounceMs int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	// PruneVersions retires superseded class versions and drops them once collected (default: false)
	PruneVersions bool `mapstructure:"prune_versions" yaml:"prune_versions"`
}

// UnitsConfig controls which files are loaded as units
type UnitsConfig struct {
	// Dirs are the directories loaded when `livepatch run` gets no arguments (default: ["."])
	Dirs []string `mapstructure:"dirs" yaml:"dirs"`
	// Pattern selects unit files by base name (default: "*.star")
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Format is "json" or "text" (default: "json")
	Format string `mapstructure:"format" yaml:"format"`
	// File is the log file path; empty logs to stderr
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Enabled serves /metrics while `livepatch run` is active (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Addr is the listen address of the metrics server (default: ":9090")
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	rotation := logging.DefaultRotationConfig()
	return &Config{
		Reload: ReloadConfig{
			IntervalMs:    1000,
			Watch:         false,
			DebounceMs:    100,
			PruneVersions: false,
		},
		Units: UnitsConfig{
			Dirs:    []string{"."},
			Pattern: "*.star",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     logging.FormatJSON,
			File:       "",
			MaxSizeMB:  rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			Compress:   rotation.Compress,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Interval returns the reload interval as a time.Duration
func (c *ReloadConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Debounce returns the watch debounce window as a time.Duration
func (c *ReloadConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Reload defaults
	viper.SetDefault("reload.interval_ms", defaults.Reload.IntervalMs)
	viper.SetDefault("reload.watch", defaults.Reload.Watch)
	viper.SetDefault("reload.debounce_ms", defaults.Reload.DebounceMs)
	viper.SetDefault("reload.prune_versions", defaults.Reload.PruneVersions)

	// Units defaults
	viper.SetDefault("units.dirs", defaults.Units.Dirs)
	viper.SetDefault("units.pattern", defaults.Units.Pattern)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "livepatch")
	}
	// Fall back to ~/.config/livepatch
	home, err := os.UserHomeDir()
	if err != nil {
		return ".livepatch"
	}
	return filepath.Join(home, ".config", "livepatch")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
