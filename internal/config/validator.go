package config

import (
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Iron-Ham/livepatch/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "reload.interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels, lower case as they
// appear in the config file.
func ValidLogLevels() []string {
	levels := logging.ValidLevels()
	for i, level := range levels {
		levels[i] = strings.ToLower(level)
	}
	return levels
}

// ValidLogFormats returns the list of valid log output formats
func ValidLogFormats() []string {
	return []string{logging.FormatJSON, logging.FormatText}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateReload()...)
	errors = append(errors, c.validateUnits()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)

	return errors
}

// validateReload validates the ReloadConfig
func (c *Config) validateReload() []ValidationError {
	var errors []ValidationError

	if c.Reload.IntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "reload.interval_ms",
			Value:   c.Reload.IntervalMs,
			Message: "must be positive",
		})
	}

	// A debounce of zero delivers every file event on its own
	if c.Reload.DebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "reload.debounce_ms",
			Value:   c.Reload.DebounceMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateUnits validates the UnitsConfig
func (c *Config) validateUnits() []ValidationError {
	var errors []ValidationError

	if c.Units.Pattern == "" {
		errors = append(errors, ValidationError{
			Field:   "units.pattern",
			Value:   c.Units.Pattern,
			Message: "must not be empty",
		})
	} else if _, err := filepath.Match(c.Units.Pattern, ""); err != nil {
		errors = append(errors, ValidationError{
			Field:   "units.pattern",
			Value:   c.Units.Pattern,
			Message: "is not a valid file pattern",
		})
	}

	for i, dir := range c.Units.Dirs {
		if strings.TrimSpace(dir) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("units.dirs[%d]", i),
				Value:   dir,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.Format != "" && !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	if !c.Metrics.Enabled {
		return nil
	}

	var errors []ValidationError
	if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
		errors = append(errors, ValidationError{
			Field:   "metrics.addr",
			Value:   c.Metrics.Addr,
			Message: "must be a host:port listen address",
		})
	}
	return errors
}
