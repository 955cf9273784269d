// Package errors provides centralized error definitions and error handling utilities
// for livepatch. It defines the reload error taxonomy, sentinel errors, error
// constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// A reload cycle distinguishes two kinds of failure:
//   - DefinitionError: the current on-disk content of a unit is not valid
//     (syntax, resolution, or evaluation of its top-level body failed). These
//     are recoverable: the cycle logs them and skips only that unit.
//   - Everything else: unexpected failures during enumeration, reading or
//     rebinding. These are not recovered inside a cycle.
//
// UnitError carries unit context for failures that are not about the unit's
// source (lookups, reads, unloads).
//
// # Usage
//
//	err := errors.NewDefinitionError("greeter", "/srv/units/greeter.star", cause)
//
//	if errors.IsDefinitionError(err) { ... }
//
//	var defErr *errors.DefinitionError
//	if errors.As(err, &defErr) {
//	    log.Error("cannot reload unit", "unit", defErr.Unit, "error", defErr.Diagnostic)
//	}
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical stops the reload loop.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Unit-related sentinel errors
var (
	// ErrUnitNotFound indicates that no unit is loaded under the given name.
	ErrUnitNotFound = New("unit not found")
	// ErrUnitExists indicates that a unit with the same name is already loaded.
	ErrUnitExists = New("unit already loaded")
	// ErrNoBackingFile indicates that a unit has no file to reinitialize from.
	ErrNoBackingFile = New("unit has no backing file")
	// ErrLoadCycle indicates that units load each other in a cycle.
	ErrLoadCycle = New("load cycle detected")
	// ErrGlobalNotFound indicates that a unit has no top-level global with the given name.
	ErrGlobalNotFound = New("global not found")
)

// Object-related sentinel errors
var (
	// ErrNotCallable indicates that a value used as a method cannot be called.
	ErrNotCallable = New("value is not callable")
	// ErrMethodNotFound indicates that an instance has no method with the given name.
	ErrMethodNotFound = New("method not found")
	// ErrReadOnlyMethod indicates an attempt to assign a field over a method binding.
	ErrReadOnlyMethod = New("cannot assign to a method")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// LivepatchError is the base interface for all livepatch errors.
type LivepatchError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRecoverable reports whether a reload cycle may continue after this error.
	IsRecoverable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message     string
	cause       error
	severity    Severity
	recoverable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRecoverable returns whether the error is recoverable inside a cycle.
func (e *baseError) IsRecoverable() bool {
	return e.recoverable
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// DefinitionError reports that a unit's current source could not be turned into
// a fresh unit. Diagnostic holds the interpreter's message (with position when
// one is available).
//
// Example:
//
//	err := errors.NewDefinitionError("greeter", "units/greeter.star", syntaxErr)
//	fmt.Println(err) // "definition error [unit=greeter]: units/greeter.star:3:1: got newline, want ':'"
type DefinitionError struct {
	baseError
	Unit       string
	Path       string
	Diagnostic string
}

// NewDefinitionError creates a DefinitionError for the given unit.
func NewDefinitionError(unit, path string, cause error) *DefinitionError {
	diagnostic := ""
	if cause != nil {
		diagnostic = cause.Error()
	}
	return &DefinitionError{
		baseError: baseError{
			message:     "invalid unit source",
			cause:       cause,
			severity:    SeverityError,
			recoverable: true,
		},
		Unit:       unit,
		Path:       path,
		Diagnostic: diagnostic,
	}
}

// Error returns the formatted error message.
func (e *DefinitionError) Error() string {
	prefix := "definition error"
	if e.Unit != "" {
		prefix = fmt.Sprintf("definition error [unit=%s]", e.Unit)
	}
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Diagnostic)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *DefinitionError) Is(target error) bool {
	_, ok := target.(*DefinitionError)
	return ok
}

// UnitError represents failures of unit management that are not caused by the
// unit's source content.
//
// Example:
//
//	err := errors.NewUnitError("lookup failed", errors.ErrUnitNotFound).WithUnit("greeter")
type UnitError struct {
	baseError
	Unit string
	Path string
}

// NewUnitError creates a new UnitError.
func NewUnitError(message string, cause error) *UnitError {
	return &UnitError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithUnit adds a unit name to the error context.
func (e *UnitError) WithUnit(name string) *UnitError {
	e.Unit = name
	return e
}

// WithPath adds a file path to the error context.
func (e *UnitError) WithPath(path string) *UnitError {
	e.Path = path
	return e
}

// WithSeverity sets the error severity.
func (e *UnitError) WithSeverity(s Severity) *UnitError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *UnitError) Error() string {
	var parts []string
	if e.Unit != "" {
		parts = append(parts, fmt.Sprintf("unit=%s", e.Unit))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	prefix := "unit error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("unit error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsDefinitionError reports whether err is, or wraps, a DefinitionError.
func IsDefinitionError(err error) bool {
	if err == nil {
		return false
	}
	var defErr *DefinitionError
	return As(err, &defErr)
}

// IsRecoverable returns true if a reload cycle may continue after err.
// Only errors implementing LivepatchError can be recoverable; anything else
// is treated as fatal to the cycle.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	var lpErr LivepatchError
	if As(err, &lpErr) {
		return lpErr.IsRecoverable()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityCritical for errors that don't implement LivepatchError,
// since those stop the reload loop.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var lpErr LivepatchError
	if As(err, &lpErr) {
		return lpErr.Severity()
	}
	return SeverityCritical
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "enumerate live instances")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "rebind %s", qualifiedName)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
