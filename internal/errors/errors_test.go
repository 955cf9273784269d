package errors

import (
	"errors"
	"fmt"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// DefinitionError Tests
// -----------------------------------------------------------------------------

func TestNewDefinitionError(t *testing.T) {
	cause := errors.New("greeter.star:3:1: got newline, want ':'")
	err := NewDefinitionError("greeter", "greeter.star", cause)

	if err.Unit != "greeter" {
		t.Errorf("Unit = %q, want %q", err.Unit, "greeter")
	}
	if err.Diagnostic != cause.Error() {
		t.Errorf("Diagnostic = %q, want %q", err.Diagnostic, cause.Error())
	}
	if !err.IsRecoverable() {
		t.Error("IsRecoverable() = false, want true")
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}

	want := "definition error [unit=greeter]: greeter.star:3:1: got newline, want ':'"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestDefinitionError_NoDiagnostic(t *testing.T) {
	err := NewDefinitionError("", "", nil)
	if got := err.Error(); got != "definition error: invalid unit source" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsDefinitionError(t *testing.T) {
	defErr := NewDefinitionError("a", "a.star", New("boom"))

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", New("boom"), false},
		{"direct", defErr, true},
		{"wrapped", fmt.Errorf("reload: %w", defErr), true},
		{"unit error", NewUnitError("read failed", ErrUnitNotFound), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDefinitionError(tt.err); got != tt.want {
				t.Errorf("IsDefinitionError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// UnitError Tests
// -----------------------------------------------------------------------------

func TestUnitError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *UnitError
		want string
	}{
		{
			name: "no context",
			err:  NewUnitError("lookup failed", nil),
			want: "unit error: lookup failed",
		},
		{
			name: "unit and cause",
			err:  NewUnitError("lookup failed", ErrUnitNotFound).WithUnit("greeter"),
			want: "unit error [unit=greeter]: lookup failed: unit not found",
		},
		{
			name: "unit and path",
			err:  NewUnitError("read failed", nil).WithUnit("greeter").WithPath("/u/greeter.star"),
			want: "unit error [unit=greeter, path=/u/greeter.star]: read failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnitError_Unwrap(t *testing.T) {
	err := NewUnitError("lookup failed", ErrUnitNotFound)
	if !errors.Is(err, ErrUnitNotFound) {
		t.Error("errors.Is(err, ErrUnitNotFound) = false, want true")
	}
	if err.IsRecoverable() {
		t.Error("UnitError should not be recoverable")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", New("boom"), false},
		{"definition error", NewDefinitionError("a", "", nil), true},
		{"wrapped definition error", Wrap(NewDefinitionError("a", "", nil), "cycle"), true},
		{"unit error", NewUnitError("read", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want debug", got)
	}
	if got := GetSeverity(New("boom")); got != SeverityCritical {
		t.Errorf("GetSeverity(plain) = %v, want critical", got)
	}
	unitErr := NewUnitError("read", nil).WithSeverity(SeverityWarning)
	if got := GetSeverity(unitErr); got != SeverityWarning {
		t.Errorf("GetSeverity(unit) = %v, want warning", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrMethodNotFound, "invoke %s", "greet")
	if err.Error() != "invoke greet: method not found" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(err, ErrMethodNotFound) {
		t.Error("wrapped error should match sentinel")
	}
}
