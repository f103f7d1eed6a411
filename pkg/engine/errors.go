package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes attached to every engine error for programmatic handling.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNoBuildAction    = "NO_BUILD_ACTION"
	ErrCodeUnhandledState   = "UNHANDLED_STATE"
	ErrCodeMigrationFailed  = "MIGRATION_FAILED"
	ErrCodeValueResolution  = "VALUE_RESOLUTION"
	ErrCodeCycleDetected    = "CYCLE_DETECTED"
	ErrCodeRunnableFailed   = "RUNNABLE_FAILED"
	ErrCodePersistence      = "PERSISTENCE_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
)

// EngineError is a coded error with optional module/service context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Code is the error code for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Target is the module or service the error concerns, if any.
	Target string `json:"target,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Target != "" && e.Operation != "" {
		fmt.Fprintf(&sb, " (target=%s, operation=%s)", e.Target, e.Operation)
	} else if e.Target != "" {
		fmt.Fprintf(&sb, " (target=%s)", e.Target)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new coded error.
func NewEngineError(code, message string, err error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithTarget adds module or service context to an error.
func (e *EngineError) WithTarget(target string) *EngineError {
	e.Target = target
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// NotFoundError is returned when a module, service, value provider or
// runnable lookup has no match. Known lists every name that was available.
type NotFoundError struct {
	Kind  string
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	known := "none"
	if len(e.Known) > 0 {
		known = strings.Join(e.Known, ", ")
	}
	return fmt.Sprintf("%s %q not found (known: %s)", e.Kind, e.Name, known)
}

// Code returns ErrCodeNotFound.
func (e *NotFoundError) Code() string { return ErrCodeNotFound }

// NoBuildActionError is returned when a build is requested for a module
// that declares no build action.
type NoBuildActionError struct {
	Module string
}

func (e *NoBuildActionError) Error() string {
	return fmt.Sprintf("module %q declares no build action", e.Module)
}

// Code returns ErrCodeNoBuildAction.
func (e *NoBuildActionError) Code() string { return ErrCodeNoBuildAction }

// UnhandledStateError signals a staged change the reconciliation engine
// cannot apply. It always indicates a programming error.
type UnhandledStateError struct {
	Change string
	Value  string
}

func (e *UnhandledStateError) Error() string {
	return fmt.Sprintf("unhandled staged state %s=%s", e.Change, e.Value)
}

// Code returns ErrCodeUnhandledState.
func (e *UnhandledStateError) Code() string { return ErrCodeUnhandledState }

// MigrationFailedError wraps the failure of a single migration runnable.
type MigrationFailedError struct {
	Module      string
	MigrationID string
	Err         error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migration %s of module %s failed: %v", e.MigrationID, e.Module, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }

// Code returns ErrCodeMigrationFailed.
func (e *MigrationFailedError) Code() string { return ErrCodeMigrationFailed }

// ValueResolutionError annotates any failure while resolving a value with
// the identifier that was requested.
type ValueResolutionError struct {
	Identifier string
	Err        error
}

func (e *ValueResolutionError) Error() string {
	return fmt.Sprintf("resolve value %s: %v", e.Identifier, e.Err)
}

func (e *ValueResolutionError) Unwrap() error { return e.Err }

// Code returns ErrCodeValueResolution.
func (e *ValueResolutionError) Code() string { return ErrCodeValueResolution }

// CycleDetectedError is returned by the dependency resolver when service
// dependencies loop back on themselves. Path starts and ends with the same
// service.
type CycleDetectedError struct {
	Path []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// Code returns ErrCodeCycleDetected.
func (e *CycleDetectedError) Code() string { return ErrCodeCycleDetected }

// ValidationError reports an invalid input to a public operation.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Code returns ErrCodeValidation.
func (e *ValidationError) Code() string { return ErrCodeValidation }

// ValueProviderNotFound builds the NotFoundError returned when a service has
// neither a static value nor a provider under the requested name.
func ValueProviderNotFound(svc *Service, provider string) *NotFoundError {
	return &NotFoundError{
		Kind:  "value provider",
		Name:  svc.Name + "." + provider,
		Known: valueNames(svc),
	}
}

// ErrorCode returns the engine error code carried by err, or
// ErrCodeInternal when err carries none.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrCodeInternal
}

// IsNotFound returns true if err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsCycle returns true if err is or wraps a CycleDetectedError.
func IsCycle(err error) bool {
	var e *CycleDetectedError
	return errors.As(err, &e)
}

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
