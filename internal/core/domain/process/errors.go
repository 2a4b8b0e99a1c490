package process

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable, machine-readable failure code. Codes are part of the
// runtime's external contract and must not change between releases.
type ErrorCode string

const (
	CodeProcessNotFound   ErrorCode = "PROCESS_NOT_FOUND"
	CodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	CodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	CodeTimeout           ErrorCode = "PROCESS_TIMEOUT"
	CodeDependencyMissing ErrorCode = "DEPENDENCY_MISSING"
	CodeChecksumMismatch  ErrorCode = "CHECKSUM_MISMATCH"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeLoadFailure       ErrorCode = "LOAD_FAILURE"
	CodeUnsupported       ErrorCode = "UNSUPPORTED_SOURCE"
	CodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	CodeConflict          ErrorCode = "REGISTRATION_CONFLICT"
	CodeExecutionFailed   ErrorCode = "EXECUTION_FAILED"
)

// Error is the typed error carried across the plugin runtime. The code is
// distinct from the human-readable message so callers can branch on it.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError creates a typed runtime error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a typed runtime error that retains its cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the error code from err, or CodeExecutionFailed when err is
// not a runtime error.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeExecutionFailed
}
