package process

import "time"

// Status classifies the outcome of a process execution.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusBusinessError  Status = "BUSINESS_ERROR"
	StatusTechnicalError Status = "TECHNICAL_ERROR"
	StatusPending        Status = "PENDING"
	StatusPartial        Status = "PARTIAL"
)

// Result is the immutable outcome of a process execution. Decoration with
// timing produces a new value; the original is never mutated.
type Result struct {
	Status       Status
	Output       map[string]any
	ErrorCode    ErrorCode
	ErrorMessage string

	// Fault retains the originating error for technical failures. Business
	// errors never carry internal fault objects.
	Fault error

	FieldErrors []FieldError
	Metadata    map[string]string

	ExecutionID string
	Elapsed     time.Duration
}

// Success builds a successful result with the given output payload.
func Success(output map[string]any) Result {
	return Result{Status: StatusSuccess, Output: output}
}

// BusinessError builds a caller-correctable failure result.
func BusinessError(code ErrorCode, message string) Result {
	return Result{Status: StatusBusinessError, ErrorCode: code, ErrorMessage: message}
}

// TechnicalError builds an infrastructure failure result retaining its fault.
func TechnicalError(code ErrorCode, message string, fault error) Result {
	return Result{Status: StatusTechnicalError, ErrorCode: code, ErrorMessage: message, Fault: fault}
}

// ValidationError builds a business failure carrying field-level errors.
func ValidationError(fieldErrors []FieldError) Result {
	return Result{
		Status:       StatusBusinessError,
		ErrorCode:    CodeValidationFailed,
		ErrorMessage: "input validation failed",
		FieldErrors:  fieldErrors,
	}
}

// WithTiming returns a copy decorated with execution id and elapsed time.
// Applying it twice with the same arguments yields the same value.
func (r Result) WithTiming(executionID string, elapsed time.Duration) Result {
	decorated := r
	decorated.ExecutionID = executionID
	decorated.Elapsed = elapsed
	return decorated
}

// IsSuccess reports whether the execution completed without error.
func (r Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}
