package process

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

// ValidationResult is the outcome of a plugin's validation step.
type ValidationResult struct {
	Valid  bool
	Errors []FieldError
}

// ValidOK returns a passing validation result.
func ValidOK() ValidationResult {
	return ValidationResult{Valid: true}
}

// Invalid returns a failing validation result with the given field errors.
func Invalid(errors ...FieldError) ValidationResult {
	return ValidationResult{Valid: false, Errors: errors}
}
