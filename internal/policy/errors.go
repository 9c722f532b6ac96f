package policy

import (
	"fmt"
	"strings"
)

// ValidationError represents a policy validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains the outcome of policy validation
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

func newResult() *ValidationResult {
	return &ValidationResult{Valid: true, Errors: []ValidationError{}}
}

// AddError adds a validation error
func (r *ValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// FirstError returns the first validation error message
func (r *ValidationResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Error()
}

// Error implements the error interface so a failed result can be returned
// directly from an operation
func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Err returns r as an error if it has errors, nil otherwise
func (r *ValidationResult) Err() error {
	if r.HasErrors() {
		return r
	}
	return nil
}

// Invalid builds a failed result holding a single error
func Invalid(field, message string) *ValidationResult {
	r := newResult()
	r.AddError(field, message)
	return r
}
