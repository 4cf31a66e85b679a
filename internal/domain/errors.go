package domain

import (
	"fmt"
	"strings"
)

// Violation names a single rule an input broke.
type Violation struct {
	Field   string
	Rule    string
	Message string
}

// ValidationError reports malformed or out-of-range input. It is never retried.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError builds a ValidationError carrying a single violation.
func NewValidationError(field, rule, message string) *ValidationError {
	return &ValidationError{Violations: []Violation{{Field: field, Rule: rule, Message: message}}}
}

// Add appends a violation.
func (e *ValidationError) Add(field, rule, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Rule: rule, Message: message})
}

// Empty reports whether no violations were recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Violations) == 0
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// InvalidStateError reports an operation attempted from a status that does not allow it.
type InvalidStateError struct {
	Operation string
	Current   PaymentStatus
	Allowed   []PaymentStatus
}

func (e *InvalidStateError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("cannot %s payment in status %s (allowed: %s)", e.Operation, e.Current, strings.Join(allowed, ", "))
}
