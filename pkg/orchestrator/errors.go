package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestration errors for API mapping and retry
// decisions.
type ErrorKind string

const (
	// ErrorKindNotFound indicates the target environment or resource
	// does not exist.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindBadRequest indicates invalid caller input.
	// Examples: unknown module path, malformed variables.
	ErrorKindBadRequest ErrorKind = "bad_request"

	// ErrorKindConflict indicates the operation collides with current
	// state. Examples: duplicate names, workflow already in flight.
	ErrorKindConflict ErrorKind = "conflict"

	// ErrorKindExecutionFailure indicates a Terraform command ran and
	// failed. The failing output is preserved in the message.
	ErrorKindExecutionFailure ErrorKind = "execution_failure"

	// ErrorKindConfigurationFailure indicates the command could not be
	// prepared or started at all.
	ErrorKindConfigurationFailure ErrorKind = "configuration_failure"
)

// DomainError represents a classified orchestration error with context.
type DomainError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Target is the environment or resource ID the error concerns.
	Target string `json:"target,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Target != "" {
		base += fmt.Sprintf(" (target=%s", e.Target)
		if e.Operation != "" {
			base += fmt.Sprintf(", operation=%s", e.Operation)
		}
		base += ")"
	} else if e.Operation != "" {
		base += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *DomainError {
	return &DomainError{
		Kind:    ErrorKindNotFound,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad-request error.
func NewBadRequestError(message string, err error) *DomainError {
	return &DomainError{
		Kind:    ErrorKindBadRequest,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *DomainError {
	return &DomainError{
		Kind:    ErrorKindConflict,
		Message: message,
		Err:     err,
	}
}

// NewExecutionError creates a new execution-failure error.
func NewExecutionError(message string, err error) *DomainError {
	return &DomainError{
		Kind:    ErrorKindExecutionFailure,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration-failure error.
func NewConfigurationError(message string, err error) *DomainError {
	return &DomainError{
		Kind:    ErrorKindConfigurationFailure,
		Message: message,
		Err:     err,
	}
}

// WithTarget adds target context to an error.
func (e *DomainError) WithTarget(target string) *DomainError {
	e.Target = target
	return e
}

// WithOperation adds operation context to an error.
func (e *DomainError) WithOperation(operation string) *DomainError {
	e.Operation = operation
	return e
}

// IsNotFound returns true if the error is classified as not-found.
func IsNotFound(err error) bool {
	var e *DomainError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindNotFound
	}
	return false
}

// IsBadRequest returns true if the error is classified as bad-request.
func IsBadRequest(err error) bool {
	var e *DomainError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindBadRequest
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *DomainError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindConflict
	}
	return false
}

// IsExecutionFailure returns true if the error wraps a failed
// Terraform command.
func IsExecutionFailure(err error) bool {
	var e *DomainError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindExecutionFailure
	}
	return false
}

// IsConfigurationFailure returns true if the error is classified as a
// configuration failure.
func IsConfigurationFailure(err error) bool {
	var e *DomainError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindConfigurationFailure
	}
	return false
}
