package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatProvider   ErrorCategory = "provider"   // Provider-side failure
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
	ErrCatParse      ErrorCategory = "parse"      // Malformed provider response
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatTransport  ErrorCategory = "transport"  // Subscriber transport failure
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// ErrInput creates a validation error. Input errors end a session
// immediately with a single error event.
func ErrInput(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error. Terminal for the whole
// session: a bad credential will not become good on retry.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrProvider creates a transient provider error.
func ErrProvider(code, message string) *DomainError {
	if code == "" {
		code = "PROVIDER_ERROR"
	}
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrProviderExhausted signals that retries and the whole fallback
// chain were consumed without a successful completion.
func ErrProviderExhausted(models int, lastErr error) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      "PROVIDER_EXHAUSTED",
		Message:   fmt.Sprintf("all %d models exhausted", models),
		Retryable: false,
		Cause:     lastErr,
	}
}

// ErrNetwork creates a network error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      "NETWORK_ERROR",
		Message:   message,
		Retryable: true,
	}
}

// ErrParse creates a parse error for a malformed provider response.
// Counts as a failed attempt; advances retry/fallback.
func ErrParse(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatParse,
		Code:      "PARSE_FAILED",
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrNoResults signals a session that could not bootstrap a
// transcript: round one produced no successful actor output.
func ErrNoResults(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      "NO_RESULTS",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeEmptyRoster  = "EMPTY_ROSTER"
	CodeMissingStock = "MISSING_STOCK"
	CodeUnknownActor = "UNKNOWN_ACTOR"
	CodeMissingModel = "MISSING_MODEL"
)
