package ai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider and routing failures. Adapters map kinds to
// user-visible behavior; the kind set is part of the package contract.
type ErrorKind string

const (
	ErrKindNotConnected        ErrorKind = "not_connected"
	ErrKindAuthFailed          ErrorKind = "auth_failed"
	ErrKindRateLimit           ErrorKind = "rate_limit"
	ErrKindInvalidResponse     ErrorKind = "invalid_response"
	ErrKindBudgetExceeded      ErrorKind = "budget_exceeded"
	ErrKindConnection          ErrorKind = "connection_error"
	ErrKindValidation          ErrorKind = "validation_error"
	ErrKindNoProviderAvailable ErrorKind = "no_provider_available"
)

// Error is a classified provider failure.
type Error struct {
	Kind    ErrorKind
	Message string
	// RetryAfter is set for rate_limit errors, in seconds.
	RetryAfter int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a classified error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or empty when err is not an
// *Error.
func KindOf(err error) ErrorKind {
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Kind
	}
	return ""
}
