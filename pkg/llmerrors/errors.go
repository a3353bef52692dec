// Package llmerrors provides structured error classification for generative-model API interactions.
package llmerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of model-call errors for retry logic.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth

	// ErrorTypeUnknown represents unclassified errors. Treated as retryable so a
	// flaky provider response that doesn't match a known pattern still gets the
	// benefit of the backoff loop.
	ErrorTypeUnknown

	// ErrorTypeServiceUnavailable represents persistent unavailability after the
	// retry budget is exhausted. Never retried again.
	ErrorTypeServiceUnavailable
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// SanitizedUnavailableMessage is the only failure text that may cross the
// pipeline boundary after a model call gives up. Raw provider error text can
// carry credentials or internal details and must never reach callers.
const SanitizedUnavailableMessage = "service temporarily unavailable"

// Error represents a classified model-call error.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("model error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("model error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("model error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error type should be retried.
// Blocklist approach: everything is retryable UNLESS explicitly non-retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// authIndicators are message fragments that mark a failure as an
// authentication/authorization problem. These never resolve on retry.
//
//nolint:gochecknoglobals // Static classification table
var authIndicators = []string{
	"unauthorized",
	"forbidden",
	"invalid api key",
	"401",
	"403",
}

// Classify inspects an error and returns a typed *Error. Already-classified
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	msg := strings.ToLower(err.Error())

	for _, indicator := range authIndicators {
		if strings.Contains(msg, indicator) {
			return &Error{Type: ErrorTypeAuth, Err: err, Message: err.Error()}
		}
	}

	if strings.Contains(msg, "rate") || strings.Contains(msg, "429") || strings.Contains(msg, "quota") {
		return &Error{Type: ErrorTypeRateLimit, Err: err, Message: err.Error()}
	}

	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "temporary") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") {
		return &Error{Type: ErrorTypeTransient, Err: err, Message: err.Error()}
	}

	return &Error{Type: ErrorTypeUnknown, Err: err, Message: err.Error()}
}

// IsRetryable classifies err if needed and reports whether it should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).IsRetryable()
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewServiceUnavailableError creates the sanitized terminal error returned once
// the retry budget is spent or a non-retryable failure occurs. The cause is
// deliberately not retained: Error(), Unwrap() and the errors.Is/As chain must
// never expose provider text.
func NewServiceUnavailableError() *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Message: SanitizedUnavailableMessage,
	}
}

// IsServiceUnavailable checks if the error is the sanitized terminal failure.
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}
