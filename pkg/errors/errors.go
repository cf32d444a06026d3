package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur while
// harvesting images from an article
type ErrorType string

const (
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeServerError        ErrorType = "server_error"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeClient             ErrorType = "client_error"
	ErrorTypeTooLarge           ErrorType = "too_large"
	ErrorTypeNotImage           ErrorType = "not_image"
	ErrorTypeParsing            ErrorType = "parsing"
	ErrorTypeResolutionFallback ErrorType = "resolution_fallback"
	ErrorTypeArchiveEmpty       ErrorType = "archive_empty"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeCancelled          ErrorType = "cancelled"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// Error represents a typed error. Code carries the HTTP status when one is known.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrArchiveEmpty is returned when no download succeeded and no archive can be built
var ErrArchiveEmpty = &Error{
	Type:    ErrorTypeArchiveEmpty,
	Message: "no image was downloaded successfully",
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a typed error around a cause
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given ErrorType
func Is(err error, errorType ErrorType) bool {
	return err != nil && TypeOf(err) == errorType
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	default:
		return statusCode >= 500
	}
}

// FromStatusCode maps a non-2xx HTTP status onto the taxonomy
func FromStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 404 || statusCode == 410:
		return ErrorTypeNotFound
	case statusCode == 408:
		return ErrorTypeTimeout
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode >= 400:
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}
