package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Document error codes
const (
	ErrParse      ErrorCode = "PARSE"
	ErrValidation ErrorCode = "VALIDATION"
)

// Execution error codes
const (
	ErrExecution        ErrorCode = "EXECUTION"
	ErrRateLimit        ErrorCode = "RATE_LIMIT"
	ErrRateLimitTimeout ErrorCode = "RATE_LIMIT_TIMEOUT"
	ErrBudgetExceeded   ErrorCode = "RETRY_BUDGET_EXCEEDED"
	ErrExecutorBusy     ErrorCode = "EXECUTOR_BUSY"
	ErrCancelled        ErrorCode = "CANCELLED"
)

// State error codes
const (
	ErrStorage           ErrorCode = "STORAGE"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrNotResumable      ErrorCode = "NOT_RESUMABLE"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsRateLimitClass reports whether err came out of the rate-limit path:
// a plain rate limit, one classified as a timeout, or an exhausted wait budget.
// A persisted workflow stays resumable after one.
func IsRateLimitClass(err error) bool {
	switch GetErrorCode(err) {
	case ErrRateLimit, ErrRateLimitTimeout, ErrBudgetExceeded:
		return true
	default:
		return false
	}
}
