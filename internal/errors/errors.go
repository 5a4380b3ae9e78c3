// Package errors provides the application error type shared by the storage
// adapters, the services and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ============================================================================
// ERROR TYPES AND CLASSIFICATION
// ============================================================================

// ErrorType defines the category of error for proper handling and response.
type ErrorType string

const (
	// Business logic errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// Infrastructure errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// External service errors
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError is the error type returned across layer boundaries.
type AppError struct {
	Type      ErrorType `json:"type"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Operation string    `json:"operation,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`

	File string `json:"-"`
	Line int    `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code the API responds with for this error.
func (e *AppError) HTTPStatus() int {
	if status := e.Code.HTTPStatusCode(); status != 500 {
		return status
	}
	switch e.Type {
	case ErrorTypeValidation:
		return 400
	case ErrorTypeUnauthorized:
		return 401
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeConflict:
		return 409
	case ErrorTypeTimeout:
		return 504
	case ErrorTypeUnavailable, ErrorTypeExternal:
		return 503
	default:
		return 500
	}
}

// ============================================================================
// ERROR BUILDER
// ============================================================================

// ErrorBuilder provides a fluent interface for constructing AppError values.
type ErrorBuilder struct {
	err *AppError
}

// NewError creates a new error builder with the specified type and message.
func NewError(errType ErrorType, code ErrorCode, message string) *ErrorBuilder {
	_, file, line, _ := runtime.Caller(2)
	return &ErrorBuilder{
		err: &AppError{
			Type:    errType,
			Code:    code,
			Message: message,
			File:    file,
			Line:    line,
		},
	}
}

// WithDetails adds additional details to the error.
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.err.Details = details
	return b
}

// WithOperation specifies the operation that failed.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithUserID adds user context to the error.
func (b *ErrorBuilder) WithUserID(userID string) *ErrorBuilder {
	b.err.UserID = userID
	return b
}

// WithRetryable overrides the retryable flag.
func (b *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	b.err.Retryable = retryable
	return b
}

// WithCause adds the underlying cause error.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// Build returns the constructed AppError.
func (b *ErrorBuilder) Build() *AppError {
	return b.err
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

func Validation(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeValidation, code, message)
}

func NotFound(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeNotFound, code, message)
}

// Conflict errors are retryable: the conflicting write may already be
// visible on the next read.
func Conflict(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeConflict, code, message).WithRetryable(true)
}

func Unauthorized(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnauthorized, code, message)
}

func Internal(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeInternal, code, message)
}

func Timeout(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeTimeout, code, message).WithRetryable(true)
}

func Unavailable(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnavailable, code, message).WithRetryable(true)
}

func External(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeExternal, code, message).WithRetryable(true)
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

func IsValidation(err error) bool   { return IsType(err, ErrorTypeValidation) }
func IsNotFound(err error) bool     { return IsType(err, ErrorTypeNotFound) }
func IsConflict(err error) bool     { return IsType(err, ErrorTypeConflict) }
func IsUnauthorized(err error) bool { return IsType(err, ErrorTypeUnauthorized) }
func IsTimeout(err error) bool      { return IsType(err, ErrorTypeTimeout) }

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// HTTPStatus maps any error to a response status; unknown errors are 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return 500
}

// Wrap wraps an existing error with additional context while preserving the
// original error chain. AppErrors keep their type and code.
func Wrap(err error, operation, message string) *AppError {
	if err == nil {
		return nil
	}

	var existing *AppError
	if errors.As(err, &existing) {
		return &AppError{
			Type:      existing.Type,
			Code:      existing.Code,
			Message:   message,
			Details:   existing.Message,
			Operation: operation,
			UserID:    existing.UserID,
			Retryable: existing.Retryable,
			Cause:     err,
			File:      existing.File,
			Line:      existing.Line,
		}
	}

	_, file, line, _ := runtime.Caller(1)
	return &AppError{
		Type:      ErrorTypeInternal,
		Code:      CodeInternalError,
		Message:   message,
		Details:   err.Error(),
		Operation: operation,
		Cause:     err,
		File:      file,
		Line:      line,
	}
}
