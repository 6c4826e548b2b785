package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the governance layer.
type ErrorCode string

// Validation error codes
const (
	ErrValidation     ErrorCode = "VALIDATION"
	ErrDuplicateName  ErrorCode = "DUPLICATE_NAME"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Engine call error codes
const (
	ErrRateLimit        ErrorCode = "RATE_LIMIT"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
	ErrUpstreamError    ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Governance error codes
const (
	ErrDelegationLimit  ErrorCode = "DELEGATION_LIMIT"
	ErrNotAssociated    ErrorCode = "NOT_ASSOCIATED"
	ErrRunCompleted     ErrorCode = "RUN_COMPLETED"
	ErrTimeBudgetExceed ErrorCode = "TIME_BUDGET_EXCEEDED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// =============================================================================
// 🔍 错误工具链
// =============================================================================

// AsError 沿错误链查找 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode 判断错误链中是否包含指定错误码
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// =============================================================================
// 🏗️ 常用错误构造
// =============================================================================

// NewValidationError 创建校验错误（同步抛出，永不重试）
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// NewNotFoundError 创建查找失败错误
func NewNotFoundError(format string, args ...any) *Error {
	return NewError(ErrNotFound, fmt.Sprintf(format, args...))
}

// NewRateLimitError 创建限流错误，默认可重试
func NewRateLimitError(message string) *Error {
	return NewError(ErrRateLimit, message).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true)
}

// NewDeadlineError 创建截止时间超时错误，永不重试
func NewDeadlineError(message string) *Error {
	return NewError(ErrDeadlineExceeded, message).
		WithHTTPStatus(http.StatusGatewayTimeout)
}
