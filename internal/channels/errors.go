package channels

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed Discord operation. Codes double as the
// error_type label on the errors metric.
type ErrorCode string

const (
	ErrCodeConnection     ErrorCode = "connection"
	ErrCodeAuthentication ErrorCode = "authentication"
	ErrCodeRateLimit      ErrorCode = "rate_limited"
	ErrCodeInvalidInput   ErrorCode = "invalid_input"
	ErrCodeNotFound       ErrorCode = "not_found"
	ErrCodeForbidden      ErrorCode = "forbidden"
	ErrCodeTimeout        ErrorCode = "timeout"
	ErrCodeUnavailable    ErrorCode = "unavailable"
	ErrCodeConfig         ErrorCode = "config"
	ErrCodeInternal       ErrorCode = "internal"
)

// Retryable reports whether an operation failing with c may succeed later.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeConnection, ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	}
	return false
}

// Error is a classified platform failure. Message is safe to show users;
// Err carries the underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Constructors, one per code.

func ErrConnection(msg string, err error) *Error { return newError(ErrCodeConnection, msg, err) }
func ErrAuthentication(msg string, err error) *Error { return newError(ErrCodeAuthentication, msg, err) }
func ErrRateLimit(msg string, err error) *Error { return newError(ErrCodeRateLimit, msg, err) }
func ErrInvalidInput(msg string, err error) *Error { return newError(ErrCodeInvalidInput, msg, err) }
func ErrNotFound(msg string, err error) *Error { return newError(ErrCodeNotFound, msg, err) }
func ErrForbidden(msg string, err error) *Error { return newError(ErrCodeForbidden, msg, err) }
func ErrTimeout(msg string, err error) *Error { return newError(ErrCodeTimeout, msg, err) }
func ErrUnavailable(msg string, err error) *Error { return newError(ErrCodeUnavailable, msg, err) }
func ErrConfig(msg string, err error) *Error { return newError(ErrCodeConfig, msg, err) }
func ErrInternal(msg string, err error) *Error { return newError(ErrCodeInternal, msg, err) }

// GetErrorCode returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

func IsNotFound(err error) bool {
	return err != nil && GetErrorCode(err) == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	return err != nil && GetErrorCode(err) == ErrCodeForbidden
}
