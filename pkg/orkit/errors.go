package orkit

import (
	"errors"
	"fmt"
)

// Code enumerates the typed failure kinds the client surfaces. Errors
// raised by this module's own components are, or wrap, an *Error
// carrying one of these; errors from a history store are returned as the
// store produced them.
type Code string

const (
	CodeAPIError        Code = "API_ERROR"
	CodeNetworkError    Code = "NETWORK_ERROR"
	CodeTimeout         Code = "TIMEOUT"
	CodeCanceled        Code = "CANCELED"
	CodeValidationError Code = "VALIDATION_ERROR"
	CodeConfigError     Code = "CONFIG_ERROR"
	CodeAuthentication  Code = "AUTHENTICATION_ERROR"
	CodeAuthorization   Code = "AUTHORIZATION_ERROR"
	CodeAccessDenied    Code = "ACCESS_DENIED"
	CodeRateLimit       Code = "RATE_LIMIT_ERROR"
	CodeDangerousArgs   Code = "DANGEROUS_ARGS"
	CodeSecurityError   Code = "SECURITY_ERROR"
	CodeToolError       Code = "TOOL_ERROR"
	CodeJWTSignError    Code = "JWT_SIGN_ERROR"
	CodeJWTValidation   Code = "JWT_VALIDATION_ERROR"
	CodeInternalError   Code = "INTERNAL_ERROR"
)

// Error is the single shape every failure from this module takes.
type Error struct {
	Code       Code
	Message    string
	StatusCode int
	Details    map[string]any
	Cause      error
}

// New builds an *Error of the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error of the given code around an underlying cause.
func Wrap(code Code, cause error, message string) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches structured detail fields, returning the receiver.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithStatusCode attaches an HTTP status code, returning the receiver.
func (e *Error) WithStatusCode(status int) *Error {
	e.StatusCode = status
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Cause.Error())
	}
	return string(e.Code)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on code: errors.Is(err, orkit.New(CodeTimeout, "")).
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Code == e.Code
	}
	return false
}

// AsError extracts an *Error from any error, or nil if none wraps one.
func AsError(err error) *Error {
	var o *Error
	if errors.As(err, &o) {
		return o
	}
	return nil
}

// CodeOf returns the Code carried by err, or CodeInternalError if err
// does not wrap an *Error.
func CodeOf(err error) Code {
	if o := AsError(err); o != nil {
		return o.Code
	}
	if err == nil {
		return ""
	}
	return CodeInternalError
}
