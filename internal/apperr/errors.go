// Package apperr defines the error taxonomy shared by the chat service layers.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeInvalidOperation Code = "INVALID_OPERATION"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeInternal         Code = "INTERNAL"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code, so sentinels compare by kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Unauthorized(msg string) error     { return New(CodeUnauthorized, msg) }
func Forbidden(msg string) error        { return New(CodeForbidden, msg) }
func NotFound(msg string) error         { return New(CodeNotFound, msg) }
func InvalidArgument(msg string) error  { return New(CodeInvalidArgument, msg) }
func InvalidOperation(msg string) error { return New(CodeInvalidOperation, msg) }
func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}
func Unavailable(msg string, cause error) error {
	return Wrap(CodeUnavailable, msg, cause)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Has reports whether err carries the given code.
func Has(err error, code Code) bool {
	return CodeOf(err) == code
}
