package models

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a gateway error class on the wire.
type ErrorCode string

const (
	CodeAuthenticationRequired ErrorCode = "AUTHENTICATION_REQUIRED"
	CodeSessionLimitExceeded   ErrorCode = "SESSION_LIMIT_EXCEEDED"
	CodeSessionNotFound        ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionClosed          ErrorCode = "SESSION_CLOSED"
	CodeUnknownCommand         ErrorCode = "UNKNOWN_COMMAND"
	CodeInvalidArgument        ErrorCode = "INVALID_ARGUMENT"
	CodeCommandTimeout         ErrorCode = "COMMAND_TIMEOUT"
	CodeEngineFailure          ErrorCode = "ENGINE_FAILURE"
	CodeArtifactTooLarge       ErrorCode = "ARTIFACT_TOO_LARGE"
	CodeArtifactNotFound       ErrorCode = "ARTIFACT_NOT_FOUND"
	CodeRateLimited            ErrorCode = "RATE_LIMITED"
	CodeAccessDenied           ErrorCode = "ACCESS_DENIED"
)

// Error is a structured gateway error returned to clients. Validation and
// resource errors are terminal for the request they belong to, never for the
// process.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a structured error with a formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// EngineError wraps an engine failure, passing the engine's message through
// verbatim.
func EngineError(err error) *Error {
	return &Error{Code: CodeEngineFailure, Message: err.Error()}
}

// CodeOf extracts the error code from err, or CodeEngineFailure when err is
// not a structured gateway error.
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeEngineFailure
}

// IsCode reports whether err is a structured gateway error with the given
// code.
func IsCode(err error, code ErrorCode) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Code == code
}
