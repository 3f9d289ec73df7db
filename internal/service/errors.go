package service

import "fmt"

type ErrorCode string

const (
	ErrorInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	ErrorNotFound         ErrorCode = "NOT_FOUND"
	ErrorPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrorUnavailable      ErrorCode = "UNAVAILABLE"
)

// Error carries a stable code for transport mapping, a short machine-readable
// reason, and the underlying cause when one exists. Failures are never retried
// at this layer; retry is the caller's decision.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
