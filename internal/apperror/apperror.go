package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUpstream        = errors.New("upstream failure")
	ErrMalformed       = errors.New("malformed request")
	ErrDenied          = errors.New("authorization denied")
)

type AppError struct {
	Err     error  // sentinel the error unwraps to
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a stale write: the version the caller started from is
// no longer the current one.
func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Upstream wraps a failure of an external collaborator (identity provider,
// content host). The detail is for logs; callers show a generic message.
func Upstream(op string, detail string) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s: %s", op, detail),
	}
}

func Malformed(field, message string) *AppError {
	return &AppError{
		Err:     ErrMalformed,
		Message: message,
		Field:   field,
	}
}

// Denied carries the provider's stated reason verbatim.
func Denied(reason string) *AppError {
	return &AppError{
		Err:     ErrDenied,
		Message: reason,
	}
}
