package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an AppError. Callers branch on the kind, never on the message.
type Kind string

const (
	KindScheduleConflict  Kind = "ScheduleConflict"
	KindInvalidTransition Kind = "InvalidTransition"
	KindNotFound          Kind = "NotFound"
	KindForbidden         Kind = "Forbidden"
	KindUnauthorized      Kind = "Unauthorized"
	KindValidation        Kind = "ValidationError"
	KindUnavailable       Kind = "Unavailable"
)

// HTTPStatus maps the kind onto its HTTP-equivalent status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindScheduleConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AppError is a custom error type that carries a kind, a user-facing message and optional details.
type AppError struct {
	Kind    Kind   // Error class, determines the HTTP status
	Message string // User-facing error message
	Details any    // Optional structured payload (e.g. colliding ranges)
	Err     error  // The underlying error, if any (not exposed to user)
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError of the same kind and message.
// Copies made by WithDetails or Wrap therefore still match their sentinel.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// Code returns the HTTP status code of the error.
func (e *AppError) Code() int {
	return e.Kind.HTTPStatus()
}

// WithDetails returns a copy of e carrying the given details.
func (e *AppError) WithDetails(details any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates a new AppError with a kind and message.
func New(kind Kind, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
	}
}

// Wrap creates a copy of the sentinel wrapping an underlying error.
func Wrap(err error, sentinel *AppError) *AppError {
	cp := *sentinel
	cp.Err = err
	return &cp
}

// KindOf returns the kind of the first AppError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
