package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error. Every failure that reaches the HTTP
// boundary is mapped to exactly one kind.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindValidation
	KindIntegrity
)

// Messages returned to callers for kinds that never expose detail.
const (
	MessageUnauthenticated = "Unauthenticated"
	MessageForbidden       = "Forbidden"
	MessageInternal        = "Internal server error"
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError represents an application error
type AppError struct {
	Kind    Kind
	Message string
	// Reason is written to server-side logs only and is never sent to the caller.
	Reason  string
	Fields  []FieldError
	Err     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status for the error kind.
func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindIntegrity, KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Unauthenticated collapses every credential failure into one generic error.
func Unauthenticated(err error) *AppError {
	return &AppError{
		Kind:    KindUnauthenticated,
		Message: MessageUnauthenticated,
		Err:     err,
	}
}

func Forbidden(reason string) *AppError {
	return &AppError{
		Kind:    KindForbidden,
		Message: MessageForbidden,
		Reason:  reason,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Message: message,
	}
}

func Validation(message string, fields ...FieldError) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Message: message,
		Fields:  fields,
	}
}

// Integrity reports a violated data invariant. It indicates a bug elsewhere,
// not a caller mistake.
func Integrity(reason string) *AppError {
	return &AppError{
		Kind:    KindIntegrity,
		Message: MessageInternal,
		Reason:  reason,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Message: MessageInternal,
		Err:     err,
	}
}

// As extracts an *AppError from the chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
