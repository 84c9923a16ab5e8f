// Package apperr defines the error taxonomy shared by the allocation engine
// and its transports.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindConflict              Kind = "CONFLICT"
	KindIneligible            Kind = "INELIGIBLE"
	KindValidation            Kind = "VALIDATION"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindPersistence           Kind = "PERSISTENCE"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrConflict)
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrIneligible            = &Error{Kind: KindIneligible}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrPersistence           = &Error{Kind: KindPersistence}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Ineligible(format string, args ...any) *Error {
	return &Error{Kind: KindIneligible, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// DependencyUnavailable wraps a failure of an external collaborator.
func DependencyUnavailable(message string, err error) *Error {
	return &Error{Kind: KindDependencyUnavailable, Message: message, Err: err}
}

// Persistence wraps a storage failure. The enclosing transaction has been
// rolled back by the time callers see it.
func Persistence(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code handlers should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindIneligible:
		return http.StatusUnprocessableEntity
	case KindValidation:
		return http.StatusBadRequest
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message of an *Error, or a generic one.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindPersistence {
		return ae.Message
	}
	return "internal server error"
}
