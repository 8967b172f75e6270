package core

import "github.com/pkg/errors"

// ErrorKind classifies every failure that may reach a caller.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a normalized service error. Message is safe to show to end users, Err is not.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, cause []error) error {
	e := &Error{Kind: kind, Message: msg}
	if len(cause) > 0 {
		e.Err = cause[0]
	}
	return e
}

func NewBadRequestError(msg string, cause ...error) error {
	return newError(KindBadRequest, msg, cause)
}

func NewUnauthorizedError(msg string, cause ...error) error {
	return newError(KindUnauthorized, msg, cause)
}

func NewForbiddenError(msg string, cause ...error) error {
	return newError(KindForbidden, msg, cause)
}

func NewNotFoundError(msg string, cause ...error) error {
	return newError(KindNotFound, msg, cause)
}

func NewConflictError(msg string, cause ...error) error {
	return newError(KindConflict, msg, cause)
}

func NewInternalError(msg string, cause ...error) error {
	return newError(KindInternal, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain; anything else is internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if _, ok := errors.Cause(err).(*ValidationError); ok {
		return KindBadRequest
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
