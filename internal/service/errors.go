package service

import "errors"

// Kind classifies failures surfaced to callers.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindInvalidArgument Kind = "invalid_argument"
	KindInvalidState    Kind = "invalid_state"
)

// Error is a caller-facing failure with a machine-readable kind.
// errors.Is matches any two errors of the same kind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Message: "invalid state"}
)

func notFound(msg string) error        { return &Error{Kind: KindNotFound, Message: msg} }
func forbidden(msg string) error       { return &Error{Kind: KindForbidden, Message: msg} }
func invalidArgument(msg string) error { return &Error{Kind: KindInvalidArgument, Message: msg} }
func invalidState(msg string) error    { return &Error{Kind: KindInvalidState, Message: msg} }

// KindOf returns the kind of a service error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
