// Package agenterr defines the typed error kinds that cross component
// boundaries (spec.md §7). No underlying transport, HTTP, or crypto error
// type ever leaks past a port; everything is classified into one of these
// kinds and wrapped with %w so callers can still errors.Is/As through to the
// original cause for logging, while switching on kind for control flow.
package agenterr

import "errors"

// Kind enumerates the error classification from spec.md §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindTransient
	KindInvalidCursor
	KindPermanentStream
	KindDecryptFailure
	KindRegistrationFailure
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindTransient:
		return "transient"
	case KindInvalidCursor:
		return "invalid_cursor"
	case KindPermanentStream:
		return "permanent_stream"
	case KindDecryptFailure:
		return "decrypt_failure"
	case KindRegistrationFailure:
		return "registration_failure"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a typed, wrapped error carrying a Kind alongside a message and an
// optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed Error around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or anything it wraps) is an *Error of the given
// kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
