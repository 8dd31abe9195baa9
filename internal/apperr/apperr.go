// Package apperr provides the error-kind taxonomy shared across the pane
// runtime, workspace registry, and automation bridge: Validation, Conflict,
// NotFound, Pty, Git, and System. A Kind lets the HTTP listener map any
// error to the right status code without string-matching messages, wrapping
// with a descriptive prefix via fmt.Errorf("%w", ...) chains checked with
// errors.Is/errors.As.
package apperr

import "fmt"

// Kind classifies an Error for status-code mapping and client-facing
// reporting. It is not a replacement for Go's error chains: every Error
// still wraps an underlying cause where one exists.
type Kind int

const (
	KindValidation Kind = iota
	KindConflict
	KindNotFound
	KindPty
	KindGit
	KindSystem
)

// String renders the kind the way it reads in the error taxonomy.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindPty:
		return "pty"
	case KindGit:
		return "git"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Error is a typed, kind-tagged error. msg is the descriptive prefix (e.g.
// "spawn pane"); cause, when present, is wrapped and reachable via errors.Is/As.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap creates a Kind-tagged error wrapping cause. A nil cause degrades to New.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return Wrap(kind, fmt.Sprintf(format, args...), cause)
}

// KindOf reports the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}
