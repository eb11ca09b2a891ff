// Package apperr defines the error kinds surfaced by the sync core and the
// uniform result handed to the presentation layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	KindStorage         Kind = "STORAGE"
	KindRemote          Kind = "REMOTE"
	KindConflictSkipped Kind = "CONFLICT_SKIPPED"
	KindBusy            Kind = "BUSY"
	KindSession         Kind = "SESSION"
	KindInvalid         Kind = "INVALID"
	KindNotFound        Kind = "NOT_FOUND"
)

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Storage reports a failed local persistence read or write.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Message: "local storage failed", Err: err}
}

// Remote reports a failed remote store call.
func Remote(op string, err error) *Error {
	return &Error{Kind: KindRemote, Op: op, Message: "remote store call failed", Err: err}
}

// Skipped reports a merge step that failed and left its item as-is.
func Skipped(op string, err error) *Error {
	return &Error{Kind: KindConflictSkipped, Op: op, Message: "item skipped", Err: err}
}

// Busy reports a sync request rejected because a cycle is in flight.
func Busy() *Error {
	return &Error{Kind: KindBusy, Op: "sync", Message: "a sync is already in progress"}
}

// Session reports an operation that needs a signed-in user.
func Session(op string) *Error {
	return &Error{Kind: KindSession, Op: op, Message: "no signed-in user"}
}

// Invalid reports bad caller input.
func Invalid(op, message string) *Error {
	return &Error{Kind: KindInvalid, Op: op, Message: message}
}

// NotFound reports a missing local entity.
func NotFound(op, resource string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: resource + " not found"}
}

// Is reports whether err (or anything it wraps) is an Error of kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first Error in err's chain, or "".
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
