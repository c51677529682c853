package deployment

import (
	"errors"
	"fmt"
)

// ErrorKind classifies deployment failures.
type ErrorKind string

const (
	// KindConflict means an install target exists and the policy is fail.
	KindConflict ErrorKind = "conflict"
	// KindIO means a copy, delete or backup failed at the filesystem boundary.
	KindIO ErrorKind = "io"
	// KindMissingSource means a file slated for install or delete does not exist.
	KindMissingSource ErrorKind = "missing source"
)

var (
	// ErrConflict matches any conflict error with errors.Is.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrIO matches any filesystem failure with errors.Is.
	ErrIO = &Error{Kind: KindIO}
	// ErrMissingSource matches any missing source error with errors.Is.
	ErrMissingSource = &Error{Kind: KindMissingSource}
)

// Error is a classified deployment failure.
type Error struct {
	// Kind is the failure class.
	Kind ErrorKind
	// Op names the transaction operation, e.g. "install" or "delete".
	Op string
	// Path is the file the operation was working on.
	Path string
	// Err is the underlying cause, if any.
	Err error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return e.Kind == t.Kind
}

// KindOf returns the kind of a deployment error, or an empty kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}
