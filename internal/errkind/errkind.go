// Package errkind gives every failure in the core a stable,
// machine-readable kind alongside its human string, per the error
// taxonomy in the Communitas core spec: Validation, NotFound, Integrity,
// Quota, Access, Transport, Internal.
package errkind

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Validation Kind = "VALIDATION"
	NotFound   Kind = "NOT_FOUND"
	Integrity  Kind = "INTEGRITY"
	Quota      Kind = "QUOTA"
	Access     Kind = "ACCESS"
	Transport  Kind = "TRANSPORT"
	Internal   Kind = "INTERNAL"
)

// Error wraps an underlying cause with a Kind and the operation that
// produced it. It never carries a stack trace across the boundary.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err
// does not carry one — every unclassified failure is still surfaced,
// never silently dropped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}
