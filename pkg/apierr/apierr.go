// Package apierr defines the error-kind vocabulary the storage core's
// wire surfaces (pkg/httpapi, pkg/s3api, pkg/pgwire) translate into
// protocol-specific status codes. Every operation in pkg/engine,
// pkg/branch, pkg/snapshot, pkg/workspace, pkg/share and pkg/auth
// returns either nil or an *Error so the surface layer never has to
// pattern-match on message text.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies the failure so callers can map it to a transport
// status without inspecting the message.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuth         Kind = "auth"
	KindAuthz        Kind = "authorization"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindGone         Kind = "gone"
	KindRateLimit    Kind = "rate_limit"
	KindLockTimeout  Kind = "lock_timeout"
	KindEngineError  Kind = "engine_error"
	KindInternal     Kind = "internal"
)

// Error is the typed error every domain package returns.
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

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func Auth(format string, args ...interface{}) *Error {
	return New(KindAuth, format, args...)
}

func Authz(format string, args ...interface{}) *Error {
	return New(KindAuthz, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func Gone(format string, args ...interface{}) *Error {
	return New(KindGone, format, args...)
}

func RateLimit(format string, args ...interface{}) *Error {
	return New(KindRateLimit, format, args...)
}

func LockTimeout(format string, args ...interface{}) *Error {
	return New(KindLockTimeout, format, args...)
}

func EngineError(err error, format string, args ...interface{}) *Error {
	return Wrap(KindEngineError, err, format, args...)
}

func Internal(err error, format string, args ...interface{}) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindInternal otherwise — the safe default for an error this package
// didn't originate.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
