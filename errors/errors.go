// Package errors defines the stable error kinds surfaced by every public
// entry point in this module (spec.md section 6), plus a DriverError
// interface that carries a human-readable message alongside the kind so
// callers can match on the kind with errors.Is while still getting useful
// diagnostics out of Error().
package errors

import "fmt"

// Kind is a stable, comparable error code. Kind values are never renamed or
// renumbered across versions; callers are expected to compare against the
// exported constants with errors.Is, not by parsing Error() strings.
type Kind string

// Error implements the error interface directly on Kind so a bare Kind can
// be returned and compared without wrapping.
func (k Kind) Error() string { return string(k) }

// Code returns the Kind itself, satisfying DriverError.
func (k Kind) Code() Kind { return k }

// Unwrap returns nil: a bare Kind has nothing further to unwrap to.
func (k Kind) Unwrap() error { return nil }

// WithMessage attaches additional context to a Kind, producing a DriverError
// that still compares equal (via errors.Is) to the original Kind.
func (k Kind) WithMessage(message string) DriverError {
	return wrappedError{kind: k, message: fmt.Sprintf("%s: %s", string(k), message)}
}

// WrapError attaches an underlying error to a Kind, producing a DriverError
// whose Unwrap chain reaches both the Kind and the wrapped error.
func (k Kind) WrapError(err error) DriverError {
	return wrappedError{kind: k, wrapped: err, message: fmt.Sprintf("%s: %s", string(k), err.Error())}
}

// The stable error codes from spec.md section 6. KindOK is never returned as
// an error value (a nil error means success); it exists so callers that
// serialize a Kind have a name for the zero case.
const (
	KindOK               Kind = "OK"
	KindDiskErr          Kind = "disk I/O failure"
	KindIntErr           Kind = "internal consistency error"
	KindNotReady         Kind = "device not ready"
	KindNoFile           Kind = "no such file"
	KindNoPath           Kind = "no such directory"
	KindInvalidName      Kind = "invalid name"
	KindDenied           Kind = "access denied"
	KindExist            Kind = "file exists"
	KindInvalidObject    Kind = "invalid object handle"
	KindWriteProtected   Kind = "volume is write protected"
	KindInvalidDrive     Kind = "invalid logical drive number"
	KindNotEnabled       Kind = "volume has no working area"
	KindNoFilesystem     Kind = "no valid FAT volume found"
	KindMkfsAborted      Kind = "format operation aborted"
	KindTimeout          Kind = "operation timed out waiting for volume access"
	KindLocked           Kind = "object is locked by another open handle"
	KindNotEnoughCore    Kind = "not enough memory"
	KindTooManyOpenFiles Kind = "too many open files"
	KindInvalidParameter Kind = "invalid parameter"
)

// DriverError is the error type returned by every public API in this module.
type DriverError interface {
	error
	Code() Kind
	WithMessage(message string) DriverError
	WrapError(err error) DriverError
	Unwrap() error
}

type wrappedError struct {
	kind    Kind
	message string
	wrapped error
}

func (e wrappedError) Error() string { return e.message }

func (e wrappedError) Code() Kind { return e.kind }

func (e wrappedError) WithMessage(message string) DriverError {
	return wrappedError{kind: e.kind, message: fmt.Sprintf("%s: %s", e.message, message), wrapped: e}
}

func (e wrappedError) WrapError(err error) DriverError {
	return wrappedError{kind: e.kind, message: fmt.Sprintf("%s: %s", e.message, err.Error()), wrapped: err}
}

// Unwrap reaches the wrapped error if WrapError supplied one, otherwise the
// originating Kind, so errors.Is(err, KindNoFile) works through any chain of
// WithMessage/WrapError calls.
func (e wrappedError) Unwrap() error {
	if e.wrapped != nil {
		return e.wrapped
	}
	return e.kind
}

// Is lets errors.Is match a wrappedError directly against a bare Kind without
// walking Unwrap, since Kind doesn't implement Is itself.
func (e wrappedError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.kind
}

// New is a convenience constructor equivalent to Kind.WithMessage, useful
// when building an error from a format string.
func New(kind Kind, format string, args ...any) DriverError {
	return kind.WithMessage(fmt.Sprintf(format, args...))
}
