// Package ctxerr defines the structured error taxonomy shared by the
// context substrate and the root package, so internal/ctxstate can
// construct errors without importing the root package.
package ctxerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind is a tagged error category.
type Kind string

const (
	KindFailed            Kind = "failed"
	KindOpened            Kind = "opened"
	KindNotOpened         Kind = "not opened"
	KindMapped            Kind = "mapped"
	KindNotMapped         Kind = "not mapped"
	KindChunkUnregistered Kind = "chunk unregistered"
	KindNoIsocChannel     Kind = "no isochronous channel"
	KindTimeout           Kind = "timeout"
	KindEvent             Kind = "event"
	KindAllocated         Kind = "allocated"
	KindNotAllocated      Kind = "not allocated"
)

// Error is a structured error carrying the failed operation, the tagged
// kind, and (when the failure originated in a syscall) the raw errno.
type Error struct {
	Op     string
	Handle uint32
	Kind   Kind
	Errno  syscall.Errno
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Handle != 0 {
		parts = append(parts, fmt.Sprintf("handle=%d", e.Handle))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("fwiso: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("fwiso: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by Kind.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// New creates a structured error of the given kind.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewWithErrno creates a structured error wrapping a raw errno.
func NewWithErrno(op string, kind Kind, errno syscall.Errno) *Error {
	return &Error{Op: op, Kind: kind, Errno: errno, Msg: errno.Error()}
}

// NewHandle creates a structured error scoped to a context/resource handle.
func NewHandle(op string, handle uint32, kind Kind, msg string) *Error {
	return &Error{Op: op, Handle: handle, Kind: kind, Msg: msg}
}

// Wrap wraps an existing error with op context, mapping raw errno values
// to the nearest tagged kind.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if fe, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Handle: fe.Handle,
			Kind:   fe.Kind,
			Errno:  fe.Errno,
			Msg:    fe.Msg,
			Inner:  fe.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Kind:  MapErrno(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Kind: KindFailed, Msg: inner.Error(), Inner: inner}
}

// MapErrno maps a raw errno to the nearest tagged kind.
func MapErrno(errno syscall.Errno) Kind {
	switch errno {
	case syscall.ETIMEDOUT:
		return KindTimeout
	case syscall.EAGAIN:
		return KindTimeout
	default:
		return KindFailed
	}
}

// IsKind reports whether err (or any error it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// IsErrno reports whether err (or any error it wraps) carries the given
// raw errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Errno == errno
	}
	return false
}
