package fwiso

import (
	"syscall"

	"github.com/ehrlich-b/go-fwiso/internal/ctxerr"
)

// ErrorKind is a tagged error category, per the context/resource kind
// taxonomy: Failed, Opened, NotOpened, Mapped, NotMapped, ChunkUnregistered,
// NoIsocChannel, Timeout, Event, Allocated, NotAllocated.
type ErrorKind = ctxerr.Kind

const (
	KindFailed            = ctxerr.KindFailed
	KindOpened            = ctxerr.KindOpened
	KindNotOpened         = ctxerr.KindNotOpened
	KindMapped            = ctxerr.KindMapped
	KindNotMapped         = ctxerr.KindNotMapped
	KindChunkUnregistered = ctxerr.KindChunkUnregistered
	KindNoIsocChannel     = ctxerr.KindNoIsocChannel
	KindTimeout           = ctxerr.KindTimeout
	KindEvent             = ctxerr.KindEvent
	KindAllocated         = ctxerr.KindAllocated
	KindNotAllocated      = ctxerr.KindNotAllocated
)

// Error is a structured error carrying the failed operation, the tagged
// kind, and (when the failure originated in a syscall) the raw errno.
// It is a type alias of internal/ctxerr.Error so that errors returned
// from the context substrate compare equal (via errors.As) to errors
// constructed at this layer.
type Error = ctxerr.Error

// NewError creates a structured error of the given kind.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return ctxerr.New(op, kind, msg)
}

// NewErrorWithErrno creates a structured error wrapping a raw errno.
func NewErrorWithErrno(op string, kind ErrorKind, errno syscall.Errno) *Error {
	return ctxerr.NewWithErrno(op, kind, errno)
}

// NewHandleError creates a structured error scoped to a context/resource
// handle.
func NewHandleError(op string, handle uint32, kind ErrorKind, msg string) *Error {
	return ctxerr.NewHandle(op, handle, kind, msg)
}

// WrapError wraps an existing error with fwiso context, mapping raw errno
// values to the nearest tagged kind.
func WrapError(op string, inner error) *Error {
	return ctxerr.Wrap(op, inner)
}

func mapErrnoToKind(errno syscall.Errno) ErrorKind {
	return ctxerr.MapErrno(errno)
}

// wrapErrno wraps a raw syscall error with an operation and a descriptive
// message, mapping it to the nearest tagged kind.
func wrapErrno(op string, err error, msg string) *Error {
	if errno, ok := err.(syscall.Errno); ok {
		e := NewErrorWithErrno(op, mapErrnoToKind(errno), errno)
		e.Msg = msg + ": " + e.Msg
		return e
	}
	return WrapError(op, err)
}

// IsKind reports whether err (or any error it wraps) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return ctxerr.IsKind(err, kind)
}

// IsErrno reports whether err (or any error it wraps) carries the given
// raw errno.
func IsErrno(err error, errno syscall.Errno) bool {
	return ctxerr.IsErrno(err, errno)
}
