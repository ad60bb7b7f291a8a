// Package dispatch implements the event-loop-integration contract: an
// opaque source per context/resource owning (fd, one-page scratch buffer,
// event-parser callback), and one convenience host for it. No global loop
// exists at this layer; hosting a Source in any concrete loop is the
// caller's problem, Loop is offered only as a default.
package dispatch

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Reader is the minimal seam ContextSource needs to perform its read();
// ctxstate.Doer satisfies this structurally.
type Reader interface {
	Read(fd int, buf []byte) (int, error)
}

// Source is the small readiness/dispatch/finalize interface a host loop
// drives. Dispatch is called once per readiness notification; Finalize is
// called exactly once, when the source is being torn down.
type Source interface {
	Fd() int
	Dispatch() (transient bool, err error)
	Finalize(err error)
}

// ContextSource adapts one context or resource handle's fd into a Source:
// on readiness it performs a single read() into its scratch buffer and
// hands the result to handle for parsing and dispatch by event type.
type ContextSource struct {
	fd     int
	reader Reader
	buf    []byte
	handle func([]byte) error

	onFinalize func(error)
}

// NewContextSource builds a Source around fd. reader performs the actual
// read() (a ctxstate.Doer satisfies Reader without any import back into
// ctxstate). handle parses and dispatches one event; onFinalize, if set,
// observes the terminal error when the source is removed.
func NewContextSource(fd int, reader Reader, handle func([]byte) error, onFinalize func(error)) *ContextSource {
	return &ContextSource{
		fd:         fd,
		reader:     reader,
		buf:        make([]byte, os.Getpagesize()),
		handle:     handle,
		onFinalize: onFinalize,
	}
}

func (s *ContextSource) Fd() int { return s.fd }

// Dispatch performs one read() and, on a complete event, calls handle.
// EAGAIN is absorbed and reported as transient; any other read or handle
// error is fatal to the source.
func (s *ContextSource) Dispatch() (transient bool, err error) {
	n, err := s.reader.Read(s.fd, s.buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return true, nil
		}
		return false, err
	}
	if n == 0 {
		return false, errors.New("dispatch: short read (EOF) on event fd")
	}
	if err := s.handle(s.buf[:n]); err != nil {
		return false, err
	}
	return false, nil
}

func (s *ContextSource) Finalize(err error) {
	if s.onFinalize != nil {
		s.onFinalize(err)
	}
}
