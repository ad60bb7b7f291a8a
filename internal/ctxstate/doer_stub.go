package ctxstate

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-fwiso/internal/uapi"
)

// IoctlCall is one recorded Ioctl invocation, captured after any stub
// handling has mutated the buffer, so assertions can read kernel-style
// output fields (e.g. the assigned Handle).
type IoctlCall struct {
	Req uint32
	Buf []byte
}

// StubDoer fakes the kernel side of the cdev protocol entirely in
// memory, so context-substrate logic can be exercised without
// /dev/fw* or root privilege.
type StubDoer struct {
	mu sync.Mutex

	OpenPaths []string
	Closed    []int
	Calls     []IoctlCall
	Mmapped   [][]byte

	// Handler, if set, replaces the built-in ioctl responses entirely.
	Handler func(req uint32, buf []byte) error

	nextFd     int32
	nextHandle uint32

	// pending events to hand back from Read, in FIFO order
	events [][]byte
}

func NewStubDoer() *StubDoer {
	return &StubDoer{nextFd: 3}
}

// PushEvent enqueues a raw event payload to be returned by the next Read.
func (s *StubDoer) PushEvent(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, buf)
}

func (s *StubDoer) Open(path string, flags int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenPaths = append(s.OpenPaths, path)
	fd := atomic.AddInt32(&s.nextFd, 1)
	return int(fd), nil
}

func (s *StubDoer) Close(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = append(s.Closed, fd)
	return nil
}

func (s *StubDoer) Ioctl(fd int, req uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Handler != nil {
		err := s.Handler(req, buf)
		s.Calls = append(s.Calls, IoctlCall{Req: req, Buf: append([]byte(nil), buf...)})
		return err
	}

	switch req {
	case uapi.IocGetInfo:
		var info uapi.GetInfo
		_ = uapi.Unmarshal(buf, &info)
		info.Version = uapi.MinABIVersion
		copy(buf, uapi.Marshal(&info))
	case uapi.IocCreateIsoContext:
		var c uapi.CreateIsoContext
		_ = uapi.Unmarshal(buf, &c)
		s.nextHandle++
		c.Handle = s.nextHandle
		copy(buf, uapi.Marshal(&c))
	case uapi.IocGetCycleTimer2:
		var ct uapi.GetCycleTimer2
		_ = uapi.Unmarshal(buf, &ct)
		ct.CycleTimer = 0x7FFFFFFF
		copy(buf, uapi.Marshal(&ct))
	case uapi.IocAllocateIsoResource, uapi.IocAllocateIsoResourceOnce:
		var a uapi.AllocateIsoResource
		_ = uapi.Unmarshal(buf, &a)
		s.nextHandle++
		a.Handle = s.nextHandle
		copy(buf, uapi.Marshal(&a))
	case uapi.IocSetIsoChannels:
		// default: kernel admits the full requested mask unchanged.
	}

	s.Calls = append(s.Calls, IoctlCall{Req: req, Buf: append([]byte(nil), buf...)})
	return nil
}

func (s *StubDoer) Mmap(fd int, offset int64, length int, prot int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, length)
	s.Mmapped = append(s.Mmapped, b)
	return b, nil
}

func (s *StubDoer) Munmap(b []byte) error {
	return nil
}

func (s *StubDoer) Read(fd int, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	ev := s.events[0]
	s.events = s.events[1:]
	n := copy(buf, ev)
	return n, nil
}
