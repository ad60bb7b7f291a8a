package ctxstate

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixDoer is the production Doer, backed by golang.org/x/sys/unix.
type unixDoer struct{}

// NewDoer returns the Doer used outside of tests.
func NewDoer() Doer { return unixDoer{} }

func (unixDoer) Open(path string, flags int) (int, error) {
	return unix.Open(path, flags, 0)
}

func (unixDoer) Close(fd int) error {
	return unix.Close(fd)
}

func (unixDoer) Ioctl(fd int, req uint32, buf []byte) error {
	var argp unsafe.Pointer
	if len(buf) > 0 {
		argp = unsafe.Pointer(&buf[0])
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(argp))
	if errno != 0 {
		return errno
	}
	return nil
}

func (unixDoer) Mmap(fd int, offset int64, length int, prot int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, prot, unix.MAP_SHARED)
}

func (unixDoer) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (unixDoer) Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}
