// Package ctxstate implements the context substrate shared by every
// isochronous context mode: the allocate/map/register/queue/start/stop
// lifecycle and the payload-ring bookkeeping described for the OHCI
// iso contexts. Mode-specific packet framing lives one layer up.
package ctxstate

// Doer is the seam between Base and the kernel. The real implementation
// issues ioctl()/mmap()/munmap() against an open /dev/fw* fd; tests
// substitute a fake that records calls without touching hardware.
//
// Ioctl takes the marshaled argument buffer and mutates it in place,
// mirroring the kernel's read/write ioctls: callers marshal a uapi
// struct into buf, call Ioctl, then unmarshal buf back out.
type Doer interface {
	Open(path string, flags int) (int, error)
	Close(fd int) error
	Ioctl(fd int, req uint32, buf []byte) error
	Mmap(fd int, offset int64, length int, prot int) ([]byte, error)
	Munmap(b []byte) error
	Read(fd int, buf []byte) (int, error)
}
