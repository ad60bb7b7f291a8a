package fwiso

import "github.com/ehrlich-b/go-fwiso/internal/ctxstate"

// FakeDevice is a public test double standing in for a real /dev/fw*
// device. Pass it to NewITContext/NewIRSingleContext/NewIRMultiContext/
// NewResourceOnce/NewResourceAuto in place of a real Doer, push synthetic
// kernel events with PushEvent, and inspect the ioctls the library issued
// via Calls. This is useful for callers' own tests; the library's own
// test suite uses internal/ctxstate.StubDoer directly.
type FakeDevice struct {
	stub *ctxstate.StubDoer
}

// NewFakeDevice constructs an empty FakeDevice.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{stub: ctxstate.NewStubDoer()}
}

func (f *FakeDevice) Open(path string, flags int) (int, error) { return f.stub.Open(path, flags) }
func (f *FakeDevice) Close(fd int) error                        { return f.stub.Close(fd) }
func (f *FakeDevice) Ioctl(fd int, req uint32, buf []byte) error {
	return f.stub.Ioctl(fd, req, buf)
}
func (f *FakeDevice) Mmap(fd int, offset int64, length int, prot int) ([]byte, error) {
	return f.stub.Mmap(fd, offset, length, prot)
}
func (f *FakeDevice) Munmap(b []byte) error                { return f.stub.Munmap(b) }
func (f *FakeDevice) Read(fd int, buf []byte) (int, error) { return f.stub.Read(fd, buf) }

// PushEvent queues a raw kernel-event buffer for the next Read call, as
// if the kernel had written it to the device fd.
func (f *FakeDevice) PushEvent(buf []byte) { f.stub.PushEvent(buf) }

// SetHandler overrides the default ioctl responses (GET_INFO,
// CREATE_ISO_CONTEXT, ALLOCATE_ISO_RESOURCE[_ONCE], SET_ISO_CHANNELS) for
// tests that need to simulate a specific kernel response or failure. A
// set handler bypasses every default response, including ones for ioctls
// it doesn't explicitly recognize.
func (f *FakeDevice) SetHandler(h func(req uint32, buf []byte) error) { f.stub.Handler = h }

// Calls returns every ioctl issued against this device so far, in order.
func (f *FakeDevice) Calls() []ctxstate.IoctlCall { return f.stub.Calls }

var _ ctxstate.Doer = (*FakeDevice)(nil)
