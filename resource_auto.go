package fwiso

import (
	"sync"
	"time"

	"github.com/ehrlich-b/go-fwiso/internal/ctxstate"
	"github.com/ehrlich-b/go-fwiso/internal/dispatch"
	"github.com/ehrlich-b/go-fwiso/internal/logging"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
)

// ResourceAuto drives a kernel-managed isochronous resource reservation
// bound to the file descriptor: the kernel reallocates the same
// (channel, bandwidth) automatically across bus resets, and releases it
// if the fd is closed without an explicit deallocate.
type ResourceAuto struct {
	doer ctxstate.Doer
	fd   int

	logger   *logging.Logger
	Observer Observer

	OnAllocated   func(result ResourceResult)
	OnDeallocated func()

	mu         sync.Mutex
	allocated  bool
	channel    int32
	bandwidth  uint32
	handle     uint32
	generation uint32

	deallocWaiters []chan struct{}
}

// NewResourceAuto constructs an unopened auto-resource handle.
func NewResourceAuto(doer ctxstate.Doer) *ResourceAuto {
	return &ResourceAuto{
		doer:     doer,
		Observer: &NoOpObserver{},
		logger:   logging.Default(),
	}
}

// Open opens path read-only; flags' access-mode bits are overridden, any
// other bits are preserved.
func (r *ResourceAuto) Open(path string, flags int) error {
	const op = "resourceauto.Open"
	const accessModeMask = 0x3
	fd, err := r.doer.Open(path, flags&^accessModeMask)
	if err != nil {
		return wrapErrno(op, err, "open")
	}
	r.fd = fd
	return nil
}

// Allocated reports whether a reservation is currently outstanding.
func (r *ResourceAuto) Allocated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocated
}

// Channel and Bandwidth report the currently held reservation; only
// meaningful while Allocated() is true.
func (r *ResourceAuto) Channel() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

func (r *ResourceAuto) Bandwidth() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bandwidth
}

// Generation returns the bus-reset generation last observed.
func (r *ResourceAuto) Generation() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// NoteGeneration records a new bus-reset generation reported by the bus
// collaborator. The kernel itself reallocates the reservation; no ioctl
// is issued here.
func (r *ResourceAuto) NoteGeneration(generation uint32) {
	r.mu.Lock()
	r.generation = generation
	r.mu.Unlock()
}

// AllocateAsync requests channel+bandwidth for one of the candidates
// (values >= 64 silently dropped). Fails KindAllocated if a reservation
// is already outstanding.
func (r *ResourceAuto) AllocateAsync(candidates []int, bandwidth uint32) error {
	const op = "resourceauto.AllocateAsync"
	r.mu.Lock()
	if r.allocated {
		r.mu.Unlock()
		err := NewError(op, KindAllocated, "a reservation is already outstanding")
		r.logger.WithError(err).Warn("resource-auto allocate rejected")
		return err
	}
	r.mu.Unlock()

	req := &uapi.AllocateIsoResource{Channels: channelMask(candidates), Bandwidth: bandwidth}
	buf := uapi.Marshal(req)
	if err := r.doer.Ioctl(r.fd, uapi.IocAllocateIsoResource, buf); err != nil {
		return wrapErrno(op, err, "ALLOCATE_ISO_RESOURCE")
	}
	_ = uapi.Unmarshal(buf, req)
	r.mu.Lock()
	r.handle = req.Handle
	r.mu.Unlock()
	return nil
}

// Deallocate issues the matching release for the stored handle.
func (r *ResourceAuto) Deallocate() error {
	const op = "resourceauto.Deallocate"
	r.mu.Lock()
	handle := r.handle
	r.mu.Unlock()

	req := &uapi.DeallocateIsoResource{Handle: handle}
	if err := r.doer.Ioctl(r.fd, uapi.IocDeallocateIsoResource, uapi.Marshal(req)); err != nil {
		return wrapErrno(op, err, "DEALLOCATE_ISO_RESOURCE")
	}
	return nil
}

// DeallocateWait issues Deallocate and blocks for the matching event up
// to timeout.
func (r *ResourceAuto) DeallocateWait(timeout time.Duration) error {
	const op = "resourceauto.DeallocateWait"
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.deallocWaiters = append(r.deallocWaiters, ch)
	r.mu.Unlock()

	if err := r.Deallocate(); err != nil {
		r.mu.Lock()
		r.deallocWaiters = removeStructWaiter(r.deallocWaiters, ch)
		r.mu.Unlock()
		return err
	}

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return NewError(op, KindTimeout, "timed out waiting for deallocated event")
	}
}

func removeStructWaiter(waiters []chan struct{}, target chan struct{}) []chan struct{} {
	for i, w := range waiters {
		if w == target {
			return append(waiters[:i], waiters[i+1:]...)
		}
	}
	return waiters
}

// HandleEvent parses one ISO_RESOURCE_ALLOCATED/DEALLOCATED read()
// buffer and updates the tracked reservation state under the mutex.
func (r *ResourceAuto) HandleEvent(buf []byte) error {
	const op = "resourceauto.HandleEvent"
	t, err := uapi.EventTypeOf(buf)
	if err != nil {
		return WrapError(op, err)
	}

	var ev uapi.EventIsoResource
	if err := uapi.Unmarshal(buf, &ev); err != nil {
		return WrapError(op, err)
	}

	switch t {
	case uapi.EventTypeIsoResourceAllocated:
		if ev.Channel < 0 {
			return nil
		}
		r.mu.Lock()
		r.allocated = true
		r.channel = ev.Channel
		r.bandwidth = uint32(ev.Bandwidth)
		r.mu.Unlock()
		r.logger.Info("resource-auto allocated", "channel", ev.Channel, "bandwidth", ev.Bandwidth)
		if r.OnAllocated != nil {
			r.OnAllocated(ResourceResult{Channel: ev.Channel, Bandwidth: uint32(ev.Bandwidth)})
		}
	case uapi.EventTypeIsoResourceDeallocated:
		r.mu.Lock()
		r.allocated = false
		waiters := r.deallocWaiters
		r.deallocWaiters = nil
		r.mu.Unlock()
		for _, w := range waiters {
			w <- struct{}{}
		}
		if r.OnDeallocated != nil {
			r.OnDeallocated()
		}
	}
	return nil
}

// DispatchSource adapts this handle's fd into a dispatch.Source.
func (r *ResourceAuto) DispatchSource(onFinalize func(error)) dispatch.Source {
	return dispatch.NewContextSource(r.fd, r.doer, r.HandleEvent, onFinalize)
}
