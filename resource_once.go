package fwiso

import (
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/go-fwiso/internal/ctxstate"
	"github.com/ehrlich-b/go-fwiso/internal/dispatch"
	"github.com/ehrlich-b/go-fwiso/internal/logging"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
)

// OnceSyncTimeout is the default wait for the _sync resource helpers.
const OnceSyncTimeout = 100 * time.Millisecond

// ResourceResult is the outcome of one allocate/deallocate round trip:
// the channel and bandwidth the kernel actually granted, and its error
// code (0 on success, negative on failure).
type ResourceResult struct {
	Channel   int32
	Bandwidth uint32
	ErrCode   int32
}

// ResourceOnce drives fire-and-forget isochronous resource reservations:
// the kernel retains the reservation past the lifetime of the file
// descriptor, so there is no local allocated/channel/bandwidth state to
// track between calls.
type ResourceOnce struct {
	doer ctxstate.Doer
	fd   int

	logger   *logging.Logger
	Observer Observer

	// OnAllocated/OnDeallocated, if set, are invoked for every completion
	// event, independent of any pending _sync waiter.
	OnAllocated   func(result ResourceResult)
	OnDeallocated func(result ResourceResult)

	mu             sync.Mutex
	allocWaiters   []chan ResourceResult
	deallocWaiters []chan ResourceResult
}

// NewResourceOnce constructs an unopened once-resource handle.
func NewResourceOnce(doer ctxstate.Doer) *ResourceOnce {
	return &ResourceOnce{
		doer:     doer,
		Observer: &NoOpObserver{},
		logger:   logging.Default(),
	}
}

// Open opens path read-only; flags' access-mode bits are overridden, any
// other bits (e.g. close-on-exec) are preserved.
func (r *ResourceOnce) Open(path string, flags int) error {
	const op = "resourceonce.Open"
	const accessModeMask = 0x3
	fd, err := r.doer.Open(path, flags&^accessModeMask)
	if err != nil {
		return wrapErrno(op, err, "open")
	}
	r.fd = fd
	return nil
}

func channelMask(candidates []int) uint64 {
	var mask uint64
	for _, ch := range candidates {
		if ch < 0 || ch >= 64 {
			continue
		}
		mask |= uint64(1) << uint(ch)
	}
	return mask
}

// AllocateOnceAsync requests channel+bandwidth for one of the candidate
// channels (values >= 64 silently dropped). Completion arrives later as
// an ISO_RESOURCE_ALLOCATED event delivered to HandleEvent.
func (r *ResourceOnce) AllocateOnceAsync(channelCandidates []int, bandwidth uint32) error {
	req := &uapi.AllocateIsoResource{Channels: channelMask(channelCandidates), Bandwidth: bandwidth}
	if err := r.doer.Ioctl(r.fd, uapi.IocAllocateIsoResourceOnce, uapi.Marshal(req)); err != nil {
		return wrapErrno("resourceonce.AllocateOnceAsync", err, "ALLOCATE_ISO_RESOURCE_ONCE")
	}
	return nil
}

// DeallocateOnceAsync releases a previously granted channel+bandwidth.
func (r *ResourceOnce) DeallocateOnceAsync(channel int, bandwidth uint32) error {
	req := &uapi.AllocateIsoResource{Channels: channelMask([]int{channel}), Bandwidth: bandwidth}
	if err := r.doer.Ioctl(r.fd, uapi.IocDeallocateIsoResourceOnce, uapi.Marshal(req)); err != nil {
		return wrapErrno("resourceonce.DeallocateOnceAsync", err, "DEALLOCATE_ISO_RESOURCE_ONCE")
	}
	return nil
}

// AllocateOnceSync issues AllocateOnceAsync and blocks for the matching
// event up to timeout.
func (r *ResourceOnce) AllocateOnceSync(channelCandidates []int, bandwidth uint32, timeout time.Duration) (ResourceResult, error) {
	const op = "resourceonce.AllocateOnceSync"
	ch := make(chan ResourceResult, 1)
	r.mu.Lock()
	r.allocWaiters = append(r.allocWaiters, ch)
	r.mu.Unlock()

	if err := r.AllocateOnceAsync(channelCandidates, bandwidth); err != nil {
		r.removeAllocWaiter(ch)
		return ResourceResult{}, err
	}
	return r.awaitResult(op, ch, timeout)
}

// DeallocateOnceSync issues DeallocateOnceAsync and blocks for the
// matching event up to timeout.
func (r *ResourceOnce) DeallocateOnceSync(channel int, bandwidth uint32, timeout time.Duration) (ResourceResult, error) {
	const op = "resourceonce.DeallocateOnceSync"
	ch := make(chan ResourceResult, 1)
	r.mu.Lock()
	r.deallocWaiters = append(r.deallocWaiters, ch)
	r.mu.Unlock()

	if err := r.DeallocateOnceAsync(channel, bandwidth); err != nil {
		r.removeDeallocWaiter(ch)
		return ResourceResult{}, err
	}
	return r.awaitResult(op, ch, timeout)
}

func (r *ResourceOnce) awaitResult(op string, ch chan ResourceResult, timeout time.Duration) (ResourceResult, error) {
	select {
	case res := <-ch:
		if res.ErrCode != 0 {
			err := NewError(op, KindEvent, fmt.Sprintf("kernel reported error code %d", res.ErrCode))
			r.logger.WithError(err).Warn("resource-once event reported an error", "op", op)
			return res, err
		}
		return res, nil
	case <-time.After(timeout):
		err := NewError(op, KindTimeout, "timed out waiting for resource event")
		r.logger.Warn("resource-once sync call timed out", "op", op, "timeout", timeout)
		return ResourceResult{}, err
	}
}

func (r *ResourceOnce) removeAllocWaiter(ch chan ResourceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocWaiters = removeWaiter(r.allocWaiters, ch)
}

func (r *ResourceOnce) removeDeallocWaiter(ch chan ResourceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deallocWaiters = removeWaiter(r.deallocWaiters, ch)
}

func removeWaiter(waiters []chan ResourceResult, target chan ResourceResult) []chan ResourceResult {
	for i, w := range waiters {
		if w == target {
			return append(waiters[:i], waiters[i+1:]...)
		}
	}
	return waiters
}

// HandleEvent parses one ISO_RESOURCE_ALLOCATED/DEALLOCATED read()
// buffer, notifies OnAllocated/OnDeallocated, and wakes the oldest
// pending _sync waiter of the matching kind, if any.
func (r *ResourceOnce) HandleEvent(buf []byte) error {
	const op = "resourceonce.HandleEvent"
	t, err := uapi.EventTypeOf(buf)
	if err != nil {
		return WrapError(op, err)
	}

	var ev uapi.EventIsoResource
	if err := uapi.Unmarshal(buf, &ev); err != nil {
		return WrapError(op, err)
	}
	res := ResourceResult{Channel: ev.Channel, Bandwidth: uint32(ev.Bandwidth)}
	if ev.Channel < 0 {
		res.ErrCode = ev.Channel
	}

	switch t {
	case uapi.EventTypeIsoResourceAllocated:
		if r.OnAllocated != nil {
			r.OnAllocated(res)
		}
		r.mu.Lock()
		var ch chan ResourceResult
		if len(r.allocWaiters) > 0 {
			ch, r.allocWaiters = r.allocWaiters[0], r.allocWaiters[1:]
		}
		r.mu.Unlock()
		if ch != nil {
			ch <- res
		}
	case uapi.EventTypeIsoResourceDeallocated:
		if r.OnDeallocated != nil {
			r.OnDeallocated(res)
		}
		r.mu.Lock()
		var ch chan ResourceResult
		if len(r.deallocWaiters) > 0 {
			ch, r.deallocWaiters = r.deallocWaiters[0], r.deallocWaiters[1:]
		}
		r.mu.Unlock()
		if ch != nil {
			ch <- res
		}
	}
	return nil
}

// DispatchSource adapts this handle's fd into a dispatch.Source routing
// ISO_RESOURCE_ALLOCATED/DEALLOCATED events to HandleEvent.
func (r *ResourceOnce) DispatchSource(onFinalize func(error)) dispatch.Source {
	return dispatch.NewContextSource(r.fd, r.doer, r.HandleEvent, onFinalize)
}
