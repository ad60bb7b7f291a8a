package fwiso

import (
	"github.com/ehrlich-b/go-fwiso/internal/ctxstate"
	"github.com/ehrlich-b/go-fwiso/internal/dispatch"
	"github.com/ehrlich-b/go-fwiso/internal/logging"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
)

// ITContext drives an OHCI isochronous transmit context: caller-supplied
// packets are copied into the payload ring and queued for the kernel to
// send on the wire.
type ITContext struct {
	base   *ctxstate.Base
	offset uint32 // private write cursor into the payload ring, in bytes

	// OnInterrupt is invoked once per ISO_INTERRUPT event with the
	// extracted (sec, cycle) pair and the batch of per-packet transmit
	// timestamps (one 32-bit timestamp per packet, packed header_length/4
	// of them). The slice is only valid for the duration of the call.
	OnInterrupt func(sec uint8, cycle uint16, timestamps []byte, count uint32)

	Observer Observer
	logger   *logging.Logger
}

// NewITContext constructs an unallocated IT context. A nil doer uses the
// real ioctl/mmap implementation; tests pass a *ctxstate.StubDoer.
func NewITContext(doer ctxstate.Doer) *ITContext {
	return &ITContext{
		base:     ctxstate.NewBase(doer),
		Observer: &NoOpObserver{},
		logger:   logging.Default(),
	}
}

func (c *ITContext) Allocate(path string, speed Speed, channel int, headerSize uint32) error {
	if err := c.base.Allocate(path, ctxstate.ModeIT, speed, channel, headerSize); err != nil {
		c.logger.WithError(err).Warn("it allocate failed", "path", path, "channel", channel)
		return err
	}
	c.logger.WithContext(c.base.Handle()).Info("it allocated", "channel", channel, "speed", speed)
	return nil
}

func (c *ITContext) MapBuffer(bytesPerChunk, chunksPerBuffer uint32) error {
	if err := c.base.MapBuffer(bytesPerChunk, chunksPerBuffer); err != nil {
		return err
	}
	c.offset = 0
	return nil
}

func (c *ITContext) UnmapBuffer() error { return c.base.UnmapBuffer() }
func (c *ITContext) Release() error     { return c.base.Release() }
func (c *ITContext) Running() bool      { return c.base.Running() }
func (c *ITContext) Handle() uint32     { return c.base.Handle() }

// RegisterPacket stages one descriptor and, unless it's a skip cycle,
// copies payload into the ring at the private write cursor, wrapping at
// the ring end.
func (c *ITContext) RegisterPacket(tags, sy uint8, header, payload []byte, scheduleInterrupt bool) error {
	skip := len(header) == 0 && len(payload) == 0

	if err := c.base.RegisterChunk(skip, tags, sy, header, uint32(len(header)), uint32(len(payload)), scheduleInterrupt); err != nil {
		return err
	}
	if skip {
		return nil
	}

	ring := c.base.Ring()
	ringSize := uint32(len(ring))
	n := uint32(len(payload))
	tail := ringSize - c.offset
	if tail >= n {
		copy(ring[c.offset:c.offset+n], payload)
	} else {
		copy(ring[c.offset:], payload[:tail])
		copy(ring[0:n-tail], payload[tail:])
	}
	c.offset = (c.offset + n) % ringSize

	c.Observer.ObserveQueued(uint64(n), 1)
	return nil
}

func (c *ITContext) Start(cycleMatch *CycleMatch) error {
	var cm *ctxstate.CycleMatch
	if cycleMatch != nil {
		cm = &ctxstate.CycleMatch{Sec: cycleMatch.Sec, Cycle: cycleMatch.Cycle}
	}
	return c.base.Start(cm, 0, 0)
}

func (c *ITContext) Stop() error {
	if err := c.base.Stop(); err != nil {
		return err
	}
	c.offset = 0
	return nil
}

func (c *ITContext) ReadCycleTime(clkID uint32) (CycleTime, error) {
	ct, err := c.base.ReadCycleTime(clkID)
	if err != nil {
		return CycleTime{}, err
	}
	return CycleTime{
		Sec: ct.Fields.Sec, Cycle: ct.Fields.Cycle, Offset: ct.Fields.Offset,
		Raw: ct.Raw, TvSec: ct.TvSec, TvNsec: ct.TvNsec,
	}, nil
}

func (c *ITContext) FlushCompletions() error { return c.base.FlushCompletions() }

// DrainSubmissions returns every QUEUE_ISO run issued since the last call,
// for a caller tracking submission-level metrics or logging independently
// of RegisterPacket/HandleInterruptEvent's call sites.
func (c *ITContext) DrainSubmissions() []ctxstate.SubmissionRun { return c.base.DrainSubmissions() }

// DispatchSource adapts this context's fd into a dispatch.Source: a
// caller-hosted event loop calls its Dispatch method on readiness, which
// reads one event and routes it to HandleInterruptEvent.
func (c *ITContext) DispatchSource(onFinalize func(error)) dispatch.Source {
	return dispatch.NewContextSource(c.base.Fd(), c.base.Doer, c.HandleInterruptEvent, onFinalize)
}

// HandleInterruptEvent parses one ISO_INTERRUPT read() buffer, notifies
// OnInterrupt with the decoded cycle and timestamp batch, then resubmits
// whatever descriptors the caller staged during the callback.
func (c *ITContext) HandleInterruptEvent(buf []byte) error {
	var ev uapi.EventIsoInterrupt
	if err := uapi.Unmarshal(buf, &ev); err != nil {
		return WrapError("it.HandleInterruptEvent", err)
	}

	sec, cycle := uapi.DecodeInterruptCycle(ev.Cycle)
	count := ev.HeaderLength / 4
	c.logger.WithContext(c.base.Handle()).Debug("it interrupt", "sec", sec, "cycle", cycle, "count", count)

	if c.OnInterrupt != nil {
		end := 20 + int(ev.HeaderLength)
		var timestamps []byte
		if end <= len(buf) {
			timestamps = buf[20:end]
		}
		c.OnInterrupt(sec, cycle, timestamps, count)
	}
	c.Observer.ObserveInterrupt(count, 0)

	return c.base.QueueChunks()
}
