package fwiso

import (
	"github.com/ehrlich-b/go-fwiso/internal/ctxstate"
	"github.com/ehrlich-b/go-fwiso/internal/dispatch"
	"github.com/ehrlich-b/go-fwiso/internal/logging"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
	"github.com/momentics/hioload-ws/pool"
)

// PayloadEntry locates one received packet's on-wire frame within the
// ring: the 4-byte iso-header, the payload, and the 4-byte trailing
// timestamp together (Length == data_length + 8).
type PayloadEntry struct {
	Offset uint32
	Length uint32
}

// batchQueueCapacity bounds the backlog of completed batches a consumer
// can fall behind by; once the queue is full, each new batch is dropped
// and reported through Observer.ObserveDropped.
// Power of two, as pool.RingBuffer requires.
const batchQueueCapacity = 64

// IRMultiContext drives an OHCI isochronous receive context in
// buffer-fill mode across a set of channels: the kernel writes packets
// back to back into the ring and reports how far it has filled.
type IRMultiContext struct {
	base         *ctxstate.Base
	channels     []int
	channelMask  uint64
	prevOffset   uint32
	chunksPerIrq uint32

	// OnInterrupt is invoked once per ISO_INTERRUPT_MULTICHANNEL event
	// with the batch's payload-index table; entries (and GetPayload
	// results for them) are only valid for the duration of the call.
	OnInterrupt func(entries []PayloadEntry, count uint32)

	Observer Observer
	logger   *logging.Logger

	eventLive   bool
	liveEntries []PayloadEntry
	concat      []byte

	// batches queues a copy of each completed batch's entries for a
	// consumer draining asynchronously from the synchronous OnInterrupt
	// callback. Full batches are dropped, not blocked on.
	batches *pool.RingBuffer[[]PayloadEntry]
}

// NewIRMultiContext constructs an unallocated IR-multi context.
func NewIRMultiContext(doer ctxstate.Doer) *IRMultiContext {
	return &IRMultiContext{
		base:     ctxstate.NewBase(doer),
		Observer: &NoOpObserver{},
		logger:   logging.Default(),
		batches:  pool.NewRingBuffer[[]PayloadEntry](batchQueueCapacity),
	}
}

// Allocate opens the context across the requested channels (0-63; out of
// range values are dropped), joins them into a bitmask, and reads back
// whatever set the kernel actually admitted. Fails KindNoIsocChannel if
// the kernel admits none.
func (c *IRMultiContext) Allocate(path string, channels []int, headerSize uint32) error {
	const op = "irmulti.Allocate"
	if err := c.base.Allocate(path, ctxstate.ModeIRMulti, 0, 0, headerSize); err != nil {
		return err
	}

	var mask uint64
	for _, ch := range channels {
		if ch < 0 || ch >= 64 {
			continue
		}
		mask |= uint64(1) << uint(ch)
	}

	granted, err := c.base.SetChannels(mask)
	if err != nil {
		c.logger.WithError(err).Warn("ir-multi set channels failed", "path", path)
		return err
	}
	if granted == 0 {
		err := NewError(op, KindNoIsocChannel, "kernel admitted no channels")
		c.logger.WithError(err).Warn("ir-multi allocate failed", "path", path)
		return err
	}

	c.channelMask = granted
	c.channels = c.channels[:0]
	for i := 0; i < 64; i++ {
		if granted&(uint64(1)<<uint(i)) != 0 {
			c.channels = append(c.channels, i)
		}
	}
	c.logger.WithContext(c.base.Handle()).Info("ir-multi allocated", "channels", c.channels)
	return nil
}

// Channels returns the channel set the kernel actually admitted.
func (c *IRMultiContext) Channels() []int { return c.channels }

func (c *IRMultiContext) MapBuffer(bytesPerChunk, chunksPerBuffer uint32) error {
	if err := c.base.MapBuffer(bytesPerChunk, chunksPerBuffer); err != nil {
		return err
	}
	c.prevOffset = 0
	return nil
}

func (c *IRMultiContext) UnmapBuffer() error { return c.base.UnmapBuffer() }
func (c *IRMultiContext) Release() error     { return c.base.Release() }
func (c *IRMultiContext) Running() bool      { return c.base.Running() }
func (c *IRMultiContext) Handle() uint32     { return c.base.Handle() }

// Start pre-arms every chunk in the ring with a periodic-interrupt
// pattern (every chunksPerIrq-th chunk requests a completion event; 0
// means never, leaving the caller to call FlushCompletions), then begins
// processing.
func (c *IRMultiContext) Start(cycleMatch *CycleMatch, chunksPerIrq uint32) error {
	c.chunksPerIrq = chunksPerIrq
	n := c.base.ChunksPerBuffer()
	for i := uint32(0); i < n; i++ {
		scheduleInterrupt := chunksPerIrq > 0 && (i+1)%chunksPerIrq == 0
		if err := c.base.RegisterChunk(false, 0, 0, nil, 0, 0, scheduleInterrupt); err != nil {
			return err
		}
	}

	var cm *ctxstate.CycleMatch
	if cycleMatch != nil {
		cm = &ctxstate.CycleMatch{Sec: cycleMatch.Sec, Cycle: cycleMatch.Cycle}
	}
	if err := c.base.Start(cm, 0, 0); err != nil {
		return err
	}
	c.prevOffset = 0
	return nil
}

func (c *IRMultiContext) Stop() error {
	if err := c.base.Stop(); err != nil {
		return err
	}
	c.prevOffset = 0
	return nil
}

func (c *IRMultiContext) FlushCompletions() error { return c.base.FlushCompletions() }

// DrainSubmissions returns every QUEUE_ISO run issued since the last call.
func (c *IRMultiContext) DrainSubmissions() []ctxstate.SubmissionRun { return c.base.DrainSubmissions() }

// DispatchSource adapts this context's fd into a dispatch.Source.
func (c *IRMultiContext) DispatchSource(onFinalize func(error)) dispatch.Source {
	return dispatch.NewContextSource(c.base.Fd(), c.base.Doer, c.HandleInterruptEvent, onFinalize)
}

// HandleInterruptEvent parses one ISO_INTERRUPT_MULTICHANNEL read()
// buffer, builds the payload-index table for the newly completed span,
// notifies OnInterrupt, re-registers the chunks that span consumed, and
// resubmits via queue_chunks.
func (c *IRMultiContext) HandleInterruptEvent(buf []byte) error {
	var ev uapi.EventIsoInterruptMultichannel
	if err := uapi.Unmarshal(buf, &ev); err != nil {
		return WrapError("irmulti.HandleInterruptEvent", err)
	}

	ringSize := c.base.RingSize()
	var accum uint32
	if ev.Completed >= c.prevOffset {
		accum = ev.Completed - c.prevOffset
	} else {
		accum = ringSize - c.prevOffset + ev.Completed
	}

	ring := c.base.Ring()
	entries := c.liveEntries[:0]
	var consumed uint32
	for consumed < accum {
		remaining := accum - consumed
		if remaining < 4 {
			break
		}
		pos := (c.prevOffset + consumed) % ringSize

		var hdr [4]byte
		if pos+4 <= ringSize {
			copy(hdr[:], ring[pos:pos+4])
		} else {
			n := ringSize - pos
			copy(hdr[:n], ring[pos:ringSize])
			copy(hdr[n:], ring[0:4-n])
		}
		iso := uapi.DecodeIsoHeader(hdr[:])
		dataLength := uint32(iso.DataLength())
		packetLen := dataLength + 8
		if remaining < packetLen {
			break
		}

		entries = append(entries, PayloadEntry{Offset: pos, Length: packetLen})
		consumed += packetLen
	}
	c.liveEntries = entries
	count := uint32(len(entries))
	c.logger.WithContext(c.base.Handle()).Debug("ir-multi interrupt", "completed", ev.Completed, "count", count)

	c.eventLive = true
	if c.OnInterrupt != nil {
		c.OnInterrupt(entries, count)
	}
	c.eventLive = false

	if count > 0 {
		batch := make([]PayloadEntry, count)
		copy(batch, entries)
		if !c.batches.Enqueue(batch) {
			c.logger.WithContext(c.base.Handle()).Warn("ir-multi batch queue full, dropping batch", "count", count)
			c.Observer.ObserveDropped("irmulti.batch")
		}
	}

	c.Observer.ObserveInterrupt(count, 0)

	bytesPerChunk := c.base.BytesPerChunk()
	startChunk := c.prevOffset / bytesPerChunk
	endChunk := (c.prevOffset + consumed) / bytesPerChunk
	for i := startChunk; i < endChunk; i++ {
		scheduleInterrupt := c.chunksPerIrq > 0 && (i+1)%c.chunksPerIrq == 0
		if err := c.base.RegisterChunk(false, 0, 0, nil, 0, 0, scheduleInterrupt); err != nil {
			return err
		}
	}
	c.prevOffset = (c.prevOffset + consumed) % ringSize

	return c.base.QueueChunks()
}

// GetPayload returns the bytes of entry i of the batch currently live in
// an OnInterrupt callback. If the packet straddles the ring boundary,
// the two halves are copied into a scratch buffer owned by this context
// and a view of that is returned instead.
func (c *IRMultiContext) GetPayload(i int) ([]byte, error) {
	const op = "irmulti.GetPayload"
	if !c.eventLive {
		return nil, NewError(op, KindFailed, "no event is live")
	}
	if i < 0 || i >= len(c.liveEntries) {
		return nil, NewError(op, KindFailed, "index out of range for live payload batch")
	}

	e := c.liveEntries[i]
	ringSize := c.base.RingSize()
	ring := c.base.Ring()
	if e.Offset+e.Length <= ringSize {
		return ring[e.Offset : e.Offset+e.Length], nil
	}

	if uint32(cap(c.concat)) < e.Length {
		c.concat = make([]byte, e.Length)
	} else {
		c.concat = c.concat[:e.Length]
	}
	first := ringSize - e.Offset
	copy(c.concat[:first], ring[e.Offset:ringSize])
	copy(c.concat[first:], ring[0:e.Length-first])
	return c.concat, nil
}

// DrainBatch removes and returns the oldest queued batch of payload-index
// entries, independent of any OnInterrupt callback. ok is false if none are
// queued. The entries are a copy, but the ring bytes they point at belong
// to chunks that HandleInterruptEvent has already handed back to the
// kernel, which may overwrite them with new packets at any time.
func (c *IRMultiContext) DrainBatch() (entries []PayloadEntry, ok bool) {
	return c.batches.Dequeue()
}

// PendingBatches reports how many completed batches are queued for DrainBatch.
func (c *IRMultiContext) PendingBatches() int {
	return c.batches.Len()
}
