package fwiso

import (
	"github.com/ehrlich-b/go-fwiso/internal/ctxstate"
	"github.com/ehrlich-b/go-fwiso/internal/dispatch"
	"github.com/ehrlich-b/go-fwiso/internal/logging"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
)

// IRSingleContext drives an OHCI isochronous receive context in
// packet-per-buffer mode: the caller pre-registers one descriptor per
// chunk and the kernel writes one packet's payload per chunk; packet
// headers arrive in the ISO_INTERRUPT event, not in the ring.
type IRSingleContext struct {
	base        *ctxstate.Base
	chunkCursor uint32 // logical head of the ring, in packets

	// OnInterrupt is invoked once per ISO_INTERRUPT event. headerBytes
	// spans every packet header in the batch (count * header_size
	// bytes); it and any GetPayload result are only valid for the
	// duration of the call.
	OnInterrupt func(sec uint8, cycle uint16, headerBytes []byte, headerLength uint32, count uint32)

	Observer Observer
	logger   *logging.Logger

	liveHeaders []byte
	liveCursor  uint32
	liveCount   uint32
}

// NewIRSingleContext constructs an unallocated IR-single context.
func NewIRSingleContext(doer ctxstate.Doer) *IRSingleContext {
	return &IRSingleContext{
		base:     ctxstate.NewBase(doer),
		Observer: &NoOpObserver{},
		logger:   logging.Default(),
	}
}

func (c *IRSingleContext) Allocate(path string, channel int, headerSize uint32) error {
	if err := c.base.Allocate(path, ctxstate.ModeIRSingle, 0, channel, headerSize); err != nil {
		c.logger.WithError(err).Warn("ir-single allocate failed", "path", path, "channel", channel)
		return err
	}
	c.logger.WithContext(c.base.Handle()).Info("ir-single allocated", "channel", channel)
	return nil
}

func (c *IRSingleContext) MapBuffer(bytesPerChunk, chunksPerBuffer uint32) error {
	if err := c.base.MapBuffer(bytesPerChunk, chunksPerBuffer); err != nil {
		return err
	}
	c.chunkCursor = 0
	return nil
}

func (c *IRSingleContext) UnmapBuffer() error { return c.base.UnmapBuffer() }
func (c *IRSingleContext) Release() error     { return c.base.Release() }
func (c *IRSingleContext) Running() bool      { return c.base.Running() }
func (c *IRSingleContext) Handle() uint32     { return c.base.Handle() }

// RegisterPacket stages one receive descriptor; the core substitutes
// payload_length and header_length internally.
func (c *IRSingleContext) RegisterPacket(scheduleInterrupt bool) error {
	return c.base.RegisterChunk(false, 0, 0, nil, 0, 0, scheduleInterrupt)
}

func (c *IRSingleContext) Start(cycleMatch *CycleMatch, sync, tags uint32) error {
	var cm *ctxstate.CycleMatch
	if cycleMatch != nil {
		cm = &ctxstate.CycleMatch{Sec: cycleMatch.Sec, Cycle: cycleMatch.Cycle}
	}
	return c.base.Start(cm, sync, tags)
}

func (c *IRSingleContext) Stop() error {
	if err := c.base.Stop(); err != nil {
		return err
	}
	c.chunkCursor = 0
	return nil
}

func (c *IRSingleContext) FlushCompletions() error { return c.base.FlushCompletions() }

// DrainSubmissions returns every QUEUE_ISO run issued since the last call.
func (c *IRSingleContext) DrainSubmissions() []ctxstate.SubmissionRun { return c.base.DrainSubmissions() }

// DispatchSource adapts this context's fd into a dispatch.Source.
func (c *IRSingleContext) DispatchSource(onFinalize func(error)) dispatch.Source {
	return dispatch.NewContextSource(c.base.Fd(), c.base.Doer, c.HandleInterruptEvent, onFinalize)
}

// HandleInterruptEvent parses one ISO_INTERRUPT read() buffer and
// notifies OnInterrupt. During the callback, GetPayload resolves packets
// against the cursor as it stood before this batch; the cursor advances
// only after the callback returns.
func (c *IRSingleContext) HandleInterruptEvent(buf []byte) error {
	var ev uapi.EventIsoInterrupt
	if err := uapi.Unmarshal(buf, &ev); err != nil {
		return WrapError("irsingle.HandleInterruptEvent", err)
	}

	sec, cycle := uapi.DecodeInterruptCycle(ev.Cycle)
	headerSize := c.base.HeaderSize()
	var count uint32
	if headerSize > 0 {
		count = ev.HeaderLength / headerSize
	}
	c.logger.WithContext(c.base.Handle()).Debug("ir-single interrupt", "sec", sec, "cycle", cycle, "count", count)

	end := 20 + int(ev.HeaderLength)
	var headerBytes []byte
	if end <= len(buf) {
		headerBytes = buf[20:end]
	}

	c.liveHeaders = headerBytes
	c.liveCursor = c.chunkCursor
	c.liveCount = count
	if c.OnInterrupt != nil {
		c.OnInterrupt(sec, cycle, headerBytes, ev.HeaderLength, count)
	}
	c.liveHeaders = nil

	c.Observer.ObserveInterrupt(count, 0)

	chunksPerBuffer := c.base.ChunksPerBuffer()
	if chunksPerBuffer > 0 {
		c.chunkCursor = (c.chunkCursor + count) % chunksPerBuffer
	}
	return nil
}

// GetPayload returns the payload bytes for packet index of the batch
// currently live in an OnInterrupt callback. Valid only during that call.
func (c *IRSingleContext) GetPayload(index uint32) ([]byte, error) {
	const op = "irsingle.GetPayload"
	headerSize := c.base.HeaderSize()
	if c.liveHeaders == nil {
		return nil, NewError(op, KindFailed, "no event is live")
	}
	if index*headerSize >= uint32(len(c.liveHeaders)) {
		return nil, NewError(op, KindFailed, "index out of range for live header batch")
	}

	packetHeader := c.liveHeaders[index*headerSize : index*headerSize+headerSize]
	iso := uapi.DecodeIsoHeader(packetHeader[0:4])
	dataLength := uint32(iso.DataLength())
	if headerSize > 8 {
		dataLength -= headerSize - 8
	}
	bytesPerChunk := c.base.BytesPerChunk()
	if dataLength > bytesPerChunk {
		dataLength = bytesPerChunk
	}

	chunksPerBuffer := c.base.ChunksPerBuffer()
	ringOffset := ((c.liveCursor + index) % chunksPerBuffer) * bytesPerChunk
	ring := c.base.Ring()
	return ring[ringOffset : ringOffset+dataLength], nil
}
