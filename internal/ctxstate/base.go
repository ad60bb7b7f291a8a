package ctxstate

import (
	"runtime"
	"syscall"
	"unsafe"

	"github.com/eapache/queue"
	"github.com/ehrlich-b/go-fwiso/internal/ctxerr"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
)

func newErr(op string, kind ctxerr.Kind, msg string) *ctxerr.Error {
	return ctxerr.New(op, kind, msg)
}

func wrapErrno(op string, err error, msg string) *ctxerr.Error {
	if errno, ok := err.(syscall.Errno); ok {
		e := ctxerr.NewWithErrno(op, ctxerr.MapErrno(errno), errno)
		e.Msg = msg + ": " + e.Msg
		return e
	}
	return ctxerr.Wrap(op, err)
}

// Mode mirrors the uapi context-type codes; re-exported here so callers
// outside internal/uapi don't need to import it just to name a mode.
type Mode = int

const (
	ModeIT       Mode = uapi.IsoContextTransmit
	ModeIRSingle Mode = uapi.IsoContextReceive
	ModeIRMulti  Mode = uapi.IsoContextReceiveMultichannel
)

// CycleMatch encodes a requested start cycle; nil means "next available".
type CycleMatch struct {
	Sec   uint8 // 0-3
	Cycle uint16 // 0-7999
}

// CycleTime is the decoded result of a cycle-timer read.
type CycleTime struct {
	Fields uapi.CycleTimerFields
	Raw    uint32
	TvSec  int64
	TvNsec int32
}

const descriptorSize = 4 // bytes of the control word; header bytes are additional

// Base is the context substrate shared by every isochronous mode: it owns
// the fd, the kernel handle, the mmap'd payload ring, the descriptor
// staging area, and the four cursors (data_length, registered_chunk_count,
// curr_offset, running) that drive queue_chunks.
type Base struct {
	Doer Doer

	fd         int
	handle     uint32
	mode       Mode
	headerSize uint32
	speed      uint32
	channel    int

	bytesPerChunk   uint32
	chunksPerBuffer uint32
	ringSize        uint32
	descAreaSize    uint32

	ring []byte

	staging        []byte
	descByteLens   []uint32
	payloadLengths []uint32

	dataLength           uint32
	registeredChunkCount uint32
	currOffset           uint32
	running              bool

	allocated bool
	mapped    bool

	// submissions records one entry per QUEUE_ISO ioctl issued by
	// QueueChunks, for a caller that wants to drain completed submission
	// runs independently of the synchronous call site (e.g. for metrics
	// or batched logging), without reaching into QueueChunks itself.
	submissions *queue.Queue
}

// SubmissionRun describes one QUEUE_ISO ioctl issued by QueueChunks: the
// ring region it targeted and how many descriptors it carried.
type SubmissionRun struct {
	Offset  uint32
	Length  uint32
	Packets uint32
}

// NewBase constructs an unallocated context substrate. A nil doer uses
// the real ioctl/mmap implementation.
func NewBase(doer Doer) *Base {
	if doer == nil {
		doer = NewDoer()
	}
	return &Base{Doer: doer, fd: -1, submissions: queue.New()}
}

// Allocate opens path, negotiates the ABI version, and creates a kernel
// isochronous context of the requested shape.
func (b *Base) Allocate(path string, mode Mode, speed uint32, channel int, headerSize uint32) error {
	const op = "ctxstate.Allocate"
	if b.allocated {
		return newErr(op, ctxerr.KindOpened, "context already allocated")
	}
	if path == "" {
		return newErr(op, ctxerr.KindFailed, "empty device path")
	}
	if mode != ModeIT && mode != ModeIRSingle && mode != ModeIRMulti {
		return newErr(op, ctxerr.KindFailed, "invalid context mode")
	}
	if speed > uapi.ScodeS3200 {
		return newErr(op, ctxerr.KindFailed, "invalid speed code")
	}
	if channel < 0 || channel >= 64 {
		return newErr(op, ctxerr.KindFailed, "channel out of range")
	}
	if headerSize%4 != 0 {
		return newErr(op, ctxerr.KindFailed, "header_size must be a multiple of 4")
	}
	switch mode {
	case ModeIRSingle:
		if headerSize < 4 {
			return newErr(op, ctxerr.KindFailed, "IR-single requires header_size >= 4")
		}
	case ModeIRMulti:
		if headerSize != 0 || channel != 0 {
			return newErr(op, ctxerr.KindFailed, "IR-multi requires header_size=0 and channel=0")
		}
	}

	fd, err := b.Doer.Open(path, syscall.O_RDWR)
	if err != nil {
		return wrapErrno(op, err, "open device")
	}

	info := &uapi.GetInfo{}
	buf := uapi.Marshal(info)
	if err := b.Doer.Ioctl(fd, uapi.IocGetInfo, buf); err != nil {
		b.Doer.Close(fd)
		return wrapErrno(op, err, "GET_INFO")
	}
	_ = uapi.Unmarshal(buf, info)
	if info.Version < uapi.MinABIVersion {
		b.Doer.Close(fd)
		return newErr(op, ctxerr.KindFailed, "kernel ABI version too old")
	}

	create := &uapi.CreateIsoContext{
		Type:       uint32(mode),
		HeaderSize: headerSize,
		Channel:    uint32(channel),
		Speed:      speed,
	}
	cbuf := uapi.Marshal(create)
	if err := b.Doer.Ioctl(fd, uapi.IocCreateIsoContext, cbuf); err != nil {
		b.Doer.Close(fd)
		return wrapErrno(op, err, "CREATE_ISO_CONTEXT")
	}
	_ = uapi.Unmarshal(cbuf, create)

	b.fd = fd
	b.handle = create.Handle
	b.mode = mode
	b.headerSize = headerSize
	b.speed = speed
	b.channel = channel
	b.allocated = true
	return nil
}

// Release unmaps the buffer (if mapped) and closes the fd. Idempotent.
func (b *Base) Release() error {
	if b.mapped {
		if err := b.UnmapBuffer(); err != nil {
			return err
		}
	}
	if b.allocated {
		if err := b.Doer.Close(b.fd); err != nil {
			return wrapErrno("ctxstate.Release", err, "close")
		}
		b.allocated = false
		b.fd = -1
	}
	return nil
}

// MapBuffer mmaps the payload ring and sizes the descriptor staging area.
func (b *Base) MapBuffer(bytesPerChunk, chunksPerBuffer uint32) error {
	const op = "ctxstate.MapBuffer"
	if bytesPerChunk == 0 || chunksPerBuffer == 0 {
		return newErr(op, ctxerr.KindFailed, "bytes_per_chunk and chunks_per_buffer must be > 0")
	}
	if !b.allocated {
		return newErr(op, ctxerr.KindNotOpened, "context not allocated")
	}
	if b.mapped {
		return newErr(op, ctxerr.KindMapped, "buffer already mapped")
	}

	headerArea := uint32(0)
	if b.mode == ModeIT {
		headerArea = b.headerSize
	}
	b.descAreaSize = chunksPerBuffer * (descriptorSize + headerArea)
	b.ringSize = bytesPerChunk * chunksPerBuffer

	prot := syscall.PROT_READ
	if b.mode == ModeIT {
		prot |= syscall.PROT_WRITE
	}
	ring, err := b.Doer.Mmap(b.fd, 0, int(b.ringSize), prot)
	if err != nil {
		return wrapErrno(op, err, "mmap")
	}

	b.ring = ring
	b.bytesPerChunk = bytesPerChunk
	b.chunksPerBuffer = chunksPerBuffer
	b.staging = make([]byte, 0, b.descAreaSize)
	b.mapped = true
	return nil
}

// UnmapBuffer releases the ring and staging area. Idempotent.
func (b *Base) UnmapBuffer() error {
	if !b.mapped {
		return nil
	}
	if err := b.Doer.Munmap(b.ring); err != nil {
		return wrapErrno("ctxstate.UnmapBuffer", err, "munmap")
	}
	b.ring = nil
	b.staging = nil
	b.descByteLens = nil
	b.payloadLengths = nil
	b.dataLength = 0
	b.registeredChunkCount = 0
	b.mapped = false
	return nil
}

// RegisterChunk appends one descriptor to the staging area, applying the
// mode-specific substitutions for IT-skip and IR registration.
func (b *Base) RegisterChunk(skip bool, tag, sy uint8, header []byte, headerLength, payloadLength uint32, scheduleInterrupt bool) error {
	const op = "ctxstate.RegisterChunk"
	if !b.allocated {
		return newErr(op, ctxerr.KindNotOpened, "context not allocated")
	}
	if !b.mapped {
		return newErr(op, ctxerr.KindNotMapped, "buffer not mapped")
	}

	switch b.mode {
	case ModeIT:
		if skip {
			headerLength, payloadLength, header = 0, 0, nil
		} else if headerLength != b.headerSize {
			return newErr(op, ctxerr.KindFailed, "header_length must equal the configured header_size")
		}
	case ModeIRSingle:
		if headerLength != 0 || payloadLength != 0 {
			return newErr(op, ctxerr.KindFailed, "IR registration must pass header_length=0 and payload_length=0")
		}
		payloadLength = b.bytesPerChunk
		headerLength = b.headerSize
		header = nil
	case ModeIRMulti:
		if headerLength != 0 || payloadLength != 0 {
			return newErr(op, ctxerr.KindFailed, "IR registration must pass header_length=0 and payload_length=0")
		}
		payloadLength = b.bytesPerChunk
		headerLength = 0
		header = nil
	}

	if payloadLength > b.bytesPerChunk {
		return newErr(op, ctxerr.KindFailed, "payload_length exceeds bytes_per_chunk")
	}

	// Header bytes follow the control word inline only for IT: that's the
	// caller-supplied data the kernel reads to transmit. IR modes encode
	// header_length in the control word so the kernel knows how much
	// header to copy into the payload ring, but submit no trailing bytes.
	descBytes := uint32(descriptorSize)
	if b.mode == ModeIT {
		descBytes += headerLength
	}
	if b.dataLength+descBytes > b.descAreaSize {
		return newErr(op, ctxerr.KindFailed, "descriptor staging area full")
	}

	ctrl := uapi.PacketControl{
		Skip:          skip,
		Tag:           tag,
		Sy:            sy,
		HeaderLength:  uint16(headerLength),
		Interrupt:     scheduleInterrupt,
		PayloadLength: uint16(payloadLength),
	}
	word := ctrl.Encode()

	var wbuf [4]byte
	wbuf[0] = byte(word)
	wbuf[1] = byte(word >> 8)
	wbuf[2] = byte(word >> 16)
	wbuf[3] = byte(word >> 24)

	b.staging = append(b.staging, wbuf[:]...)
	if b.mode == ModeIT && headerLength > 0 {
		if uint32(len(header)) >= headerLength {
			b.staging = append(b.staging, header[:headerLength]...)
		} else {
			b.staging = append(b.staging, header...)
			b.staging = append(b.staging, make([]byte, headerLength-uint32(len(header)))...)
		}
	}

	b.descByteLens = append(b.descByteLens, descBytes)
	b.payloadLengths = append(b.payloadLengths, payloadLength)
	b.dataLength += descBytes
	b.registeredChunkCount++
	return nil
}

// QueueChunks drains the staging area into one or more QUEUE_ISO ioctls,
// each a contiguous run of descriptors whose payload bytes fit the ring
// without straddling its end.
func (b *Base) QueueChunks() error {
	const op = "ctxstate.QueueChunks"
	n := len(b.payloadLengths)
	if n == 0 {
		return nil
	}

	descOffsets := make([]uint32, n+1)
	var cum uint32
	for i, l := range b.descByteLens {
		descOffsets[i] = cum
		cum += l
	}
	descOffsets[n] = cum

	bufOffset := b.currOffset
	i := 0
	for i < n {
		runStart := i
		var bufLen uint32
		for i < n && bufOffset+bufLen+b.payloadLengths[i] <= b.ringSize {
			bufLen += b.payloadLengths[i]
			i++
		}
		if i == runStart {
			bufOffset = 0
			continue
		}

		packets := b.staging[descOffsets[runStart]:descOffsets[i]]

		// A run's payload may be zero bytes (an IT skip cycle, or any
		// packet with an empty payload), so the data pointer is derived
		// from the ring's base plus bufOffset rather than by indexing
		// b.ring[bufOffset], which panics when the resulting slice is
		// empty. Mirrors the original's buffer->map + buf_offset, which
		// never dereferences.
		dataPtr := unsafe.Pointer(uintptr(unsafe.Pointer(&b.ring[0])) + uintptr(bufOffset))

		q := &uapi.QueueIso{
			Packets: uint64(uintptr(unsafe.Pointer(&packets[0]))),
			Data:    uint64(uintptr(dataPtr)),
			Size:    uint32(len(packets)),
			Handle:  b.handle,
		}
		qbuf := uapi.Marshal(q)
		err := b.Doer.Ioctl(b.fd, uapi.IocQueueIso, qbuf)
		runtime.KeepAlive(packets)
		runtime.KeepAlive(b.ring)
		if err != nil {
			return wrapErrno(op, err, "QUEUE_ISO")
		}
		b.submissions.Add(SubmissionRun{Offset: bufOffset, Length: bufLen, Packets: uint32(i - runStart)})

		bufOffset = (bufOffset + bufLen) % b.ringSize
	}

	b.currOffset = bufOffset
	b.staging = b.staging[:0]
	b.descByteLens = b.descByteLens[:0]
	b.payloadLengths = b.payloadLengths[:0]
	b.dataLength = 0
	b.registeredChunkCount = 0
	return nil
}

// Start flushes any staged descriptors, then issues START_ISO.
func (b *Base) Start(cycleMatch *CycleMatch, sync, tags uint32) error {
	const op = "ctxstate.Start"
	if !b.mapped {
		return newErr(op, ctxerr.KindNotMapped, "buffer not mapped")
	}
	if b.registeredChunkCount == 0 {
		return newErr(op, ctxerr.KindChunkUnregistered, "no descriptors staged")
	}
	if b.mode == ModeIT && (sync != 0 || tags != 0) {
		return newErr(op, ctxerr.KindFailed, "IT contexts require sync=0 and tags=0")
	}
	if err := b.QueueChunks(); err != nil {
		return err
	}

	cycle := int32(-1)
	if cycleMatch != nil {
		cycle = int32(uint32(cycleMatch.Sec)<<13 | uint32(cycleMatch.Cycle))
	}
	s := &uapi.StartIso{Cycle: cycle, Sync: sync, Tags: tags, Handle: b.handle}
	if err := b.Doer.Ioctl(b.fd, uapi.IocStartIso, uapi.Marshal(s)); err != nil {
		return wrapErrno(op, err, "START_ISO")
	}
	b.running = true
	return nil
}

// Stop halts the context and resets its cursors. No-op if not running.
func (b *Base) Stop() error {
	if !b.running {
		return nil
	}
	s := &uapi.StopIso{Handle: b.handle}
	if err := b.Doer.Ioctl(b.fd, uapi.IocStopIso, uapi.Marshal(s)); err != nil {
		return wrapErrno("ctxstate.Stop", err, "STOP_ISO")
	}
	b.running = false
	b.registeredChunkCount = 0
	b.dataLength = 0
	b.currOffset = 0
	b.staging = b.staging[:0]
	b.descByteLens = b.descByteLens[:0]
	b.payloadLengths = b.payloadLengths[:0]
	return nil
}

// ReadCycleTime issues GET_CYCLE_TIMER2 against the given POSIX clock id.
func (b *Base) ReadCycleTime(clkID uint32) (CycleTime, error) {
	const op = "ctxstate.ReadCycleTime"
	ct := &uapi.GetCycleTimer2{ClkID: clkID}
	buf := uapi.Marshal(ct)
	if err := b.Doer.Ioctl(b.fd, uapi.IocGetCycleTimer2, buf); err != nil {
		return CycleTime{}, wrapErrno(op, err, "GET_CYCLE_TIMER2")
	}
	_ = uapi.Unmarshal(buf, ct)
	return CycleTime{
		Fields: uapi.DecodeCycleTimer(ct.CycleTimer),
		Raw:    ct.CycleTimer,
		TvSec:  ct.TvSec,
		TvNsec: ct.TvNsec,
	}, nil
}

// FlushCompletions issues FLUSH_ISO, forcing emission of any pending
// interrupt event for the most recently processed cycle.
func (b *Base) FlushCompletions() error {
	f := &uapi.FlushIso{Handle: b.handle}
	if err := b.Doer.Ioctl(b.fd, uapi.IocFlushIso, uapi.Marshal(f)); err != nil {
		return wrapErrno("ctxstate.FlushCompletions", err, "FLUSH_ISO")
	}
	return nil
}

// SetChannels sets the IR-multi channel bitmask and returns the mask the
// kernel actually admitted (it may narrow the request).
func (b *Base) SetChannels(mask uint64) (uint64, error) {
	const op = "ctxstate.SetChannels"
	sc := &uapi.SetIsoChannels{Channels: mask, Handle: b.handle}
	buf := uapi.Marshal(sc)
	if err := b.Doer.Ioctl(b.fd, uapi.IocSetIsoChannels, buf); err != nil {
		return 0, wrapErrno(op, err, "SET_ISO_CHANNELS")
	}
	_ = uapi.Unmarshal(buf, sc)
	return sc.Channels, nil
}

// DrainSubmissions removes and returns every SubmissionRun recorded since
// the last drain.
func (b *Base) DrainSubmissions() []SubmissionRun {
	n := b.submissions.Length()
	if n == 0 {
		return nil
	}
	runs := make([]SubmissionRun, 0, n)
	for i := 0; i < n; i++ {
		runs = append(runs, b.submissions.Remove().(SubmissionRun))
	}
	return runs
}

func (b *Base) Fd() int                     { return b.fd }
func (b *Base) Handle() uint32              { return b.handle }
func (b *Base) Mode() Mode                  { return b.mode }
func (b *Base) HeaderSize() uint32          { return b.headerSize }
func (b *Base) Speed() uint32               { return b.speed }
func (b *Base) Channel() int                { return b.channel }
func (b *Base) Running() bool               { return b.running }
func (b *Base) Mapped() bool                { return b.mapped }
func (b *Base) Allocated() bool             { return b.allocated }
func (b *Base) BytesPerChunk() uint32       { return b.bytesPerChunk }
func (b *Base) ChunksPerBuffer() uint32     { return b.chunksPerBuffer }
func (b *Base) RingSize() uint32            { return b.ringSize }
func (b *Base) Ring() []byte                { return b.ring }
func (b *Base) DataLength() uint32          { return b.dataLength }
func (b *Base) RegisteredChunkCount() uint32 { return b.registeredChunkCount }
func (b *Base) CurrOffset() uint32          { return b.currOffset }
