package fwiso

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ehrlich-b/go-fwiso/internal/ctxstate"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
)

func binaryPutEventIsoInterruptMultichannel(buf []byte, ev *uapi.EventIsoInterruptMultichannel) {
	binary.LittleEndian.PutUint64(buf[0:8], ev.Closure)
	binary.LittleEndian.PutUint32(buf[8:12], ev.Type)
	binary.LittleEndian.PutUint32(buf[12:16], ev.Completed)
}

func newTestIRMultiContext(t *testing.T, bytesPerChunk, chunksPerBuffer uint32, channels []int) (*IRMultiContext, *ctxstate.StubDoer) {
	t.Helper()
	stub := ctxstate.NewStubDoer()
	c := NewIRMultiContext(stub)
	if err := c.Allocate("/dev/fw0", channels, 0); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := c.MapBuffer(bytesPerChunk, chunksPerBuffer); err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	return c, stub
}

func TestIRMultiAllocateJoinsChannels(t *testing.T) {
	stub := ctxstate.NewStubDoer()
	stub.Handler = func(req uint32, buf []byte) error {
		switch req {
		case uapi.IocGetInfo:
			var info uapi.GetInfo
			_ = uapi.Unmarshal(buf, &info)
			info.Version = uapi.MinABIVersion
			copy(buf, uapi.Marshal(&info))
		case uapi.IocCreateIsoContext:
			var c uapi.CreateIsoContext
			_ = uapi.Unmarshal(buf, &c)
			c.Handle = 1
			copy(buf, uapi.Marshal(&c))
		case uapi.IocSetIsoChannels:
			var sc uapi.SetIsoChannels
			if err := uapi.Unmarshal(buf, &sc); err != nil {
				return err
			}
			sc.Channels &= 0x3 // kernel narrows to channels 0 and 1
			copy(buf, uapi.Marshal(&sc))
		}
		return nil
	}
	c := NewIRMultiContext(stub)
	if err := c.Allocate("/dev/fw0", []int{0, 1, 2, 70}, 0); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := []int{0, 1}
	got := c.Channels()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected channels %v, got %v", want, got)
	}
}

func TestIRMultiAllocateFailsWhenKernelAdmitsNoChannels(t *testing.T) {
	stub := ctxstate.NewStubDoer()
	stub.Handler = func(req uint32, buf []byte) error {
		switch req {
		case uapi.IocGetInfo:
			var info uapi.GetInfo
			_ = uapi.Unmarshal(buf, &info)
			info.Version = uapi.MinABIVersion
			copy(buf, uapi.Marshal(&info))
		case uapi.IocCreateIsoContext:
			var c uapi.CreateIsoContext
			_ = uapi.Unmarshal(buf, &c)
			c.Handle = 1
			copy(buf, uapi.Marshal(&c))
		case uapi.IocSetIsoChannels:
			var sc uapi.SetIsoChannels
			if err := uapi.Unmarshal(buf, &sc); err != nil {
				return err
			}
			sc.Channels = 0
			copy(buf, uapi.Marshal(&sc))
		}
		return nil
	}
	c := NewIRMultiContext(stub)
	err := c.Allocate("/dev/fw0", []int{5}, 0)
	if !IsKind(err, KindNoIsocChannel) {
		t.Fatalf("expected KindNoIsocChannel, got %v", err)
	}
}

func putPacket(buf []byte, payload []byte) {
	putIsoHeader(buf[0:4], uint16(len(payload)), 1, 5, 0xa, 0)
	copy(buf[4:4+len(payload)], payload)
}

func TestIRMultiParserYieldsEntriesAndStopsOnTruncation(t *testing.T) {
	c, _ := newTestIRMultiContext(t, 32, 4, []int{5}) // ring size 128
	ring := c.base.Ring()

	p1 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	p2 := []byte{9, 10, 11, 12, 13, 14, 15, 16}
	putPacket(ring[0:16], p1)
	putPacket(ring[16:32], p2)
	// partial third packet: header declares 8 bytes of payload but the
	// completed span ends 5 bytes into the packet (its 4-byte header and
	// 1 payload byte).
	putIsoHeader(ring[32:36], 8, 1, 5, 0xa, 0)

	var gotEntries []PayloadEntry
	var gotCount uint32
	c.OnInterrupt = func(entries []PayloadEntry, count uint32) {
		gotEntries = append([]PayloadEntry(nil), entries...)
		gotCount = count
	}

	ev := &uapi.EventIsoInterruptMultichannel{Type: uapi.EventTypeIsoInterruptMultichannel, Completed: 37}
	buf := make([]byte, 16)
	// marshal manually; no uapi.Marshal case exists for event structs
	binaryPutEventIsoInterruptMultichannel(buf, ev)

	if err := c.HandleInterruptEvent(buf); err != nil {
		t.Fatalf("HandleInterruptEvent: %v", err)
	}

	if gotCount != 2 || len(gotEntries) != 2 {
		t.Fatalf("expected 2 entries, got %d (%v)", gotCount, gotEntries)
	}
	if gotEntries[0] != (PayloadEntry{Offset: 0, Length: 16}) {
		t.Fatalf("unexpected entry 0: %+v", gotEntries[0])
	}
	if gotEntries[1] != (PayloadEntry{Offset: 16, Length: 16}) {
		t.Fatalf("unexpected entry 1: %+v", gotEntries[1])
	}
	if c.prevOffset != 32 {
		t.Fatalf("expected prevOffset=32 (truncated suffix not consumed), got %d", c.prevOffset)
	}
}

func TestIRMultiGetPayloadWrapsThroughScratchBuffer(t *testing.T) {
	c, _ := newTestIRMultiContext(t, 32, 4, []int{5}) // ring size 128
	ring := c.base.Ring()

	first := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}    // ring[118:128]
	second := make([]byte, 30)
	for i := range second {
		second[i] = byte(100 + i)
	}
	copy(ring[118:128], first)
	copy(ring[0:30], second)

	c.eventLive = true
	c.liveEntries = []PayloadEntry{{Offset: 118, Length: 40}}

	got, err := c.GetPayload(0)
	if err != nil {
		t.Fatalf("GetPayload: %v", err)
	}
	want := append(append([]byte(nil), first...), second...)
	if !bytes.Equal(got, want) {
		t.Fatalf("expected concatenated wrap bytes %v, got %v", want, got)
	}
}

func TestIRMultiGetPayloadUnavailableOutsideCallback(t *testing.T) {
	c, _ := newTestIRMultiContext(t, 32, 4, []int{5})
	if _, err := c.GetPayload(0); err == nil {
		t.Fatal("expected GetPayload to fail when no event is live")
	}
}

func TestIRMultiDrainBatchQueuesIndependentlyOfOnInterrupt(t *testing.T) {
	c, _ := newTestIRMultiContext(t, 32, 4, []int{5}) // ring size 128
	ring := c.base.Ring()

	putPacket(ring[0:16], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	putPacket(ring[16:32], []byte{9, 10, 11, 12, 13, 14, 15, 16})

	ev := &uapi.EventIsoInterruptMultichannel{Type: uapi.EventTypeIsoInterruptMultichannel, Completed: 32}
	buf := make([]byte, 16)
	binaryPutEventIsoInterruptMultichannel(buf, ev)

	if c.PendingBatches() != 0 {
		t.Fatalf("expected no pending batches before any interrupt, got %d", c.PendingBatches())
	}
	if err := c.HandleInterruptEvent(buf); err != nil {
		t.Fatalf("HandleInterruptEvent: %v", err)
	}
	if c.PendingBatches() != 1 {
		t.Fatalf("expected 1 pending batch, got %d", c.PendingBatches())
	}

	entries, ok := c.DrainBatch()
	if !ok {
		t.Fatal("expected DrainBatch to return a batch")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in drained batch, got %d", len(entries))
	}
	if entries[0] != (PayloadEntry{Offset: 0, Length: 16}) || entries[1] != (PayloadEntry{Offset: 16, Length: 16}) {
		t.Fatalf("unexpected drained entries: %+v", entries)
	}

	if _, ok := c.DrainBatch(); ok {
		t.Fatal("expected no further batches queued")
	}
}
