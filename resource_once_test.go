package fwiso

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ehrlich-b/go-fwiso/internal/ctxstate"
	"github.com/ehrlich-b/go-fwiso/internal/uapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalEventIsoResource(eventType uint32, channel int32, bandwidth int32) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[8:12], eventType)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(channel))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(bandwidth))
	return buf
}

func TestResourceOnceAllocateAsyncIssuesIoctl(t *testing.T) {
	stub := ctxstate.NewStubDoer()
	r := NewResourceOnce(stub)
	require.NoError(t, r.Open("/dev/fw0", 0))

	require.NoError(t, r.AllocateOnceAsync([]int{3, 70}, 16))
	require.Len(t, stub.Calls, 1)
	assert.Equal(t, uapi.IocAllocateIsoResourceOnce, stub.Calls[0].Req)

	var req uapi.AllocateIsoResource
	require.NoError(t, uapi.Unmarshal(stub.Calls[0].Buf, &req))
	assert.EqualValues(t, 1<<3, req.Channels, "expected channel candidate 70 dropped")
}

func TestResourceOnceSyncResolvesOnEvent(t *testing.T) {
	stub := ctxstate.NewStubDoer()
	r := NewResourceOnce(stub)
	require.NoError(t, r.Open("/dev/fw0", 0))

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.HandleEvent(marshalEventIsoResource(uapi.EventTypeIsoResourceAllocated, 3, 16))
	}()

	res, err := r.AllocateOnceSync([]int{3}, 16, OnceSyncTimeout)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Channel)
	assert.EqualValues(t, 16, res.Bandwidth)
}

func TestResourceOnceSyncTimesOut(t *testing.T) {
	stub := ctxstate.NewStubDoer()
	r := NewResourceOnce(stub)
	require.NoError(t, r.Open("/dev/fw0", 0))

	_, err := r.AllocateOnceSync([]int{3}, 16, 5*time.Millisecond)
	assert.True(t, IsKind(err, KindTimeout), "expected KindTimeout, got %v", err)
}

func TestResourceOnceSyncSurfacesKernelError(t *testing.T) {
	stub := ctxstate.NewStubDoer()
	r := NewResourceOnce(stub)
	require.NoError(t, r.Open("/dev/fw0", 0))

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.HandleEvent(marshalEventIsoResource(uapi.EventTypeIsoResourceAllocated, -1, 0))
	}()

	_, err := r.AllocateOnceSync([]int{3}, 16, OnceSyncTimeout)
	assert.True(t, IsKind(err, KindEvent), "expected KindEvent, got %v", err)
}
