package uapi

import "encoding/binary"

// MarshalError is returned by Unmarshal when the input is too short.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const ErrInsufficientData MarshalError = "insufficient data for unmarshaling"

// Marshal converts a struct to the bytes the kernel expects for its ioctl
// argument, in native (little-endian, on every platform this core targets)
// byte order.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *CreateIsoContext:
		return marshalCreateIsoContext(val)
	case *QueueIso:
		return marshalQueueIso(val)
	case *StartIso:
		return marshalStartIso(val)
	case *StopIso:
		return marshalStopIso(val)
	case *SetIsoChannels:
		return marshalSetIsoChannels(val)
	case *GetCycleTimer2:
		return marshalGetCycleTimer2(val)
	case *FlushIso:
		return marshalFlushIso(val)
	case *AllocateIsoResource:
		return marshalAllocateIsoResource(val)
	case *DeallocateIsoResource:
		return marshalDeallocateIsoResource(val)
	case *GetInfo:
		return marshalGetInfo(val)
	default:
		return nil
	}
}

// Unmarshal fills v from data in native byte order.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *CreateIsoContext:
		return unmarshalCreateIsoContext(data, val)
	case *GetCycleTimer2:
		return unmarshalGetCycleTimer2(data, val)
	case *AllocateIsoResource:
		return unmarshalAllocateIsoResource(data, val)
	case *DeallocateIsoResource:
		return unmarshalDeallocateIsoResource(data, val)
	case *GetInfo:
		return unmarshalGetInfo(data, val)
	case *SetIsoChannels:
		return unmarshalSetIsoChannels(data, val)
	case *EventIsoInterrupt:
		return unmarshalEventIsoInterrupt(data, val)
	case *EventIsoInterruptMultichannel:
		return unmarshalEventIsoInterruptMultichannel(data, val)
	case *EventIsoResource:
		return unmarshalEventIsoResource(data, val)
	default:
		return ErrInsufficientData
	}
}

func marshalGetInfo(v *GetInfo) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:4], v.Version)
	binary.LittleEndian.PutUint32(buf[4:8], v.RomLength)
	binary.LittleEndian.PutUint64(buf[8:16], v.Rom)
	binary.LittleEndian.PutUint64(buf[16:24], v.BusReset)
	binary.LittleEndian.PutUint64(buf[24:32], v.BusResetClosure)
	binary.LittleEndian.PutUint32(buf[32:36], v.Card)
	return buf
}

func unmarshalGetInfo(data []byte, v *GetInfo) error {
	if len(data) < 28 {
		return ErrInsufficientData
	}
	v.Version = binary.LittleEndian.Uint32(data[0:4])
	v.RomLength = binary.LittleEndian.Uint32(data[4:8])
	v.Rom = binary.LittleEndian.Uint64(data[8:16])
	v.BusReset = binary.LittleEndian.Uint64(data[16:24])
	if len(data) >= 36 {
		v.BusResetClosure = binary.LittleEndian.Uint64(data[24:32])
		v.Card = binary.LittleEndian.Uint32(data[32:36])
	}
	return nil
}

func marshalCreateIsoContext(v *CreateIsoContext) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], v.Type)
	binary.LittleEndian.PutUint32(buf[4:8], v.HeaderSize)
	binary.LittleEndian.PutUint32(buf[8:12], v.Channel)
	binary.LittleEndian.PutUint32(buf[12:16], v.Speed)
	binary.LittleEndian.PutUint32(buf[16:20], v.CycleMatchEnable)
	binary.LittleEndian.PutUint32(buf[20:24], v.Handle)
	return buf
}

func unmarshalCreateIsoContext(data []byte, v *CreateIsoContext) error {
	if len(data) < 24 {
		return ErrInsufficientData
	}
	v.Type = binary.LittleEndian.Uint32(data[0:4])
	v.HeaderSize = binary.LittleEndian.Uint32(data[4:8])
	v.Channel = binary.LittleEndian.Uint32(data[8:12])
	v.Speed = binary.LittleEndian.Uint32(data[12:16])
	v.CycleMatchEnable = binary.LittleEndian.Uint32(data[16:20])
	v.Handle = binary.LittleEndian.Uint32(data[20:24])
	return nil
}

func marshalQueueIso(v *QueueIso) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], v.Packets)
	binary.LittleEndian.PutUint64(buf[8:16], v.Data)
	binary.LittleEndian.PutUint32(buf[16:20], v.Size)
	binary.LittleEndian.PutUint32(buf[20:24], v.Handle)
	return buf
}

func marshalStartIso(v *StartIso) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Cycle))
	binary.LittleEndian.PutUint32(buf[4:8], v.Sync)
	binary.LittleEndian.PutUint32(buf[8:12], v.Tags)
	binary.LittleEndian.PutUint32(buf[12:16], v.Handle)
	return buf
}

func marshalStopIso(v *StopIso) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], v.Handle)
	return buf
}

func marshalSetIsoChannels(v *SetIsoChannels) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], v.Channels)
	binary.LittleEndian.PutUint32(buf[8:12], v.Handle)
	return buf
}

func unmarshalSetIsoChannels(data []byte, v *SetIsoChannels) error {
	if len(data) < 12 {
		return ErrInsufficientData
	}
	v.Channels = binary.LittleEndian.Uint64(data[0:8])
	v.Handle = binary.LittleEndian.Uint32(data[8:12])
	return nil
}

func marshalGetCycleTimer2(v *GetCycleTimer2) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(v.TvSec))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(v.TvNsec))
	binary.LittleEndian.PutUint32(buf[12:16], v.ClkID)
	binary.LittleEndian.PutUint32(buf[16:20], v.CycleTimer)
	return buf
}

func unmarshalGetCycleTimer2(data []byte, v *GetCycleTimer2) error {
	if len(data) < 20 {
		return ErrInsufficientData
	}
	v.TvSec = int64(binary.LittleEndian.Uint64(data[0:8]))
	v.TvNsec = int32(binary.LittleEndian.Uint32(data[8:12]))
	v.ClkID = binary.LittleEndian.Uint32(data[12:16])
	v.CycleTimer = binary.LittleEndian.Uint32(data[16:20])
	return nil
}

func marshalFlushIso(v *FlushIso) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], v.Handle)
	return buf
}

func marshalAllocateIsoResource(v *AllocateIsoResource) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], v.Channels)
	binary.LittleEndian.PutUint32(buf[8:12], v.Bandwidth)
	binary.LittleEndian.PutUint32(buf[12:16], v.Handle)
	return buf
}

func unmarshalAllocateIsoResource(data []byte, v *AllocateIsoResource) error {
	if len(data) < 16 {
		return ErrInsufficientData
	}
	v.Channels = binary.LittleEndian.Uint64(data[0:8])
	v.Bandwidth = binary.LittleEndian.Uint32(data[8:12])
	v.Handle = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

func marshalDeallocateIsoResource(v *DeallocateIsoResource) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], v.Handle)
	return buf
}

func unmarshalDeallocateIsoResource(data []byte, v *DeallocateIsoResource) error {
	if len(data) < 4 {
		return ErrInsufficientData
	}
	v.Handle = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

func unmarshalEventIsoInterrupt(data []byte, v *EventIsoInterrupt) error {
	if len(data) < 20 {
		return ErrInsufficientData
	}
	v.Closure = binary.LittleEndian.Uint64(data[0:8])
	v.Type = binary.LittleEndian.Uint32(data[8:12])
	v.Cycle = binary.LittleEndian.Uint32(data[12:16])
	v.HeaderLength = binary.LittleEndian.Uint32(data[16:20])
	return nil
}

func unmarshalEventIsoInterruptMultichannel(data []byte, v *EventIsoInterruptMultichannel) error {
	if len(data) < 16 {
		return ErrInsufficientData
	}
	v.Closure = binary.LittleEndian.Uint64(data[0:8])
	v.Type = binary.LittleEndian.Uint32(data[8:12])
	v.Completed = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

func unmarshalEventIsoResource(data []byte, v *EventIsoResource) error {
	if len(data) < 24 {
		return ErrInsufficientData
	}
	v.Closure = binary.LittleEndian.Uint64(data[0:8])
	v.Type = binary.LittleEndian.Uint32(data[8:12])
	v.Handle = binary.LittleEndian.Uint32(data[12:16])
	v.Channel = int32(binary.LittleEndian.Uint32(data[16:20]))
	v.Bandwidth = int32(binary.LittleEndian.Uint32(data[20:24]))
	return nil
}

// EventTypeOf peeks the event type field shared by every event union
// variant without knowing which variant it is yet (type is always the
// third uint32 at byte offset 8, following the 8-byte closure).
func EventTypeOf(data []byte) (uint32, error) {
	if len(data) < 12 {
		return 0, ErrInsufficientData
	}
	return binary.LittleEndian.Uint32(data[8:12]), nil
}
