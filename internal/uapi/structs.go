package uapi

import "unsafe"

// GetInfo negotiates the ABI version and retrieves the config ROM length.
//
//	struct fw_cdev_get_info {
//	  __u32 version;
//	  __u32 rom_length;
//	  __u64 rom;
//	  __u64 bus_reset;
//	  __u64 bus_reset_closure;
//	  __u32 card;
//	  __u32 pad;
//	};
type GetInfo struct {
	Version         uint32
	RomLength       uint32
	Rom             uint64
	BusReset        uint64
	BusResetClosure uint64
	Card            uint32
	Pad             uint32
}

var _ [40]byte = [unsafe.Sizeof(GetInfo{})]byte{}

// CreateIsoContext requests a new isochronous context of the given type.
//
//	struct fw_cdev_create_iso_context {
//	  __u32 type;
//	  __u32 header_size;
//	  __u32 channel;
//	  __u32 speed;
//	  __u32 cycle_match_enable;
//	  __u32 handle;
//	};
type CreateIsoContext struct {
	Type             uint32
	HeaderSize       uint32
	Channel          uint32
	Speed            uint32
	CycleMatchEnable uint32
	Handle           uint32
}

var _ [24]byte = [unsafe.Sizeof(CreateIsoContext{})]byte{}

// IsoPacket is one descriptor in the staging area handed to QUEUE_ISO.
// Control-word bit layout (per fw_cdev_iso_packet.control):
//
//	bit 0:       skip
//	bits 1-2:    tag
//	bits 3-6:    sy
//	bits 7-15:   header_length
//	bit 16:      interrupt
//	bit 17:      sync (IR)
//	bits 18-31:  payload_length
type IsoPacket struct {
	Control uint32
	// Header follows inline in the real struct as a flexible array member;
	// represented here as the fixed maximum per-packet header the core
	// ever writes (four quadlets), with HeaderLength bounding how many are
	// meaningful.
	Header [4]uint32
}

// QueueIso submits one contiguous run of staged descriptors.
//
//	struct fw_cdev_queue_iso {
//	  __u64 packets;
//	  __u64 data;
//	  __u32 size;
//	  __u32 handle;
//	};
type QueueIso struct {
	Packets uint64
	Data    uint64
	Size    uint32
	Handle  uint32
}

var _ [24]byte = [unsafe.Sizeof(QueueIso{})]byte{}

// StartIso begins processing a context at an optional cycle match.
//
//	struct fw_cdev_start_iso {
//	  __s32 cycle;
//	  __u32 sync;
//	  __u32 tags;
//	  __u32 handle;
//	};
type StartIso struct {
	Cycle  int32
	Sync   uint32
	Tags   uint32
	Handle uint32
}

var _ [16]byte = [unsafe.Sizeof(StartIso{})]byte{}

// StopIso halts a running context.
//
//	struct fw_cdev_stop_iso {
//	  __u32 handle;
//	};
type StopIso struct {
	Handle uint32
}

var _ [4]byte = [unsafe.Sizeof(StopIso{})]byte{}

// SetIsoChannels sets the channel bitmask for an IR-multi context.
//
//	struct fw_cdev_set_iso_channels {
//	  __u64 channels;
//	  __u32 handle;
//	};
type SetIsoChannels struct {
	Channels uint64
	Handle   uint32
	_        uint32 // padding to 8-byte alignment
}

var _ [16]byte = [unsafe.Sizeof(SetIsoChannels{})]byte{}

// GetCycleTimer2 reads the OHCI cycle timer alongside a kernel timestamp
// taken against a caller-chosen POSIX clock id.
//
//	struct fw_cdev_get_cycle_timer2 {
//	  __s64 tv_sec;
//	  __s32 tv_nsec;
//	  __u32 clk_id;
//	  __u32 cycle_timer;
//	};
type GetCycleTimer2 struct {
	TvSec      int64
	TvNsec     int32
	ClkID      uint32
	CycleTimer uint32
	_          uint32 // padding to 24 bytes
}

var _ [24]byte = [unsafe.Sizeof(GetCycleTimer2{})]byte{}

// FlushIso forces emission of any pending interrupt event.
//
//	struct fw_cdev_flush_iso {
//	  __u32 handle;
//	};
type FlushIso struct {
	Handle uint32
}

var _ [4]byte = [unsafe.Sizeof(FlushIso{})]byte{}

// AllocateIsoResource requests channel+bandwidth, shared by both the
// once and auto resource families (they differ only in which ioctl number
// is issued).
//
//	struct fw_cdev_allocate_iso_resource {
//	  __u64 channels;
//	  __u32 bandwidth;
//	  __u32 handle;
//	};
type AllocateIsoResource struct {
	Channels  uint64
	Bandwidth uint32
	Handle    uint32
}

var _ [16]byte = [unsafe.Sizeof(AllocateIsoResource{})]byte{}

// DeallocateIsoResource releases a channel+bandwidth reservation
// previously granted under Handle.
//
//	struct fw_cdev_deallocate {
//	  __u32 handle;
//	};
type DeallocateIsoResource struct {
	Handle uint32
}

var _ [4]byte = [unsafe.Sizeof(DeallocateIsoResource{})]byte{}

// EventIsoInterrupt is delivered for IT and IR-single contexts.
//
//	struct fw_cdev_event_iso_interrupt {
//	  __u64 closure;
//	  __u32 type;
//	  __u32 cycle;
//	  __u32 header_length;
//	  __u32 header[0];
//	};
type EventIsoInterrupt struct {
	Closure      uint64
	Type         uint32
	Cycle        uint32
	HeaderLength uint32
	// Header bytes follow inline; read separately from the scratch buffer.
}

// Go pads the struct to 24 bytes; on the wire the header bytes begin at
// offset 20, right after HeaderLength.
var _ [24]byte = [unsafe.Sizeof(EventIsoInterrupt{})]byte{}

// EventIsoInterruptMultichannel is delivered for IR-multi contexts.
//
//	struct fw_cdev_event_iso_interrupt_mc {
//	  __u64 closure;
//	  __u32 type;
//	  __u32 completed;
//	};
type EventIsoInterruptMultichannel struct {
	Closure   uint64
	Type      uint32
	Completed uint32
}

var _ [16]byte = [unsafe.Sizeof(EventIsoInterruptMultichannel{})]byte{}

// EventIsoResource is delivered for ALLOCATED/DEALLOCATED events.
//
//	struct fw_cdev_event_iso_resource {
//	  __u64 closure;
//	  __u32 type;
//	  __u32 handle;
//	  __s32 channel;
//	  __s32 bandwidth;
//	};
type EventIsoResource struct {
	Closure   uint64
	Type      uint32
	Handle    uint32
	Channel   int32
	Bandwidth int32
}

var _ [24]byte = [unsafe.Sizeof(EventIsoResource{})]byte{}

// DevicePath returns the path to the character device for the given card
// index (e.g. DevicePath(0) == "/dev/fw0").
func DevicePath(card int) string {
	return DevicePathPrefix + itoa(card)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
