package fwiso

import "github.com/ehrlich-b/go-fwiso/internal/uapi"

// Speed is an OHCI bus-speed code.
type Speed = uint32

const (
	SpeedS100  Speed = uapi.ScodeS100
	SpeedS200  Speed = uapi.ScodeS200
	SpeedS400  Speed = uapi.ScodeS400
	SpeedS800  Speed = uapi.ScodeS800
	SpeedS1600 Speed = uapi.ScodeS1600
	SpeedS3200 Speed = uapi.ScodeS3200
)

// POSIX clock ids accepted by ReadCycleTime, matching <time.h>.
const (
	ClockRealtime  uint32 = 0
	ClockMonotonic uint32 = 1
)

// CycleMatch requests a specific start cycle; nil (the zero value of
// *CycleMatch) means "start on the next available cycle".
type CycleMatch struct {
	Sec   uint8
	Cycle uint16
}

// CycleTime is the decoded result of a cycle-timer read.
type CycleTime struct {
	Sec    uint8
	Cycle  uint16
	Offset uint16
	Raw    uint32
	TvSec  int64
	TvNsec int32
}
