package fwiso

import "github.com/ehrlich-b/go-fwiso/internal/uapi"

// align4 rounds n up to the next multiple of 4.
func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// CalcBandwidth computes the number of S400-equivalent bandwidth units a
// packet of bytesPerPayload bytes consumes at the given speed, per the
// OHCI bandwidth-allocation-unit convention: 12 bytes of 1394 packet
// overhead plus the 4-byte-aligned payload, scaled by the distance
// between speed and S400 (each speed step doubles or halves throughput).
func CalcBandwidth(bytesPerPayload uint32, speed uint32) uint32 {
	bytesPerPacket := 12 + align4(bytesPerPayload)
	if speed <= uapi.ScodeS400 {
		return bytesPerPacket << (uapi.ScodeS400 - speed)
	}
	return bytesPerPacket >> (speed - uapi.ScodeS400)
}
