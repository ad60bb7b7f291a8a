// Package interfaces provides internal interface definitions for go-fwiso.
// These are separate from the public interfaces to avoid circular imports
// between the root package and internal packages.
package interfaces

// Logger is the subset of logging behavior internal packages depend on.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives notifications about packet and interrupt activity.
// Implementations must be safe to call from the dispatch loop.
type Observer interface {
	ObserveQueued(bytes uint64, packets uint32)
	ObserveInterrupt(batchPackets uint32, latencyNs uint64)
	ObserveDropped(reason string)
}
