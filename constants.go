package fwiso

import "github.com/ehrlich-b/go-fwiso/internal/constants"

// Re-exported defaults for the public API.
const (
	DefaultBytesPerChunk   = constants.DefaultBytesPerChunk
	DefaultChunksPerBuffer = constants.DefaultChunksPerBuffer
	DefaultHeaderSize      = constants.DefaultHeaderSize
	IsocChannelLimit       = constants.IsocChannelLimit
	ResourceSyncTimeout    = constants.ResourceSyncTimeout
)
