package interfaces

import "github.com/deploymenttheory/go-hn4/internal/types"

// BlockDeviceReader provides block-granular reads of raw bytes. The engine
// treats it as reliable but fallible: a read may succeed yet return the DMA
// poison pattern, which the engine rather than the device layer must detect.
type BlockDeviceReader interface {
	// ReadBlock reads a single block at the specified address.
	ReadBlock(address types.Paddr) ([]byte, error)

	// BlockSize returns the size of a single block in bytes.
	BlockSize() uint32

	// TotalBlocks returns the total number of blocks on the device.
	TotalBlocks() uint64

	// IsValidAddress checks if a block address is valid.
	IsValidAddress(address types.Paddr) bool
}

// BlockDeviceWriter provides block-granular writes.
type BlockDeviceWriter interface {
	// WriteBlock writes a single block at the specified address.
	WriteBlock(address types.Paddr, data []byte) error

	// FlushWrites ensures all pending writes are committed to storage.
	FlushWrites() error

	// IsReadOnly checks if the device is read-only.
	IsReadOnly() bool
}

// BlockDevice combines read and write access to one device.
type BlockDevice interface {
	BlockDeviceReader
	BlockDeviceWriter
}
