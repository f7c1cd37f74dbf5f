package interfaces

// VolumeState is the slice of volume-level state the address-space engine
// reads and updates. The volume implementation owns the flag word; engine
// components only signal transitions through it.
type VolumeState interface {
	// MarkDirty records that durable state may be ahead of the
	// superblock.
	MarkDirty()

	// LatchPanic latches the volume read-only after a fatal fault.
	// Latching is one-way; only a remount clears it.
	LatchPanic(detail string)

	// Panicked reports whether the panic latch is set.
	Panicked() bool

	// ReadOnly reports whether mutations are forbidden, either by mount
	// option or by the panic latch.
	ReadOnly() bool
}
