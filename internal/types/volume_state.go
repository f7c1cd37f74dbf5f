package types

// VolumeFlag is one bit of the volume's runtime state bitset.
type VolumeFlag uint32

const (
	// FlagDirty marks durable state as possibly ahead of the superblock.
	// Set by any committed bitmap mutation and by every Horizon wrap.
	FlagDirty VolumeFlag = 1 << iota

	// FlagPanic latches the volume read-only after a fatal fault. The
	// volume stays mountable read-only for forensics and extraction.
	FlagPanic

	// FlagReadOnly marks a read-only mount. Self-healing writes are
	// suppressed; corrected values are reconstructed in memory only.
	FlagReadOnly

	// FlagRuntimeSaturated is the sticky saturation latch: set when
	// usage crosses the genesis threshold, cleared only when usage drops
	// below the recovery threshold.
	FlagRuntimeSaturated
)

// Saturation thresholds, in percent of used blocks over the volume's total
// block count as tracked by the allocation bitmap.
const (
	// SaturationGenesisPct redirects new-file allocations to Horizon
	// once crossed, and latches FlagRuntimeSaturated.
	SaturationGenesisPct = 90

	// SaturationHardPct redirects update allocations to Horizon as well.
	SaturationHardPct = 95

	// SaturationRecoveryPct is the hysteresis floor: the latch clears
	// only when usage falls below this.
	SaturationRecoveryPct = 85
)

// HorizonProbeCeiling bounds a single Horizon allocation attempt. The ring
// is never scanned end to end; after this many occupied probes the attempt
// reports out-of-space.
const HorizonProbeCeiling = 128

// Strictness selects the double-free policy.
type Strictness uint8

const (
	// StrictnessProduction treats a double free as a silent no-op.
	StrictnessProduction Strictness = iota

	// StrictnessAudit additionally marks the volume dirty on a double
	// free, surfacing accounting desynchronization in test fleets.
	StrictnessAudit
)
