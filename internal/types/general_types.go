package types

// Paddr is a physical block address on the volume.
// Block addresses are unsigned; the engine never produces negative addresses
// and treats any address outside the volume geometry as a fault.
type Paddr uint64

// Lba is a logical block index within a single file or record,
// counted from zero at the file's first block.
type Lba uint64

// OrbitVector is the per-file stride seed used by the trajectory function.
// Only the low 48 bits are significant; the upper 16 bits are reserved and
// masked off before use.
type OrbitVector uint64

// OrbitVectorMask isolates the significant bits of an orbit vector.
const OrbitVectorMask OrbitVector = (1 << 48) - 1

// RetryIndex identifies which trajectory candidate satisfied an allocation.
// Values 0 through MaxBallisticRetry are ballistic candidates; RetryHorizon
// is a reserved sentinel meaning the block lives in the Horizon ring and its
// address must be taken from the stored physical address, never re-derived.
type RetryIndex uint8

const (
	// MaxBallisticRetry is the highest trajectory retry index for
	// general random-access media (13 candidates, 0 through 12).
	MaxBallisticRetry RetryIndex = 12

	// RetryHorizon marks an allocation that was redirected to the
	// Horizon ring allocator. The trajectory function must not be
	// consulted for such blocks.
	RetryHorizon RetryIndex = 15

	// GravityAssistThreshold is the retry index at and above which the
	// orbit vector is re-mixed before computing the trajectory.
	GravityAssistThreshold RetryIndex = 4
)

const (
	// ClusterBlocks is the number of logical blocks covered by one
	// orbit-hint cache entry.
	ClusterBlocks = 64

	// SummaryRegionBlocks is the number of physical blocks summarized
	// by one L2 hierarchical summary bit.
	SummaryRegionBlocks = 512
)

// AllocIntent classifies what an allocation will hold. The quality mask and
// the saturation policy both branch on it.
type AllocIntent uint8

const (
	// IntentUserData is ordinary file payload. Bronze media or better.
	IntentUserData AllocIntent = iota

	// IntentMetadata is filesystem metadata or static system data.
	// Requires Silver media or better and never falls back to Horizon.
	IntentMetadata
)

// OpClass distinguishes new-file allocations from updates to existing files.
// The saturation policy sheds genesis load to Horizon earlier than updates.
type OpClass uint8

const (
	// OpGenesis is an allocation for a brand-new file or record.
	OpGenesis OpClass = iota

	// OpUpdate is an allocation replacing or extending an existing file.
	OpUpdate
)
