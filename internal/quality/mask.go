// Package quality implements the 2-bit-per-block media quality mask. The
// mask is written at format time from media scan results and is read-only
// to the allocator; it is independent of bitmap occupancy.
package quality

import (
	"github.com/deploymenttheory/go-hn4/internal/interfaces"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Tier is a block's media quality grade.
type Tier uint8

const (
	// Toxic blocks failed the media scan and are never allocated.
	Toxic Tier = iota

	// Bronze blocks are serviceable for ordinary user data only.
	Bronze

	// Silver blocks are trusted for any intent.
	Silver

	// Gold blocks are the most reliable media; preferred for metadata.
	Gold
)

var tierNames = [...]string{"toxic", "bronze", "silver", "gold"}

func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "unknown"
}

// Compliance is the verdict of a quality check.
type Compliance uint8

const (
	// Compliant means the block's tier is acceptable for the intent.
	Compliant Compliance = iota

	// Rejected means the tier is too low for the intent (or Toxic,
	// which no intent accepts).
	Rejected

	// OutOfBounds means the index is outside the mask. This is a fatal
	// geometry inconsistency, never a benign skip.
	OutOfBounds
)

// Mask holds one 2-bit tier per physical block, four per byte, LSB first.
type Mask struct {
	entries []byte
	blocks  uint64
	state   interfaces.VolumeState
}

// New builds a mask of the given size with every block at the default tier.
func New(blocks uint64, def Tier, state interfaces.VolumeState) *Mask {
	m := &Mask{
		entries: make([]byte, (blocks+3)/4),
		blocks:  blocks,
		state:   state,
	}
	pattern := byte(def) | byte(def)<<2 | byte(def)<<4 | byte(def)<<6
	for i := range m.entries {
		m.entries[i] = pattern
	}
	return m
}

// Restore rebuilds a mask from its persisted bytes.
func Restore(blocks uint64, entries []byte, state interfaces.VolumeState) *Mask {
	m := New(blocks, Toxic, state)
	copy(m.entries, entries)
	return m
}

// TierOf returns the stored tier for a block. The caller must have bounds-
// checked the address; out-of-range reads return Toxic.
func (m *Mask) TierOf(block types.Paddr) Tier {
	if uint64(block) >= m.blocks {
		return Toxic
	}
	shift := (block % 4) * 2
	return Tier(m.entries[block/4]>>shift) & 0x3
}

// SetTier records a block's tier. Format-time only; the allocator never
// writes the mask.
func (m *Mask) SetTier(block types.Paddr, t Tier) {
	if uint64(block) >= m.blocks {
		return
	}
	shift := (block % 4) * 2
	m.entries[block/4] = m.entries[block/4]&^(0x3<<shift) | byte(t)<<shift
}

// Check grades a candidate block against an allocation intent. An index
// outside the mask latches the volume: a trajectory that escaped the
// addressable range means the geometry itself cannot be trusted.
func (m *Mask) Check(block types.Paddr, intent types.AllocIntent) (Compliance, error) {
	if uint64(block) >= m.blocks {
		m.state.LatchPanic("quality mask access out of bounds")
		return OutOfBounds, types.NewError(types.ErrGeometry, "block %d outside quality mask of %d blocks", block, m.blocks)
	}

	tier := m.TierOf(block)
	switch {
	case tier == Toxic:
		return Rejected, nil
	case tier == Bronze && intent == types.IntentMetadata:
		// Metadata must land on Silver or better.
		return Rejected, nil
	default:
		return Compliant, nil
	}
}

// Snapshot copies the raw mask bytes for serialization.
func (m *Mask) Snapshot() []byte {
	out := make([]byte, len(m.entries))
	copy(out, m.entries)
	return out
}

// Blocks returns the number of blocks the mask covers.
func (m *Mask) Blocks() uint64 { return m.blocks }
