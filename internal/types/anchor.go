package types

// AnchorFlags is the data-class and permission bitset carried by an anchor.
type AnchorFlags uint16

const (
	// AnchorValid marks a live anchor. A zero flags field is an
	// uninitialized record, never a valid file.
	AnchorValid AnchorFlags = 1 << iota

	// AnchorTombstone marks a logically deleted anchor. Its blocks are
	// not reclaimed while any reference remains.
	AnchorTombstone

	// AnchorHorizonHint records that at least one of the file's blocks
	// lives in the Horizon ring.
	AnchorHorizonHint

	// AnchorEncrypted marks payload that is encrypted at rest. Reads
	// without the decryption capability are access-denied.
	AnchorEncrypted

	// AnchorStatic marks metadata or static system data. Allocations
	// carry IntentMetadata and never fall back to Horizon.
	AnchorStatic

	// AnchorCompressed marks compressed payload. The read pipeline never
	// self-heals compressed slots because repair cannot reconstruct the
	// compression framing.
	AnchorCompressed
)

// OrbitHint is a 2-bit cached record of which retry index last succeeded for
// a 64-block cluster. The hint is authoritative: a hinted read that fails
// validation is an error, not a cue to rescan.
type OrbitHint uint8

const (
	// HintNone means no write has populated the cluster's hint yet;
	// readers scan the full candidate order.
	HintNone OrbitHint = iota

	// HintDirect means the last successful write landed on retry 0.
	HintDirect

	// HintDeflected means the last successful write needed retry 1..12;
	// readers scan the full candidate order.
	HintDeflected

	// HintHorizon means the cluster's last write went to the Horizon
	// ring; the stored physical address is used directly.
	HintHorizon
)

// HintForRetry maps a successful allocation's retry index to the hint value
// recorded for its cluster.
func HintForRetry(k RetryIndex) OrbitHint {
	switch {
	case k == RetryHorizon:
		return HintHorizon
	case k == 0:
		return HintDirect
	default:
		return HintDeflected
	}
}

// Anchor is the per-file placement record. It is the sole input, besides the
// logical block index, that the engine needs to find a file's blocks: the
// trajectory function re-derives every candidate address from it, so no
// extent index exists or is needed for crash recovery.
type Anchor struct {
	// Gravity is the 64-bit placement seed fixed at file genesis.
	Gravity uint64

	// Orbit is the 48-bit stride seed fixed at file genesis.
	Orbit OrbitVector

	// ScaleExp is the fractal scale exponent M; the allocation stride is
	// S = 1 << ScaleExp blocks. Zero for ordinary files.
	ScaleExp uint8

	// Generation counts successful writes through this anchor. It wraps
	// at 32 bits; block validation compares only the low 32 bits.
	Generation uint32

	// Flags is the data-class and permission bitset.
	Flags AnchorFlags

	// hints is the packed per-cluster orbit hint cache, four 2-bit
	// entries per byte, grown on demand.
	hints []byte
}

// Scale returns the allocation stride S = 2^M in blocks.
func (a *Anchor) Scale() uint64 {
	return 1 << a.ScaleExp
}

// Hint returns the cached orbit hint for the cluster containing lba.
func (a *Anchor) Hint(lba Lba) OrbitHint {
	cluster := uint64(lba) / ClusterBlocks
	idx := cluster / 4
	if idx >= uint64(len(a.hints)) {
		return HintNone
	}
	shift := (cluster % 4) * 2
	return OrbitHint(a.hints[idx]>>shift) & 0x3
}

// SetHint records the orbit hint for the cluster containing lba, growing the
// cache as needed.
func (a *Anchor) SetHint(lba Lba, h OrbitHint) {
	cluster := uint64(lba) / ClusterBlocks
	idx := cluster / 4
	if idx >= uint64(len(a.hints)) {
		grown := make([]byte, idx+1)
		copy(grown, a.hints)
		a.hints = grown
	}
	shift := (cluster % 4) * 2
	a.hints[idx] = a.hints[idx]&^(0x3<<shift) | byte(h)<<shift
}

// CommitWrite folds a successful allocation back into the anchor: the
// generation advances (wrapping at 32 bits is expected, not an error) and
// the cluster's orbit hint is refreshed.
func (a *Anchor) CommitWrite(lba Lba, k RetryIndex) {
	a.Generation++
	a.SetHint(lba, HintForRetry(k))
	if k == RetryHorizon {
		a.Flags |= AnchorHorizonHint
	}
}
