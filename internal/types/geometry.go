package types

import "fmt"

// Geometry describes the fixed physical layout of an HN4 volume. It is owned
// by the mount collaborator and read-only to the address-space engine.
//
// The four region boundaries partition the volume:
//
//	[0, MetaStart)            superblock quorum and epoch ring (out of scope)
//	[MetaStart, FluxStart)    armored bitmap, L2 summary, quality mask
//	[FluxStart, HorizonStart) the Flux region: ballistic address space
//	[HorizonStart, HorizonEnd) the Horizon ring: circular-log fallback
//	[HorizonEnd, TotalBlocks)  journal/chronicle (out of scope)
type Geometry struct {
	// BlockSize is the size of one physical block in bytes.
	BlockSize uint32

	// TotalBlocks is the total number of physical blocks on the device.
	TotalBlocks uint64

	// MetaStart is the first block of the engine-owned metadata region.
	MetaStart Paddr

	// FluxStart is the first allocatable block of the ballistic region.
	FluxStart Paddr

	// HorizonStart is the first block of the Horizon ring.
	HorizonStart Paddr

	// HorizonEnd is one past the last block of the Horizon ring
	// (equivalently, the first journal block).
	HorizonEnd Paddr
}

// Validate checks the geometry invariant: boundaries strictly increasing and
// inside the device. A violation is a geometry fault and is never tolerated
// silently.
func (g Geometry) Validate() error {
	if g.BlockSize == 0 {
		return fmt.Errorf("geometry: block size is zero")
	}
	if !(g.MetaStart < g.FluxStart && g.FluxStart < g.HorizonStart && g.HorizonStart < g.HorizonEnd) {
		return fmt.Errorf("geometry: region boundaries not strictly increasing: meta=%d flux=%d horizon=%d end=%d",
			g.MetaStart, g.FluxStart, g.HorizonStart, g.HorizonEnd)
	}
	if uint64(g.HorizonEnd) > g.TotalBlocks {
		return fmt.Errorf("geometry: horizon end %d beyond device capacity %d", g.HorizonEnd, g.TotalBlocks)
	}
	return nil
}

// FluxBlocks returns the number of blocks in the ballistic region.
func (g Geometry) FluxBlocks() uint64 {
	return uint64(g.HorizonStart - g.FluxStart)
}

// HorizonBlocks returns the number of blocks in the Horizon ring. The result
// may be garbage if Validate failed; callers that can see unvalidated
// geometry must use the signed difference instead.
func (g Geometry) HorizonBlocks() uint64 {
	return uint64(g.HorizonEnd - g.HorizonStart)
}
