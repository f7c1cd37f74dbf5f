package volume

import (
	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Horizon sizing for DefaultGeometry: one block in 32 goes to the ring,
// with a floor so tiny volumes still have somewhere to deflect to.
const (
	horizonDivisor   = 32
	horizonMinBlocks = 64
)

// DefaultGeometry lays out the standard on-media regions for a device of
// the given size: block 0 reserved for the platform label, metadata from
// block 1, flux after the metadata, and the horizon ring at the top of
// the device.
func DefaultGeometry(blockSize uint32, totalBlocks uint64) (types.Geometry, error) {
	if blockSize == 0 || blockSize%8 != 0 {
		return types.Geometry{}, types.NewError(types.ErrGeometry, "block size %d not a multiple of 8", blockSize)
	}

	nwords := int((totalBlocks + 63) / 64)
	regions := (totalBlocks + types.SummaryRegionBlocks - 1) / types.SummaryRegionBlocks
	nsummary := int((regions + 63) / 64)
	nquality := int((totalBlocks + 3) / 4)

	metaStart := types.Paddr(1)
	metaBlocks := types.Paddr(1) + // info record
		blocksFor(nwords*types.ArmoredWordSize, blockSize) +
		blocksFor(nsummary*8, blockSize) +
		blocksFor(nquality, blockSize)

	horizonBlocks := totalBlocks / horizonDivisor
	if horizonBlocks < horizonMinBlocks {
		horizonBlocks = horizonMinBlocks
	}

	g := types.Geometry{
		BlockSize:    blockSize,
		TotalBlocks:  totalBlocks,
		MetaStart:    metaStart,
		FluxStart:    metaStart + metaBlocks,
		HorizonStart: types.Paddr(totalBlocks - horizonBlocks),
		HorizonEnd:   types.Paddr(totalBlocks),
	}
	if horizonBlocks >= totalBlocks || g.FluxStart >= g.HorizonStart {
		return types.Geometry{}, types.NewError(types.ErrGeometry,
			"device of %d blocks too small for metadata and horizon regions", totalBlocks)
	}
	if err := g.Validate(); err != nil {
		return types.Geometry{}, types.NewError(types.ErrGeometry, "%v", err)
	}
	return g, nil
}
