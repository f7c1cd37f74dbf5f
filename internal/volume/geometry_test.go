package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hn4/internal/device"
	"github.com/deploymenttheory/go-hn4/internal/quality"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

func TestDefaultGeometryMetadataFits(t *testing.T) {
	geom, err := DefaultGeometry(512, 100_000)
	require.NoError(t, err)

	dev := device.NewMemory(geom.BlockSize, geom.TotalBlocks)
	v, err := New(dev, geom, types.DeviceTraits{}, quality.Silver, Options{})
	require.NoError(t, err)
	require.NoError(t, v.Flush(), "computed layout must leave room for every metadata area")

	assert.Less(t, geom.FluxStart, geom.HorizonStart)
	assert.Equal(t, types.Paddr(100_000), geom.HorizonEnd)
	assert.Equal(t, uint64(100_000/horizonDivisor), geom.HorizonBlocks())
}

func TestDefaultGeometryHorizonFloor(t *testing.T) {
	geom, err := DefaultGeometry(512, 1500)
	require.NoError(t, err)
	assert.Equal(t, uint64(horizonMinBlocks), geom.HorizonBlocks())
}

func TestDefaultGeometryRejectsTinyDevice(t *testing.T) {
	_, err := DefaultGeometry(512, 64)
	require.Error(t, err)
	assert.Equal(t, types.ErrGeometry, types.KindOf(err))
}

func TestDefaultGeometryRejectsOddBlockSize(t *testing.T) {
	_, err := DefaultGeometry(500, 100_000)
	require.Error(t, err)
	assert.Equal(t, types.ErrGeometry, types.KindOf(err))
}
