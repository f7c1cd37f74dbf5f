package trajectory

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

func testGeometry() types.Geometry {
	return types.Geometry{
		BlockSize:    4096,
		TotalBlocks:  100000,
		MetaStart:    16,
		FluxStart:    1024,
		HorizonStart: 90000,
		HorizonEnd:   99000,
	}
}

func genericCap() types.Capability {
	return types.CapabilityFor(types.DeviceTraits{Profile: types.ProfileGeneric})
}

func TestDeterminism(t *testing.T) {
	geom := testGeometry()
	cap := genericCap()
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 1000; trial++ {
		gravity := rng.Uint64()
		orbit := types.OrbitVector(rng.Uint64())
		lba := types.Lba(rng.Uint64())
		scale := uint8(rng.Intn(6))
		k := types.RetryIndex(rng.Intn(13))

		a, okA := Block(geom, gravity, orbit, scale, lba, k, cap)
		b, okB := Block(geom, gravity, orbit, scale, lba, k, cap)
		require.Equal(t, okA, okB)
		assert.Equal(t, a, b, "trial %d", trial)
	}
}

func TestCandidatesStayInFluxRegion(t *testing.T) {
	geom := testGeometry()
	cap := genericCap()
	rng := rand.New(rand.NewSource(2))

	for trial := 0; trial < 500; trial++ {
		scale := uint8(rng.Intn(5))
		addr, ok := Block(geom, rng.Uint64(), types.OrbitVector(rng.Uint64()), scale, types.Lba(rng.Uint64()), types.RetryIndex(rng.Intn(13)), cap)
		require.True(t, ok)
		assert.GreaterOrEqual(t, addr, geom.FluxStart)
		assert.Less(t, addr, geom.HorizonStart)
		assert.Zero(t, uint64(addr-geom.FluxStart)&(1<<scale-1), "candidate not stride-aligned")
	}
}

func TestLowGravityBitsDoNotCollapse(t *testing.T) {
	geom := testGeometry()
	cap := genericCap()

	// Seeds sharing high-order bits but differing in the sub-stride
	// remainder must land on distinct slots. Correctness, not tuning:
	// collapsing them would alias unrelated files onto one address.
	const scale = 4 // S = 16
	base := uint64(0xAABB_CCDD_0000_0000)
	seen := map[types.Paddr]uint64{}
	for low := uint64(0); low < 16; low++ {
		g := base | low
		addr, ok := Block(geom, g, 0x1234_5678_9ABC, scale, 7, 0, cap)
		require.True(t, ok)
		if prev, dup := seen[addr]; dup {
			t.Fatalf("seeds %#x and %#x collapsed to address %d", prev, g, addr)
		}
		seen[addr] = g
	}
}

func TestRetryBiasSpreadsCandidates(t *testing.T) {
	geom := testGeometry()
	cap := genericCap()

	anchor := &types.Anchor{Gravity: 12345, Orbit: 0x0BAD_CAFE_F00D}
	cands := Candidates(geom, anchor, 3, cap)
	require.Len(t, cands, 13)

	distinct := map[types.Paddr]bool{}
	for _, c := range cands {
		distinct[c] = true
	}
	assert.Greater(t, len(distinct), 10, "retries should mostly decorrelate")
}

func TestGravityAssistChangesTrajectory(t *testing.T) {
	geom := testGeometry()
	cap := genericCap()

	// Retry 4 remixes the orbit vector; its candidate must not be the
	// plain retry-0 offset plus four bias steps.
	g, v := uint64(99), types.OrbitVector(0x1111_2222_3333)
	diverged := false
	for lba := types.Lba(100); lba < 132; lba++ {
		k3, ok := Block(geom, g, v, 0, lba, 3, cap)
		require.True(t, ok)
		k4, ok := Block(geom, g, v, 0, lba, 4, cap)
		require.True(t, ok)
		if k3 != k4 {
			diverged = true
		}
	}
	assert.True(t, diverged, "gravity assist never changed any trajectory")
}

func TestRotationalDamping(t *testing.T) {
	geom := testGeometry()
	rotCap := types.CapabilityFor(types.DeviceTraits{Rotational: true, Profile: types.ProfileGeneric})
	require.Equal(t, types.RetryIndex(0), rotCap.MaxRetry)
	require.False(t, rotCap.BiasEnabled)

	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 300; trial++ {
		g := rng.Uint64()
		v := types.OrbitVector(rng.Uint64())
		lba := types.Lba(rng.Uint64())

		for k := types.RetryIndex(1); k <= 12; k++ {
			a, _ := Block(geom, g, v, 0, lba, 0, rotCap)
			b, _ := Block(geom, g, v, 0, lba, k, rotCap)
			assert.Equal(t, a, b, "theta term must be structurally zero on rotational media")
		}
	}
}

func TestPicoProfileDampsRetries(t *testing.T) {
	cap := types.CapabilityFor(types.DeviceTraits{Profile: types.ProfilePico})
	assert.Equal(t, types.RetryIndex(0), cap.MaxRetry)
	assert.False(t, cap.BiasEnabled)

	geom := testGeometry()
	a, _ := Block(geom, 42, 42, 0, 42, 0, cap)
	b, _ := Block(geom, 42, 42, 0, 42, 9, cap)
	assert.Equal(t, a, b)
}

func TestDegenerateScaleHasNoCandidates(t *testing.T) {
	geom := testGeometry()
	cap := genericCap()

	// A stride wider than the whole Flux region yields no slots.
	_, ok := Block(geom, 1, 1, 40, 0, 0, cap)
	assert.False(t, ok)

	anchor := &types.Anchor{Gravity: 1, Orbit: 1, ScaleExp: 40}
	assert.Nil(t, Candidates(geom, anchor, 0, cap))
}

func TestLargeVolumeNoOverflow(t *testing.T) {
	// Near-2^63-block geometry: the mod-multiply must go through the
	// 128-bit intermediate and stay in range.
	geom := types.Geometry{
		BlockSize:    4096,
		TotalBlocks:  1 << 62,
		MetaStart:    1,
		FluxStart:    2,
		HorizonStart: 1<<62 - 1000,
		HorizonEnd:   1 << 62,
	}
	cap := genericCap()

	addr, ok := Block(geom, ^uint64(0), types.OrbitVector(^uint64(0)), 0, types.Lba(^uint64(0)), 12, cap)
	require.True(t, ok)
	assert.GreaterOrEqual(t, addr, geom.FluxStart)
	assert.Less(t, addr, geom.HorizonStart)
}
