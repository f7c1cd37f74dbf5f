package bitmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

func TestSummaryTracksOccupancy(t *testing.T) {
	a, _ := newTestBitmap(2048) // 4 regions

	assert.False(t, a.Summary().MaybeUsed(0))

	_, err := a.Set(700) // region 1
	require.NoError(t, err)
	assert.True(t, a.Summary().MaybeUsed(700))
	assert.True(t, a.Summary().MaybeUsed(512), "whole region shares the bit")
	assert.False(t, a.Summary().MaybeUsed(0))
	assert.False(t, a.Summary().MaybeUsed(1500))

	// Clearing the only used block in the region drops the bit.
	_, err = a.Clear(700)
	require.NoError(t, err)
	assert.False(t, a.Summary().MaybeUsed(700))
}

func TestSummaryStaysSetWhileAnyBlockUsed(t *testing.T) {
	a, _ := newTestBitmap(1024)

	_, err := a.Set(10)
	require.NoError(t, err)
	_, err = a.Set(400)
	require.NoError(t, err)

	_, err = a.Clear(10)
	require.NoError(t, err)
	assert.True(t, a.Summary().MaybeUsed(400), "region still holds a used block")

	_, err = a.Clear(400)
	require.NoError(t, err)
	assert.False(t, a.Summary().MaybeUsed(400))
}

func TestSummaryFalseClearSelfHealsOnWrite(t *testing.T) {
	a, _ := newTestBitmap(1024)

	_, err := a.Set(20)
	require.NoError(t, err)

	// Simulate a summary bit corrupted toward "clear", the unsafe
	// direction.
	a.Summary().Clear(0)
	assert.False(t, a.Summary().MaybeUsed(20))

	// Any write into the region forces the bit back, already-set region
	// or not.
	_, err = a.Set(21)
	require.NoError(t, err)
	assert.True(t, a.Summary().MaybeUsed(20))
}

func TestSummaryFalsePositiveTolerated(t *testing.T) {
	a, _ := newTestBitmap(1024)

	// A stale "set" over an empty region is never an error and never
	// cleared by reads.
	a.Summary().ForceSet(types.Paddr(0))
	assert.True(t, a.Summary().MaybeUsed(0))

	used, _, err := a.Test(0)
	require.NoError(t, err)
	assert.False(t, used)
	assert.True(t, a.Summary().MaybeUsed(0))
}

func TestSummaryNoFalseClearUnderConcurrentChurn(t *testing.T) {
	a, _ := newTestBitmap(1024)

	// Two writers cycling distinct blocks of the same region: one
	// writer's verify-empty Clear racing the other's commit must never
	// leave a used block under a clear summary bit. Once Set has
	// returned, the covering bit must be visible until the block is
	// freed again.
	var wg sync.WaitGroup
	for _, block := range []types.Paddr{10, 40} {
		wg.Add(1)
		go func(b types.Paddr) {
			defer wg.Done()
			for i := 0; i < 20000; i++ {
				if _, err := a.Set(b); err != nil {
					t.Error(err)
					return
				}
				if !a.Summary().MaybeUsed(b) {
					t.Errorf("block %d used but summary bit clear (iteration %d)", b, i)
					return
				}
				if _, err := a.Clear(b); err != nil {
					t.Error(err)
					return
				}
			}
		}(block)
	}
	wg.Wait()
}

func TestSummaryInvariantUnderChurn(t *testing.T) {
	a, _ := newTestBitmap(4096)

	for b := types.Paddr(0); b < 4096; b += 97 {
		_, err := a.Set(b)
		require.NoError(t, err)
	}
	for b := types.Paddr(0); b < 4096; b += 194 {
		_, err := a.Clear(b)
		require.NoError(t, err)
	}

	// No region with a used block may have a clear summary bit.
	for b := types.Paddr(0); b < 4096; b++ {
		used, _, err := a.Test(b)
		require.NoError(t, err)
		if used {
			assert.True(t, a.Summary().MaybeUsed(b), "false negative at block %d", b)
		}
	}
}
