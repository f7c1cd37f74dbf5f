package bitmap

import (
	"sync/atomic"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Summary is the L2 hierarchical summary: one bit per 512-block region, set
// iff at least one block in the region may be used. It is an advisory OR
// accumulator: a false "set" only costs a wasted probe, so all healing goes
// toward "set" and only a verified-empty region scan may clear a bit.
type Summary struct {
	words   []uint64
	regions uint64
}

func newSummary(blocks uint64) *Summary {
	regions := (blocks + types.SummaryRegionBlocks - 1) / types.SummaryRegionBlocks
	return &Summary{
		words:   make([]uint64, (regions+63)/64),
		regions: regions,
	}
}

// ForceSet unconditionally sets the summary bit covering block. Called on
// every free->used transition so a bit corrupted toward "clear" self-heals
// on the next write into its region.
func (s *Summary) ForceSet(block types.Paddr) {
	region := uint64(block) / types.SummaryRegionBlocks
	s.setRegion(region)
}

func (s *Summary) setRegion(region uint64) {
	if region >= s.regions {
		return
	}
	word, mask := region/64, uint64(1)<<(region%64)
	for {
		old := atomic.LoadUint64(&s.words[word])
		if old&mask != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&s.words[word], old, old|mask) {
			return
		}
	}
}

func (s *Summary) forceSetRange(startBlock, count uint64) {
	first := startBlock / types.SummaryRegionBlocks
	last := (startBlock + count - 1) / types.SummaryRegionBlocks
	for r := first; r <= last; r++ {
		s.setRegion(r)
	}
}

// Clear drops the summary bit for a region the caller has verified empty.
func (s *Summary) Clear(region uint64) {
	if region >= s.regions {
		return
	}
	word, mask := region/64, uint64(1)<<(region%64)
	for {
		old := atomic.LoadUint64(&s.words[word])
		if old&mask == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&s.words[word], old, old&^mask) {
			return
		}
	}
}

// MaybeUsed reports whether any block in the region covering block may be
// used. A false positive is possible and harmless; a false negative is
// forbidden.
func (s *Summary) MaybeUsed(block types.Paddr) bool {
	region := uint64(block) / types.SummaryRegionBlocks
	if region >= s.regions {
		return false
	}
	return atomic.LoadUint64(&s.words[region/64])&(1<<(region%64)) != 0
}

// Regions returns the number of summary bits.
func (s *Summary) Regions() uint64 { return s.regions }

// Snapshot copies the raw summary words for serialization.
func (s *Summary) Snapshot() []uint64 {
	out := make([]uint64, len(s.words))
	for i := range s.words {
		out[i] = atomic.LoadUint64(&s.words[i])
	}
	return out
}

// Restore overwrites the summary from persisted words. Bits are OR-ed with
// the current state so a summary restored alongside a live bitmap can only
// gain coverage, never lose it.
func (s *Summary) Restore(words []uint64) {
	for i := range s.words {
		if i < len(words) {
			for {
				old := atomic.LoadUint64(&s.words[i])
				if atomic.CompareAndSwapUint64(&s.words[i], old, old|words[i]) {
					break
				}
			}
		}
	}
}
