// Package bitmap implements the ECC-armored allocation bitmap and its L2
// hierarchical summary. One bit per physical block, one Hamming SEC-DED
// check byte per 64-bit word. Single-bit faults self-heal transparently;
// double-bit faults latch the volume read-only, because mutating a bitmap
// that has proven unreliable risks silent data loss.
package bitmap

import (
	"sync"
	"sync/atomic"

	"github.com/deploymenttheory/go-hn4/internal/ecc"
	"github.com/deploymenttheory/go-hn4/internal/interfaces"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

const lockShards = 64

// OpResult reports what one bitmap operation did. Changed tracks the
// logical bit transition; Healed tracks physical repair. The two are
// independent: an idempotent Set on an already-set bit that also fixes a
// flipped check bit reports Healed without Changed.
type OpResult struct {
	Changed bool
	Healed  bool
}

// Armored is the allocation bitmap for one volume. All word mutation runs
// under per-word shard locks, which serialize concurrent claimants of the
// same block; the used and heal counters are independent atomics updated
// after the word commits.
type Armored struct {
	words  []uint64
	check  []uint8
	blocks uint64

	locks [lockShards]sync.Mutex

	// sumLocks serialize summary transitions per region: the verify-empty
	// scan plus Clear must not interleave with a concurrent ForceSet, or a
	// just-committed block could end up under a clear summary bit.
	sumLocks [lockShards]sync.Mutex

	used  atomic.Uint64
	heals atomic.Uint64

	strict  types.Strictness
	state   interfaces.VolumeState
	summary *Summary
}

// New builds an all-free bitmap covering blocks physical blocks.
func New(blocks uint64, strict types.Strictness, state interfaces.VolumeState) *Armored {
	nwords := (blocks + 63) / 64
	a := &Armored{
		words:   make([]uint64, nwords),
		check:   make([]uint8, nwords),
		blocks:  blocks,
		strict:  strict,
		state:   state,
		summary: newSummary(blocks),
	}
	zeroCheck := ecc.Encode(0)
	for i := range a.check {
		a.check[i] = zeroCheck
	}
	return a
}

// Restore rebuilds a bitmap from persisted armored words. Word integrity is
// not verified here; each word is verified (and healed) lazily on first
// access, so a cold restore does not pay a full-volume ECC sweep. The used
// counter is recomputed from the raw population count.
func Restore(blocks uint64, words []uint64, check []uint8, strict types.Strictness, state interfaces.VolumeState) *Armored {
	a := New(blocks, strict, state)
	copy(a.words, words)
	copy(a.check, check)
	var used uint64
	for i, w := range a.words {
		used += uint64(popcount(w))
		if w != 0 {
			a.summary.forceSetRange(uint64(i)*64, 64)
		}
	}
	a.used.Store(used)
	return a
}

func popcount(w uint64) int {
	n := 0
	for ; w != 0; w &= w - 1 {
		n++
	}
	return n
}

func (a *Armored) lockFor(word uint64) *sync.Mutex {
	return &a.locks[word%lockShards]
}

func (a *Armored) summaryLockFor(region uint64) *sync.Mutex {
	return &a.sumLocks[region%lockShards]
}

// loadVerified loads the armored word under the caller-held shard lock,
// corrects a single-bit fault in place, and reports whether a heal
// happened. An uncorrectable word latches the volume and fails the
// operation: correctness over availability.
//
// The writeBack flag suppresses the repair store for read-only callers;
// they still receive the reconstructed logical value.
func (a *Armored) loadVerified(word uint64, writeBack bool) (uint64, bool, error) {
	data, check, status := ecc.Decode(a.words[word], a.check[word])
	switch status {
	case ecc.Clean:
		return data, false, nil
	case ecc.HealedData, ecc.HealedCheck:
		if writeBack {
			a.words[word] = data
			a.check[word] = check
		}
		a.heals.Add(1)
		return data, true, nil
	default:
		a.state.LatchPanic("uncorrectable armored word")
		return 0, false, types.NewError(types.ErrCorruption, "armored word %d failed double-error detect", word)
	}
}

// Test reports whether a block is used. With allowHeal, a correctable fault
// found on the way is repaired in place (unless the volume is read-only, in
// which case the corrected value is reconstructed for the caller only).
func (a *Armored) Test(block types.Paddr) (bool, OpResult, error) {
	return a.test(block, true)
}

// TestReadOnly is Test for paths that hold no self-heal permission.
func (a *Armored) TestReadOnly(block types.Paddr) (bool, OpResult, error) {
	return a.test(block, false)
}

func (a *Armored) test(block types.Paddr, allowHeal bool) (bool, OpResult, error) {
	word, bit, err := a.locate(block)
	if err != nil {
		return false, OpResult{}, err
	}
	mu := a.lockFor(word)
	mu.Lock()
	defer mu.Unlock()

	writeBack := allowHeal && !a.state.ReadOnly()
	data, healed, err := a.loadVerified(word, writeBack)
	if err != nil {
		return false, OpResult{}, err
	}
	return data&(1<<bit) != 0, OpResult{Healed: healed}, nil
}

// Set claims a block. Exactly one of N concurrent claimants of the same
// block observes Changed; the rest see an idempotent no-op. A logical
// transition marks the volume dirty and forces the covering L2 summary bit.
func (a *Armored) Set(block types.Paddr) (OpResult, error) {
	word, bit, err := a.locate(block)
	if err != nil {
		return OpResult{}, err
	}
	if a.state.ReadOnly() {
		return OpResult{}, types.NewError(types.ErrReadOnly, "set on read-only volume")
	}

	mu := a.lockFor(word)
	mu.Lock()
	data, healed, err := a.loadVerified(word, true)
	if err != nil {
		mu.Unlock()
		return OpResult{}, err
	}
	mask := uint64(1) << bit
	if data&mask != 0 {
		mu.Unlock()
		return OpResult{Healed: healed}, nil
	}
	data |= mask
	a.words[word] = data
	a.check[word] = ecc.Encode(data)
	mu.Unlock()

	a.used.Add(1)
	a.state.MarkDirty()
	// Unconditional: a summary bit corrupted toward "clear" self-heals on
	// any write into its region. Taken under the region summary lock so it
	// cannot lose to an in-flight verify-empty Clear that scanned before
	// this word committed.
	region := uint64(block) / types.SummaryRegionBlocks
	smu := a.summaryLockFor(region)
	smu.Lock()
	a.summary.ForceSet(block)
	smu.Unlock()
	return OpResult{Changed: true, Healed: healed}, nil
}

// Clear releases a block. Clearing an already-clear bit is a logical no-op;
// audit builds additionally dirty the volume to surface double frees.
func (a *Armored) Clear(block types.Paddr) (OpResult, error) {
	return a.clear(block, false)
}

// ForceClear is the rollback primitive for speculative allocations. It
// behaves like Clear but never marks the volume dirty: it reverses an
// operation that, from the durable-state perspective, never completed.
func (a *Armored) ForceClear(block types.Paddr) (OpResult, error) {
	return a.clear(block, true)
}

func (a *Armored) clear(block types.Paddr, rollback bool) (OpResult, error) {
	word, bit, err := a.locate(block)
	if err != nil {
		return OpResult{}, err
	}
	if !rollback && a.state.ReadOnly() {
		return OpResult{}, types.NewError(types.ErrReadOnly, "clear on read-only volume")
	}

	mu := a.lockFor(word)
	mu.Lock()
	data, healed, err := a.loadVerified(word, true)
	if err != nil {
		mu.Unlock()
		return OpResult{}, err
	}
	mask := uint64(1) << bit
	if data&mask == 0 {
		mu.Unlock()
		if !rollback && a.strict == types.StrictnessAudit {
			a.state.MarkDirty()
		}
		return OpResult{Healed: healed}, nil
	}
	data &^= mask
	a.words[word] = data
	a.check[word] = ecc.Encode(data)
	mu.Unlock()

	// Decrement only on the used->free transition; a zero counter here
	// means the bitmap and the accounting have desynchronized, which is
	// flagged rather than wrapped around.
	for {
		u := a.used.Load()
		if u == 0 {
			a.state.MarkDirty()
			break
		}
		if a.used.CompareAndSwap(u, u-1) {
			break
		}
	}
	if !rollback {
		a.state.MarkDirty()
	}
	a.maybeClearSummary(block)
	return OpResult{Changed: true, Healed: healed}, nil
}

// maybeClearSummary clears the region's L2 bit only when every block in the
// region is free. A stale "set" is harmless; a false "clear" never is, so
// the scan re-checks under the shard locks and the whole scan-then-clear
// runs under the region summary lock. A Set that commits its word after the
// scan passed it is therefore still waiting on that lock when Clear runs,
// and its ForceSet restores the bit before Set returns.
func (a *Armored) maybeClearSummary(block types.Paddr) {
	region := uint64(block) / types.SummaryRegionBlocks
	firstWord := region * types.SummaryRegionBlocks / 64
	lastWord := firstWord + types.SummaryRegionBlocks/64
	if lastWord > uint64(len(a.words)) {
		lastWord = uint64(len(a.words))
	}

	smu := a.summaryLockFor(region)
	smu.Lock()
	defer smu.Unlock()
	for w := firstWord; w < lastWord; w++ {
		mu := a.lockFor(w)
		mu.Lock()
		data, _, err := a.loadVerified(w, !a.state.ReadOnly())
		mu.Unlock()
		if err != nil || data != 0 {
			return
		}
	}
	a.summary.Clear(region)
}

func (a *Armored) locate(block types.Paddr) (word uint64, bit uint, err error) {
	if uint64(block) >= a.blocks {
		a.state.LatchPanic("bitmap access out of bounds")
		return 0, 0, types.NewError(types.ErrGeometry, "block %d outside bitmap of %d blocks", block, a.blocks)
	}
	return uint64(block) / 64, uint(block % 64), nil
}

// Blocks returns the number of blocks the bitmap covers.
func (a *Armored) Blocks() uint64 { return a.blocks }

// Used returns the current used-block count.
func (a *Armored) Used() uint64 { return a.used.Load() }

// Heals returns the number of single-bit faults repaired so far.
func (a *Armored) Heals() uint64 { return a.heals.Load() }

// Summary exposes the L2 hierarchical summary.
func (a *Armored) Summary() *Summary { return a.summary }

// Popcount recounts the set bits across the whole bitmap. Diagnostic; the
// result equals Used() whenever no mutation is in flight.
func (a *Armored) Popcount() uint64 {
	var n uint64
	for w := range a.words {
		mu := a.lockFor(uint64(w))
		mu.Lock()
		n += uint64(popcount(a.words[w]))
		mu.Unlock()
	}
	return n
}

// Snapshot copies the raw armored words for serialization. Each word is
// copied under its shard lock; the snapshot is per-word consistent.
func (a *Armored) Snapshot() ([]uint64, []uint8) {
	words := make([]uint64, len(a.words))
	check := make([]uint8, len(a.check))
	for w := range a.words {
		mu := a.lockFor(uint64(w))
		mu.Lock()
		words[w] = a.words[w]
		check[w] = a.check[w]
		mu.Unlock()
	}
	return words, check
}

// CorruptWordForTest flips bits of a stored word without updating the check
// byte. Test hook for the ECC heal and panic paths.
func (a *Armored) CorruptWordForTest(word uint64, dataMask uint64, checkMask uint8) {
	mu := a.lockFor(word)
	mu.Lock()
	a.words[word] ^= dataMask
	a.check[word] ^= checkMask
	mu.Unlock()
}
