// Package trajectory implements the pure placement function at the heart of
// the ballistic address space. Given an anchor's seeds and a logical block
// index it deterministically names a physical candidate block; crash
// recovery re-derives placement from the same inputs, so there is no extent
// index anywhere in the format. Identical inputs must always produce
// identical outputs.
package trajectory

import (
	"math/bits"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

// retryBiasStep spreads consecutive retry indices across the ring.
const retryBiasStep = 0x9E3779B97F4A7C15

// assistXor is the fixed decorrelation constant applied by the gravity
// assist remix.
const assistXor = 0x5B21_7A3D_94E7_C1B5 & uint64(types.OrbitVectorMask)

// mulMod returns (a*b) mod m using a 128-bit intermediate. Plain 64-bit
// multiplication overflows silently on large volumes.
func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return bits.Rem64(hi, lo, m)
}

// addMod returns (a+b) mod m without overflowing the intermediate sum.
func addMod(a, b, m uint64) uint64 {
	a, b = a%m, b%m
	if b >= m-a {
		return b - (m - a)
	}
	return a + b
}

// assist re-mixes the orbit vector for retry indices at and above the
// gravity-assist threshold: a fixed rotate/XOR transform that decorrelates
// colliding trajectories without consuming any caller state. Pure; the read
// side applies the identical remix.
func assist(orbit uint64) uint64 {
	const width = 48
	rot := (orbit<<13 | orbit>>(width-13)) & uint64(types.OrbitVectorMask)
	return (rot ^ orbit ^ assistXor) & uint64(types.OrbitVectorMask)
}

// normalizeOrbit masks the orbit vector to its 48 significant bits and
// forces it odd so it is coprime with any power-of-two slot count.
func normalizeOrbit(orbit types.OrbitVector) uint64 {
	return uint64(orbit&types.OrbitVectorMask) | 1
}

// Block computes the physical candidate address for one (anchor, lba,
// retry) tuple. It returns ok=false when the Flux region cannot hold even
// one stride of the requested scale.
//
// The allocatable region is treated as a ring of slot-aligned strides
// S = 1<<scaleExp. The slot index mixes, modulo the slot count:
//
//   - the orbital term lba*orbit (gravity-assisted for retry >= 4)
//   - the high bits of the gravity seed
//   - the low bits of the gravity seed (sub-stride entropy re-injection:
//     seeds sharing high-order bits but differing in their low-order
//     remainder must not collapse to the same slot)
//   - the retry bias, structurally zero when the capability disables it
//     (rotational media and the Pico profile must not pretend retries
//     change the offset)
func Block(geom types.Geometry, gravity uint64, orbit types.OrbitVector, scaleExp uint8,
	lba types.Lba, k types.RetryIndex, cap types.Capability) (types.Paddr, bool) {

	stride := uint64(1) << scaleExp
	flux := geom.FluxBlocks()
	slots := flux / stride
	if slots == 0 {
		return 0, false
	}

	v := normalizeOrbit(orbit)
	if cap.BiasEnabled && k >= types.GravityAssistThreshold {
		v = assist(v) | 1
	}

	slot := mulMod(uint64(lba), v, slots)
	slot = addMod(slot, (gravity>>scaleExp)%slots, slots)
	slot = addMod(slot, gravity&(stride-1), slots)
	if cap.BiasEnabled && k > 0 {
		slot = addMod(slot, mulMod(uint64(k), retryBiasStep, slots), slots)
	}

	return geom.FluxStart + types.Paddr(slot*stride), true
}

// Candidates returns the full ordered candidate list for an anchor and
// logical index, retry 0 first. The allocator probes this order and the
// read pipeline re-derives it; the two must never disagree.
func Candidates(geom types.Geometry, a *types.Anchor, lba types.Lba, cap types.Capability) []types.Paddr {
	out := make([]types.Paddr, 0, cap.MaxRetry+1)
	for k := types.RetryIndex(0); k <= cap.MaxRetry; k++ {
		addr, ok := Block(geom, a.Gravity, a.Orbit, a.ScaleExp, lba, k, cap)
		if !ok {
			return nil
		}
		out = append(out, addr)
	}
	return out
}
