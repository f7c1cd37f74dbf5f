package ballistic

import (
	"math/bits"
	"sync/atomic"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Verdict is the saturation policy's routing decision for one allocation.
type Verdict uint8

const (
	// ProbeBallistic sends the request through the trajectory probe
	// loop.
	ProbeBallistic Verdict = iota

	// RedirectHorizon sends the request straight to the Horizon ring
	// without probing. Deliberate load-shedding, surfaced to the caller
	// as an informational outcome, never an error.
	RedirectHorizon

	// FailClosed rejects the request with out-of-space. Metadata under
	// saturation fails closed because the Horizon log cannot provide the
	// guaranteed O(1) deterministic lookup metadata requires.
	FailClosed
)

// Policy is the hysteresis gate over the volume's used/total ratio. The
// runtime-saturated latch is sticky: set at the genesis threshold, it holds
// until usage drops below the recovery threshold, through any transient dip
// in between.
type Policy struct {
	latched atomic.Bool
}

// Latched reports the runtime-saturated latch, for persistence and stats.
func (p *Policy) Latched() bool { return p.latched.Load() }

// RestoreLatch reinstates a persisted latch state at mount.
func (p *Policy) RestoreLatch(v bool) { p.latched.Store(v) }

// usagePercent computes used*100/total with a 128-bit intermediate.
func usagePercent(used, total uint64) uint64 {
	if total == 0 {
		return 100
	}
	hi, lo := bits.Mul64(used, 100)
	q, _ := bits.Div64(hi, lo, total)
	return q
}

// Decide routes one allocation request and updates the latch from the
// current usage. Non-default-scale requests bypass the policy entirely
// (the ring cannot serve mismatched strides), which the caller handles
// before consulting it.
func (p *Policy) Decide(used, total uint64, class types.OpClass, intent types.AllocIntent) Verdict {
	pct := usagePercent(used, total)

	switch {
	case pct >= types.SaturationGenesisPct:
		p.latched.Store(true)
	case pct < types.SaturationRecoveryPct:
		p.latched.Store(false)
	}

	if intent == types.IntentMetadata {
		if pct >= types.SaturationHardPct {
			return FailClosed
		}
		return ProbeBallistic
	}

	switch class {
	case types.OpGenesis:
		if p.latched.Load() {
			return RedirectHorizon
		}
	case types.OpUpdate:
		if pct >= types.SaturationHardPct {
			return RedirectHorizon
		}
	}
	return ProbeBallistic
}
