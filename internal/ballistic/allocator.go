// Package ballistic implements the D1 allocator: deterministic,
// trajectory-probed placement in the Flux region, gated by the saturation
// policy, with the Horizon ring as fallback. Together with the read
// pipeline it upholds the engine's central guarantee: at most one writer
// ever owns a physical block, and the block is found again later without
// any index.
package ballistic

import (
	"go.uber.org/zap"

	"github.com/deploymenttheory/go-hn4/internal/bitmap"
	"github.com/deploymenttheory/go-hn4/internal/horizon"
	"github.com/deploymenttheory/go-hn4/internal/interfaces"
	"github.com/deploymenttheory/go-hn4/internal/quality"
	"github.com/deploymenttheory/go-hn4/internal/trajectory"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Engine is the allocation front door for one volume.
type Engine struct {
	geom   types.Geometry
	cap    types.Capability
	bm     *bitmap.Armored
	mask   *quality.Mask
	ring   *horizon.Ring
	policy *Policy
	state  interfaces.VolumeState
	log    *zap.Logger
}

// New assembles the allocator from its collaborators. The logger may be
// nil.
func New(geom types.Geometry, cap types.Capability, bm *bitmap.Armored, mask *quality.Mask,
	ring *horizon.Ring, policy *Policy, state interfaces.VolumeState, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{geom: geom, cap: cap, bm: bm, mask: mask, ring: ring,
		policy: policy, state: state, log: log}
}

// Policy exposes the saturation policy for persistence.
func (e *Engine) Policy() *Policy { return e.policy }

// AllocateNew places a block for a brand-new file.
func (e *Engine) AllocateNew(a *types.Anchor, lba types.Lba) (types.AllocResult, error) {
	return e.allocate(a, lba, types.OpGenesis)
}

// AllocateUpdate places a block replacing or extending an existing file.
func (e *Engine) AllocateUpdate(a *types.Anchor, lba types.Lba) (types.AllocResult, error) {
	return e.allocate(a, lba, types.OpUpdate)
}

func intentOf(a *types.Anchor) types.AllocIntent {
	if a.Flags&types.AnchorStatic != 0 {
		return types.IntentMetadata
	}
	return types.IntentUserData
}

func (e *Engine) allocate(a *types.Anchor, lba types.Lba, class types.OpClass) (types.AllocResult, error) {
	if e.state.ReadOnly() {
		return types.AllocResult{}, types.NewError(types.ErrReadOnly, "allocate on read-only volume")
	}

	intent := intentOf(a)

	// Non-default scales never touch the policy or the ring: Horizon
	// serves single-block strides only, and handing back an address
	// sized for the wrong stride would corrupt the caller.
	if a.ScaleExp != 0 {
		return e.probe(a, lba, intent, false)
	}

	switch e.policy.Decide(e.bm.Used(), e.bm.Blocks(), class, intent) {
	case RedirectHorizon:
		e.log.Debug("saturation redirect", zap.Uint64("lba", uint64(lba)))
		return e.horizonAllocate()
	case FailClosed:
		return types.AllocResult{}, types.NewError(types.ErrOutOfSpace, "metadata allocation under saturation fails closed")
	}

	fallback := intent != types.IntentMetadata
	return e.probe(a, lba, intent, fallback)
}

// probe walks the trajectory candidates in retry order. First successful
// claim wins and its retry index travels back to the anchor. A candidate is
// the whole S-block stride, not just its base: every physical block of the
// stride is claimed, or none are, so no scale-0 writer can land inside a
// scaled allocation.
func (e *Engine) probe(a *types.Anchor, lba types.Lba, intent types.AllocIntent, fallback bool) (types.AllocResult, error) {
	stride := types.Paddr(1) << a.ScaleExp
	healed := false
	for k := types.RetryIndex(0); k <= e.cap.MaxRetry; k++ {
		addr, ok := trajectory.Block(e.geom, a.Gravity, a.Orbit, a.ScaleExp, lba, k, e.cap)
		if !ok {
			break
		}

		won, h, err := e.claimStride(addr, stride, intent)
		healed = healed || h
		if err != nil {
			return types.AllocResult{}, err
		}
		if won {
			return types.AllocResult{Addr: addr, Retry: k, Outcome: types.AllocPlaced, Healed: healed}, nil
		}
		// Occupied or non-compliant: a trajectory collision, probed
		// around rather than surfaced.
	}

	if a.ScaleExp != 0 {
		return types.AllocResult{}, types.NewError(types.ErrGravityCollapse,
			"no ballistic candidate at scale %d and horizon cannot serve that stride", a.ScaleExp)
	}
	if !fallback {
		return types.AllocResult{}, types.NewError(types.ErrOutOfSpace, "ballistic candidates exhausted for metadata intent")
	}
	res, err := e.horizonAllocate()
	if err != nil {
		return res, err
	}
	res.Healed = res.Healed || healed
	return res, nil
}

// claimStride claims every block of one stride-aligned candidate, or none.
// The whole stride is quality-checked first; a mid-stride collision rolls
// back the blocks already claimed so a losing candidate leaves no partial
// ownership behind.
func (e *Engine) claimStride(base, stride types.Paddr, intent types.AllocIntent) (bool, bool, error) {
	healed := false
	for b := base; b < base+stride; b++ {
		compliance, err := e.mask.Check(b, intent)
		if err != nil {
			return false, healed, err
		}
		if compliance != quality.Compliant {
			return false, healed, nil
		}
	}

	for claimed := types.Paddr(0); claimed < stride; claimed++ {
		res, err := e.bm.Set(base + claimed)
		if err == nil && res.Changed {
			healed = healed || res.Healed
			continue
		}
		for r := types.Paddr(0); r < claimed; r++ {
			if _, rerr := e.bm.ForceClear(base + r); rerr != nil {
				return false, healed, rerr
			}
		}
		return false, healed, err
	}
	return true, healed, nil
}

func (e *Engine) horizonAllocate() (types.AllocResult, error) {
	addr, err := e.ring.Allocate()
	if err != nil {
		return types.AllocResult{}, err
	}
	return types.AllocResult{Addr: addr, Retry: types.RetryHorizon, Outcome: types.AllocRedirected}, nil
}

// Free releases a previously allocated stride: all S = 2^scaleExp blocks
// from addr. Scale zero frees the single block.
func (e *Engine) Free(addr types.Paddr, scaleExp uint8) error {
	stride := types.Paddr(1) << scaleExp
	for b := addr; b < addr+stride; b++ {
		if _, err := e.bm.Clear(b); err != nil {
			return err
		}
	}
	return nil
}

// Rollback releases a speculatively allocated stride without dirtying the
// volume, for callers whose write never reached the media.
func (e *Engine) Rollback(addr types.Paddr, scaleExp uint8) error {
	stride := types.Paddr(1) << scaleExp
	for b := addr; b < addr+stride; b++ {
		if _, err := e.bm.ForceClear(b); err != nil {
			return err
		}
	}
	return nil
}
