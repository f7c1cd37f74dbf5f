// Package horizon implements the circular-log fallback allocator (D1.5)
// over the reserved Horizon region. It has no trajectory: a single global
// write head advances monotonically and the next free block wins. Lookup of
// horizon-resident blocks goes through the stored physical address, never
// through the trajectory function.
package horizon

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/deploymenttheory/go-hn4/internal/bitmap"
	"github.com/deploymenttheory/go-hn4/internal/interfaces"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Ring is the Horizon allocator for one volume. The write head is the sole
// serialization point: concurrent allocators draw distinct head values and
// therefore probe distinct offsets.
type Ring struct {
	geom  types.Geometry
	bm    *bitmap.Armored
	state interfaces.VolumeState
	log   *zap.Logger

	// head only grows, except for the benign wraparound at the 64-bit
	// boundary. The candidate offset is head modulo the ring capacity.
	head atomic.Uint64
}

// New builds the ring allocator. The logger may be nil.
func New(geom types.Geometry, bm *bitmap.Armored, state interfaces.VolumeState, log *zap.Logger) *Ring {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ring{geom: geom, bm: bm, state: state, log: log}
}

// Capacity returns the ring size in blocks, or zero for degenerate
// geometry.
func (r *Ring) Capacity() uint64 {
	if r.geom.HorizonEnd <= r.geom.HorizonStart {
		return 0
	}
	return uint64(r.geom.HorizonEnd - r.geom.HorizonStart)
}

// Head returns the raw write-head counter for persistence.
func (r *Ring) Head() uint64 { return r.head.Load() }

// RestoreHead reinstates a persisted write-head value at mount.
func (r *Ring) RestoreHead(h uint64) { r.head.Store(h) }

// Allocate claims the next free ring block. The head advances once per
// probe attempt, not per success; the attempt terminates after the probe
// ceiling rather than ever scanning the whole ring.
//
// Crossing the ring boundary marks the volume dirty even when the attempt
// ultimately fails: the crossing itself means the physical log wrapped and
// may have overwritten old data, which crash recovery must know about.
func (r *Ring) Allocate() (types.Paddr, error) {
	capacity := r.Capacity()
	if capacity == 0 {
		// Degenerate or corrupted geometry: reported as exhaustion,
		// never a divide by zero.
		return 0, types.NewError(types.ErrOutOfSpace, "horizon ring has no capacity (start=%d end=%d)",
			r.geom.HorizonStart, r.geom.HorizonEnd)
	}

	for probe := 0; probe < types.HorizonProbeCeiling; probe++ {
		h := r.head.Add(1) - 1
		offset := h % capacity
		if h != 0 && offset == 0 {
			r.state.MarkDirty()
			r.log.Info("horizon ring wrapped", zap.Uint64("head", h))
		}

		addr := r.geom.HorizonStart + types.Paddr(offset)
		res, err := r.bm.Set(addr)
		if err != nil {
			return 0, err
		}
		if res.Changed {
			return addr, nil
		}
	}

	return 0, types.NewError(types.ErrOutOfSpace, "horizon probe ceiling %d reached", types.HorizonProbeCeiling)
}
