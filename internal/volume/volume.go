// Package volume assembles the HN4 address-space engine for one mounted
// volume: geometry validation, runtime state flags, accounting, and the
// wiring between bitmap, quality mask, allocators, and read pipeline.
package volume

import (
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deploymenttheory/go-hn4/internal/ballistic"
	"github.com/deploymenttheory/go-hn4/internal/bitmap"
	"github.com/deploymenttheory/go-hn4/internal/horizon"
	"github.com/deploymenttheory/go-hn4/internal/interfaces"
	"github.com/deploymenttheory/go-hn4/internal/quality"
	"github.com/deploymenttheory/go-hn4/internal/readpath"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Options configures a volume instance.
type Options struct {
	// Strictness selects the double-free policy.
	Strictness types.Strictness

	// ReadOnly mounts the volume without write permission.
	ReadOnly bool

	// Read configures the verification pipeline's permissions.
	Read readpath.Config

	// Logger receives engine events; nil means silent.
	Logger *zap.Logger
}

// Volume is one mounted HN4 volume. Each instance owns its own counters and
// flag word; nothing here is process-global.
type Volume struct {
	ID     uuid.UUID
	geom   types.Geometry
	traits types.DeviceTraits
	cap    types.Capability
	log    *zap.Logger

	flags atomic.Uint32

	dev    interfaces.BlockDevice
	bm     *bitmap.Armored
	mask   *quality.Mask
	ring   *horizon.Ring
	alloc  *ballistic.Engine
	reader *readpath.Pipeline
}

// New creates a freshly formatted volume over dev: empty bitmap, all media
// at the given default quality tier, horizon head at zero.
func New(dev interfaces.BlockDevice, geom types.Geometry, traits types.DeviceTraits,
	defaultTier quality.Tier, opts Options) (*Volume, error) {

	if err := geom.Validate(); err != nil {
		return nil, types.NewError(types.ErrGeometry, "%v", err)
	}

	v := newShell(dev, geom, traits, opts)
	v.ID = uuid.New()
	v.bm = bitmap.New(geom.TotalBlocks, opts.Strictness, v)
	v.mask = quality.New(geom.TotalBlocks, defaultTier, v)
	v.assemble(opts)
	return v, nil
}

func newShell(dev interfaces.BlockDevice, geom types.Geometry, traits types.DeviceTraits, opts Options) *Volume {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	v := &Volume{
		geom:   geom,
		traits: traits,
		cap:    types.CapabilityFor(traits),
		log:    log,
		dev:    dev,
	}
	if opts.ReadOnly {
		v.flags.Store(uint32(types.FlagReadOnly))
	}
	return v
}

func (v *Volume) assemble(opts Options) {
	v.ring = horizon.New(v.geom, v.bm, v, v.log)
	v.alloc = ballistic.New(v.geom, v.cap, v.bm, v.mask, v.ring, &ballistic.Policy{}, v, v.log)
	cfg := opts.Read
	if opts.ReadOnly {
		cfg.AllowHeal = false
	}
	v.reader = readpath.New(v.geom, v.cap, v.bm, v.dev, v, cfg, v.log)
}

// MarkDirty records that durable state may be ahead of the superblock.
func (v *Volume) MarkDirty() {
	v.setFlag(types.FlagDirty)
}

// ClearDirty drops the dirty flag after a successful metadata flush.
func (v *Volume) ClearDirty() {
	v.clearFlag(types.FlagDirty)
}

// LatchPanic latches the volume read-only after a fatal fault. One-way; the
// volume stays mountable read-only for forensics and extraction.
func (v *Volume) LatchPanic(detail string) {
	if v.flags.Load()&uint32(types.FlagPanic) == 0 {
		v.log.Error("volume panic latch", zap.String("reason", detail))
	}
	v.setFlag(types.FlagPanic)
}

// Panicked reports whether the panic latch is set.
func (v *Volume) Panicked() bool {
	return v.flags.Load()&uint32(types.FlagPanic) != 0
}

// ReadOnly reports whether mutations are forbidden.
func (v *Volume) ReadOnly() bool {
	return v.flags.Load()&uint32(types.FlagReadOnly|types.FlagPanic) != 0
}

// Dirty reports the dirty flag.
func (v *Volume) Dirty() bool {
	return v.flags.Load()&uint32(types.FlagDirty) != 0
}

func (v *Volume) setFlag(f types.VolumeFlag) {
	for {
		old := v.flags.Load()
		if old&uint32(f) != 0 || v.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (v *Volume) clearFlag(f types.VolumeFlag) {
	for {
		old := v.flags.Load()
		if old&uint32(f) == 0 || v.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// AllocateNew places a block for a brand-new file.
func (v *Volume) AllocateNew(a *types.Anchor, lba types.Lba) (types.AllocResult, error) {
	return v.alloc.AllocateNew(a, lba)
}

// AllocateUpdate places a block replacing part of an existing file.
func (v *Volume) AllocateUpdate(a *types.Anchor, lba types.Lba) (types.AllocResult, error) {
	return v.alloc.AllocateUpdate(a, lba)
}

// Free releases a previously allocated stride of 2^scaleExp blocks.
func (v *Volume) Free(addr types.Paddr, scaleExp uint8) error {
	return v.alloc.Free(addr, scaleExp)
}

// Rollback releases a speculative allocation without dirtying the volume.
func (v *Volume) Rollback(addr types.Paddr, scaleExp uint8) error {
	return v.alloc.Rollback(addr, scaleExp)
}

// ReadVerified locates, validates, and returns the payload of one logical
// block. stored is the persisted address for horizon-resident blocks.
func (v *Volume) ReadVerified(a *types.Anchor, lba types.Lba, stored types.Paddr, buf []byte) (types.ReadResult, error) {
	return v.reader.ReadVerified(a, lba, stored, buf)
}

// Bitmap exposes the armored bitmap for tooling and tests.
func (v *Volume) Bitmap() *bitmap.Armored { return v.bm }

// Quality exposes the quality mask for format-time initialization.
func (v *Volume) Quality() *quality.Mask { return v.mask }

// Ring exposes the horizon allocator for persistence.
func (v *Volume) Ring() *horizon.Ring { return v.ring }

// Geometry returns the volume geometry.
func (v *Volume) Geometry() types.Geometry { return v.geom }

// Stats is a point-in-time snapshot of the volume's counters and state.
type Stats struct {
	ID          uuid.UUID
	UsedBlocks  uint64
	TotalBlocks uint64
	Heals       uint64
	HorizonHead uint64
	Dirty       bool
	Panicked    bool
	Saturated   bool
}

// Stats snapshots the volume counters.
func (v *Volume) Stats() Stats {
	return Stats{
		ID:          v.ID,
		UsedBlocks:  v.bm.Used(),
		TotalBlocks: v.bm.Blocks(),
		Heals:       v.bm.Heals(),
		HorizonHead: v.ring.Head(),
		Dirty:       v.Dirty(),
		Panicked:    v.Panicked(),
		Saturated:   v.alloc.Policy().Latched(),
	}
}
