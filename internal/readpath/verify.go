package readpath

import (
	"go.uber.org/zap"

	"github.com/deploymenttheory/go-hn4/internal/bitmap"
	"github.com/deploymenttheory/go-hn4/internal/interfaces"
	"github.com/deploymenttheory/go-hn4/internal/trajectory"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Config sets the pipeline's permissions.
type Config struct {
	// AllowHeal permits in-place repair of a damaged earlier candidate
	// after a later candidate validates. Requires write permission;
	// forced off on read-only volumes.
	AllowHeal bool

	// CanDecrypt marks the caller as holding the volume decryption
	// capability. Reads of encrypted anchors without it are
	// access-denied.
	CanDecrypt bool
}

// Pipeline is the verified-read side of the engine for one volume.
type Pipeline struct {
	geom  types.Geometry
	cap   types.Capability
	bm    *bitmap.Armored
	dev   interfaces.BlockDevice
	state interfaces.VolumeState
	cfg   Config
	log   *zap.Logger
}

// New assembles the read pipeline. The logger may be nil.
func New(geom types.Geometry, cap types.Capability, bm *bitmap.Armored,
	dev interfaces.BlockDevice, state interfaces.VolumeState, cfg Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{geom: geom, cap: cap, bm: bm, dev: dev, state: state, cfg: cfg, log: log}
}

// candidateVerdict is the per-candidate validation outcome.
type candidateVerdict struct {
	absent bool // bitmap says free: legitimate absence, media untouched
	err    error
	slot   []byte
	hdr    types.BlockHeader
	healed bool

	// repairable marks a candidate whose header fully validated as this
	// anchor's and only the payload failed its checksum. Candidates with
	// unreadable or foreign headers may be another file's rotted data and
	// must never be overwritten.
	repairable bool
}

// ReadVerified locates and validates the block (anchor, lba) and copies its
// payload into buf. stored is the persisted physical address for
// horizon-resident blocks (retry sentinel 15); it is ignored for ballistic
// blocks, whose candidates are re-derived from the anchor alone.
//
// The orbit hint, when present, is authoritative for its cluster: a hinted
// candidate that fails validation surfaces that failure rather than
// silently rescanning.
func (p *Pipeline) ReadVerified(a *types.Anchor, lba types.Lba, stored types.Paddr, buf []byte) (types.ReadResult, error) {
	if a.Flags&types.AnchorEncrypted != 0 && !p.cfg.CanDecrypt {
		return types.ReadResult{}, types.NewError(types.ErrAccessDenied, "anchor is encrypted and caller holds no decryption capability")
	}
	if a.Flags&types.AnchorValid == 0 || a.Flags&types.AnchorTombstone != 0 {
		return types.ReadResult{}, types.NewError(types.ErrAccessDenied, "anchor is not live")
	}

	switch a.Hint(lba) {
	case types.HintHorizon:
		return p.readSingle(a, lba, stored, buf)
	case types.HintDirect:
		addr, ok := trajectory.Block(p.geom, a.Gravity, a.Orbit, a.ScaleExp, lba, 0, p.cap)
		if !ok {
			return types.ReadResult{}, types.NewError(types.ErrGeometry, "no trajectory slot at scale %d", a.ScaleExp)
		}
		return p.readSingle(a, lba, addr, buf)
	default:
		return p.shotgun(a, lba, buf)
	}
}

// readSingle validates exactly one authoritative candidate.
func (p *Pipeline) readSingle(a *types.Anchor, lba types.Lba, addr types.Paddr, buf []byte) (types.ReadResult, error) {
	v := p.validate(a, lba, addr)
	if v.err != nil {
		return types.ReadResult{}, v.err
	}
	if v.absent {
		return types.ReadResult{Sparse: true, Healed: v.healed}, nil
	}
	n := copyPayload(buf, v.slot, v.hdr.PayloadLen)
	return types.ReadResult{Bytes: n, Healed: v.healed, Retry: retryOf(a, lba)}, nil
}

func retryOf(a *types.Anchor, lba types.Lba) types.RetryIndex {
	if a.Hint(lba) == types.HintHorizon {
		return types.RetryHorizon
	}
	return 0
}

// shotgun re-derives the full candidate order and validates each in turn,
// aggregating the most severe error across exhausted candidates so a real
// corruption is never masked by a later benign miss.
func (p *Pipeline) shotgun(a *types.Anchor, lba types.Lba, buf []byte) (types.ReadResult, error) {
	var (
		worst       error
		healed      bool
		repairAddr  types.Paddr
		repairValid bool
	)

	for k := types.RetryIndex(0); k <= p.cap.MaxRetry; k++ {
		addr, ok := trajectory.Block(p.geom, a.Gravity, a.Orbit, a.ScaleExp, lba, k, p.cap)
		if !ok {
			break
		}

		v := p.validate(a, lba, addr)
		healed = healed || v.healed
		if v.err != nil {
			kind := types.KindOf(v.err)
			if kind.Fatal() {
				// Poison and geometry faults stop the scan cold.
				return types.ReadResult{}, v.err
			}
			if types.MoreSevere(kind, types.KindOf(worst)) {
				worst = v.err
			}
			if v.repairable && !repairValid {
				repairAddr, repairValid = addr, true
			}
			continue
		}
		if v.absent {
			continue
		}

		// Winner. Optionally repair the corrupt earlier candidate that
		// forced us this far. Only candidates whose header proved this
		// anchor's ownership qualify; a block with a garbled or foreign
		// header is never overwritten.
		res := types.ReadResult{
			Bytes:  copyPayload(buf, v.slot, v.hdr.PayloadLen),
			Retry:  k,
			Healed: healed,
		}
		if repairValid && p.canRepair(a) {
			if err := p.dev.WriteBlock(repairAddr, v.slot); err == nil {
				res.Healed = true
				p.log.Info("repaired corrupt candidate",
					zap.Uint64("addr", uint64(repairAddr)), zap.Uint64("lba", uint64(lba)))
			}
		}
		return res, nil
	}

	if worst != nil && types.MoreSevere(types.KindOf(worst), types.ErrSparse) {
		return types.ReadResult{}, worst
	}
	return types.ReadResult{Sparse: true, Healed: healed}, nil
}

// canRepair gates self-healing: never on read-only mounts and never for
// compressed payloads, whose framing a block-level rewrite cannot safely
// reconstruct.
func (p *Pipeline) canRepair(a *types.Anchor) bool {
	return p.cfg.AllowHeal && !p.state.ReadOnly() && a.Flags&types.AnchorCompressed == 0
}

// validate runs the staged checks for one candidate: bitmap occupancy,
// poison, magic, header checksum, ownership, generation, compression,
// whole-slot payload checksum.
func (p *Pipeline) validate(a *types.Anchor, lba types.Lba, addr types.Paddr) candidateVerdict {
	used, opRes, err := p.bm.Test(addr)
	if err != nil {
		return candidateVerdict{err: err}
	}
	if !used {
		// Free in the bitmap: absent, and the media is not read.
		return candidateVerdict{absent: true, healed: opRes.Healed}
	}

	slot, err := p.dev.ReadBlock(addr)
	if err != nil {
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrChecksum, "read block %d: %v", addr, err)}
	}
	if len(slot) < types.BlockHeaderSize {
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrChecksum, "short block %d", addr)}
	}

	if IsPoison(slot) {
		p.state.LatchPanic("DMA poison pattern detected")
		return candidateVerdict{err: types.NewError(types.ErrPoison, "poison pattern at block %d", addr)}
	}

	hdr := UnmarshalHeader(slot)
	switch {
	case hdr.Magic != types.BlockMagic:
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrChecksum, "bad magic %#x at block %d", hdr.Magic, addr)}
	case !VerifyHeaderChecksum(slot):
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrChecksum, "header checksum mismatch at block %d", addr)}
	case hdr.OwnerID != a.Gravity:
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrOwnerMismatch, "block %d owned by %#x", addr, hdr.OwnerID)}
	case hdr.Lba != lba:
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrOwnerMismatch, "block %d holds lba %d", addr, hdr.Lba)}
	case hdr.Generation != a.Generation:
		// Low-32-bit equality only; wraparound in architectural high
		// bits is tolerated by construction of the stored field.
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrGenerationSkew, "block %d generation %d, anchor %d", addr, hdr.Generation, a.Generation)}
	case !hdr.Compression.Known():
		return candidateVerdict{healed: opRes.Healed, err: types.NewError(types.ErrUnknownCompression, "block %d compression %d", addr, hdr.Compression)}
	case PayloadChecksum(slot[types.BlockHeaderSize:]) != hdr.PayloadChecksum:
		// Header checks all passed, so ownership is established and a
		// rewrite from a validated later copy is safe.
		return candidateVerdict{healed: opRes.Healed, repairable: true, err: types.NewError(types.ErrChecksum, "payload checksum mismatch at block %d", addr)}
	}

	return candidateVerdict{slot: slot, hdr: hdr, healed: opRes.Healed}
}

func copyPayload(buf, slot []byte, payloadLen uint32) int {
	payload := slot[types.BlockHeaderSize:]
	n := int(payloadLen)
	if n > len(payload) {
		n = len(payload)
	}
	if n > len(buf) {
		n = len(buf)
	}
	copy(buf, payload[:n])
	return n
}
