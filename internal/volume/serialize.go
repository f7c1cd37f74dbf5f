package volume

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-hn4/internal/bitmap"
	"github.com/deploymenttheory/go-hn4/internal/interfaces"
	"github.com/deploymenttheory/go-hn4/internal/quality"
	"github.com/deploymenttheory/go-hn4/internal/readpath"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Metadata region layout, in blocks from Geometry.MetaStart:
//
//	+0                 info record (one block)
//	+1                 armored bitmap region (9-byte records, packed)
//	+bitmapBlocks      L2 summary region (8-byte words)
//	+summaryBlocks     quality mask region (raw bytes)
//
// Byte layout is little-endian throughout and must round-trip exactly.

const (
	infoMagic   uint32 = 0x5634_4E48 // "HN4V"
	infoVersion uint32 = 1
	infoSize           = 64
)

const (
	persistDirty     = 1 << 0
	persistSaturated = 1 << 1
)

// marshalInfo encodes the volume info record. The checksum at offset 4
// covers the whole record with the field zeroed, in the same running-sum
// form as block headers.
func (v *Volume) marshalInfo(buf []byte) {
	for i := range buf[:infoSize] {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:], infoMagic)
	binary.LittleEndian.PutUint32(buf[8:], infoVersion)
	copy(buf[12:28], v.ID[:])

	var persist uint32
	if v.Dirty() {
		persist |= persistDirty
	}
	if v.alloc.Policy().Latched() {
		persist |= persistSaturated
	}
	binary.LittleEndian.PutUint32(buf[28:], persist)
	binary.LittleEndian.PutUint64(buf[32:], v.ring.Head())
	binary.LittleEndian.PutUint64(buf[40:], v.bm.Used())
	buf[48] = byte(v.traits.Profile)
	if v.traits.Rotational {
		buf[49] = 1
	}
	if v.traits.ZNSNative {
		buf[50] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:], readpath.PayloadChecksum(buf[:infoSize]))
}

type infoRecord struct {
	id      uuid.UUID
	persist uint32
	head    uint64
	used    uint64
	traits  types.DeviceTraits
}

func unmarshalInfo(buf []byte) (infoRecord, error) {
	var rec infoRecord
	if binary.LittleEndian.Uint32(buf[0:]) != infoMagic {
		return rec, types.NewError(types.ErrChecksum, "bad volume info magic")
	}
	stored := binary.LittleEndian.Uint32(buf[4:])
	var scratch [infoSize]byte
	copy(scratch[:], buf[:infoSize])
	binary.LittleEndian.PutUint32(scratch[4:], 0)
	if readpath.PayloadChecksum(scratch[:]) != stored {
		return rec, types.NewError(types.ErrChecksum, "volume info checksum mismatch")
	}
	if ver := binary.LittleEndian.Uint32(buf[8:]); ver != infoVersion {
		return rec, types.NewError(types.ErrChecksum, "unsupported volume info version %d", ver)
	}

	copy(rec.id[:], buf[12:28])
	rec.persist = binary.LittleEndian.Uint32(buf[28:])
	rec.head = binary.LittleEndian.Uint64(buf[32:])
	rec.used = binary.LittleEndian.Uint64(buf[40:])
	rec.traits = types.DeviceTraits{
		Profile:    types.DeviceProfile(buf[48]),
		Rotational: buf[49] != 0,
		ZNSNative:  buf[50] != 0,
	}
	return rec, nil
}

// MarshalBitmapRegion packs armored words into their persisted 9-byte
// little-endian records.
func MarshalBitmapRegion(words []uint64, check []uint8) []byte {
	out := make([]byte, len(words)*types.ArmoredWordSize)
	for i, w := range words {
		off := i * types.ArmoredWordSize
		binary.LittleEndian.PutUint64(out[off:], w)
		out[off+8] = check[i]
	}
	return out
}

// UnmarshalBitmapRegion reverses MarshalBitmapRegion.
func UnmarshalBitmapRegion(data []byte, nwords int) ([]uint64, []uint8) {
	words := make([]uint64, nwords)
	check := make([]uint8, nwords)
	for i := 0; i < nwords; i++ {
		off := i * types.ArmoredWordSize
		words[i] = binary.LittleEndian.Uint64(data[off:])
		check[i] = data[off+8]
	}
	return words, check
}

func marshalSummary(words []uint64) []byte {
	out := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out
}

func unmarshalSummary(data []byte, nwords int) []uint64 {
	out := make([]uint64, nwords)
	for i := 0; i < nwords; i++ {
		out[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return out
}

func blocksFor(n int, blockSize uint32) types.Paddr {
	return types.Paddr((uint64(n) + uint64(blockSize) - 1) / uint64(blockSize))
}

// regionPlan computes where each metadata area starts and how many blocks
// the whole region needs.
type regionPlan struct {
	bitmapStart  types.Paddr
	summaryStart types.Paddr
	qualityStart types.Paddr
	end          types.Paddr

	bitmapBytes  int
	summaryBytes int
	qualityBytes int
}

func (v *Volume) planRegions() regionPlan {
	nwords := int((v.geom.TotalBlocks + 63) / 64)
	nsummary := int((v.bm.Summary().Regions() + 63) / 64)
	nquality := int((v.geom.TotalBlocks + 3) / 4)

	var p regionPlan
	p.bitmapBytes = nwords * types.ArmoredWordSize
	p.summaryBytes = nsummary * 8
	p.qualityBytes = nquality

	p.bitmapStart = v.geom.MetaStart + 1
	p.summaryStart = p.bitmapStart + blocksFor(p.bitmapBytes, v.geom.BlockSize)
	p.qualityStart = p.summaryStart + blocksFor(p.summaryBytes, v.geom.BlockSize)
	p.end = p.qualityStart + blocksFor(p.qualityBytes, v.geom.BlockSize)
	return p
}

func (v *Volume) writeArea(start types.Paddr, data []byte) error {
	bs := int(v.geom.BlockSize)
	for off := 0; off < len(data); off += bs {
		blk := make([]byte, bs)
		copy(blk, data[off:])
		if err := v.dev.WriteBlock(start+types.Paddr(off/bs), blk); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) readArea(start types.Paddr, size int) ([]byte, error) {
	bs := int(v.geom.BlockSize)
	out := make([]byte, 0, size+bs)
	for off := 0; off < size; off += bs {
		blk, err := v.dev.ReadBlock(start + types.Paddr(off/bs))
		if err != nil {
			return nil, err
		}
		out = append(out, blk...)
	}
	return out[:size], nil
}

// Flush persists the engine-owned metadata region: info record, armored
// bitmap, L2 summary, and quality mask. On success the dirty flag clears.
func (v *Volume) Flush() error {
	if v.Panicked() {
		return types.NewError(types.ErrReadOnly, "flush on panicked volume")
	}

	p := v.planRegions()
	if p.end > v.geom.FluxStart {
		v.LatchPanic("metadata region overflows into flux region")
		return types.NewError(types.ErrGeometry, "metadata needs %d blocks, region has %d",
			p.end-v.geom.MetaStart, v.geom.FluxStart-v.geom.MetaStart)
	}

	info := make([]byte, v.geom.BlockSize)
	v.marshalInfo(info)
	if err := v.dev.WriteBlock(v.geom.MetaStart, info); err != nil {
		return err
	}

	words, check := v.bm.Snapshot()
	if err := v.writeArea(p.bitmapStart, MarshalBitmapRegion(words, check)); err != nil {
		return err
	}
	if err := v.writeArea(p.summaryStart, marshalSummary(v.bm.Summary().Snapshot())); err != nil {
		return err
	}
	if err := v.writeArea(p.qualityStart, v.mask.Snapshot()); err != nil {
		return err
	}
	if err := v.dev.FlushWrites(); err != nil {
		return err
	}

	v.ClearDirty()
	return nil
}

// Load mounts a volume from its persisted metadata region.
func Load(dev interfaces.BlockDevice, geom types.Geometry, opts Options) (*Volume, error) {
	if err := geom.Validate(); err != nil {
		return nil, types.NewError(types.ErrGeometry, "%v", err)
	}

	v := newShell(dev, geom, types.DeviceTraits{}, opts)

	info, err := dev.ReadBlock(geom.MetaStart)
	if err != nil {
		return nil, err
	}
	rec, err := unmarshalInfo(info)
	if err != nil {
		return nil, err
	}
	v.ID = rec.id
	v.traits = rec.traits
	v.cap = types.CapabilityFor(rec.traits)

	// Shell bitmap/mask so planRegions can size the areas.
	v.bm = bitmap.New(geom.TotalBlocks, opts.Strictness, v)
	v.mask = quality.New(geom.TotalBlocks, quality.Toxic, v)
	p := v.planRegions()

	raw, err := v.readArea(p.bitmapStart, p.bitmapBytes)
	if err != nil {
		return nil, err
	}
	nwords := p.bitmapBytes / types.ArmoredWordSize
	words, check := UnmarshalBitmapRegion(raw, nwords)
	v.bm = bitmap.Restore(geom.TotalBlocks, words, check, opts.Strictness, v)

	raw, err = v.readArea(p.summaryStart, p.summaryBytes)
	if err != nil {
		return nil, err
	}
	v.bm.Summary().Restore(unmarshalSummary(raw, p.summaryBytes/8))

	raw, err = v.readArea(p.qualityStart, p.qualityBytes)
	if err != nil {
		return nil, err
	}
	v.mask = quality.Restore(geom.TotalBlocks, raw, v)

	v.assemble(opts)
	v.ring.RestoreHead(rec.head)
	v.alloc.Policy().RestoreLatch(rec.persist&persistSaturated != 0)
	if rec.persist&persistDirty != 0 {
		v.MarkDirty()
	}
	return v, nil
}
