package readpath

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hn4/internal/bitmap"
	"github.com/deploymenttheory/go-hn4/internal/device"
	"github.com/deploymenttheory/go-hn4/internal/trajectory"
	"github.com/deploymenttheory/go-hn4/internal/types"
)

type fakeState struct {
	panicked atomic.Bool
	readonly atomic.Bool
}

func (f *fakeState) MarkDirty()          {}
func (f *fakeState) LatchPanic(_ string) { f.panicked.Store(true) }
func (f *fakeState) Panicked() bool      { return f.panicked.Load() }
func (f *fakeState) ReadOnly() bool      { return f.readonly.Load() || f.panicked.Load() }

type fixture struct {
	pipe  *Pipeline
	bm    *bitmap.Armored
	dev   *device.Memory
	state *fakeState
	geom  types.Geometry
	cap   types.Capability
}

func newFixture(cfg Config) *fixture {
	geom := types.Geometry{
		BlockSize:    512,
		TotalBlocks:  5000,
		MetaStart:    4,
		FluxStart:    50,
		HorizonStart: 4500,
		HorizonEnd:   4900,
	}
	st := &fakeState{}
	bm := bitmap.New(geom.TotalBlocks, types.StrictnessProduction, st)
	dev := device.NewMemory(geom.BlockSize, geom.TotalBlocks)
	cap := types.CapabilityFor(types.DeviceTraits{Profile: types.ProfileGeneric})
	return &fixture{
		pipe:  New(geom, cap, bm, dev, st, cfg, nil),
		bm:    bm,
		dev:   dev,
		state: st,
		geom:  geom,
		cap:   cap,
	}
}

func liveAnchor() *types.Anchor {
	return &types.Anchor{
		Gravity:    0xABCD_EF01_2345_6789,
		Orbit:      0x00FE_DCBA_9876,
		Generation: 3,
		Flags:      types.AnchorValid,
	}
}

func (f *fixture) candidate(t *testing.T, a *types.Anchor, lba types.Lba, k types.RetryIndex) types.Paddr {
	t.Helper()
	addr, ok := trajectory.Block(f.geom, a.Gravity, a.Orbit, a.ScaleExp, lba, k, f.cap)
	require.True(t, ok)
	return addr
}

// place writes a fully valid slot for (a, lba) at retry k and claims the
// bitmap bit, the way the allocator and write path would have.
func (f *fixture) place(t *testing.T, a *types.Anchor, lba types.Lba, k types.RetryIndex, payload []byte) types.Paddr {
	t.Helper()
	addr := f.candidate(t, a, lba, k)
	slot := BuildSlot(f.geom.BlockSize, a.Gravity, lba, a.Generation, types.CompressionNone, payload)
	require.NoError(t, f.dev.WriteBlock(addr, slot))
	_, err := f.bm.Set(addr)
	require.NoError(t, err)
	return addr
}

func TestReadRoundTrip(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()
	payload := []byte("ballistic payload")
	f.place(t, a, 7, 0, payload)

	buf := make([]byte, 64)
	res, err := f.pipe.ReadVerified(a, 7, 0, buf)
	require.NoError(t, err)
	assert.False(t, res.Sparse)
	assert.Equal(t, len(payload), res.Bytes)
	assert.Equal(t, payload, buf[:res.Bytes])
	assert.Equal(t, types.RetryIndex(0), res.Retry)
}

func TestSparseReadsNoMedia(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()

	buf := make([]byte, 16)
	res, err := f.pipe.ReadVerified(a, 3, 0, buf)
	require.NoError(t, err)
	assert.True(t, res.Sparse)
	assert.Zero(t, res.Bytes)

	reads, _ := f.dev.Stats()
	assert.Zero(t, reads, "bitmap-free candidates must not touch the media")
}

func TestWinnerAtLaterRetry(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()

	// Another file occupies retry 0's slot; ours sits at retry 2.
	other := liveAnchor()
	other.Gravity = 0x1111_2222_3333_4444
	addr0 := f.candidate(t, a, 9, 0)
	slot := BuildSlot(f.geom.BlockSize, other.Gravity, 9, other.Generation, types.CompressionNone, []byte("other"))
	require.NoError(t, f.dev.WriteBlock(addr0, slot))
	_, err := f.bm.Set(addr0)
	require.NoError(t, err)

	f.place(t, a, 9, 2, []byte("ours"))

	buf := make([]byte, 16)
	res, err := f.pipe.ReadVerified(a, 9, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, types.RetryIndex(2), res.Retry)
	assert.Equal(t, "ours", string(buf[:res.Bytes]))
}

func TestOwnerMismatchOutranksSparse(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()

	other := liveAnchor()
	other.Gravity = 0x5555_6666_7777_8888
	addr0 := f.candidate(t, a, 4, 0)
	slot := BuildSlot(f.geom.BlockSize, other.Gravity, 4, other.Generation, types.CompressionNone, []byte("foreign"))
	require.NoError(t, f.dev.WriteBlock(addr0, slot))
	_, err := f.bm.Set(addr0)
	require.NoError(t, err)

	// Every other candidate is empty; the aggregated result must still
	// be the mismatch, not sparse.
	_, err = f.pipe.ReadVerified(a, 4, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrOwnerMismatch, types.KindOf(err))
}

func TestGenerationSkewLow32Only(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()
	f.place(t, a, 1, 0, []byte("gen"))

	a.Generation++
	_, err := f.pipe.ReadVerified(a, 1, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationSkew, types.KindOf(err))
}

func TestPayloadChecksumCoversPadding(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()
	addr := f.place(t, a, 2, 0, []byte("padded"))

	// Flip a byte in the padding, far past the logical payload length.
	slot, err := f.dev.ReadBlock(addr)
	require.NoError(t, err)
	slot[len(slot)-1] ^= 0xFF
	require.NoError(t, f.dev.WriteBlock(addr, slot))

	_, err = f.pipe.ReadVerified(a, 2, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrChecksum, types.KindOf(err),
		"a checksum that ignored padding would pass here")
}

func TestPoisonDetectedAndLatches(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()
	addr := f.place(t, a, 6, 0, []byte("soon gone"))
	f.dev.PoisonBlock(addr)

	_, err := f.pipe.ReadVerified(a, 6, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrPoison, types.KindOf(err), "poison is not generic corruption")
	assert.True(t, f.state.panicked.Load())
}

func TestHintIsAuthoritative(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()

	// Valid copy at retry 1, stale generation at retry 0, hint says
	// direct. The hint must surface the failure, not quietly rescan.
	f.place(t, a, 8, 1, []byte("good"))
	addr0 := f.candidate(t, a, 8, 0)
	stale := BuildSlot(f.geom.BlockSize, a.Gravity, 8, a.Generation-1, types.CompressionNone, []byte("stale"))
	require.NoError(t, f.dev.WriteBlock(addr0, stale))
	_, err := f.bm.Set(addr0)
	require.NoError(t, err)

	a.SetHint(8, types.HintDirect)
	_, err = f.pipe.ReadVerified(a, 8, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationSkew, types.KindOf(err))
}

func TestSelfHealRepairsEarlierCandidate(t *testing.T) {
	f := newFixture(Config{AllowHeal: true})
	a := liveAnchor()

	// Retry 0 holds a torn copy (bad payload checksum); retry 1 is good.
	addr0 := f.candidate(t, a, 5, 0)
	torn := BuildSlot(f.geom.BlockSize, a.Gravity, 5, a.Generation, types.CompressionNone, []byte("torn"))
	torn[len(torn)-1] ^= 0x01
	require.NoError(t, f.dev.WriteBlock(addr0, torn))
	_, err := f.bm.Set(addr0)
	require.NoError(t, err)

	f.place(t, a, 5, 1, []byte("whole"))

	buf := make([]byte, 16)
	res, err := f.pipe.ReadVerified(a, 5, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, types.RetryIndex(1), res.Retry)
	assert.True(t, res.Healed)

	// The repaired candidate now validates first.
	res, err = f.pipe.ReadVerified(a, 5, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, types.RetryIndex(0), res.Retry)
	assert.Equal(t, "whole", string(buf[:res.Bytes]))
}

func TestNoSelfHealWithoutProvenOwnership(t *testing.T) {
	f := newFixture(Config{AllowHeal: true})
	a := liveAnchor()

	// Retry 0 is marked used but holds unrecognizable bytes: no magic, no
	// valid header. The block may be another file's rotted data, so a win
	// at retry 1 must leave it exactly as found.
	addr0 := f.candidate(t, a, 5, 0)
	garbage := make([]byte, f.geom.BlockSize)
	for i := range garbage {
		garbage[i] = byte(i*7 + 3)
	}
	require.NoError(t, f.dev.WriteBlock(addr0, garbage))
	_, err := f.bm.Set(addr0)
	require.NoError(t, err)

	f.place(t, a, 5, 1, []byte("whole"))

	buf := make([]byte, 16)
	res, err := f.pipe.ReadVerified(a, 5, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, types.RetryIndex(1), res.Retry)
	assert.Equal(t, "whole", string(buf[:res.Bytes]))

	slot, err := f.dev.ReadBlock(addr0)
	require.NoError(t, err)
	assert.Equal(t, garbage, slot, "unowned block was overwritten")
}

func TestNoSelfHealForCompressedPayload(t *testing.T) {
	f := newFixture(Config{AllowHeal: true})
	a := liveAnchor()
	a.Flags |= types.AnchorCompressed

	addr0 := f.candidate(t, a, 5, 0)
	torn := BuildSlot(f.geom.BlockSize, a.Gravity, 5, a.Generation, types.CompressionLZ4, []byte("torn"))
	torn[len(torn)-1] ^= 0x01
	require.NoError(t, f.dev.WriteBlock(addr0, torn))
	_, err := f.bm.Set(addr0)
	require.NoError(t, err)

	addr1 := f.candidate(t, a, 5, 1)
	good := BuildSlot(f.geom.BlockSize, a.Gravity, 5, a.Generation, types.CompressionLZ4, []byte("whole"))
	require.NoError(t, f.dev.WriteBlock(addr1, good))
	_, err = f.bm.Set(addr1)
	require.NoError(t, err)

	res, err := f.pipe.ReadVerified(a, 5, 0, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, types.RetryIndex(1), res.Retry)

	// The torn copy must still be torn: repair cannot reconstruct
	// compressed framing.
	_, err = f.pipe.ReadVerified(a, 5, 0, make([]byte, 16))
	require.NoError(t, err)
	slot, err := f.dev.ReadBlock(addr0)
	require.NoError(t, err)
	assert.NotEqual(t, good, slot)
}

func TestUnknownCompressionSurfaced(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()

	addr := f.candidate(t, a, 0, 0)
	slot := BuildSlot(f.geom.BlockSize, a.Gravity, 0, a.Generation, types.CompressionAlg(99), []byte("x"))
	require.NoError(t, f.dev.WriteBlock(addr, slot))
	_, err := f.bm.Set(addr)
	require.NoError(t, err)

	_, err = f.pipe.ReadVerified(a, 0, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownCompression, types.KindOf(err))
}

func TestEncryptedNeedsCapability(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()
	a.Flags |= types.AnchorEncrypted

	_, err := f.pipe.ReadVerified(a, 0, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrAccessDenied, types.KindOf(err))

	g := newFixture(Config{CanDecrypt: true})
	b := liveAnchor()
	b.Flags |= types.AnchorEncrypted
	g.place(t, b, 0, 0, []byte("secret"))
	res, err := g.pipe.ReadVerified(b, 0, 0, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 6, res.Bytes)
}

func TestHorizonHintUsesStoredAddress(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()

	stored := f.geom.HorizonStart + 17
	slot := BuildSlot(f.geom.BlockSize, a.Gravity, 12, a.Generation, types.CompressionNone, []byte("ring"))
	require.NoError(t, f.dev.WriteBlock(stored, slot))
	_, err := f.bm.Set(stored)
	require.NoError(t, err)
	a.SetHint(12, types.HintHorizon)

	buf := make([]byte, 16)
	res, err := f.pipe.ReadVerified(a, 12, stored, buf)
	require.NoError(t, err)
	assert.Equal(t, types.RetryHorizon, res.Retry)
	assert.Equal(t, "ring", string(buf[:res.Bytes]))
}

func TestTombstonedAnchorDenied(t *testing.T) {
	f := newFixture(Config{})
	a := liveAnchor()
	a.Flags |= types.AnchorTombstone

	_, err := f.pipe.ReadVerified(a, 0, 0, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, types.ErrAccessDenied, types.KindOf(err))
}

func TestHeaderCodecRoundTrip(t *testing.T) {
	h := types.BlockHeader{
		Magic:           types.BlockMagic,
		OwnerID:         42,
		Lba:             7,
		Generation:      9,
		Compression:     types.CompressionZstd,
		PayloadLen:      100,
		PayloadChecksum: 0xCAFE,
	}
	buf := make([]byte, types.BlockHeaderSize)
	MarshalHeader(&h, buf)
	require.True(t, VerifyHeaderChecksum(buf))

	got := UnmarshalHeader(buf)
	h.HeaderChecksum = got.HeaderChecksum
	assert.Equal(t, h, got)

	buf[10] ^= 0x40
	assert.False(t, VerifyHeaderChecksum(buf))
}
