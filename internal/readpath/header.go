// Package readpath implements the shotgun read pipeline: re-derive the
// candidate set the allocator would have produced, validate each candidate
// against the bitmap and the on-disk block header, and return the first
// valid match or the most informative aggregated error.
package readpath

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

// fletcher64 is the running checksum used for block headers and payload
// slots. Input length must be a multiple of 8; block slots always are.
func fletcher64(data []byte) uint64 {
	var sum1, sum2 uint64
	for i := 0; i+8 <= len(data); i += 8 {
		sum1 += binary.LittleEndian.Uint64(data[i : i+8])
		sum2 += sum1
	}
	return sum2
}

// fold32 reduces a Fletcher-64 sum to the 32-bit field stored on disk.
func fold32(sum uint64) uint32 {
	return uint32(sum>>32) ^ uint32(sum)
}

// MarshalHeader encodes a block header into buf, computing the header
// checksum over the encoded bytes with the checksum field zeroed.
func MarshalHeader(h *types.BlockHeader, buf []byte) {
	_ = buf[types.BlockHeaderSize-1]
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], 0)
	binary.LittleEndian.PutUint64(buf[8:], h.OwnerID)
	binary.LittleEndian.PutUint64(buf[16:], uint64(h.Lba))
	binary.LittleEndian.PutUint32(buf[24:], h.Generation)
	binary.LittleEndian.PutUint16(buf[28:], uint16(h.Compression))
	binary.LittleEndian.PutUint16(buf[30:], 0)
	binary.LittleEndian.PutUint32(buf[32:], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[36:], h.PayloadChecksum)
	binary.LittleEndian.PutUint32(buf[4:], fold32(fletcher64(buf[:types.BlockHeaderSize])))
}

// UnmarshalHeader decodes the header fields without validating them; the
// pipeline applies its staged validation separately so each failure mode
// keeps its own error kind.
func UnmarshalHeader(buf []byte) types.BlockHeader {
	return types.BlockHeader{
		Magic:           binary.LittleEndian.Uint32(buf[0:]),
		HeaderChecksum:  binary.LittleEndian.Uint32(buf[4:]),
		OwnerID:         binary.LittleEndian.Uint64(buf[8:]),
		Lba:             types.Lba(binary.LittleEndian.Uint64(buf[16:])),
		Generation:      binary.LittleEndian.Uint32(buf[24:]),
		Compression:     types.CompressionAlg(binary.LittleEndian.Uint16(buf[28:])),
		PayloadLen:      binary.LittleEndian.Uint32(buf[32:]),
		PayloadChecksum: binary.LittleEndian.Uint32(buf[36:]),
	}
}

// VerifyHeaderChecksum recomputes the header checksum over the stored
// bytes with the checksum field zeroed.
func VerifyHeaderChecksum(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[4:])
	var scratch [types.BlockHeaderSize]byte
	copy(scratch[:], buf[:types.BlockHeaderSize])
	binary.LittleEndian.PutUint32(scratch[4:], 0)
	return fold32(fletcher64(scratch[:])) == stored
}

// PayloadChecksum covers the entire payload slot including padding. A
// checksum computed over only the logical sub-length would let padding rot
// silently and is invalid by contract.
func PayloadChecksum(slot []byte) uint32 {
	return fold32(fletcher64(slot))
}

// IsPoison reports whether the header area carries the uninitialized-DMA
// poison pattern. Poison is detected before any other validation so it is
// never misreported as generic corruption.
func IsPoison(buf []byte) bool {
	for i := 0; i+4 <= types.BlockHeaderSize; i += 4 {
		if binary.LittleEndian.Uint32(buf[i:]) != types.PoisonWord {
			return false
		}
	}
	return true
}

// BuildSlot assembles a complete on-disk block: header, payload, zero
// padding, with both checksums computed. Used by the write path above this
// core and by tests.
func BuildSlot(blockSize uint32, owner uint64, lba types.Lba, generation uint32,
	alg types.CompressionAlg, payload []byte) []byte {

	slot := make([]byte, blockSize)
	copy(slot[types.BlockHeaderSize:], payload)

	h := types.BlockHeader{
		Magic:           types.BlockMagic,
		OwnerID:         owner,
		Lba:             lba,
		Generation:      generation,
		Compression:     alg,
		PayloadLen:      uint32(len(payload)),
		PayloadChecksum: PayloadChecksum(slot[types.BlockHeaderSize:]),
	}
	MarshalHeader(&h, slot)
	return slot
}
