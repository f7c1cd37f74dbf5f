package types

// On-disk block slot layout. Every block in the Flux and Horizon regions
// carries this header at offset 0, followed by the payload slot. The layout
// is little-endian and compatibility-critical.

const (
	// BlockMagic identifies an initialized HN4 block ("HN4B" in
	// little-endian).
	BlockMagic uint32 = 0x4234_4E48

	// PoisonWord is the pattern a failed or ejected DMA transfer leaves
	// behind. A header consisting of this word is reported as a poisoned
	// block, distinctly from generic corruption, and latches the volume.
	PoisonWord uint32 = 0xDEAD_D0D0

	// BlockHeaderSize is the persisted header size in bytes.
	BlockHeaderSize = 40
)

// CompressionAlg names the payload compression codec. Only the integrity
// contract is in scope here: the payload checksum always covers the whole
// slot, compressed or not.
type CompressionAlg uint16

const (
	// CompressionNone is uncompressed payload.
	CompressionNone CompressionAlg = iota

	// CompressionLZ4 is LZ4 block compression.
	CompressionLZ4

	// CompressionZstd is Zstandard compression.
	CompressionZstd

	compressionAlgCount
)

// Known reports whether the algorithm field names a supported codec.
func (c CompressionAlg) Known() bool {
	return c < compressionAlgCount
}

// BlockHeader is the per-block ownership and integrity record.
//
//	off  size  field
//	  0     4  Magic
//	  4     4  HeaderChecksum (Fletcher-64 folded to 32 bits, field zeroed)
//	  8     8  OwnerID (anchor gravity seed)
//	 16     8  Lba
//	 24     4  Generation (low 32 bits of the anchor generation)
//	 28     2  Compression
//	 30     2  reserved, zero
//	 32     4  PayloadLen (logical bytes, <= slot size)
//	 36     4  PayloadChecksum (covers the whole payload slot incl. padding)
type BlockHeader struct {
	Magic           uint32
	HeaderChecksum  uint32
	OwnerID         uint64
	Lba             Lba
	Generation      uint32
	Compression     CompressionAlg
	PayloadLen      uint32
	PayloadChecksum uint32
}
