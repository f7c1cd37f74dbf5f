package types

// ArmoredWordSize is the persisted size of one armored bitmap word: 8 bytes
// of bitmap data followed by 1 byte of SEC-DED check bits. The layout is
// compatibility-critical and must round-trip exactly.
const ArmoredWordSize = 9

// ArmoredWord is one unit of the allocation bitmap: 64 block-occupancy bits
// (1 = used) armored by an 8-bit Hamming SEC-DED code. The pair is always
// loaded, verified, and stored as a unit; a word whose check bits do not
// validate after an engine-owned mutation is an engine bug, never media
// wear.
type ArmoredWord struct {
	// Data holds one occupancy bit per block, LSB first.
	Data uint64

	// ECC holds the Hamming(72,64) check bits: bits 0-6 are the position
	// parities, bit 7 is the overall parity.
	ECC uint8
}
