// Package ecc implements the Hamming(72,64) SEC-DED code protecting each
// armored bitmap word: 64 data bits, 7 position-parity bits, and one overall
// parity bit packed into a single check byte. Any single flipped bit in the
// 72-bit record is corrected; any two flipped bits are detected. The bit
// layout is compatibility-critical and must not change.
package ecc

import "math/bits"

// Status classifies the outcome of a decode.
type Status uint8

const (
	// Clean means the word validated as stored.
	Clean Status = iota

	// HealedData means one data bit was flipped and has been corrected.
	HealedData

	// HealedCheck means one check bit was flipped and has been
	// corrected; the data was intact.
	HealedCheck

	// Uncorrectable means two or more bits are wrong. The word cannot
	// be trusted.
	Uncorrectable
)

// dataPos maps each data bit index 0..63 to its codeword position 1..71.
// Positions that are powers of two hold the parity bits and are skipped.
var dataPos [64]uint8

// posToBit is the inverse of dataPos; entries for parity positions and
// out-of-range syndromes are 0xFF.
var posToBit [128]uint8

func init() {
	for i := range posToBit {
		posToBit[i] = 0xFF
	}
	bit := 0
	for pos := uint8(1); pos < 72; pos++ {
		if pos&(pos-1) == 0 {
			continue // parity position
		}
		dataPos[bit] = pos
		posToBit[pos] = uint8(bit)
		bit++
	}
}

// Encode computes the check byte for a 64-bit data word. Bits 0-6 are the
// position parities; bit 7 is the overall parity over the full 72-bit
// codeword.
func Encode(data uint64) uint8 {
	var posXor uint8
	for w := data; w != 0; w &= w - 1 {
		posXor ^= dataPos[bits.TrailingZeros64(w)]
	}
	check := posXor & 0x7F
	overall := uint8(bits.OnesCount64(data)+bits.OnesCount8(check)) & 1
	return check | overall<<7
}

// Decode validates a stored (data, check) pair and corrects a single-bit
// fault in either half. It returns the corrected pair and a status; on
// Uncorrectable the returned values are the inputs unchanged and must not
// be used.
func Decode(data uint64, check uint8) (uint64, uint8, Status) {
	var posXor uint8
	for w := data; w != 0; w &= w - 1 {
		posXor ^= dataPos[bits.TrailingZeros64(w)]
	}
	syndrome := (posXor ^ check) & 0x7F
	overall := uint8(bits.OnesCount64(data)+bits.OnesCount8(check)) & 1

	switch {
	case syndrome == 0 && overall == 0:
		return data, check, Clean

	case overall == 1:
		// Exactly one bit of the 72 is wrong; the syndrome names it.
		if syndrome == 0 {
			// The overall parity bit itself.
			return data, check ^ 0x80, HealedCheck
		}
		if syndrome&(syndrome-1) == 0 {
			// One of the seven position-parity bits.
			return data, check ^ syndrome, HealedCheck
		}
		bit := posToBit[syndrome]
		if bit == 0xFF {
			// Syndrome names no codeword position: more than one
			// bit is gone.
			return data, check, Uncorrectable
		}
		return data ^ 1<<bit, check, HealedData

	default:
		// Non-zero syndrome with even overall parity: double fault.
		return data, check, Uncorrectable
	}
}
