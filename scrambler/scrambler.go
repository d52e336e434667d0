// Package scrambler implements the 16-bit LFSR that whitens link-layer data
// words.
package scrambler

import "math/bits"

// Seed is the LFSR context loaded at every start of frame.
const Seed uint16 = 0xF0F6

// taps holds, for each of the 32 output bits, the set of context bits whose
// parity produces it. The upper 16 output bits become the next context.
var taps = [32]uint16{
	0xA011, 0xE033, 0x6077, 0xC0EE, 0x21CD, 0x439A, 0x8734, 0xAE79,
	0xFCE3, 0x59D7, 0xB3AE, 0xC74D, 0x2E8B, 0x5D16, 0xBA2C, 0xD449,
	0x0883, 0x1106, 0x220C, 0x4418, 0x8830, 0xB071, 0xC0F3, 0x21F7,
	0x43EE, 0x87DC, 0xAFA9, 0xFF43, 0x5E97, 0xBD2E, 0xDA4D, 0x148B,
}

// A Scrambler produces the whitening sequence for one direction of one link.
// It is not safe for concurrent use.
type Scrambler struct {
	context uint16
	steps   uint64
}

// New creates a scrambler holding the seed.
func New() *Scrambler {
	s := &Scrambler{}
	s.Reset()

	return s
}

// Reset reloads the seed.
func (s *Scrambler) Reset() {
	s.context = Seed
	s.steps = 0
}

// Next advances the LFSR by one word and returns the whitening word.
func (s *Scrambler) Next() uint32 {
	var value uint32

	for n, mask := range taps {
		value |= uint32(bits.OnesCount16(s.context&mask)&1) << n
	}

	s.context = uint16(value >> 16)
	s.steps++

	return value
}

// Whiten XORs the word with the next whitening word. Applying it on both ends
// of a link in lockstep restores the original word.
func (s *Scrambler) Whiten(word uint32) uint32 {
	return word ^ s.Next()
}

// Steps returns the number of words produced since the last reset.
func (s *Scrambler) Steps() uint64 {
	return s.steps
}
