package bist

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"
)

// PatternKind selects the words a pattern produces.
type PatternKind int

// Pattern kinds.
const (
	Counter PatternKind = iota
	Random
	Zeros
	Ones
	Alternating
)

var patternNames = map[PatternKind]string{
	Counter:     "counter",
	Random:      "random",
	Zeros:       "zeros",
	Ones:        "ones",
	Alternating: "alternating",
}

func (k PatternKind) String() string {
	if name, ok := patternNames[k]; ok {
		return name
	}

	return fmt.Sprintf("PatternKind(%d)", int(k))
}

// ParsePatternKind turns a name such as "counter" into a PatternKind.
func ParsePatternKind(s string) (PatternKind, error) {
	for k, name := range patternNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}

	return 0, fmt.Errorf("%w: pattern %q", ErrInvalidPattern, s)
}

// wordsPerSector is the number of dwords in a 512-byte sector.
const wordsPerSector = 128

// A Pattern describes the traffic of a run. Frames is the number of frames
// sent and Words the payload words of each Data FIS.
type Pattern struct {
	Kind   PatternKind
	Frames int
	Words  int
	Seed   uint64
}

// DefaultPattern returns a counter pattern of 64 frames of 16 words.
func DefaultPattern() Pattern {
	return Pattern{Kind: Counter, Frames: 64, Words: 16, Seed: 1}
}

// Validate checks the pattern.
func (p Pattern) Validate() error {
	if _, ok := patternNames[p.Kind]; !ok {
		return fmt.Errorf("%w: kind %v", ErrInvalidPattern, p.Kind)
	}

	if p.Frames <= 0 {
		return fmt.Errorf("%w: %d frames", ErrInvalidPattern, p.Frames)
	}

	if p.Words <= 0 || p.Words*4 > maxPayloadBytes {
		return fmt.Errorf("%w: %d words per frame", ErrInvalidPattern, p.Words)
	}

	return nil
}

// Frame returns the payload of frame i.
func (p Pattern) Frame(i int) []uint32 {
	return p.words(p.Words, uint64(i)*uint64(p.Words))
}

// Sector returns the 512 bytes the pattern puts into a sector.
func (p Pattern) Sector(lba uint64) []byte {
	words := p.words(wordsPerSector, lba*wordsPerSector)

	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}

	return b
}

func (p Pattern) words(n int, base uint64) []uint32 {
	out := make([]uint32, n)

	switch p.Kind {
	case Counter:
		for i := range out {
			out[i] = uint32(base + uint64(i))
		}
	case Random:
		rng := rand.New(rand.NewPCG(p.Seed, base))
		for i := range out {
			out[i] = rng.Uint32()
		}
	case Ones:
		for i := range out {
			out[i] = 0xFFFFFFFF
		}
	case Alternating:
		for i := range out {
			if (base+uint64(i))%2 == 0 {
				out[i] = 0xAAAAAAAA
			} else {
				out[i] = 0x55555555
			}
		}
	}

	return out
}
