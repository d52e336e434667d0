// Package crc implements the 32-bit frame checksum carried at the end of every
// link-layer frame.
package crc

import (
	"encoding/binary"

	sncrc "github.com/snksoft/crc"
)

// Polynomial and Seed are the generator polynomial and the initial register
// value of the frame checksum.
const (
	Polynomial uint32 = 0x04C11DB7
	Seed       uint32 = 0x52325032
)

// The checksum is computed MSB-first, without reflection and without a final
// XOR, so running it over a frame followed by its own checksum leaves zero.
var table = sncrc.NewTable(&sncrc.Parameters{
	Width:      32,
	Polynomial: uint64(Polynomial),
	Init:       uint64(Seed),
	ReflectIn:  false,
	ReflectOut: false,
	FinalXor:   0,
})

// Compute returns the checksum of the words. Each word is fed most
// significant byte first.
func Compute(words []uint32) uint32 {
	e := NewEngine()
	for _, w := range words {
		e.Update(w)
	}

	return e.Sum()
}

// Verify reports whether sum is the checksum of words.
func Verify(words []uint32, sum uint32) bool {
	return Compute(words) == sum
}

// An Engine accumulates a checksum one word at a time.
type Engine struct {
	value uint64
	buf   [4]byte
}

// NewEngine creates an engine that holds the seed.
func NewEngine() *Engine {
	e := &Engine{}
	e.Reset()

	return e
}

// Reset puts the seed back into the engine.
func (e *Engine) Reset() {
	e.value = table.InitCrc()
}

// Update feeds one word into the engine.
func (e *Engine) Update(word uint32) {
	binary.BigEndian.PutUint32(e.buf[:], word)
	e.value = table.UpdateCrc(e.value, e.buf[:])
}

// Sum returns the checksum of the words fed since the last reset. It does not
// change the engine state.
func (e *Engine) Sum() uint32 {
	return uint32(table.CRC(e.value))
}
