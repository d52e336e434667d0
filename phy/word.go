package phy

import "fmt"

// A Word is the unit carried by the physical channel. Primitive marks the
// control-character flag.
type Word struct {
	Value     uint32
	Primitive bool
}

// Data creates a data word.
func Data(v uint32) Word {
	return Word{Value: v}
}

// Prim creates a primitive word.
func Prim(p Primitive) Word {
	return Word{Value: uint32(p), Primitive: true}
}

// Is reports whether the word is the given primitive.
func (w Word) Is(p Primitive) bool {
	return w.Primitive && w.Value == uint32(p)
}

// AsPrimitive returns the primitive the word carries. The second result is
// false for data words.
func (w Word) AsPrimitive() (Primitive, bool) {
	if !w.Primitive {
		return 0, false
	}

	return Primitive(w.Value), true
}

func (w Word) String() string {
	if w.Primitive {
		return Primitive(w.Value).String()
	}

	return fmt.Sprintf("0x%08X", w.Value)
}
