package phy

import (
	"fmt"
	"strings"
)

// A Primitive is a reserved control word. On the wire it is marked as a
// control character, so it can never be confused with a data word of the same
// value.
type Primitive uint32

// Primitives of the link layer.
const (
	ALIGN Primitive = 0x7B4A4ABC
	CONT  Primitive = 0x9999AA7C
	SYNC  Primitive = 0xB5B5957C
	RRDY  Primitive = 0x4A4A957C
	ROK   Primitive = 0x3535B57C
	RERR  Primitive = 0x5656B57C
	RIP   Primitive = 0x5555B57C
	XRDY  Primitive = 0x5757B57C
	WTRM  Primitive = 0x5858B57C
	SOF   Primitive = 0x3737B57C
	EOF   Primitive = 0xD5D5B57C
	HOLD  Primitive = 0xD5D5AA7C
	HOLDA Primitive = 0x9595AA7C
)

var primitiveNames = map[Primitive]string{
	ALIGN: "ALIGN",
	CONT:  "CONT",
	SYNC:  "SYNC",
	RRDY:  "R_RDY",
	ROK:   "R_OK",
	RERR:  "R_ERR",
	RIP:   "R_IP",
	XRDY:  "X_RDY",
	WTRM:  "WTRM",
	SOF:   "SOF",
	EOF:   "EOF",
	HOLD:  "HOLD",
	HOLDA: "HOLDA",
}

// Known reports whether p is one of the defined primitives.
func (p Primitive) Known() bool {
	_, ok := primitiveNames[p]
	return ok
}

func (p Primitive) String() string {
	if name, ok := primitiveNames[p]; ok {
		return name
	}

	return fmt.Sprintf("PRIM(0x%08X)", uint32(p))
}

// IsFlowControl reports whether the primitive only regulates the pace of a
// frame and never carries framing meaning.
func (p Primitive) IsFlowControl() bool {
	return p == HOLD || p == HOLDA || p == ALIGN || p == CONT
}

// ParsePrimitive turns a name such as "R_RDY" into a Primitive.
func ParsePrimitive(name string) (Primitive, error) {
	for p, n := range primitiveNames {
		if strings.EqualFold(n, name) || strings.EqualFold(strings.ReplaceAll(n, "_", ""), name) {
			return p, nil
		}
	}

	return 0, fmt.Errorf("phy: unknown primitive %q", name)
}
