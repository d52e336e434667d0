package bist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/phy"
)

// Errors of the BIST controller.
var (
	ErrInvalidPattern = errors.New("bist: invalid pattern")
	ErrInvalidProfile = errors.New("bist: invalid fault profile")
)

const maxPayloadBytes = fis.MaxDataPayload

// FaultKind is a way of damaging a frame.
type FaultKind int

// Fault kinds. None marks frames sent without a fault.
const (
	None FaultKind = iota
	BitFlip
	MultiBitFlip
	CorruptCRC
	DropWord
	Truncate
	Stall
	DuplicateSOF
	InjectPrimitive
	Reorder
	HoldRun
	Align
	Throttle
)

var faultNames = map[FaultKind]string{
	None:            "none",
	BitFlip:         "bitflip",
	MultiBitFlip:    "multibitflip",
	CorruptCRC:      "corruptcrc",
	DropWord:        "dropword",
	Truncate:        "truncate",
	Stall:           "stall",
	DuplicateSOF:    "duplicatesof",
	InjectPrimitive: "injectprimitive",
	Reorder:         "reorder",
	HoldRun:         "holdrun",
	Align:           "align",
	Throttle:        "throttle",
}

func (k FaultKind) String() string {
	if name, ok := faultNames[k]; ok {
		return name
	}

	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// ParseFaultKind turns a name such as "bitflip" into a FaultKind.
func ParseFaultKind(s string) (FaultKind, error) {
	for k, name := range faultNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}

	return None, fmt.Errorf("%w: fault %q", ErrInvalidProfile, s)
}

// AllFaults lists every fault kind.
func AllFaults() []FaultKind {
	return []FaultKind{
		BitFlip, MultiBitFlip, CorruptCRC, DropWord, Truncate, Stall,
		DuplicateSOF, InjectPrimitive, Reorder, HoldRun, Align, Throttle,
	}
}

// Expected returns how a correct link classifies a frame with the fault.
func (k FaultKind) Expected() Outcome {
	switch k {
	case BitFlip, MultiBitFlip, CorruptCRC, DropWord, Reorder:
		return CRCMismatch
	case Truncate:
		return Truncated
	case Stall:
		return Timeout
	case DuplicateSOF, InjectPrimitive:
		return UnexpectedPrimitive
	}

	return Delivered
}

// A Fault is one entry of a profile. Bits is the number of bits a
// MultiBitFlip flips, Count the length of a HoldRun or Align burst, and
// Primitive the word InjectPrimitive inserts.
type Fault struct {
	Kind      FaultKind
	Bits      int
	Count     int
	Primitive phy.Primitive
}

func (f Fault) withDefaults() Fault {
	if f.Kind == MultiBitFlip && f.Bits == 0 {
		f.Bits = 3
	}

	if (f.Kind == HoldRun || f.Kind == Align) && f.Count == 0 {
		f.Count = 4
	}

	if f.Kind == InjectPrimitive && f.Primitive == 0 {
		f.Primitive = phy.RRDY
	}

	return f
}

func (f Fault) validate() error {
	if _, ok := faultNames[f.Kind]; !ok || f.Kind == None {
		return fmt.Errorf("%w: kind %v", ErrInvalidProfile, f.Kind)
	}

	if f.Kind == MultiBitFlip && (f.Bits < 2 || f.Bits > 32) {
		return fmt.Errorf("%w: %d bits", ErrInvalidProfile, f.Bits)
	}

	if f.Kind == InjectPrimitive {
		switch f.Primitive {
		case phy.ALIGN, phy.CONT, phy.HOLD, phy.HOLDA, phy.SYNC, phy.WTRM, phy.EOF:
			return fmt.Errorf("%w: %v is not an unexpected primitive",
				ErrInvalidProfile, f.Primitive)
		}
	}

	return nil
}

// A FaultProfile says which faults are injected into which frames.
//
// Injected frames take the faults of the list in turn. Rate is the fraction
// of frames injected and Position the data word the fault hits; a negative
// position picks a random word. Cont enables continuation coding on the
// channel.
type FaultProfile struct {
	Faults   []Fault
	Position int
	Rate     float64
	Seed     uint64
	Cont     bool
}

// ProfileOf returns a profile that injects every frame with the faults in
// turn at random positions.
func ProfileOf(kinds ...FaultKind) FaultProfile {
	p := FaultProfile{Position: -1, Rate: 1, Seed: 1}
	for _, k := range kinds {
		p.Faults = append(p.Faults, Fault{Kind: k})
	}

	return p
}

// Validate checks the profile.
func (p FaultProfile) Validate() error {
	if p.Rate < 0 || p.Rate > 1 {
		return fmt.Errorf("%w: rate %v", ErrInvalidProfile, p.Rate)
	}

	if len(p.Faults) == 0 && p.Rate > 0 {
		return fmt.Errorf("%w: rate %v without faults", ErrInvalidProfile, p.Rate)
	}

	for _, f := range p.Faults {
		if err := f.withDefaults().validate(); err != nil {
			return err
		}
	}

	return nil
}
