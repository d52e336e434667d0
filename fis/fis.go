// Package fis defines the Frame Information Structures carried by the link
// layer and their wire encoding.
//
// A FIS is a sequence of bytes whose first byte is its type. On the wire the
// bytes are packed into 32-bit words, little-endian.
package fis

import (
	"errors"
	"fmt"
)

// Type identifies a FIS variant.
type Type uint8

// FIS types.
const (
	TypeRegH2D       Type = 0x27
	TypeRegD2H       Type = 0x34
	TypeDMAActivate  Type = 0x39
	TypeDMASetup     Type = 0x41
	TypeData         Type = 0x46
	TypeBISTActivate Type = 0x58
	TypePIOSetup     Type = 0x5F
	TypeSetDevBits   Type = 0xA1
)

// MaxDataPayload is the largest payload a Data FIS may carry, in bytes.
const MaxDataPayload = 8192

var typeNames = map[Type]string{
	TypeRegH2D:       "RegH2D",
	TypeRegD2H:       "RegD2H",
	TypeDMAActivate:  "DMAActivate",
	TypeDMASetup:     "DMASetup",
	TypeData:         "Data",
	TypeBISTActivate: "BISTActivate",
	TypePIOSetup:     "PIOSetup",
	TypeSetDevBits:   "SetDevBits",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("Type(0x%02X)", uint8(t))
}

// fixedLen returns the length in bytes of a fixed-size FIS type.
func (t Type) fixedLen() (int, bool) {
	switch t {
	case TypeRegH2D, TypeRegD2H, TypePIOSetup:
		return 20, true
	case TypeDMAActivate:
		return 4, true
	case TypeDMASetup:
		return 28, true
	case TypeBISTActivate:
		return 12, true
	case TypeSetDevBits:
		return 8, true
	}

	return 0, false
}

// Errors returned when decoding malformed FIS words.
var (
	ErrEmpty           = errors.New("fis: empty frame")
	ErrUnknownType     = errors.New("fis: unknown type")
	ErrLength          = errors.New("fis: wrong length for type")
	ErrPayloadTooLarge = errors.New("fis: data payload too large")
)

// A FIS is one of the structures defined in this package.
type FIS interface {
	// Type returns the FIS type.
	Type() Type

	marshal() []byte
}

// RegH2D is the Register Host to Device FIS that carries a command.
type RegH2D struct {
	PMPort    uint8
	IsCommand bool
	Command   uint8
	Features  uint16
	LBA       uint64
	Device    uint8
	Count     uint16
	ICC       uint8
	Control   uint8
	Auxiliary uint32
}

// RegD2H is the Register Device to Host FIS that reports status.
type RegD2H struct {
	PMPort    uint8
	Interrupt bool
	Status    uint8
	Error     uint8
	LBA       uint64
	Device    uint8
	Count     uint16
}

// DMAActivate tells the host to send the next Data FIS of a write.
type DMAActivate struct {
	PMPort uint8
}

// DMASetup selects the buffer of a first-party DMA transfer.
type DMASetup struct {
	PMPort uint8
	// DeviceToHost is set for reads.
	DeviceToHost  bool
	Interrupt     bool
	AutoActivate  bool
	BufferID      uint64
	BufferOffset  uint32
	TransferCount uint32
}

// Data carries payload words.
type Data struct {
	PMPort  uint8
	Payload []uint32
}

// BISTActivate asks the peer to enter a built-in self-test mode.
type BISTActivate struct {
	PMPort  uint8
	Pattern uint8
	Data    [2]uint32
}

// PIOSetup announces a programmed I/O data transfer.
type PIOSetup struct {
	PMPort        uint8
	DeviceToHost  bool
	Interrupt     bool
	Status        uint8
	Error         uint8
	LBA           uint64
	Device        uint8
	Count         uint16
	EStatus       uint8
	TransferCount uint16
}

// SetDevBits reports completion of queued commands.
type SetDevBits struct {
	PMPort       uint8
	Interrupt    bool
	Notification bool
	Status       uint8
	Error        uint8
	SActive      uint32
}

// Type returns TypeRegH2D.
func (*RegH2D) Type() Type { return TypeRegH2D }

// Type returns TypeRegD2H.
func (*RegD2H) Type() Type { return TypeRegD2H }

// Type returns TypeDMAActivate.
func (*DMAActivate) Type() Type { return TypeDMAActivate }

// Type returns TypeDMASetup.
func (*DMASetup) Type() Type { return TypeDMASetup }

// Type returns TypeData.
func (*Data) Type() Type { return TypeData }

// Type returns TypeBISTActivate.
func (*BISTActivate) Type() Type { return TypeBISTActivate }

// Type returns TypePIOSetup.
func (*PIOSetup) Type() Type { return TypePIOSetup }

// Type returns TypeSetDevBits.
func (*SetDevBits) Type() Type { return TypeSetDevBits }

// PayloadBytes returns the payload as little-endian bytes.
func (d *Data) PayloadBytes() []byte {
	return WordsToBytes(d.Payload)
}

// NewData creates a Data FIS from bytes. The length must be a multiple of 4.
func NewData(b []byte) (*Data, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d payload bytes", ErrLength, len(b))
	}

	if len(b) > MaxDataPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b))
	}

	return &Data{Payload: BytesToWords(b)}, nil
}
