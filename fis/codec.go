package fis

import (
	"encoding/binary"
	"fmt"
)

// Encode converts a FIS to its wire words.
func Encode(f FIS) ([]uint32, error) {
	if d, ok := f.(*Data); ok && len(d.Payload)*4 > MaxDataPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(d.Payload)*4)
	}

	return BytesToWords(f.marshal()), nil
}

// MustEncode is Encode for FIS values known to be valid.
func MustEncode(f FIS) []uint32 {
	words, err := Encode(f)
	if err != nil {
		panic(err)
	}

	return words
}

// Decode parses wire words into a FIS.
func Decode(words []uint32) (FIS, error) {
	if len(words) == 0 {
		return nil, ErrEmpty
	}

	b := WordsToBytes(words)
	t := Type(b[0])

	if t == TypeData {
		if len(b)-4 > MaxDataPayload {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b)-4)
		}

		d := &Data{PMPort: b[1] & 0x0F}
		d.Payload = append([]uint32(nil), words[1:]...)

		return d, nil
	}

	n, ok := t.fixedLen()
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, b[0])
	}

	if len(b) != n {
		return nil, fmt.Errorf("%w: %s with %d bytes", ErrLength, t, len(b))
	}

	var f FIS
	switch t {
	case TypeRegH2D:
		f = unmarshalRegH2D(b)
	case TypeRegD2H:
		f = unmarshalRegD2H(b)
	case TypeDMAActivate:
		f = &DMAActivate{PMPort: b[1] & 0x0F}
	case TypeDMASetup:
		f = unmarshalDMASetup(b)
	case TypeBISTActivate:
		f = unmarshalBISTActivate(b)
	case TypePIOSetup:
		f = unmarshalPIOSetup(b)
	case TypeSetDevBits:
		f = unmarshalSetDevBits(b)
	}

	return f, nil
}

// BytesToWords packs bytes into little-endian words. A trailing partial word
// is zero padded.
func BytesToWords(b []byte) []uint32 {
	words := make([]uint32, (len(b)+3)/4)
	for i := range words {
		var chunk [4]byte
		copy(chunk[:], b[i*4:])
		words[i] = binary.LittleEndian.Uint32(chunk[:])
	}

	return words
}

// WordsToBytes unpacks little-endian words into bytes.
func WordsToBytes(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}

	return b
}

func flag(b bool, bit uint) byte {
	if b {
		return 1 << bit
	}

	return 0
}

func putLBA(b []byte, lba uint64) {
	b[4] = byte(lba)
	b[5] = byte(lba >> 8)
	b[6] = byte(lba >> 16)
	b[8] = byte(lba >> 24)
	b[9] = byte(lba >> 32)
	b[10] = byte(lba >> 40)
}

func getLBA(b []byte) uint64 {
	return uint64(b[4]) | uint64(b[5])<<8 | uint64(b[6])<<16 |
		uint64(b[8])<<24 | uint64(b[9])<<32 | uint64(b[10])<<40
}

func (f *RegH2D) marshal() []byte {
	b := make([]byte, 20)
	b[0] = byte(TypeRegH2D)
	b[1] = f.PMPort&0x0F | flag(f.IsCommand, 7)
	b[2] = f.Command
	b[3] = byte(f.Features)
	putLBA(b, f.LBA)
	b[7] = f.Device
	b[11] = byte(f.Features >> 8)
	binary.LittleEndian.PutUint16(b[12:], f.Count)
	b[14] = f.ICC
	b[15] = f.Control
	binary.LittleEndian.PutUint32(b[16:], f.Auxiliary)

	return b
}

func unmarshalRegH2D(b []byte) *RegH2D {
	return &RegH2D{
		PMPort:    b[1] & 0x0F,
		IsCommand: b[1]&0x80 != 0,
		Command:   b[2],
		Features:  uint16(b[3]) | uint16(b[11])<<8,
		LBA:       getLBA(b),
		Device:    b[7],
		Count:     binary.LittleEndian.Uint16(b[12:]),
		ICC:       b[14],
		Control:   b[15],
		Auxiliary: binary.LittleEndian.Uint32(b[16:]),
	}
}

func (f *RegD2H) marshal() []byte {
	b := make([]byte, 20)
	b[0] = byte(TypeRegD2H)
	b[1] = f.PMPort&0x0F | flag(f.Interrupt, 6)
	b[2] = f.Status
	b[3] = f.Error
	putLBA(b, f.LBA)
	b[7] = f.Device
	binary.LittleEndian.PutUint16(b[12:], f.Count)

	return b
}

func unmarshalRegD2H(b []byte) *RegD2H {
	return &RegD2H{
		PMPort:    b[1] & 0x0F,
		Interrupt: b[1]&0x40 != 0,
		Status:    b[2],
		Error:     b[3],
		LBA:       getLBA(b),
		Device:    b[7],
		Count:     binary.LittleEndian.Uint16(b[12:]),
	}
}

func (f *DMAActivate) marshal() []byte {
	return []byte{byte(TypeDMAActivate), f.PMPort & 0x0F, 0, 0}
}

func (f *DMASetup) marshal() []byte {
	b := make([]byte, 28)
	b[0] = byte(TypeDMASetup)
	b[1] = f.PMPort&0x0F | flag(f.DeviceToHost, 5) |
		flag(f.Interrupt, 6) | flag(f.AutoActivate, 7)
	binary.LittleEndian.PutUint64(b[4:], f.BufferID)
	binary.LittleEndian.PutUint32(b[16:], f.BufferOffset)
	binary.LittleEndian.PutUint32(b[20:], f.TransferCount)

	return b
}

func unmarshalDMASetup(b []byte) *DMASetup {
	return &DMASetup{
		PMPort:        b[1] & 0x0F,
		DeviceToHost:  b[1]&0x20 != 0,
		Interrupt:     b[1]&0x40 != 0,
		AutoActivate:  b[1]&0x80 != 0,
		BufferID:      binary.LittleEndian.Uint64(b[4:]),
		BufferOffset:  binary.LittleEndian.Uint32(b[16:]),
		TransferCount: binary.LittleEndian.Uint32(b[20:]),
	}
}

func (f *Data) marshal() []byte {
	b := make([]byte, 4, 4+len(f.Payload)*4)
	b[0] = byte(TypeData)
	b[1] = f.PMPort & 0x0F

	return append(b, WordsToBytes(f.Payload)...)
}

func (f *BISTActivate) marshal() []byte {
	b := make([]byte, 12)
	b[0] = byte(TypeBISTActivate)
	b[1] = f.PMPort & 0x0F
	b[2] = f.Pattern
	binary.LittleEndian.PutUint32(b[4:], f.Data[0])
	binary.LittleEndian.PutUint32(b[8:], f.Data[1])

	return b
}

func unmarshalBISTActivate(b []byte) *BISTActivate {
	return &BISTActivate{
		PMPort:  b[1] & 0x0F,
		Pattern: b[2],
		Data: [2]uint32{
			binary.LittleEndian.Uint32(b[4:]),
			binary.LittleEndian.Uint32(b[8:]),
		},
	}
}

func (f *PIOSetup) marshal() []byte {
	b := make([]byte, 20)
	b[0] = byte(TypePIOSetup)
	b[1] = f.PMPort&0x0F | flag(f.DeviceToHost, 5) | flag(f.Interrupt, 6)
	b[2] = f.Status
	b[3] = f.Error
	putLBA(b, f.LBA)
	b[7] = f.Device
	binary.LittleEndian.PutUint16(b[12:], f.Count)
	b[15] = f.EStatus
	binary.LittleEndian.PutUint16(b[16:], f.TransferCount)

	return b
}

func unmarshalPIOSetup(b []byte) *PIOSetup {
	return &PIOSetup{
		PMPort:        b[1] & 0x0F,
		DeviceToHost:  b[1]&0x20 != 0,
		Interrupt:     b[1]&0x40 != 0,
		Status:        b[2],
		Error:         b[3],
		LBA:           getLBA(b),
		Device:        b[7],
		Count:         binary.LittleEndian.Uint16(b[12:]),
		EStatus:       b[15],
		TransferCount: binary.LittleEndian.Uint16(b[16:]),
	}
}

// The status byte of a Set Device Bits FIS only carries bits 6:4 and 2:0.
func (f *SetDevBits) marshal() []byte {
	b := make([]byte, 8)
	b[0] = byte(TypeSetDevBits)
	b[1] = f.PMPort&0x0F | flag(f.Interrupt, 6) | flag(f.Notification, 7)
	b[2] = f.Status & 0x77
	b[3] = f.Error
	binary.LittleEndian.PutUint32(b[4:], f.SActive)

	return b
}

func unmarshalSetDevBits(b []byte) *SetDevBits {
	return &SetDevBits{
		PMPort:       b[1] & 0x0F,
		Interrupt:    b[1]&0x40 != 0,
		Notification: b[1]&0x80 != 0,
		Status:       b[2] & 0x77,
		Error:        b[3],
		SActive:      binary.LittleEndian.Uint32(b[4:]),
	}
}
