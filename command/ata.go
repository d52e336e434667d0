package command

import (
	"fmt"

	"github.com/sarchlab/satalink/fis"
)

// SectorSize is the logical sector size in bytes.
const SectorSize = 512

// MaxTags is the number of native command queueing tags on a link.
const MaxTags = 32

// MaxSectorsPerCommand is the largest transfer the sync helpers put into a
// single queued command.
const MaxSectorsPerCommand = 256

// ATA command codes.
const (
	ATAReadFPDMAQueued  uint8 = 0x60
	ATAWriteFPDMAQueued uint8 = 0x61
	ATAFlushCacheExt    uint8 = 0xEA
	ATAIdentifyDevice   uint8 = 0xEC
)

// ATA status register bits.
const (
	ATAStatusERR  uint8 = 0x01
	ATAStatusDRQ  uint8 = 0x08
	ATAStatusDF   uint8 = 0x20
	ATAStatusDRDY uint8 = 0x40
	ATAStatusBSY  uint8 = 0x80
)

// ATA error register bits.
const (
	ATAErrorABRT uint8 = 0x04
	ATAErrorIDNF uint8 = 0x10
	ATAErrorUNC  uint8 = 0x40
)

// ATADeviceLBA selects LBA addressing in the device register.
const ATADeviceLBA uint8 = 0x40

const maxLBA = 1 << 48

// Op is the operation a command performs.
type Op int

// Operations.
const (
	OpRead Op = iota
	OpWrite
	OpIdentify
	OpFlush
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ FPDMA QUEUED"
	case OpWrite:
		return "WRITE FPDMA QUEUED"
	case OpIdentify:
		return "IDENTIFY DEVICE"
	case OpFlush:
		return "FLUSH CACHE EXT"
	}

	return fmt.Sprintf("Op(%d)", int(o))
}

// A Command is a storage operation. Buffer is the destination of reads and
// IDENTIFY, and the source of writes.
type Command struct {
	Op      Op
	LBA     uint64
	Sectors int
	Buffer  []byte
}

// Read creates a queued read filling buf.
func Read(lba uint64, buf []byte) Command {
	return Command{Op: OpRead, LBA: lba, Sectors: len(buf) / SectorSize, Buffer: buf}
}

// Write creates a queued write of data.
func Write(lba uint64, data []byte) Command {
	return Command{Op: OpWrite, LBA: lba, Sectors: len(data) / SectorSize, Buffer: data}
}

// Identify creates an IDENTIFY DEVICE command.
func Identify() Command {
	return Command{Op: OpIdentify, Sectors: 1, Buffer: make([]byte, SectorSize)}
}

// Flush creates a FLUSH CACHE EXT command.
func Flush() Command {
	return Command{Op: OpFlush}
}

// Queued reports whether the command uses native command queueing.
func (c Command) Queued() bool {
	return c.Op == OpRead || c.Op == OpWrite
}

func (c Command) validate() error {
	switch c.Op {
	case OpRead, OpWrite:
		if c.Sectors <= 0 || c.Sectors > 0xFFFF {
			return fmt.Errorf("%w: %d sectors", ErrBadBuffer, c.Sectors)
		}

		if len(c.Buffer) != c.Sectors*SectorSize {
			return fmt.Errorf("%w: %d bytes for %d sectors",
				ErrBadBuffer, len(c.Buffer), c.Sectors)
		}

		if c.LBA+uint64(c.Sectors) > maxLBA {
			return fmt.Errorf("%w: LBA %d out of range", ErrBadBuffer, c.LBA)
		}
	case OpIdentify:
		if len(c.Buffer) != SectorSize {
			return fmt.Errorf("%w: identify needs %d bytes", ErrBadBuffer, SectorSize)
		}
	case OpFlush:
	default:
		return fmt.Errorf("%w: %v", ErrUnsupported, c.Op)
	}

	return nil
}

// FIS builds the Register H2D FIS that issues the command with the tag.
func (c Command) FIS(tag uint8) *fis.RegH2D {
	f := &fis.RegH2D{IsCommand: true}

	switch c.Op {
	case OpRead, OpWrite:
		f.Command = ATAReadFPDMAQueued
		if c.Op == OpWrite {
			f.Command = ATAWriteFPDMAQueued
		}

		f.Features = uint16(c.Sectors)
		f.Count = uint16(tag&0x1F) << 3
		f.LBA = c.LBA
		f.Device = ATADeviceLBA
	case OpIdentify:
		f.Command = ATAIdentifyDevice
	case OpFlush:
		f.Command = ATAFlushCacheExt
		f.Device = ATADeviceLBA
	}

	return f
}

// Parse is the device-side inverse of FIS. The returned command has no
// buffer.
func Parse(f *fis.RegH2D) (Command, uint8, error) {
	switch f.Command {
	case ATAReadFPDMAQueued, ATAWriteFPDMAQueued:
		op := OpRead
		if f.Command == ATAWriteFPDMAQueued {
			op = OpWrite
		}

		sectors := int(f.Features)
		if sectors == 0 {
			sectors = 0x10000
		}

		tag := uint8(f.Count>>3) & 0x1F

		return Command{Op: op, LBA: f.LBA, Sectors: sectors}, tag, nil
	case ATAIdentifyDevice:
		return Command{Op: OpIdentify, Sectors: 1}, 0, nil
	case ATAFlushCacheExt:
		return Command{Op: OpFlush}, 0, nil
	}

	return Command{}, 0, fmt.Errorf("%w: command 0x%02X", ErrUnsupported, f.Command)
}
