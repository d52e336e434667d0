package command

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// IdentifyData is the part of the IDENTIFY DEVICE page the stack uses.
type IdentifyData struct {
	Serial     string
	Firmware   string
	Model      string
	Sectors    uint64
	QueueDepth int
	NCQ        bool
	LBA48      bool
}

// Word offsets in the IDENTIFY DEVICE page.
const (
	idWordConfig       = 0
	idWordSerial       = 10
	idWordFirmware     = 23
	idWordModel        = 27
	idWordCapabilities = 49
	idWordLBA28        = 60
	idWordQueueDepth   = 75
	idWordSATACap      = 76
	idWordCmdSet2      = 83
	idWordCmdSet2En    = 86
	idWordLBA48        = 100
)

const (
	idCapLBA      uint16 = 1 << 9
	idSATACapNCQ  uint16 = 1 << 8
	idCmdSetLBA48 uint16 = 1 << 10
	lba28Limit           = 0x0FFFFFFF
)

// Encode builds the 512-byte IDENTIFY DEVICE page.
func (d IdentifyData) Encode() []byte {
	page := make([]uint16, SectorSize/2)

	page[idWordConfig] = 0x0040
	putATAString(page[idWordSerial:idWordSerial+10], d.Serial)
	putATAString(page[idWordFirmware:idWordFirmware+4], d.Firmware)
	putATAString(page[idWordModel:idWordModel+20], d.Model)
	page[idWordCapabilities] = idCapLBA

	lba28 := d.Sectors
	if lba28 > lba28Limit {
		lba28 = lba28Limit
	}
	page[idWordLBA28] = uint16(lba28)
	page[idWordLBA28+1] = uint16(lba28 >> 16)

	if d.NCQ {
		page[idWordSATACap] |= idSATACapNCQ
		if d.QueueDepth > 0 {
			page[idWordQueueDepth] = uint16(d.QueueDepth-1) & 0x1F
		}
	}

	if d.LBA48 {
		page[idWordCmdSet2] |= idCmdSetLBA48
		page[idWordCmdSet2En] |= idCmdSetLBA48
		for i := 0; i < 4; i++ {
			page[idWordLBA48+i] = uint16(d.Sectors >> (16 * i))
		}
	}

	b := make([]byte, SectorSize)
	for i, w := range page {
		binary.LittleEndian.PutUint16(b[i*2:], w)
	}

	return b
}

// ParseIdentify decodes an IDENTIFY DEVICE page.
func ParseIdentify(b []byte) (*IdentifyData, error) {
	if len(b) != SectorSize {
		return nil, fmt.Errorf("%w: identify page of %d bytes", ErrBadBuffer, len(b))
	}

	word := func(i int) uint16 {
		return binary.LittleEndian.Uint16(b[i*2:])
	}

	d := &IdentifyData{
		Serial:   getATAString(b, idWordSerial, 10),
		Firmware: getATAString(b, idWordFirmware, 4),
		Model:    getATAString(b, idWordModel, 20),
		NCQ:      word(idWordSATACap)&idSATACapNCQ != 0,
		LBA48:    word(idWordCmdSet2)&idCmdSetLBA48 != 0,
	}

	if d.NCQ {
		d.QueueDepth = int(word(idWordQueueDepth)&0x1F) + 1
	}

	if d.LBA48 {
		for i := 0; i < 4; i++ {
			d.Sectors |= uint64(word(idWordLBA48+i)) << (16 * i)
		}
	} else {
		d.Sectors = uint64(word(idWordLBA28)) | uint64(word(idWordLBA28+1))<<16
	}

	return d, nil
}

// ATA strings hold two characters per word, the first one in the high byte,
// and are padded with spaces.
func putATAString(words []uint16, s string) {
	padded := []byte(s)
	for len(padded) < len(words)*2 {
		padded = append(padded, ' ')
	}

	for i := range words {
		words[i] = uint16(padded[i*2])<<8 | uint16(padded[i*2+1])
	}
}

func getATAString(b []byte, word, count int) string {
	raw := b[word*2 : (word+count)*2]
	s := make([]byte, len(raw))

	for i := 0; i < len(raw); i += 2 {
		s[i] = raw[i+1]
		s[i+1] = raw[i]
	}

	return strings.TrimRight(string(s), " \x00")
}
