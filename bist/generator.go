package bist

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

const sectorSize = 512

// A SectorDevice stores sectors. Command layers and arrays implement it.
type SectorDevice interface {
	ReadSectors(ctx context.Context, lba uint64, buf []byte) error
	WriteSectors(ctx context.Context, lba uint64, data []byte) error
}

// Transfer summarises a generator or checker pass.
type Transfer struct {
	Sectors  uint64
	Duration time.Duration

	// Errors counts the words that did not match the pattern.
	Errors uint64

	// FirstError is the LBA of the first mismatching sector.
	FirstError uint64
}

// Throughput returns the bytes moved per second.
func (t Transfer) Throughput() float64 {
	if t.Duration <= 0 {
		return 0
	}

	return float64(t.Sectors*sectorSize) / t.Duration.Seconds()
}

// A Generator writes a pattern into a sector device.
type Generator struct {
	Device  SectorDevice
	Pattern Pattern

	// Batch is the number of sectors per write. Zero means 128.
	Batch int
}

// Fill writes count sectors starting at lba.
func (g Generator) Fill(ctx context.Context, lba uint64, count uint64) (Transfer, error) {
	start := time.Now()
	t := Transfer{}

	err := forBatches(lba, count, g.Batch, func(at uint64, n int) error {
		data := make([]byte, 0, n*sectorSize)
		for i := 0; i < n; i++ {
			data = append(data, g.Pattern.Sector(at+uint64(i))...)
		}

		if err := g.Device.WriteSectors(ctx, at, data); err != nil {
			return fmt.Errorf("bist: writing LBA %d: %w", at, err)
		}

		t.Sectors += uint64(n)

		return nil
	})

	t.Duration = time.Since(start)

	return t, err
}

// A Checker reads sectors back and compares them with a pattern.
type Checker struct {
	Device  SectorDevice
	Pattern Pattern

	// Batch is the number of sectors per read. Zero means 128.
	Batch int
}

// Verify reads count sectors starting at lba and counts the mismatching
// words.
func (c Checker) Verify(ctx context.Context, lba uint64, count uint64) (Transfer, error) {
	start := time.Now()
	t := Transfer{}

	err := forBatches(lba, count, c.Batch, func(at uint64, n int) error {
		data := make([]byte, n*sectorSize)
		if err := c.Device.ReadSectors(ctx, at, data); err != nil {
			return fmt.Errorf("bist: reading LBA %d: %w", at, err)
		}

		for i := 0; i < n; i++ {
			got := data[i*sectorSize : (i+1)*sectorSize]
			bad := wordErrors(got, c.Pattern.Sector(at+uint64(i)))

			if bad > 0 && t.Errors == 0 {
				t.FirstError = at + uint64(i)
			}

			t.Errors += bad
		}

		t.Sectors += uint64(n)

		return nil
	})

	t.Duration = time.Since(start)

	return t, err
}

func forBatches(lba, count uint64, batch int, f func(at uint64, n int) error) error {
	if batch <= 0 {
		batch = 128
	}

	for done := uint64(0); done < count; {
		n := uint64(batch)
		if count-done < n {
			n = count - done
		}

		if err := f(lba+done, int(n)); err != nil {
			return err
		}

		done += n
	}

	return nil
}

func wordErrors(got, want []byte) uint64 {
	var n uint64

	for i := 0; i+4 <= len(want); i += 4 {
		if binary.LittleEndian.Uint32(got[i:]) != binary.LittleEndian.Uint32(want[i:]) {
			n++
		}
	}

	return n
}
