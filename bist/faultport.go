package bist

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/sarchlab/satalink/phy"
)

// faultPort sits between a transmitting link and the channel. When armed, it
// holds back the next frame from SOF to EOF, damages it, and forwards it. A
// stalled port drops every word until it is disarmed, including the SYNC the
// transmitter aborts with, so only the receiver's frame timeout can end the
// frame.
type faultPort struct {
	phy.Port

	lock      sync.Mutex
	armed     bool
	fault     Fault
	position  int
	rng       *rand.Rand
	capturing bool
	frame     []phy.Word
	stalled   bool
}

func newFaultPort(p phy.Port, rng *rand.Rand) *faultPort {
	return &faultPort{Port: p, rng: rng}
}

func (p *faultPort) arm(f Fault, position int) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.armed = true
	p.fault = f
	p.position = position
}

func (p *faultPort) disarm() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.armed = false
	p.capturing = false
	p.stalled = false
	p.frame = nil
}

func (p *faultPort) Send(ctx context.Context, w phy.Word) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.stalled {
		return nil
	}

	if !p.capturing {
		if p.armed && w.Is(phy.SOF) {
			p.capturing = true
			p.frame = []phy.Word{w}

			return nil
		}

		return p.Port.Send(ctx, w)
	}

	p.frame = append(p.frame, w)
	if !w.Is(phy.EOF) {
		return nil
	}

	out := p.damage(p.frame)
	p.capturing = false
	p.armed = false
	p.frame = nil

	for _, w := range out {
		if err := p.Port.Send(ctx, w); err != nil {
			return err
		}
	}

	return nil
}

// damage applies the armed fault to a frame of SOF, data words and EOF.
func (p *faultPort) damage(frame []phy.Word) []phy.Word {
	sof, eof := frame[0], frame[len(frame)-1]
	data := slices.Clone(frame[1 : len(frame)-1])

	pos := p.position
	if pos < 0 || pos >= len(data) {
		pos = p.rng.IntN(len(data))
	}

	f := p.fault
	out := []phy.Word{sof}

	switch f.Kind {
	case BitFlip:
		data[pos].Value ^= 1 << p.rng.IntN(32)
	case MultiBitFlip:
		for _, bit := range p.rng.Perm(32)[:f.Bits] {
			data[pos].Value ^= 1 << bit
		}
	case CorruptCRC:
		data[len(data)-1].Value ^= 1 << p.rng.IntN(32)
	case DropWord:
		data = slices.Delete(data, pos, pos+1)
	case Truncate:
		return append(append(out, data[:pos]...), phy.Prim(phy.SYNC))
	case Stall:
		p.stalled = true
		return append(out, data[:pos]...)
	case DuplicateSOF:
		data = slices.Insert(data, pos, phy.Prim(phy.SOF))
	case InjectPrimitive:
		data = slices.Insert(data, pos, phy.Prim(f.Primitive))
	case Reorder:
		return append(append(out, data[:len(data)-1]...), eof, data[len(data)-1])
	case HoldRun:
		data = slices.Insert(data, pos, repeat(phy.HOLD, f.Count)...)
	case Align:
		data = slices.Insert(data, pos, repeat(phy.ALIGN, f.Count)...)
	}

	return append(append(out, data...), eof)
}

func repeat(p phy.Primitive, n int) []phy.Word {
	words := make([]phy.Word, n)
	for i := range words {
		words[i] = phy.Prim(p)
	}

	return words
}
