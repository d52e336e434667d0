package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/tracing"
)

// Poll processes at most one inbound FIS. It returns the oldest unreported
// completion, or nil when nothing completed. If another goroutine is reading
// the link, Poll waits until that goroutine makes progress.
func (l *Layer) Poll(ctx context.Context) (*Completion, error) {
	if c := l.popReady(); c != nil {
		return c, nil
	}

	ch := l.changedChan()

	pumped, err := l.pumpOnce(ctx)
	if err != nil {
		return nil, err
	}

	if !pumped {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return l.popReady(), nil
}

// Wait reads the link until any command completes.
func (l *Layer) Wait(ctx context.Context) (*Completion, error) {
	for {
		if c := l.popReady(); c != nil {
			return c, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ch := l.changedChan()

		pumped, err := l.pumpOnce(ctx)
		if err != nil {
			if c := l.popReady(); c != nil {
				return c, nil
			}

			return nil, err
		}

		if pumped {
			continue
		}

		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
}

// WaitTag reads the link until the command on the tag is terminal. When the
// context ends first, the command fails with ErrTimeout or ErrCancelled.
func (l *Layer) WaitTag(ctx context.Context, tag uint8) (*Descriptor, error) {
	d := l.Descriptor(tag)
	if d == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}

	return l.waitDescriptor(ctx, d)
}

func (l *Layer) waitDescriptor(ctx context.Context, d *Descriptor) (*Descriptor, error) {
	for {
		if d.terminal() {
			l.lock.Lock()
			l.dropReadyLocked(d)
			l.lock.Unlock()

			return d, d.Err()
		}

		if ctx.Err() != nil {
			return l.expire(ctx, d)
		}

		ch := l.changedChan()

		pumped, _ := l.pumpOnce(ctx)
		if pumped {
			continue
		}

		select {
		case <-d.Done():
		case <-ch:
		case <-ctx.Done():
		}
	}
}

func (l *Layer) expire(ctx context.Context, d *Descriptor) (*Descriptor, error) {
	err := ErrCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ErrTimeout
	}

	l.lock.Lock()
	if !d.terminal() && l.tags[d.Tag] == d {
		l.abandonLocked(d)
	}
	l.lock.Unlock()

	l.complete(d, err, false)

	return d, d.Err()
}

func (l *Layer) popReady() *Completion {
	l.lock.Lock()
	defer l.lock.Unlock()

	if len(l.ready) == 0 {
		return nil
	}

	c := l.ready[0]
	l.ready[0] = nil
	l.ready = l.ready[1:]

	return c
}

// pumpOnce receives and handles one FIS if the link is free. A submitter
// that arrives while the link is idle interrupts the receive.
func (l *Layer) pumpOnce(ctx context.Context) (bool, error) {
	pctx, cancel, ok := l.tryAcquireWireForPump(ctx)
	if !ok {
		return false, nil
	}
	defer cancel()

	f, err := l.link.Receive(pctx)
	if err == nil {
		err = l.handle(ctx, f)
		l.releaseWire()

		return true, err
	}

	interrupted := pctx.Err() != nil && errors.Is(err, context.Canceled)

	l.releaseWire()

	switch {
	case ctx.Err() != nil:
		return true, ctx.Err()
	case interrupted:
		return true, nil
	}

	l.failInFlight(err)

	return true, err
}

// failInFlight fails every outstanding command with the link error.
func (l *Layer) failInFlight(err error) {
	l.lock.Lock()

	var victims []*Descriptor

	for _, d := range l.tags {
		if d != nil && !d.terminal() {
			victims = append(victims, d)
		}
	}

	l.dma = dmaState{}
	l.pio = pioState{}
	l.lock.Unlock()

	for _, d := range victims {
		l.complete(d, err, true)
	}
}

func (l *Layer) handle(ctx context.Context, f fis.FIS) error {
	switch f := f.(type) {
	case *fis.DMASetup:
		return l.handleDMASetup(ctx, f)
	case *fis.DMAActivate:
		return l.sendChunk(ctx)
	case *fis.Data:
		l.handleData(f)
	case *fis.SetDevBits:
		l.handleSetDevBits(f)
	case *fis.RegD2H:
		l.handleRegD2H(f)
	case *fis.PIOSetup:
		l.handlePIOSetup(f)
	}

	return nil
}

func statusErr(status, errReg uint8) error {
	if status&(ATAStatusERR|ATAStatusDF) == 0 {
		return nil
	}

	return &DeviceError{Status: status, ErrReg: errReg}
}

func (l *Layer) handleDMASetup(ctx context.Context, f *fis.DMASetup) error {
	tag := uint8(f.BufferID & 0x1F)

	l.lock.Lock()

	st := dmaState{
		active:    true,
		toHost:    f.DeviceToHost,
		offset:    int(f.BufferOffset),
		remaining: int(f.TransferCount),
	}

	var violation *Descriptor

	switch d := l.tags[tag]; {
	case d != nil && !d.terminal() && d.Command.Queued():
		st.d = d
		if st.toHost != (d.Command.Op == OpRead) ||
			st.offset+st.remaining > len(d.Command.Buffer) {
			violation = d
			st.discard = true
		}
	case l.ghosts[tag] != nil:
		st.d = l.ghosts[tag]
		st.discard = true
	default:
		st.discard = true
	}

	l.dma = st
	l.lock.Unlock()

	if violation != nil {
		l.complete(violation, fmt.Errorf(
			"%w: DMA setup does not match tag %d", ErrProtocol, tag), true)
	} else if !st.discard {
		tracing.AddTaskStep(st.d.ID, l, "dma setup")
	}

	if !f.DeviceToHost && f.AutoActivate {
		return l.sendChunk(ctx)
	}

	return nil
}

// sendChunk answers DMA Activate with the next Data FIS of the write.
// Unknown transfers are answered with zeros so the device is not left
// waiting.
func (l *Layer) sendChunk(ctx context.Context) error {
	l.lock.Lock()

	st := l.dma
	if !st.active || st.toHost || st.remaining <= 0 {
		l.lock.Unlock()
		return nil
	}

	n := min(fis.MaxDataPayload, st.remaining)
	chunk := make([]byte, (n+3)&^3)

	if st.d != nil && st.d.payload != nil && st.offset+n <= len(st.d.payload) {
		copy(chunk, st.d.payload[st.offset:st.offset+n])
	}

	l.dma.offset += n
	l.dma.remaining -= n

	if l.dma.remaining == 0 {
		l.dma.active = false
	}
	l.lock.Unlock()

	data, err := fis.NewData(chunk)
	if err != nil {
		return err
	}

	err = l.link.Send(ctx, data)
	if err != nil {
		if st.d != nil && !st.discard {
			l.complete(st.d, err, true)
		}

		return err
	}

	if !st.discard {
		st.d.addTransferred(n)
	}

	return nil
}

func (l *Layer) handleData(f *fis.Data) {
	payload := f.PayloadBytes()

	l.lock.Lock()

	switch {
	case l.pio.active:
		l.receivePIOLocked(payload)
		return
	case l.dma.active && l.dma.toHost:
		st := l.dma
		n := min(len(payload), st.remaining)

		if !st.discard {
			copy(st.d.Command.Buffer[st.offset:], payload[:n])
		}

		l.dma.offset += n
		l.dma.remaining -= n

		if l.dma.remaining == 0 {
			l.dma.active = false
		}
		l.lock.Unlock()

		if !st.discard {
			st.d.addTransferred(n)
		}

		return
	}

	l.lock.Unlock()
}

// receivePIOLocked consumes identify data. It releases the lock.
func (l *Layer) receivePIOLocked(payload []byte) {
	st := l.pio
	n := min(len(payload), st.remaining)

	if !st.discard {
		copy(st.d.Command.Buffer[st.offset:], payload[:n])
	}

	l.pio.offset += n
	l.pio.remaining -= n

	finished := l.pio.remaining == 0
	if finished {
		l.pio = pioState{}

		if st.d != nil && st.d == l.ghostNQ {
			l.ghostNQ = nil
			l.broadcastLocked()
		}
	}
	l.lock.Unlock()

	if st.discard {
		return
	}

	st.d.addTransferred(n)

	if finished {
		l.complete(st.d, statusErr(st.status, st.errReg), true)
	}
}

// handleSetDevBits completes the queued commands whose tags are set in
// SActive. With ERR set, those commands fail; ERR without any tag aborts all
// queued commands.
func (l *Layer) handleSetDevBits(f *fis.SetDevBits) {
	devErr := statusErr(f.Status, f.Error)

	l.lock.Lock()

	var done []*Descriptor

	for tag := 0; tag < MaxTags; tag++ {
		if f.SActive&(1<<uint(tag)) == 0 {
			continue
		}

		if l.ghosts[tag] != nil {
			l.ghosts[tag] = nil
			continue
		}

		if d := l.tags[tag]; d != nil && !d.terminal() && d.Command.Queued() {
			done = append(done, d)
		}
	}

	if devErr != nil && f.SActive == 0 {
		done = append(done, l.abortQueuedLocked()...)
	}

	l.broadcastLocked()
	l.lock.Unlock()

	for _, d := range done {
		l.complete(d, devErr, true)
	}
}

func (l *Layer) abortQueuedLocked() []*Descriptor {
	var aborted []*Descriptor

	for tag, d := range l.tags {
		l.ghosts[tag] = nil

		if d != nil && !d.terminal() && d.Command.Queued() {
			aborted = append(aborted, d)
		}
	}

	l.dma = dmaState{}

	return aborted
}

func (l *Layer) handleRegD2H(f *fis.RegD2H) {
	devErr := statusErr(f.Status, f.Error)

	l.lock.Lock()

	if l.ghostNQ != nil {
		l.ghostNQ = nil
		l.pio = pioState{}
		l.broadcastLocked()
		l.lock.Unlock()

		return
	}

	if d := l.nonQueued; d != nil {
		if l.pio.d == d {
			l.pio = pioState{}
		}
		l.lock.Unlock()

		l.complete(d, devErr, true)

		return
	}

	var aborted []*Descriptor
	if devErr != nil {
		aborted = l.abortQueuedLocked()
	}
	l.lock.Unlock()

	for _, d := range aborted {
		l.complete(d, devErr, true)
	}
}

func (l *Layer) handlePIOSetup(f *fis.PIOSetup) {
	l.lock.Lock()

	st := pioState{
		active:    true,
		remaining: int(f.TransferCount),
		status:    f.EStatus,
		errReg:    f.Error,
	}

	switch {
	case l.nonQueued != nil && l.nonQueued.Command.Op == OpIdentify:
		st.d = l.nonQueued
	case l.ghostNQ != nil && l.ghostNQ.Command.Op == OpIdentify:
		st.d = l.ghostNQ
		st.discard = true
	default:
		st.discard = true
	}

	if !st.discard && st.remaining > len(st.d.Command.Buffer) {
		d := st.d
		l.pio = pioState{}
		l.lock.Unlock()

		l.complete(d, fmt.Errorf("%w: PIO transfer of %d bytes",
			ErrProtocol, f.TransferCount), true)

		return
	}

	l.pio = st
	l.lock.Unlock()

	if !st.discard {
		tracing.AddTaskStep(st.d.ID, l, "pio setup")
	}
}
