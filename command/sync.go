package command

import (
	"context"
	"errors"
	"fmt"
)

// Execute issues the command on a free tag and waits for it. The tag is
// acknowledged before Execute returns.
func (l *Layer) Execute(ctx context.Context, cmd Command) (*Descriptor, error) {
	d, err := l.submitAny(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return l.finishSync(ctx, d)
}

func (l *Layer) submitAny(ctx context.Context, cmd Command) (*Descriptor, error) {
	for {
		ch := l.changedChan()

		if tag, ok := l.freeTag(); ok {
			d, err := l.Submit(ctx, cmd, tag)

			switch {
			case err == nil:
				return d, nil
			case errors.Is(err, ErrTagInUse), errors.Is(err, ErrQueueBusy):
			default:
				return nil, err
			}
		}

		if err := l.progress(ctx, ch); err != nil {
			return nil, err
		}
	}
}

// progress reads one FIS if the device owes any, or waits for another
// goroutine to change the tag table.
func (l *Layer) progress(ctx context.Context, ch <-chan struct{}) error {
	l.lock.Lock()
	busy := l.busyLocked()
	l.lock.Unlock()

	if busy {
		if pumped, _ := l.pumpOnce(ctx); pumped {
			return ctx.Err()
		}
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Layer) finishSync(ctx context.Context, d *Descriptor) (*Descriptor, error) {
	if l.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.commandTimeout)
		defer cancel()
	}

	d, err := l.waitDescriptor(ctx, d)

	l.lock.Lock()
	if l.tags[d.Tag] == d {
		l.tags[d.Tag] = nil
		l.dropReadyLocked(d)
		l.broadcastLocked()
	}
	l.lock.Unlock()

	return d, err
}

// ReadSectors reads len(buf)/512 sectors starting at lba.
func (l *Layer) ReadSectors(ctx context.Context, lba uint64, buf []byte) error {
	return l.transfer(ctx, OpRead, lba, buf)
}

// WriteSectors writes data, a whole number of sectors, starting at lba.
func (l *Layer) WriteSectors(ctx context.Context, lba uint64, data []byte) error {
	return l.transfer(ctx, OpWrite, lba, data)
}

// transfer splits a request into queued commands and keeps up to the window
// of them outstanding. After the first failure the remaining commands are
// cancelled.
func (l *Layer) transfer(ctx context.Context, op Op, lba uint64, buf []byte) error {
	if len(buf)%SectorSize != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of sectors",
			ErrBadBuffer, len(buf))
	}

	const chunk = MaxSectorsPerCommand * SectorSize

	var (
		inflight []*Descriptor
		firstErr error
	)

	collect := func(d *Descriptor) {
		if firstErr != nil {
			_ = l.Cancel(d.Tag)
		}

		if _, err := l.finishSync(ctx, d); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("command: %v at LBA %d: %w",
				d.Command.Op, d.Command.LBA, err)
		}
	}

	for off := 0; off < len(buf) && firstErr == nil; off += chunk {
		for len(inflight) >= l.window && firstErr == nil {
			collect(inflight[0])
			inflight = inflight[1:]
		}

		if firstErr != nil {
			break
		}

		end := min(off+chunk, len(buf))
		sector := lba + uint64(off/SectorSize)

		cmd := Read(sector, buf[off:end])
		if op == OpWrite {
			cmd = Write(sector, buf[off:end])
		}

		d, err := l.submitAny(ctx, cmd)
		if err != nil {
			firstErr = err
			break
		}

		inflight = append(inflight, d)
	}

	for _, d := range inflight {
		collect(d)
	}

	return firstErr
}

// Identify returns the IDENTIFY DEVICE data. The first successful answer is
// cached.
func (l *Layer) Identify(ctx context.Context) (*IdentifyData, error) {
	l.lock.Lock()
	cached := l.identity
	l.lock.Unlock()

	if cached != nil {
		return cached, nil
	}

	d, err := l.Execute(ctx, Identify())
	if err != nil {
		return nil, err
	}

	id, err := ParseIdentify(d.Command.Buffer)
	if err != nil {
		return nil, err
	}

	l.lock.Lock()
	l.identity = id
	l.lock.Unlock()

	return id, nil
}

// Flush asks the device to commit its write cache.
func (l *Layer) Flush(ctx context.Context) error {
	_, err := l.Execute(ctx, Flush())
	return err
}

// Capacity returns the number of addressable sectors.
func (l *Layer) Capacity(ctx context.Context) (uint64, error) {
	id, err := l.Identify(ctx)
	if err != nil {
		return 0, err
	}

	return id.Sectors, nil
}
