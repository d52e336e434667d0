package array

import (
	"context"
	"sync"
)

// rangeLock serialises transfers over overlapping byte ranges. Transfers
// over disjoint ranges hold the lock at the same time.
type rangeLock struct {
	lock    sync.Mutex
	held    map[uint64]byteRange
	nextID  uint64
	changed chan struct{}
}

type byteRange struct {
	start, end uint64
}

func (r byteRange) overlaps(o byteRange) bool {
	return r.start < o.end && o.start < r.end
}

func newRangeLock() *rangeLock {
	return &rangeLock{
		held:    make(map[uint64]byteRange),
		changed: make(chan struct{}),
	}
}

// acquire blocks until no held range overlaps [start, end), then holds it.
// The returned function releases it.
func (l *rangeLock) acquire(ctx context.Context, start, end uint64) (func(), error) {
	want := byteRange{start: start, end: end}

	for {
		l.lock.Lock()

		ch, busy := l.changed, false
		for _, r := range l.held {
			if r.overlaps(want) {
				busy = true
				break
			}
		}

		if !busy {
			id := l.nextID
			l.nextID++
			l.held[id] = want
			l.lock.Unlock()

			return func() { l.release(id) }, nil
		}

		l.lock.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *rangeLock) release(id uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()

	delete(l.held, id)
	close(l.changed)
	l.changed = make(chan struct{})
}

// holders returns the number of ranges held.
func (l *rangeLock) holders() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return len(l.held)
}
