package phy

import (
	"context"
	"sync"

	"github.com/sarchlab/satalink/sim"
)

// LoopbackBuilder can build Loopback channels.
type LoopbackBuilder struct {
	depth int
}

// MakeLoopbackBuilder creates a builder with default parameters.
func MakeLoopbackBuilder() LoopbackBuilder {
	return LoopbackBuilder{depth: 64}
}

// WithDepth sets the number of words each direction can hold in flight.
func (b LoopbackBuilder) WithDepth(depth int) LoopbackBuilder {
	b.depth = depth
	return b
}

// Build creates a Loopback.
func (b LoopbackBuilder) Build(name string) *Loopback {
	sim.NameMustBeValid(name)

	l := &Loopback{name: name}
	l.hostToDevice = newLane(sim.BuildName(name, "HostToDevice"), b.depth)
	l.deviceToHost = newLane(sim.BuildName(name, "DeviceToHost"), b.depth)

	l.host = &loopbackEnd{
		name: sim.BuildName(name, "HostPort"),
		tx:   l.hostToDevice,
		rx:   l.deviceToHost,
		conn: l,
	}
	l.device = &loopbackEnd{
		name: sim.BuildName(name, "DevicePort"),
		tx:   l.deviceToHost,
		rx:   l.hostToDevice,
		conn: l,
	}

	return l
}

// A Loopback is an in-memory full-duplex channel between a host end and a
// device end.
type Loopback struct {
	name         string
	hostToDevice *lane
	deviceToHost *lane
	host         *loopbackEnd
	device       *loopbackEnd
	closeOnce    sync.Once
}

// Name returns the name of the channel.
func (l *Loopback) Name() string {
	return l.name
}

// HostPort returns the host end.
func (l *Loopback) HostPort() Port {
	return l.host
}

// DevicePort returns the device end.
func (l *Loopback) DevicePort() Port {
	return l.device
}

// BufferStatus is a snapshot of one direction of a channel.
type BufferStatus struct {
	Buffer        string `json:"buffer"`
	Level         int    `json:"level"`
	Cap           int    `json:"cap"`
	HighWatermark int    `json:"high_watermark"`
}

// Buffers returns a snapshot of the buffers of both directions.
func (l *Loopback) Buffers() []BufferStatus {
	return []BufferStatus{l.hostToDevice.status(), l.deviceToHost.status()}
}

// AcceptBufferHook registers a hook on the buffers of both directions. Hooks
// are invoked with the lane lock held and must not use the channel.
func (l *Loopback) AcceptBufferHook(hook sim.Hook) {
	l.hostToDevice.buf.AcceptHook(hook)
	l.deviceToHost.buf.AcceptHook(hook)
}

// WordsCarried returns the number of words sent host to device and device to
// host.
func (l *Loopback) WordsCarried() (hostToDevice, deviceToHost uint64) {
	return l.hostToDevice.count(), l.deviceToHost.count()
}

// Close closes both directions.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() {
		l.hostToDevice.close()
		l.deviceToHost.close()
	})

	return nil
}

type loopbackEnd struct {
	name string
	tx   *lane
	rx   *lane
	conn *Loopback
}

func (e *loopbackEnd) Name() string {
	return e.name
}

func (e *loopbackEnd) Send(ctx context.Context, w Word) error {
	return e.tx.push(ctx, w)
}

func (e *loopbackEnd) Recv(ctx context.Context) (Word, error) {
	return e.rx.pop(ctx)
}

func (e *loopbackEnd) TryRecv() (Word, bool, error) {
	return e.rx.tryPop()
}

func (e *loopbackEnd) Close() error {
	return e.conn.Close()
}

// A lane is one direction of the channel.
type lane struct {
	lock       sync.Mutex
	buf        sim.Buffer
	sent       uint64
	closed     bool
	closedCh   chan struct{}
	dataReady  chan struct{}
	spaceReady chan struct{}
}

func newLane(name string, depth int) *lane {
	return &lane{
		buf:        sim.NewBuffer(name, depth),
		closedCh:   make(chan struct{}),
		dataReady:  make(chan struct{}, 1),
		spaceReady: make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (l *lane) push(ctx context.Context, w Word) error {
	for {
		l.lock.Lock()
		if l.closed {
			l.lock.Unlock()
			return ErrClosed
		}

		if l.buf.CanPush() {
			l.buf.Push(w)
			l.sent++
			l.lock.Unlock()
			notify(l.dataReady)

			return nil
		}
		l.lock.Unlock()

		select {
		case <-l.spaceReady:
		case <-l.closedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *lane) pop(ctx context.Context) (Word, error) {
	for {
		w, ok, err := l.tryPop()
		if ok || err != nil {
			return w, err
		}

		select {
		case <-l.dataReady:
		case <-l.closedCh:
		case <-ctx.Done():
			return Word{}, ctx.Err()
		}
	}
}

func (l *lane) tryPop() (Word, bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.buf.Size() > 0 {
		w := l.buf.Pop().(Word)
		notify(l.spaceReady)

		if l.buf.Size() > 0 {
			notify(l.dataReady)
		}

		return w, true, nil
	}

	if l.closed {
		return Word{}, false, ErrClosed
	}

	return Word{}, false, nil
}

func (l *lane) status() BufferStatus {
	l.lock.Lock()
	defer l.lock.Unlock()

	return BufferStatus{
		Buffer:        l.buf.Name(),
		Level:         l.buf.Size(),
		Cap:           l.buf.Capacity(),
		HighWatermark: l.buf.HighWatermark(),
	}
}

func (l *lane) count() uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.sent
}

func (l *lane) close() {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.closed {
		return
	}

	l.closed = true
	close(l.closedCh)
}
