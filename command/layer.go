// Package command issues storage commands over a link and tracks them by tag
// until the device reports their completion.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/sim"
	"github.com/sarchlab/satalink/tracing"
)

// Link is the frame transport a layer drives. *link.Link implements it.
type Link interface {
	Send(ctx context.Context, f fis.FIS) error
	Receive(ctx context.Context) (fis.FIS, error)
}

// Hook positions of a layer. The item is the *Descriptor.
var (
	HookPosCommandStart    = &sim.HookPos{Name: "Command Start"}
	HookPosCommandComplete = &sim.HookPos{Name: "Command Complete"}
)

// Builder can build command layers.
type Builder struct {
	link           Link
	commandTimeout time.Duration
	window         int
	hooks          []sim.Hook
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		commandTimeout: 5 * time.Second,
		window:         8,
	}
}

// WithLink sets the link the layer drives.
func (b Builder) WithLink(l Link) Builder {
	b.link = l
	return b
}

// WithCommandTimeout bounds each command issued by the sync helpers. Zero
// leaves only the caller's context.
func (b Builder) WithCommandTimeout(d time.Duration) Builder {
	b.commandTimeout = d
	return b
}

// WithWindow sets how many commands the sync helpers keep outstanding.
func (b Builder) WithWindow(n int) Builder {
	b.window = n
	return b
}

// WithHook registers a hook on the built layer.
func (b Builder) WithHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build creates a layer.
func (b Builder) Build(name string) *Layer {
	sim.NameMustBeValid(name)

	if b.link == nil {
		panic("command layer needs a link")
	}

	if b.window <= 0 || b.window > MaxTags {
		panic(fmt.Sprintf("window must be in [1, %d]", MaxTags))
	}

	l := &Layer{
		HookableBase:   sim.NewHookableBase(),
		name:           name,
		link:           b.link,
		commandTimeout: b.commandTimeout,
		window:         b.window,
		wire:           make(chan struct{}, 1),
		changed:        make(chan struct{}),
	}

	for _, h := range b.hooks {
		l.AcceptHook(h)
	}

	return l
}

type dmaState struct {
	active    bool
	d         *Descriptor
	toHost    bool
	discard   bool
	offset    int
	remaining int
}

type pioState struct {
	active    bool
	d         *Descriptor
	discard   bool
	offset    int
	remaining int
	status    uint8
	errReg    uint8
}

// A Layer tracks the commands issued over one link. All methods are safe for
// concurrent use. Frames are only read from the link while some goroutine
// polls or waits.
type Layer struct {
	*sim.HookableBase

	name           string
	link           Link
	commandTimeout time.Duration
	window         int

	lock       sync.Mutex
	tags       [MaxTags]*Descriptor
	ghosts     [MaxTags]*Descriptor
	nonQueued  *Descriptor
	ghostNQ    *Descriptor
	ready      []*Completion
	changed    chan struct{}
	submitters int
	pumpCancel context.CancelFunc

	wire chan struct{}

	dma dmaState
	pio pioState

	identity *IdentifyData
}

// Name returns the name of the layer.
func (l *Layer) Name() string {
	return l.name
}

// Submit issues the command on the tag. The returned descriptor stays on the
// tag until it is acknowledged.
func (l *Layer) Submit(ctx context.Context, cmd Command, tag uint8) (*Descriptor, error) {
	if tag >= MaxTags {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTag, tag)
	}

	if err := cmd.validate(); err != nil {
		return nil, err
	}

	d := newDescriptor(sim.GetIDGenerator().Generate(), tag, cmd)

	if err := l.reserve(d); err != nil {
		return nil, err
	}

	if err := l.acquireWireForSubmit(ctx); err != nil {
		l.unreserve(d)
		return nil, err
	}

	l.lock.Lock()
	started := d.setInFlight()
	l.lock.Unlock()

	if !started {
		l.releaseWire()
		return nil, ErrCancelled
	}

	l.startTask(d)

	err := l.link.Send(ctx, d.FIS)

	l.releaseWire()

	if err != nil {
		d.finish(err)
		l.unreserve(d)
		l.finishTask(d)

		return nil, fmt.Errorf("command: issue %v on tag %d: %w", cmd.Op, tag, err)
	}

	return d, nil
}

func (l *Layer) reserve(d *Descriptor) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.tags[d.Tag] != nil || l.ghosts[d.Tag] != nil {
		return fmt.Errorf("%w: %d", ErrTagInUse, d.Tag)
	}

	if l.nonQueued != nil || l.ghostNQ != nil {
		return ErrQueueBusy
	}

	if !d.Command.Queued() {
		if l.busyLocked() {
			return ErrQueueBusy
		}

		l.nonQueued = d
	}

	l.tags[d.Tag] = d

	return nil
}

// busyLocked reports whether any command is still owned by the device.
func (l *Layer) busyLocked() bool {
	for i := range l.tags {
		if l.ghosts[i] != nil {
			return true
		}

		if d := l.tags[i]; d != nil && !d.terminal() {
			return true
		}
	}

	return false
}

func (l *Layer) unreserve(d *Descriptor) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.tags[d.Tag] == d {
		l.tags[d.Tag] = nil
	}

	if l.nonQueued == d {
		l.nonQueued = nil
	}

	l.broadcastLocked()
}

// Cancel fails the outstanding command on the tag with ErrCancelled. The
// device may still finish it; whatever it reports for the tag is dropped.
// Cancelling a terminal descriptor does nothing.
func (l *Layer) Cancel(tag uint8) error {
	if tag >= MaxTags {
		return fmt.Errorf("%w: %d", ErrInvalidTag, tag)
	}

	l.lock.Lock()

	d := l.tags[tag]
	if d == nil {
		l.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}

	if d.terminal() {
		l.lock.Unlock()
		return nil
	}

	pending := d.Status() == StatusPending
	if pending {
		l.tags[tag] = nil
		if l.nonQueued == d {
			l.nonQueued = nil
		}
	} else {
		l.abandonLocked(d)
	}

	d.finish(ErrCancelled)
	l.broadcastLocked()
	l.lock.Unlock()

	if !pending {
		l.finishTask(d)
	}

	return nil
}

// abandonLocked keeps the device-owned tag reserved after the caller gives up
// on it.
func (l *Layer) abandonLocked(d *Descriptor) {
	if d.Command.Queued() {
		l.ghosts[d.Tag] = d
	} else {
		l.ghostNQ = d
		l.nonQueued = nil
	}

	if l.dma.d == d {
		l.dma.discard = true
	}

	if l.pio.d == d {
		l.pio.discard = true
	}
}

// Acknowledge releases the terminal descriptor on the tag.
func (l *Layer) Acknowledge(tag uint8) error {
	if tag >= MaxTags {
		return fmt.Errorf("%w: %d", ErrInvalidTag, tag)
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	d := l.tags[tag]
	if d == nil {
		return fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}

	if !d.terminal() {
		return fmt.Errorf("%w: tag %d is %v", ErrNotTerminal, tag, d.Status())
	}

	l.tags[tag] = nil
	l.dropReadyLocked(d)
	l.broadcastLocked()

	return nil
}

// Descriptor returns the descriptor on the tag, or nil.
func (l *Layer) Descriptor(tag uint8) *Descriptor {
	if tag >= MaxTags {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	return l.tags[tag]
}

// Outstanding returns the tags whose commands have not finished.
func (l *Layer) Outstanding() []uint8 {
	l.lock.Lock()
	defer l.lock.Unlock()

	var tags []uint8

	for i, d := range l.tags {
		if d != nil && !d.terminal() {
			tags = append(tags, uint8(i))
		}
	}

	return tags
}

func (l *Layer) freeTag() (uint8, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i := range l.tags {
		if l.tags[i] == nil && l.ghosts[i] == nil {
			return uint8(i), true
		}
	}

	return 0, false
}

// complete finishes the descriptor. Completions of cancelled commands are not
// reported through Poll.
func (l *Layer) complete(d *Descriptor, err error, report bool) {
	if !d.finish(err) {
		return
	}

	l.lock.Lock()
	if l.nonQueued == d {
		l.nonQueued = nil
	}

	if report {
		l.ready = append(l.ready, &Completion{Tag: d.Tag, Descriptor: d, Err: err})
	}

	l.broadcastLocked()
	l.lock.Unlock()

	l.finishTask(d)
}

func (l *Layer) dropReadyLocked(d *Descriptor) {
	kept := l.ready[:0]

	for _, c := range l.ready {
		if c.Descriptor != d {
			kept = append(kept, c)
		}
	}

	for i := len(kept); i < len(l.ready); i++ {
		l.ready[i] = nil
	}

	l.ready = kept
}

func (l *Layer) broadcastLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *Layer) changedChan() <-chan struct{} {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.changed
}

func (l *Layer) startTask(d *Descriptor) {
	tracing.StartTask(d.ID, "", l, "command", d.Command.Op.String(), d)

	if l.NumHooks() == 0 {
		return
	}

	l.InvokeHook(sim.HookCtx{
		Domain: l,
		Pos:    HookPosCommandStart,
		Item:   d,
	})
}

func (l *Layer) finishTask(d *Descriptor) {
	tracing.EndTask(d.ID, l)

	if l.NumHooks() == 0 {
		return
	}

	l.InvokeHook(sim.HookCtx{
		Domain: l,
		Pos:    HookPosCommandComplete,
		Item:   d,
	})
}

// acquireWireForSubmit takes the link ahead of any pumper. An idle pumper is
// interrupted.
func (l *Layer) acquireWireForSubmit(ctx context.Context) error {
	l.lock.Lock()
	l.submitters++

	if l.pumpCancel != nil {
		l.pumpCancel()
	}
	l.lock.Unlock()

	defer func() {
		l.lock.Lock()
		l.submitters--
		l.broadcastLocked()
		l.lock.Unlock()
	}()

	select {
	case l.wire <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryAcquireWireForPump takes the link for reading if no one holds it and no
// submitter is waiting. The returned context is cancelled when a submitter
// arrives.
func (l *Layer) tryAcquireWireForPump(
	ctx context.Context,
) (context.Context, context.CancelFunc, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.submitters > 0 {
		return nil, nil, false
	}

	select {
	case l.wire <- struct{}{}:
	default:
		return nil, nil, false
	}

	pctx, cancel := context.WithCancel(ctx)
	l.pumpCancel = cancel

	return pctx, cancel, true
}

func (l *Layer) releaseWire() {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.pumpCancel != nil {
		l.pumpCancel()
		l.pumpCancel = nil
	}

	<-l.wire
	l.broadcastLocked()
}
