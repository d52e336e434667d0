package sim

import "log"

// Hook positions of a buffer. The item is the element.
var (
	HookPosBufPush = &HookPos{Name: "Buffer Push"}
	HookPosBufPop  = &HookPos{Name: "Buffer Pop"}
)

// A Buffer is a bounded FIFO queue. Channels queue words in buffers and
// links queue frames. Buffers are not safe for concurrent use; owners hold
// their own locks.
type Buffer interface {
	Named
	Hookable

	CanPush() bool

	// Push panics when the buffer is full.
	Push(e interface{})

	// Pop returns nil when the buffer is empty.
	Pop() interface{}
	Peek() interface{}
	Capacity() int
	Size() int

	// HighWatermark returns the largest size the buffer has reached.
	HighWatermark() int

	// Clear drops every element.
	Clear()
}

// NewBuffer creates a ring buffer that holds up to capacity elements.
func NewBuffer(name string, capacity int) Buffer {
	NameMustBeValid(name)

	if capacity <= 0 {
		log.Panic("buffer capacity must be positive")
	}

	return &ringBuffer{
		name:  name,
		slots: make([]interface{}, capacity),
	}
}

type ringBuffer struct {
	HookableBase

	name      string
	slots     []interface{}
	head      int
	size      int
	watermark int
}

func (b *ringBuffer) Name() string {
	return b.name
}

func (b *ringBuffer) CanPush() bool {
	return b.size < len(b.slots)
}

func (b *ringBuffer) Push(e interface{}) {
	if !b.CanPush() {
		log.Panic("buffer " + b.name + " overflow")
	}

	b.slots[(b.head+b.size)%len(b.slots)] = e
	b.size++
	b.watermark = max(b.watermark, b.size)

	b.invoke(HookPosBufPush, e)
}

func (b *ringBuffer) Pop() interface{} {
	if b.size == 0 {
		return nil
	}

	e := b.slots[b.head]
	b.slots[b.head] = nil
	b.head = (b.head + 1) % len(b.slots)
	b.size--

	b.invoke(HookPosBufPop, e)

	return e
}

func (b *ringBuffer) invoke(pos *HookPos, e interface{}) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(HookCtx{
		Domain: b,
		Pos:    pos,
		Item:   e,
	})
}

func (b *ringBuffer) Peek() interface{} {
	if b.size == 0 {
		return nil
	}

	return b.slots[b.head]
}

func (b *ringBuffer) Capacity() int {
	return len(b.slots)
}

func (b *ringBuffer) Size() int {
	return b.size
}

func (b *ringBuffer) HighWatermark() int {
	return b.watermark
}

func (b *ringBuffer) Clear() {
	clear(b.slots)
	b.head = 0
	b.size = 0
}
