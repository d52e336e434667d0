// Package array composes several sector endpoints into one logical device
// that either stripes or mirrors data over them.
package array

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/satalink/sim"
	"github.com/sarchlab/satalink/tracing"
)

// Endpoint is one backing device of an array. A command layer is an endpoint
// and so is an array. Capacity is in sectors.
type Endpoint interface {
	Name() string
	Capacity(ctx context.Context) (uint64, error)
	ReadSectors(ctx context.Context, lba uint64, buf []byte) error
	WriteSectors(ctx context.Context, lba uint64, data []byte) error
}

// Hook positions of an array.
var (
	// HookPosTransferStart is triggered when a transfer starts. The item is
	// the *Transfer.
	HookPosTransferStart = &sim.HookPos{Name: "Array Transfer Start"}

	// HookPosTransferComplete is triggered when a transfer finishes. The
	// item is the *Transfer with its error set.
	HookPosTransferComplete = &sim.HookPos{Name: "Array Transfer Complete"}

	// HookPosEndpointStale is triggered when a mirror is marked stale. The
	// item is the endpoint index.
	HookPosEndpointStale = &sim.HookPos{Name: "Array Endpoint Stale"}
)

// Transfer describes one logical read or write.
type Transfer struct {
	ID       string
	Op       string
	Offset   uint64
	Length   int
	Start    time.Time
	Duration time.Duration
	Err      error
}

// Stats counts the transfers of an array.
type Stats struct {
	Reads          uint64
	Writes         uint64
	BytesRead      uint64
	BytesWritten   uint64
	Failed         uint64
	PartialStripes uint64
	Divergences    uint64
}

// A Controller is a striped or mirrored array.
type Controller struct {
	sim.HookableBase

	name      string
	config    Config
	endpoints []Endpoint
	timeout   time.Duration

	// Bytes the array stores.
	size uint64

	ranges *rangeLock

	lock  sync.Mutex
	stale []bool
	next  int
	stats Stats
}

// Name returns the name of the array.
func (c *Controller) Name() string {
	return c.name
}

// Config returns the layout of the array.
func (c *Controller) Config() Config {
	return c.config
}

// NumEndpoints returns the number of endpoints.
func (c *Controller) NumEndpoints() int {
	return len(c.endpoints)
}

// Endpoint returns the endpoint at the index.
func (c *Controller) Endpoint(i int) Endpoint {
	return c.endpoints[i]
}

// Size returns the number of bytes the array stores.
func (c *Controller) Size() uint64 {
	return c.size
}

// Capacity returns the number of sectors the array stores.
func (c *Controller) Capacity(_ context.Context) (uint64, error) {
	return c.size / SectorSize, nil
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.stats
}

// Stale returns the indices of mirrors excluded from reads and writes.
func (c *Controller) Stale() []int {
	c.lock.Lock()
	defer c.lock.Unlock()

	var out []int
	for i, s := range c.stale {
		if s {
			out = append(out, i)
		}
	}

	return out
}

// IsStale reports whether the endpoint is marked stale.
func (c *Controller) IsStale(i int) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return i >= 0 && i < len(c.stale) && c.stale[i]
}

// MarkConsistent returns a stale mirror to service. The caller asserts that
// its content matches the other mirrors again.
func (c *Controller) MarkConsistent(i int) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if i < 0 || i >= len(c.stale) {
		return fmt.Errorf("%w: %d", ErrNoEndpoint, i)
	}

	c.stale[i] = false

	return nil
}

func (c *Controller) markStale(endpoints []int) {
	c.lock.Lock()
	for _, i := range endpoints {
		c.stale[i] = true
	}
	c.lock.Unlock()

	if c.NumHooks() == 0 {
		return
	}

	for _, i := range endpoints {
		c.InvokeHook(sim.HookCtx{
			Domain: c,
			Pos:    HookPosEndpointStale,
			Item:   i,
		})
	}
}

func (c *Controller) consistent() []int {
	c.lock.Lock()
	defer c.lock.Unlock()

	out := make([]int, 0, len(c.stale))
	for i, s := range c.stale {
		if !s {
			out = append(out, i)
		}
	}

	return out
}

// ReadSectors reads len(buf)/512 sectors starting at the logical LBA.
func (c *Controller) ReadSectors(ctx context.Context, lba uint64, buf []byte) error {
	return c.ReadAt(ctx, lba*SectorSize, buf)
}

// WriteSectors writes data starting at the logical LBA.
func (c *Controller) WriteSectors(ctx context.Context, lba uint64, data []byte) error {
	return c.WriteAt(ctx, lba*SectorSize, data)
}

// ReadAt fills buf from the logical byte offset. Either the whole buffer is
// filled or an error is returned and buf is left untouched.
func (c *Controller) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	return c.do(ctx, "read", offset, buf, func(ctx context.Context, t *Transfer) error {
		if c.config.Mode == Mirroring {
			return c.mirrorRead(ctx, t, buf)
		}

		return c.stripeRead(ctx, t, buf)
	})
}

// WriteAt writes data at the logical byte offset.
func (c *Controller) WriteAt(ctx context.Context, offset uint64, data []byte) error {
	return c.do(ctx, "write", offset, data, func(ctx context.Context, t *Transfer) error {
		if c.config.Mode == Mirroring {
			return c.mirrorWrite(ctx, t, data)
		}

		return c.stripeWrite(ctx, t, data)
	})
}

func (c *Controller) do(
	ctx context.Context,
	op string,
	offset uint64,
	buf []byte,
	f func(ctx context.Context, t *Transfer) error,
) error {
	if err := c.check(offset, len(buf)); err != nil {
		return err
	}

	if len(buf) == 0 {
		return nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	release, err := c.ranges.acquire(ctx, offset, offset+uint64(len(buf)))
	if err != nil {
		return err
	}
	defer release()

	t := &Transfer{
		ID:     sim.GetIDGenerator().Generate(),
		Op:     op,
		Offset: offset,
		Length: len(buf),
		Start:  time.Now(),
	}
	c.startTransfer(t)

	t.Err = f(ctx, t)
	t.Duration = time.Since(t.Start)

	c.count(t)
	c.finishTransfer(t)

	return t.Err
}

func (c *Controller) check(offset uint64, n int) error {
	if offset%SectorSize != 0 || n%SectorSize != 0 {
		return fmt.Errorf("%w: %d bytes at %d", ErrMisaligned, n, offset)
	}

	if offset > c.size || uint64(n) > c.size-offset {
		return fmt.Errorf("%w: %d bytes at %d, array holds %d",
			ErrOutOfRange, n, offset, c.size)
	}

	return nil
}

func (c *Controller) count(t *Transfer) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if t.Op == "read" {
		c.stats.Reads++
	} else {
		c.stats.Writes++
	}

	switch {
	case t.Err == nil && t.Op == "read":
		c.stats.BytesRead += uint64(t.Length)
	case t.Err == nil:
		c.stats.BytesWritten += uint64(t.Length)
	default:
		c.stats.Failed++
	}

	if errors.Is(t.Err, ErrPartialStripe) {
		c.stats.PartialStripes++
	}

	if errors.Is(t.Err, ErrMirrorDivergence) {
		c.stats.Divergences++
	}
}

func (c *Controller) startTransfer(t *Transfer) {
	tracing.StartTask(t.ID, "", c, "array", t.Op, t)

	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosTransferStart,
		Item:   t,
	})
}

func (c *Controller) finishTransfer(t *Transfer) {
	tracing.EndTask(t.ID, c)

	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosTransferComplete,
		Item:   t,
	})
}
