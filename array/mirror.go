package array

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sarchlab/satalink/tracing"
)

// mirrorWrite writes every endpoint, stale ones included, and succeeds only
// when all of them do. A stale endpoint that takes the write stays stale.
// When no consistent endpoint takes the write, nothing new is marked stale.
func (c *Controller) mirrorWrite(ctx context.Context, t *Transfer, data []byte) error {
	consistent := c.consistent()
	if len(consistent) == 0 {
		return ErrNoConsistentCopy
	}

	chunks := make([]Chunk, len(c.endpoints))
	for i := range c.endpoints {
		chunks[i] = Chunk{
			Index:          i,
			Endpoint:       i,
			Offset:         t.Offset,
			EndpointOffset: t.Offset,
			Length:         len(data),
		}
	}

	results := c.fanOut(ctx, t, chunks, func(ctx context.Context, ch Chunk) error {
		return c.endpoints[ch.Endpoint].WriteSectors(ctx, ch.EndpointOffset/SectorSize, data)
	})

	var (
		succeeded []int
		errs      = make(map[int]error)
	)

	for _, r := range results {
		if r.Err != nil {
			errs[r.Endpoint] = r.Err
		} else {
			succeeded = append(succeeded, r.Endpoint)
		}
	}

	if len(errs) == 0 {
		return nil
	}

	if !anyOf(consistent, succeeded) {
		all := make([]error, 0, len(errs))
		for _, r := range results {
			if r.Err != nil {
				all = append(all, fmt.Errorf("endpoint %d: %w", r.Endpoint, r.Err))
			}
		}

		return fmt.Errorf("%w: %w", ErrAllMirrorsFailed, errors.Join(all...))
	}

	e := &MirrorError{
		Offset:    t.Offset,
		Length:    len(data),
		Succeeded: succeeded,
		Failed:    errs,
	}
	c.markStale(e.FailedEndpoints())

	return e
}

type mirrorReply struct {
	endpoint int
	data     []byte
	err      error
}

func (c *Controller) mirrorRead(ctx context.Context, t *Transfer, buf []byte) error {
	targets := c.consistent()
	if len(targets) == 0 {
		return ErrNoConsistentCopy
	}

	if c.config.ReadPolicy == RoundRobin {
		return c.roundRobinRead(ctx, t, targets, buf)
	}

	return c.racingRead(ctx, t, targets, buf)
}

func (c *Controller) readMirror(ctx context.Context, i int, offset uint64, n int) mirrorReply {
	data := make([]byte, n)
	err := c.endpoints[i].ReadSectors(ctx, offset/SectorSize, data)

	return mirrorReply{endpoint: i, data: data, err: err}
}

// racingRead asks every consistent mirror and keeps the first good answer.
// The other reads are cancelled and waited for before returning.
func (c *Controller) racingRead(
	ctx context.Context,
	t *Transfer,
	targets []int,
	buf []byte,
) error {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan mirrorReply, len(targets))
	for _, i := range targets {
		go func(i int) {
			replies <- c.readMirror(rctx, i, t.Offset, len(buf))
		}(i)
	}

	var (
		done bool
		errs []error
	)

	for range targets {
		r := <-replies

		switch {
		case r.err == nil && !done:
			copy(buf, r.data)
			done = true
			cancel()
			c.servedBy(t, r.endpoint)
		case r.err != nil && !done:
			errs = append(errs, fmt.Errorf("endpoint %d: %w", r.endpoint, r.err))
		}
	}

	if done {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrAllMirrorsFailed, errors.Join(errs...))
}

// roundRobinRead asks one mirror at a time, starting with the next one in
// turn.
func (c *Controller) roundRobinRead(
	ctx context.Context,
	t *Transfer,
	targets []int,
	buf []byte,
) error {
	c.lock.Lock()
	start := c.next
	c.next++
	c.lock.Unlock()

	var errs []error
	for k := range targets {
		i := targets[(start+k)%len(targets)]

		r := c.readMirror(ctx, i, t.Offset, len(buf))
		if r.err == nil {
			copy(buf, r.data)
			c.servedBy(t, i)

			return nil
		}

		errs = append(errs, fmt.Errorf("endpoint %d: %w", i, r.err))

		if ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("%w: %w", ErrAllMirrorsFailed, errors.Join(errs...))
}

func (c *Controller) servedBy(t *Transfer, endpoint int) {
	tracing.AddTaskStep(t.ID, c, c.endpoints[endpoint].Name())
}

func anyOf(set, candidates []int) bool {
	for _, c := range candidates {
		if slices.Contains(set, c) {
			return true
		}
	}

	return false
}
