package array

import (
	"context"
	"sync"

	"github.com/sarchlab/satalink/sim"
	"github.com/sarchlab/satalink/tracing"
)

// Layout returns how a transfer is split over the endpoints. A striped
// transfer is cut at stripe unit boundaries and chunk i of a transfer that
// starts in unit u goes to endpoint (u+i) mod N. A mirrored transfer has one
// chunk per endpoint.
func (c *Controller) Layout(offset uint64, length int) []Chunk {
	if c.config.Mode == Mirroring {
		chunks := make([]Chunk, len(c.endpoints))
		for i := range chunks {
			chunks[i] = Chunk{
				Index:          i,
				Endpoint:       i,
				Offset:         offset,
				EndpointOffset: offset,
				Length:         length,
			}
		}

		return chunks
	}

	unit := uint64(c.config.StripeUnitSize)
	n := uint64(len(c.endpoints))

	var chunks []Chunk
	for done := 0; done < length; {
		at := offset + uint64(done)
		u, within := at/unit, at%unit
		l := int(min(unit-within, uint64(length-done)))

		chunks = append(chunks, Chunk{
			Index:          len(chunks),
			Endpoint:       int(u % n),
			Offset:         at,
			EndpointOffset: (u/n)*unit + within,
			Length:         l,
		})
		done += l
	}

	return chunks
}

// fanOut runs f for every chunk in parallel and waits for all of them.
func (c *Controller) fanOut(
	ctx context.Context,
	t *Transfer,
	chunks []Chunk,
	f func(ctx context.Context, ch Chunk) error,
) []ChunkResult {
	results := make([]ChunkResult, len(chunks))

	var wg sync.WaitGroup
	for i := range chunks {
		results[i].Chunk = chunks[i]

		wg.Add(1)
		go func(r *ChunkResult) {
			defer wg.Done()

			id := sim.GetIDGenerator().Generate()
			tracing.StartTask(id, t.ID, c, "array_chunk",
				c.endpoints[r.Endpoint].Name(), r.Chunk)

			r.Err = f(ctx, r.Chunk)

			tracing.EndTask(id, c)
		}(&results[i])
	}

	wg.Wait()

	return results
}

func failed(results []ChunkResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}

	return false
}

func (c *Controller) stripeWrite(ctx context.Context, t *Transfer, data []byte) error {
	chunks := c.Layout(t.Offset, len(data))

	results := c.fanOut(ctx, t, chunks, func(ctx context.Context, ch Chunk) error {
		start := ch.Offset - t.Offset
		return c.endpoints[ch.Endpoint].WriteSectors(ctx,
			ch.EndpointOffset/SectorSize, data[start:start+uint64(ch.Length)])
	})

	if failed(results) {
		return &StripeError{Op: t.Op, Offset: t.Offset, Length: t.Length, Chunks: results}
	}

	return nil
}

func (c *Controller) stripeRead(ctx context.Context, t *Transfer, buf []byte) error {
	chunks := c.Layout(t.Offset, len(buf))
	parts := make([][]byte, len(chunks))

	results := c.fanOut(ctx, t, chunks, func(ctx context.Context, ch Chunk) error {
		part := make([]byte, ch.Length)
		if err := c.endpoints[ch.Endpoint].ReadSectors(ctx,
			ch.EndpointOffset/SectorSize, part); err != nil {
			return err
		}

		parts[ch.Index] = part

		return nil
	})

	if failed(results) {
		return &StripeError{Op: t.Op, Offset: t.Offset, Length: t.Length, Chunks: results}
	}

	for i, ch := range chunks {
		copy(buf[ch.Offset-t.Offset:], parts[i])
	}

	return nil
}
