package array

import (
	"context"
	"fmt"
	"time"

	"github.com/sarchlab/satalink/sim"
)

// Builder can build arrays.
type Builder struct {
	ctx       context.Context
	config    Config
	endpoints []Endpoint
	timeout   time.Duration
	hooks     []sim.Hook
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		ctx:    context.Background(),
		config: DefaultConfig(),
	}
}

// WithContext sets the context used to query the endpoint capacities while
// building.
func (b Builder) WithContext(ctx context.Context) Builder {
	b.ctx = ctx
	return b
}

// WithConfig sets the layout of the array.
func (b Builder) WithConfig(c Config) Builder {
	b.config = c
	return b
}

// WithMode sets striping or mirroring.
func (b Builder) WithMode(m Mode) Builder {
	b.config.Mode = m
	return b
}

// WithStripeUnitSize sets the bytes per chunk of a striped array.
func (b Builder) WithStripeUnitSize(n int) Builder {
	b.config.StripeUnitSize = n
	return b
}

// WithReadPolicy sets how a mirrored array picks the mirror to read.
func (b Builder) WithReadPolicy(p ReadPolicy) Builder {
	b.config.ReadPolicy = p
	return b
}

// WithEndpoints sets the endpoints in their fixed order.
func (b Builder) WithEndpoints(endpoints ...Endpoint) Builder {
	b.endpoints = append([]Endpoint(nil), endpoints...)
	return b
}

// WithTransferTimeout bounds every transfer, including the wait for
// overlapping transfers. Zero means no bound besides the caller's context.
func (b Builder) WithTransferTimeout(d time.Duration) Builder {
	b.timeout = d
	return b
}

// WithHook registers a hook on the array.
func (b Builder) WithHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build validates the configuration against the endpoints and creates the
// array. Every endpoint must report the same capacity.
func (b Builder) Build(name string) (*Controller, error) {
	if err := sim.ValidateName(name); err != nil {
		return nil, err
	}

	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	if len(b.endpoints) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewEndpoints, len(b.endpoints))
	}

	var sectors uint64
	for i, e := range b.endpoints {
		n, err := e.Capacity(b.ctx)
		if err != nil {
			return nil, fmt.Errorf("array: capacity of endpoint %d (%s): %w",
				i, e.Name(), err)
		}

		if i > 0 && n != sectors {
			return nil, fmt.Errorf("%w: endpoint %d (%s) has %d sectors, endpoint 0 has %d",
				ErrCapacityMismatch, i, e.Name(), n, sectors)
		}

		sectors = n
	}

	size := sectors * SectorSize
	if b.config.Mode == Striping {
		unit := uint64(b.config.StripeUnitSize)
		if size < unit {
			return nil, fmt.Errorf("%w: stripe unit of %d bytes exceeds endpoint size %d",
				ErrInvalidConfig, unit, size)
		}

		size = size / unit * unit * uint64(len(b.endpoints))
	}

	c := &Controller{
		name:      name,
		config:    b.config,
		endpoints: b.endpoints,
		timeout:   b.timeout,
		size:      size,
		ranges:    newRangeLock(),
		stale:     make([]bool, len(b.endpoints)),
	}

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	return c, nil
}
