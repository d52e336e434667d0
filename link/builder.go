package link

import (
	"time"

	"github.com/sarchlab/satalink/crc"
	"github.com/sarchlab/satalink/phy"
	"github.com/sarchlab/satalink/scrambler"
	"github.com/sarchlab/satalink/sim"
)

// Builder can build links.
type Builder struct {
	port            phy.Port
	role            Role
	frameTimeout    time.Duration
	throttle        Throttle
	pendingCapacity int
	hooks           []sim.Hook
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		role:            RoleHost,
		frameTimeout:    250 * time.Millisecond,
		pendingCapacity: 64,
	}
}

// WithPort sets the physical port the link drives.
func (b Builder) WithPort(p phy.Port) Builder {
	b.port = p
	return b
}

// WithRole sets which end of the channel the link sits on.
func (b Builder) WithRole(r Role) Builder {
	b.role = r
	return b
}

// WithFrameTimeout bounds a frame once it has started, and the handshakes
// that precede it.
func (b Builder) WithFrameTimeout(d time.Duration) Builder {
	b.frameTimeout = d
	return b
}

// WithThrottle lets the receiver pause incoming frames.
func (b Builder) WithThrottle(t Throttle) Builder {
	b.throttle = t
	return b
}

// WithPendingCapacity sets how many frames received during collisions can
// wait for the next Receive.
func (b Builder) WithPendingCapacity(n int) Builder {
	b.pendingCapacity = n
	return b
}

// WithHook registers a hook on the link being built.
func (b Builder) WithHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build creates a link.
func (b Builder) Build(name string) *Link {
	sim.NameMustBeValid(name)

	if b.port == nil {
		panic("link: port is required")
	}

	if b.frameTimeout <= 0 {
		panic("link: frame timeout must be positive")
	}

	l := &Link{
		name:         name,
		port:         b.port,
		role:         b.role,
		frameTimeout: b.frameTimeout,
		throttle:     b.throttle,
		txScrambler:  scrambler.New(),
		rxScrambler:  scrambler.New(),
		txCRC:        crc.NewEngine(),
		rxCRC:        crc.NewEngine(),
		pending:      sim.NewBuffer(sim.BuildName(name, "PendingBuf"), b.pendingCapacity),
		held:         sim.NewBuffer(sim.BuildName(name, "HoldBuf"), holdBufferCapacity),
	}
	l.stats.errors = make(map[error]uint64)

	for _, h := range b.hooks {
		l.AcceptHook(h)
	}

	return l
}
