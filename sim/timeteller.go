package sim

import (
	"sync"
	"time"
)

// VTimeInSec defines the time in seconds.
type VTimeInSec float64

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// WallClock is a TimeTeller that reports the wall-clock time elapsed since the
// clock was created.
type WallClock struct {
	start time.Time
	now   func() time.Time
}

// NewWallClock creates a WallClock that starts at zero.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now(), now: time.Now}
}

// CurrentTime returns the seconds elapsed since the clock was created.
func (c *WallClock) CurrentTime() VTimeInSec {
	return VTimeInSec(c.now().Sub(c.start).Seconds())
}

// ManualClock is a TimeTeller whose time only moves when told to. It is used
// to make time-dependent statistics deterministic.
type ManualClock struct {
	lock sync.Mutex
	now  VTimeInSec
}

// CurrentTime returns the time last set.
func (c *ManualClock) CurrentTime() VTimeInSec {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d VTimeInSec) {
	c.lock.Lock()
	c.now += d
	c.lock.Unlock()
}
