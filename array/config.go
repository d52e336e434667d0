package array

import (
	"fmt"
	"strings"
)

// SectorSize is the unit every offset and length must be aligned to.
const SectorSize = 512

// Mode selects how an array spreads data over its endpoints.
type Mode int

// Modes.
const (
	Striping Mode = iota
	Mirroring
)

func (m Mode) String() string {
	switch m {
	case Striping:
		return "striping"
	case Mirroring:
		return "mirroring"
	}

	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode turns "striping" or "mirroring" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "striping", "stripe", "raid0":
		return Striping, nil
	case "mirroring", "mirror", "raid1":
		return Mirroring, nil
	}

	return 0, fmt.Errorf("%w: mode %q", ErrInvalidConfig, s)
}

// ReadPolicy selects which mirror serves a read.
type ReadPolicy int

// Read policies. FirstSuccess races all consistent mirrors and keeps the first
// good answer. RoundRobin asks one mirror at a time, in turn, and falls back to
// the next one on failure.
const (
	FirstSuccess ReadPolicy = iota
	RoundRobin
)

func (p ReadPolicy) String() string {
	switch p {
	case FirstSuccess:
		return "first-success"
	case RoundRobin:
		return "round-robin"
	}

	return fmt.Sprintf("ReadPolicy(%d)", int(p))
}

// ParseReadPolicy turns "first-success" or "round-robin" into a ReadPolicy.
func ParseReadPolicy(s string) (ReadPolicy, error) {
	switch strings.ToLower(s) {
	case "first-success", "firstsuccess", "race":
		return FirstSuccess, nil
	case "round-robin", "roundrobin":
		return RoundRobin, nil
	}

	return 0, fmt.Errorf("%w: read policy %q", ErrInvalidConfig, s)
}

// Config is the layout of an array.
type Config struct {
	// StripeUnitSize is the number of bytes of a chunk. Only striping uses
	// it.
	StripeUnitSize int
	Mode           Mode
	ReadPolicy     ReadPolicy
}

// DefaultConfig stripes in 64 KiB units.
func DefaultConfig() Config {
	return Config{
		StripeUnitSize: 64 << 10,
		Mode:           Striping,
		ReadPolicy:     FirstSuccess,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case Striping, Mirroring:
	default:
		return fmt.Errorf("%w: mode %v", ErrInvalidConfig, c.Mode)
	}

	switch c.ReadPolicy {
	case FirstSuccess, RoundRobin:
	default:
		return fmt.Errorf("%w: read policy %v", ErrInvalidConfig, c.ReadPolicy)
	}

	if c.Mode == Striping &&
		(c.StripeUnitSize <= 0 || c.StripeUnitSize%SectorSize != 0) {
		return fmt.Errorf("%w: stripe unit of %d bytes is not a positive multiple of %d",
			ErrInvalidConfig, c.StripeUnitSize, SectorSize)
	}

	return nil
}
