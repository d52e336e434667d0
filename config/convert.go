package config

import (
	"time"

	"github.com/sarchlab/satalink/array"
	"github.com/sarchlab/satalink/bist"
	"github.com/sarchlab/satalink/phy"
)

// FrameTimeout returns the link frame timeout.
func (c LinkConfig) FrameTimeout() time.Duration {
	return time.Duration(c.FrameTimeoutMs) * time.Millisecond
}

// CommandTimeout returns the command layer timeout.
func (c DriveConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

// TransferTimeout returns the array transfer timeout. Zero means none.
func (c ArrayConfig) TransferTimeout() time.Duration {
	return time.Duration(c.TransferTimeoutMs) * time.Millisecond
}

// Layout returns the array configuration.
func (c ArrayConfig) Layout() (array.Config, error) {
	mode, err := array.ParseMode(c.Mode)
	if err != nil {
		return array.Config{}, err
	}

	policy, err := array.ParseReadPolicy(c.ReadPolicy)
	if err != nil {
		return array.Config{}, err
	}

	return array.Config{
		StripeUnitSize: c.StripeUnitSize,
		Mode:           mode,
		ReadPolicy:     policy,
	}, nil
}

// TrafficPattern returns the BIST traffic pattern.
func (c BISTConfig) TrafficPattern() (bist.Pattern, error) {
	kind, err := bist.ParsePatternKind(c.Pattern)
	if err != nil {
		return bist.Pattern{}, err
	}

	return bist.Pattern{
		Kind:   kind,
		Frames: c.Frames,
		Words:  c.Words,
		Seed:   c.Seed,
	}, nil
}

// Profile returns the BIST fault profile. cont enables continuation coding
// on the channel.
func (c BISTConfig) Profile(cont bool) (bist.FaultProfile, error) {
	p := bist.FaultProfile{
		Position: -1,
		Seed:     c.Seed,
		Cont:     cont,
	}

	if c.Position != nil {
		p.Position = *c.Position
	}

	if c.Rate != nil {
		p.Rate = *c.Rate
	}

	for _, fc := range c.Faults {
		kind, err := bist.ParseFaultKind(fc.Kind)
		if err != nil {
			return bist.FaultProfile{}, err
		}

		f := bist.Fault{Kind: kind, Bits: fc.Bits, Count: fc.Count}
		if fc.Primitive != "" {
			f.Primitive, err = phy.ParsePrimitive(fc.Primitive)
			if err != nil {
				return bist.FaultProfile{}, err
			}
		}

		p.Faults = append(p.Faults, f)
	}

	return p, p.Validate()
}
