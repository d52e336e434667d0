package config

import (
	"errors"
	"fmt"

	"github.com/sarchlab/satalink/array"
	"github.com/sarchlab/satalink/bist"
	"github.com/sarchlab/satalink/command"
	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/phy"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Validate checks the configuration. It performs declarative validation
// only and does not change the configuration. Zero values are allowed and
// stand for defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("nil configuration")
	}

	checks := []func(*Config) error{
		validateLink,
		validateDrive,
		validateArray,
		validateBIST,
		validateMonitor,
	}

	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}

	return nil
}

func validateLink(cfg *Config) error {
	l := cfg.Link

	if l.FrameTimeoutMs < 0 {
		return invalid("link.frame_timeout_ms must not be negative")
	}

	if l.PendingFrames < 0 {
		return invalid("link.pending_frames must not be negative")
	}

	if l.LoopbackDepth < 0 {
		return invalid("link.loopback_depth must not be negative")
	}

	return nil
}

func validateDrive(cfg *Config) error {
	d := cfg.Drive

	if d.QueueDepth < 0 || d.QueueDepth > command.MaxTags {
		return invalid("drive.queue_depth must be within 0..%d", command.MaxTags)
	}

	if d.CommandTimeoutMs < 0 {
		return invalid("drive.command_timeout_ms must not be negative")
	}

	if d.Window < 0 || d.Window > command.MaxTags {
		return invalid("drive.window must be within 0..%d", command.MaxTags)
	}

	if d.Sectors > 1<<48 {
		return invalid("drive.sectors exceeds 48-bit addressing")
	}

	return nil
}

func validateArray(cfg *Config) error {
	a := cfg.Array

	if a.Mode != "" {
		if _, err := array.ParseMode(a.Mode); err != nil {
			return invalid("array.mode %q", a.Mode)
		}
	}

	if a.ReadPolicy != "" {
		if _, err := array.ParseReadPolicy(a.ReadPolicy); err != nil {
			return invalid("array.read_policy %q", a.ReadPolicy)
		}
	}

	if a.Endpoints != 0 && a.Endpoints < 2 {
		return invalid("array.endpoints must be at least 2")
	}

	if a.StripeUnitSize < 0 || a.StripeUnitSize%array.SectorSize != 0 {
		return invalid("array.stripe_unit_size must be a multiple of %d",
			array.SectorSize)
	}

	if a.TransferTimeoutMs < 0 {
		return invalid("array.transfer_timeout_ms must not be negative")
	}

	return nil
}

func validateBIST(cfg *Config) error {
	b := cfg.BIST

	if b.Pattern != "" {
		if _, err := bist.ParsePatternKind(b.Pattern); err != nil {
			return invalid("bist.pattern %q", b.Pattern)
		}
	}

	if b.Frames < 0 {
		return invalid("bist.frames must not be negative")
	}

	if b.Words < 0 || b.Words*4 > fis.MaxDataPayload {
		return invalid("bist.words must be within 0..%d", fis.MaxDataPayload/4)
	}

	if b.Rate != nil && (*b.Rate < 0 || *b.Rate > 1) {
		return invalid("bist.rate must be within 0..1")
	}

	for i, f := range b.Faults {
		if _, err := bist.ParseFaultKind(f.Kind); err != nil {
			return invalid("bist.faults[%d].kind %q", i, f.Kind)
		}

		if f.Primitive != "" {
			if _, err := phy.ParsePrimitive(f.Primitive); err != nil {
				return invalid("bist.faults[%d].primitive %q", i, f.Primitive)
			}
		}
	}

	return nil
}

func validateMonitor(cfg *Config) error {
	if cfg.Monitor.Port < 0 || cfg.Monitor.Port > 65535 {
		return invalid("monitor.port must be within 0..65535")
	}

	return nil
}
