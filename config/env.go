package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix starts the name of every environment override.
const EnvPrefix = "SATASIM_"

// LookupFunc finds an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envVar struct {
	name  string
	apply func(cfg *Config, v string) error
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}

		*dst(cfg) = n

		return nil
	}
}

func uintVar(dst func(*Config) *uint64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return err
		}

		*dst(cfg) = n

		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}

		*dst(cfg) = b

		return nil
	}
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

var envVars = []envVar{
	{"FRAME_TIMEOUT_MS", intVar(func(c *Config) *int { return &c.Link.FrameTimeoutMs })},
	{"PENDING_FRAMES", intVar(func(c *Config) *int { return &c.Link.PendingFrames })},
	{"LOOPBACK_DEPTH", intVar(func(c *Config) *int { return &c.Link.LoopbackDepth })},
	{"CONT", boolVar(func(c *Config) *bool { return &c.Link.Cont })},
	{"DRIVE_SECTORS", uintVar(func(c *Config) *uint64 { return &c.Drive.Sectors })},
	{"QUEUE_DEPTH", intVar(func(c *Config) *int { return &c.Drive.QueueDepth })},
	{"COMMAND_TIMEOUT_MS", intVar(func(c *Config) *int { return &c.Drive.CommandTimeoutMs })},
	{"ARRAY_MODE", stringVar(func(c *Config) *string { return &c.Array.Mode })},
	{"ARRAY_ENDPOINTS", intVar(func(c *Config) *int { return &c.Array.Endpoints })},
	{"STRIPE_UNIT_SIZE", intVar(func(c *Config) *int { return &c.Array.StripeUnitSize })},
	{"READ_POLICY", stringVar(func(c *Config) *string { return &c.Array.ReadPolicy })},
	{"BIST_PATTERN", stringVar(func(c *Config) *string { return &c.BIST.Pattern })},
	{"BIST_FRAMES", intVar(func(c *Config) *int { return &c.BIST.Frames })},
	{"BIST_SEED", uintVar(func(c *Config) *uint64 { return &c.BIST.Seed })},
	{"BIST_FAULTS", applyFaults},
	{"MONITOR", boolVar(func(c *Config) *bool { return &c.Monitor.Enabled })},
	{"MONITOR_PORT", intVar(func(c *Config) *int { return &c.Monitor.Port })},
	{"RECORD", boolVar(func(c *Config) *bool { return &c.Recording.Enabled })},
	{"RECORD_PATH", stringVar(func(c *Config) *string { return &c.Recording.Path })},
}

// applyFaults replaces the fault list with a comma separated list of kinds.
func applyFaults(cfg *Config, v string) error {
	cfg.BIST.Faults = nil

	for _, kind := range strings.Split(v, ",") {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}

		cfg.BIST.Faults = append(cfg.BIST.Faults, FaultConfig{Kind: kind})
	}

	return nil
}

// ApplyEnv overrides configuration values with SATASIM_* variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}

		if err := ev.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s%s=%q: %w", EnvPrefix, ev.name, v, err)
		}
	}

	return nil
}
