package config

// Default values filled in by Normalize.
const (
	DefaultFrameTimeoutMs   = 250
	DefaultPendingFrames    = 64
	DefaultLoopbackDepth    = 64
	DefaultDriveSectors     = 1 << 20
	DefaultQueueDepth       = 32
	DefaultCommandTimeoutMs = 5000
	DefaultWindow           = 8
	DefaultEndpoints        = 2
	DefaultStripeUnitSize   = 64 << 10
	DefaultBISTFrames       = 64
	DefaultBISTWords        = 16
)

// Normalize fills in defaults for unset values. It may change the
// configuration and is meant to run after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	setInt(&cfg.Link.FrameTimeoutMs, DefaultFrameTimeoutMs)
	setInt(&cfg.Link.PendingFrames, DefaultPendingFrames)
	setInt(&cfg.Link.LoopbackDepth, DefaultLoopbackDepth)

	if cfg.Drive.Sectors == 0 {
		cfg.Drive.Sectors = DefaultDriveSectors
	}

	setInt(&cfg.Drive.QueueDepth, DefaultQueueDepth)
	setInt(&cfg.Drive.CommandTimeoutMs, DefaultCommandTimeoutMs)
	setInt(&cfg.Drive.Window, DefaultWindow)
	setString(&cfg.Drive.Serial, "SL0000000001")
	setString(&cfg.Drive.Model, "SATALINK SIMULATED DRIVE")

	setString(&cfg.Array.Mode, "striping")
	setString(&cfg.Array.ReadPolicy, "first-success")
	setInt(&cfg.Array.Endpoints, DefaultEndpoints)
	setInt(&cfg.Array.StripeUnitSize, DefaultStripeUnitSize)

	setString(&cfg.BIST.Pattern, "counter")
	setInt(&cfg.BIST.Frames, DefaultBISTFrames)
	setInt(&cfg.BIST.Words, DefaultBISTWords)

	if cfg.BIST.Seed == 0 {
		cfg.BIST.Seed = 1
	}

	if cfg.BIST.Rate == nil {
		rate := 0.0
		if len(cfg.BIST.Faults) > 0 {
			rate = 1
		}

		cfg.BIST.Rate = &rate
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
