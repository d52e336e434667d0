package cmd

import (
	"fmt"

	"github.com/sarchlab/satalink/bist"
	"github.com/sarchlab/satalink/config"
	"github.com/sarchlab/satalink/link"
	"github.com/spf13/cobra"
)

type bistOptions struct {
	frames int
	seed   uint64
	faults []string
	rate   float64
	record string
	cont   bool
}

var bistOpts bistOptions

var bistCmd = &cobra.Command{
	Use:   "bist",
	Short: "Run a built-in self-test of the link layer.",
	Long: "`bist` sends pattern frames between two links over a loopback " +
		"channel, injects the configured faults and checks that every " +
		"frame is classified as the error taxonomy requires.",
	Args: cobra.NoArgs,
	RunE: runBIST,
}

func init() {
	rootCmd.AddCommand(bistCmd)

	f := bistCmd.Flags()
	f.IntVar(&bistOpts.frames, "frames", 0, "number of frames")
	f.Uint64Var(&bistOpts.seed, "seed", 0, "seed of the pattern and the faults")
	f.StringSliceVar(&bistOpts.faults, "fault", nil,
		"fault kinds to inject, in turn")
	f.Float64Var(&bistOpts.rate, "rate", 0, "share of frames that carry a fault")
	f.StringVar(&bistOpts.record, "record", "",
		"record the report into <path>.sqlite3")
	f.BoolVar(&bistOpts.cont, "cont", false, "use continuation coding")
}

func applyBISTFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("frames") {
		c.BIST.Frames = bistOpts.frames
	}

	if flags.Changed("seed") {
		c.BIST.Seed = bistOpts.seed
	}

	if flags.Changed("fault") {
		c.BIST.Faults = nil
		for _, k := range bistOpts.faults {
			c.BIST.Faults = append(c.BIST.Faults, config.FaultConfig{Kind: k})
		}

		if !flags.Changed("rate") {
			rate := 1.0
			c.BIST.Rate = &rate
		}
	}

	if flags.Changed("rate") {
		rate := bistOpts.rate
		c.BIST.Rate = &rate
	}

	if flags.Changed("record") {
		c.Recording.Enabled = true
		c.Recording.Path = bistOpts.record
	}

	if flags.Changed("cont") {
		c.Link.Cont = bistOpts.cont
	}

	return config.Validate(c)
}

func runBIST(cmd *cobra.Command, _ []string) error {
	if err := applyBISTFlags(cmd, cfg); err != nil {
		return err
	}

	pattern, err := cfg.BIST.TrafficPattern()
	if err != nil {
		return err
	}

	profile, err := cfg.BIST.Profile(cfg.Link.Cont)
	if err != nil {
		return err
	}

	s, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	bar := s.progress("BIST", uint64(pattern.Frames))
	defer s.completeProgress(bar)

	b := bist.MakeBuilder().
		WithFrameTimeout(cfg.Link.FrameTimeout()).
		WithLoopbackDepth(cfg.Link.LoopbackDepth).
		WithHook(bar.HookAt(bist.HookPosFrameChecked))

	if s.recorder != nil {
		b = b.WithRecorder(s.recorder)
	}

	if l := s.hookLogger(); l != nil {
		b = b.WithLinkHook(link.NewFrameLogger(l, s.clock))
	}

	controller := b.Build("BIST")
	s.register(controller)

	logger.Info("running BIST",
		"pattern", pattern.Kind,
		"frames", pattern.Frames,
		"words", pattern.Words,
		"faults", len(profile.Faults),
		"rate", profile.Rate)

	report, err := controller.Run(cmd.Context(), pattern, profile)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), report.String())

	return bist.Check(report)
}
