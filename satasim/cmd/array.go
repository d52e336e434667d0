package cmd

import (
	"context"
	"fmt"

	"github.com/sarchlab/satalink/array"
	"github.com/sarchlab/satalink/bist"
	"github.com/sarchlab/satalink/config"
	"github.com/sarchlab/satalink/sim"
	"github.com/spf13/cobra"
)

type arrayOptions struct {
	mode         string
	endpoints    int
	stripeUnit   int
	readPolicy   string
	size         uint64
	failEndpoint int
}

var arrayOpts arrayOptions

var arrayCmd = &cobra.Command{
	Use:   "array",
	Short: "Write, read back and verify a pattern on an array of drives.",
	Long: "`array` builds simulated drives, composes them into a striped " +
		"or mirrored array, fills it with a pattern and verifies the " +
		"pattern on read back. --fail-endpoint kills one drive between " +
		"the write and the read.",
	Args: cobra.NoArgs,
	RunE: runArray,
}

func init() {
	rootCmd.AddCommand(arrayCmd)

	f := arrayCmd.Flags()
	f.StringVar(&arrayOpts.mode, "mode", "", "striping or mirroring")
	f.IntVar(&arrayOpts.endpoints, "endpoints", 0, "number of drives")
	f.IntVar(&arrayOpts.stripeUnit, "stripe-unit", 0, "stripe unit in bytes")
	f.StringVar(&arrayOpts.readPolicy, "read-policy", "",
		"mirror reads: first-success or round-robin")
	f.Uint64Var(&arrayOpts.size, "size", 4<<20, "bytes to write and verify")
	f.IntVar(&arrayOpts.failEndpoint, "fail-endpoint", -1,
		"drive to kill before reading back, -1 for none")
}

func applyArrayFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("mode") {
		c.Array.Mode = arrayOpts.mode
	}

	if flags.Changed("endpoints") {
		c.Array.Endpoints = arrayOpts.endpoints
	}

	if flags.Changed("stripe-unit") {
		c.Array.StripeUnitSize = arrayOpts.stripeUnit
	}

	if flags.Changed("read-policy") {
		c.Array.ReadPolicy = arrayOpts.readPolicy
	}

	if err := config.Validate(c); err != nil {
		return err
	}

	if arrayOpts.size == 0 || arrayOpts.size%array.SectorSize != 0 {
		return fmt.Errorf("size must be a positive multiple of %d",
			array.SectorSize)
	}

	if arrayOpts.failEndpoint >= c.Array.Endpoints {
		return fmt.Errorf("cannot fail endpoint %d of %d",
			arrayOpts.failEndpoint, c.Array.Endpoints)
	}

	return nil
}

func runArray(cmd *cobra.Command, _ []string) error {
	if err := applyArrayFlags(cmd, cfg); err != nil {
		return err
	}

	layout, err := cfg.Array.Layout()
	if err != nil {
		return err
	}

	s, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	stacks := s.startStacks(ctx, "Array", cfg.Array.Endpoints)
	defer func() {
		cancel()
		s.stopStacks(stacks)
	}()

	endpoints := make([]array.Endpoint, len(stacks))
	for i, st := range stacks {
		endpoints[i] = st.layer
	}

	sectors := arrayOpts.size / array.SectorSize
	bar := s.progress("Array", 2*sectors)
	defer s.completeProgress(bar)

	arr, err := array.MakeBuilder().
		WithContext(ctx).
		WithConfig(layout).
		WithEndpoints(endpoints...).
		WithTransferTimeout(cfg.Array.TransferTimeout()).
		WithHook(sim.HookFunc(func(hc sim.HookCtx) {
			if hc.Pos != array.HookPosTransferComplete {
				return
			}

			t := hc.Item.(*array.Transfer)
			bar.IncrementFinished(uint64(t.Length / array.SectorSize))
		})).
		Build("Array")
	if err != nil {
		return err
	}

	s.register(arr)

	if arrayOpts.size > arr.Size() {
		return fmt.Errorf("size %d exceeds the array size %d",
			arrayOpts.size, arr.Size())
	}

	logger.Info("array ready",
		"mode", layout.Mode,
		"endpoints", arr.NumEndpoints(),
		"bytes", arr.Size())

	pattern := bist.Pattern{Kind: bist.Random, Seed: cfg.BIST.Seed}
	out := cmd.OutOrStdout()

	w, err := bist.Generator{Device: arr, Pattern: pattern}.Fill(ctx, 0, sectors)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "wrote %d sectors in %v (%.1f MB/s)\n",
		w.Sectors, w.Duration, w.Throughput()/1e6)

	if i := arrayOpts.failEndpoint; i >= 0 {
		logger.Warn("killing drive", "drive", stacks[i].drive.Name())
		stacks[i].drive.Kill()
	}

	r, verifyErr := bist.Checker{Device: arr, Pattern: pattern}.
		Verify(ctx, 0, sectors)

	fmt.Fprintf(out, "read %d sectors in %v (%.1f MB/s), %d word errors\n",
		r.Sectors, r.Duration, r.Throughput()/1e6, r.Errors)
	printArrayStats(cmd, arr)

	if verifyErr != nil {
		return verifyErr
	}

	if r.Errors > 0 {
		return fmt.Errorf("%d words differ, first at LBA %d",
			r.Errors, r.FirstError)
	}

	return nil
}

func printArrayStats(cmd *cobra.Command, arr *array.Controller) {
	st := arr.Stats()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "reads %d, writes %d, failed %d, partial stripes %d, "+
		"divergences %d\n",
		st.Reads, st.Writes, st.Failed, st.PartialStripes, st.Divergences)

	if stale := arr.Stale(); len(stale) > 0 {
		fmt.Fprintf(out, "stale mirrors: %v\n", stale)
	}
}
