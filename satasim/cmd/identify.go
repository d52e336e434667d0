package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify a simulated drive.",
	Args:  cobra.NoArgs,
	RunE:  runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	stacks := s.startStacks(ctx, "Identify", 1)
	defer func() {
		cancel()
		s.stopStacks(stacks)
	}()

	id, err := stacks[0].layer.Identify(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model:       %s\n", id.Model)
	fmt.Fprintf(out, "Serial:      %s\n", id.Serial)
	fmt.Fprintf(out, "Firmware:    %s\n", id.Firmware)
	fmt.Fprintf(out, "Sectors:     %d (%d bytes)\n", id.Sectors, id.Sectors*512)
	fmt.Fprintf(out, "Queue depth: %d\n", id.QueueDepth)
	fmt.Fprintf(out, "NCQ:         %v\n", id.NCQ)
	fmt.Fprintf(out, "LBA48:       %v\n", id.LBA48)

	return nil
}
