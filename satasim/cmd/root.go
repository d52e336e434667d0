// Package cmd provides the command-line interface of the SATA link
// simulator.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/sarchlab/satalink/config"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "satasim",
	Short: "satasim runs simulated SATA links, drives and arrays.",
	Long: `satasim runs simulated SATA links, drives and arrays. It can ` +
		`run built-in self-tests of the link layer, exercise striped and ` +
		`mirrored arrays of simulated drives, and identify a drive.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

type globalOptions struct {
	configFile  string
	envFiles    []string
	logLevel    string
	logFormat   string
	monitor     bool
	monitorPort int
	open        bool
}

var (
	opts   globalOptions
	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	f.StringSliceVar(&opts.envFiles, "env-file", nil,
		".env files to load (default .env)")
	f.StringVar(&opts.logLevel, "log-level", "info",
		"log level: debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", "text",
		"log format: text or json")
	f.BoolVar(&opts.monitor, "monitor", false, "serve the monitoring page")
	f.IntVar(&opts.monitorPort, "monitor-port", 0,
		"port of the monitoring page, 0 picks a free port")
	f.BoolVar(&opts.open, "open", false, "open the monitoring page in a browser")
}

// Execute runs the command line and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		return 1
	}

	return 0
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error

	logger, err = newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	slog.SetDefault(logger)

	cfg, err = config.Resolve(opts.configFile, opts.envFiles...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("monitor") || flags.Changed("monitor-port") ||
		flags.Changed("open") {
		cfg.Monitor.Enabled = true
	}

	if flags.Changed("monitor-port") {
		cfg.Monitor.Port = opts.monitorPort
	}

	if flags.Changed("open") {
		cfg.Monitor.Open = opts.open
	}

	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: l}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}

	return nil, fmt.Errorf("invalid log format %q", format)
}
