package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"github.com/pkg/browser"
	"github.com/sarchlab/satalink/command"
	"github.com/sarchlab/satalink/config"
	"github.com/sarchlab/satalink/datarecording"
	"github.com/sarchlab/satalink/drive"
	"github.com/sarchlab/satalink/link"
	"github.com/sarchlab/satalink/monitoring"
	"github.com/sarchlab/satalink/phy"
	"github.com/sarchlab/satalink/sim"
	"github.com/sarchlab/satalink/tracing"
)

// A session holds what a command shares between the components it builds:
// the monitor, the recorder, the tracer and the hook loggers.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  *sim.WallClock

	monitor  *monitoring.Monitor
	recorder datarecording.DataRecorder
	dbTracer *tracing.DBTracer
	latency  *tracing.AverageTimeTracer
	tracer   *tracing.MultiTracer
}

func newSession(cfg *config.Config, logger *slog.Logger) (*session, error) {
	s := &session{
		cfg:    cfg,
		logger: logger,
		clock:  sim.NewWallClock(),
	}
	s.latency = tracing.NewAverageTimeTracer(s.clock, nil)
	s.tracer = tracing.NewMultiTracer(s.latency)

	if cfg.Recording.Enabled {
		s.recorder = datarecording.New(cfg.Recording.Path)

		if cfg.Recording.Trace {
			s.dbTracer = tracing.NewDBTracer(s.clock, s.recorder, "trace")
			s.tracer = tracing.NewMultiTracer(s.latency, s.dbTracer)
		}
	}

	if cfg.Monitor.Enabled {
		s.monitor = monitoring.NewMonitor().WithPortNumber(cfg.Monitor.Port)

		url, err := s.monitor.StartServer()
		if err != nil {
			return nil, err
		}

		logger.Info("monitoring", "url", url)

		if cfg.Monitor.Open {
			if err := browser.OpenURL(url); err != nil {
				logger.Warn("cannot open browser", "err", err)
			}
		}
	}

	return s, nil
}

// register exposes a component on the monitor and traces it.
func (s *session) register(c monitoring.Component) {
	if s.monitor != nil {
		s.monitor.RegisterComponent(c)
	}

	if h, ok := c.(tracing.NamedHookable); ok {
		tracing.CollectTrace(h, s.tracer)
	}
}

// hookLogger returns the logger for per-frame and per-command hooks. Hooks
// only log at debug level.
func (s *session) hookLogger() *log.Logger {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return nil
	}

	return slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug)
}

func (s *session) progress(name string, total uint64) *monitoring.ProgressBar {
	if s.monitor == nil {
		return &monitoring.ProgressBar{Name: name, Total: total}
	}

	return s.monitor.CreateProgressBar(name, total)
}

func (s *session) completeProgress(bar *monitoring.ProgressBar) {
	if s.monitor != nil {
		s.monitor.CompleteProgressBar(bar)
	}
}

func (s *session) close() {
	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := s.monitor.StopServer(ctx); err != nil {
			s.logger.Warn("stopping monitor", "err", err)
		}
	}

	if overall := s.latency.Overall(); overall.Count > 0 {
		s.logger.Debug("task latency",
			"tasks", overall.Count,
			"mean", overall.Mean,
			"max", overall.Max)
	}

	if s.recorder != nil {
		if s.dbTracer != nil {
			s.dbTracer.Terminate()
		}

		if err := s.recorder.Close(); err != nil {
			s.logger.Warn("closing recorder", "err", err)
		}
	}
}

// A stack is a simulated drive behind a channel, seen through a command
// layer.
type stack struct {
	loopback *phy.Loopback
	host     *link.Link
	device   *link.Link
	drive    *drive.Drive
	layer    *command.Layer
	done     chan error
}

// startStacks builds n drives and starts serving them until ctx ends.
func (s *session) startStacks(ctx context.Context, name string, n int) []*stack {
	stacks := make([]*stack, n)
	hookLogger := s.hookLogger()

	for i := range stacks {
		stackName := sim.BuildNameWithIndex(name, "Drive", i)
		if n == 1 {
			stackName = sim.BuildName(name, "Drive")
		}

		stacks[i] = s.startStack(ctx, stackName, i, hookLogger)
	}

	return stacks
}

func (s *session) startStack(
	ctx context.Context,
	name string,
	index int,
	hookLogger *log.Logger,
) *stack {
	lc, dc := s.cfg.Link, s.cfg.Drive

	lb := phy.MakeLoopbackBuilder().
		WithDepth(lc.LoopbackDepth).
		Build(sim.BuildName(name, "Channel"))

	hostPort, devicePort := lb.HostPort(), lb.DevicePort()
	if lc.Cont {
		hostPort = phy.NewContPort(hostPort)
		devicePort = phy.NewContPort(devicePort)
	}

	hostBuilder := link.MakeBuilder().
		WithPort(hostPort).
		WithFrameTimeout(lc.FrameTimeout()).
		WithPendingCapacity(lc.PendingFrames)
	deviceBuilder := link.MakeBuilder().
		WithPort(devicePort).
		WithRole(link.RoleDevice).
		WithFrameTimeout(lc.FrameTimeout()).
		WithPendingCapacity(lc.PendingFrames)
	layerBuilder := command.MakeBuilder().
		WithCommandTimeout(dc.CommandTimeout()).
		WithWindow(dc.Window)

	if hookLogger != nil {
		frames := link.NewFrameLogger(hookLogger, s.clock)
		hostBuilder = hostBuilder.WithHook(frames)
		deviceBuilder = deviceBuilder.WithHook(frames)
		layerBuilder = layerBuilder.WithHook(
			command.NewCommandLogger(hookLogger, s.clock))
	}

	st := &stack{
		loopback: lb,
		host:     hostBuilder.Build(sim.BuildName(name, "HostLink")),
		device:   deviceBuilder.Build(sim.BuildName(name, "DeviceLink")),
		done:     make(chan error, 1),
	}

	st.drive = drive.MakeBuilder().
		WithLink(st.device).
		WithCapacity(dc.Sectors).
		WithQueueDepth(dc.QueueDepth).
		WithSerial(serial(dc.Serial, index)).
		WithModel(dc.Model).
		Build(sim.BuildName(name, "Device"))
	st.layer = layerBuilder.
		WithLink(st.host).
		Build(sim.BuildName(name, "Commands"))

	for _, c := range []monitoring.Component{lb, st.host, st.device, st.drive, st.layer} {
		s.register(c)
	}

	go func() {
		st.done <- st.drive.Run(ctx)
	}()

	return st
}

// serial makes the serial numbers of the drives of one run distinct.
func serial(base string, index int) string {
	if index == 0 {
		return base
	}

	suffix := []byte{'-', byte('A' + index%26)}
	if len(base)+len(suffix) > 20 {
		base = base[:20-len(suffix)]
	}

	return base + string(suffix)
}

// stopStacks waits for the drives to stop and closes their channels. The
// context the stacks were started with must be done.
func (s *session) stopStacks(stacks []*stack) {
	for _, st := range stacks {
		select {
		case err := <-st.done:
			if err != nil && !errors.Is(err, context.Canceled) &&
				!errors.Is(err, drive.ErrKilled) {
				s.logger.Debug("drive stopped", "drive", st.drive.Name(), "err", err)
			}
		case <-time.After(5 * time.Second):
			s.logger.Warn("drive did not stop", "drive", st.drive.Name())
		}

		st.loopback.Close()
	}
}
