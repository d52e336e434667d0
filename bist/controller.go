// Package bist runs built-in self-tests of the link layer. A controller sends
// pattern traffic between two links over a loopback channel, damages chosen
// frames on the way, and checks that the receiver classifies every frame the
// way the link error taxonomy says it must.
package bist

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/satalink/datarecording"
	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/link"
	"github.com/sarchlab/satalink/phy"
	"github.com/sarchlab/satalink/sim"
	"github.com/sarchlab/satalink/tracing"
)

// HookPosFrameChecked is triggered after each frame of a run is classified.
// The item is the FrameResult.
var HookPosFrameChecked = &sim.HookPos{Name: "BIST Frame Checked"}

const (
	frameTableName = "bist_frames"
	runTableName   = "bist_runs"
)

type frameRecord struct {
	RunID      string
	FrameIndex int
	Fault      string
	Injected   bool
	Expected   string
	Observed   string
	Passed     bool
	Detail     string
}

type runRecord struct {
	RunID    string
	Name     string
	Pattern  string
	Frames   int
	Words    int
	Injected int
	Passed   int
	Failed   int
	Duration float64
}

// Builder can build BIST controllers.
type Builder struct {
	frameTimeout time.Duration
	depth        int
	recorder     datarecording.DataRecorder
	hooks        []sim.Hook
	linkHooks    []sim.Hook
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		frameTimeout: 50 * time.Millisecond,
		depth:        64,
	}
}

// WithFrameTimeout sets the frame timeout of the links under test. A stalled
// frame takes this long to be detected.
func (b Builder) WithFrameTimeout(d time.Duration) Builder {
	b.frameTimeout = d
	return b
}

// WithLoopbackDepth sets how many words each direction of the channel holds.
func (b Builder) WithLoopbackDepth(n int) Builder {
	b.depth = n
	return b
}

// WithRecorder makes the controller persist every report.
func (b Builder) WithRecorder(r datarecording.DataRecorder) Builder {
	b.recorder = r
	return b
}

// WithHook registers a hook on the controller.
func (b Builder) WithHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// WithLinkHook registers a hook on both links of every run.
func (b Builder) WithLinkHook(h sim.Hook) Builder {
	b.linkHooks = append(b.linkHooks, h)
	return b
}

// Build creates a controller.
func (b Builder) Build(name string) *Controller {
	sim.NameMustBeValid(name)

	if b.frameTimeout <= 0 {
		panic("bist: frame timeout must be positive")
	}

	if b.depth <= 0 {
		panic("bist: loopback depth must be positive")
	}

	c := &Controller{
		name:         name,
		frameTimeout: b.frameTimeout,
		depth:        b.depth,
		recorder:     b.recorder,
		linkHooks:    b.linkHooks,
	}

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	if c.recorder != nil {
		c.recorder.CreateTable(frameTableName, frameRecord{})
		c.recorder.CreateTable(runTableName, runRecord{})
	}

	return c
}

// A Controller runs BIST sessions. Runs are serialised; each one gets a fresh
// channel and a fresh pair of links.
type Controller struct {
	sim.HookableBase

	name         string
	frameTimeout time.Duration
	depth        int
	recorder     datarecording.DataRecorder
	linkHooks    []sim.Hook

	lock sync.Mutex
	runs int
}

// Name returns the name of the controller.
func (c *Controller) Name() string {
	return c.name
}

// bench is the channel and the links of one run.
type bench struct {
	loopback *phy.Loopback
	faults   *faultPort
	tx       *link.Link
	rx       *link.Link
	throttle atomic.Int64
}

func (c *Controller) newBench(run int, cont bool, rng *rand.Rand) *bench {
	runName := sim.BuildNameWithIndex(c.name, "Run", run)

	b := &bench{
		loopback: phy.MakeLoopbackBuilder().
			WithDepth(c.depth).
			Build(sim.BuildName(runName, "Channel")),
	}
	b.throttle.Store(-1)

	hostPort, devicePort := b.loopback.HostPort(), b.loopback.DevicePort()
	if cont {
		hostPort = phy.NewContPort(hostPort)
		devicePort = phy.NewContPort(devicePort)
	}

	b.faults = newFaultPort(hostPort, rng)

	txBuilder := link.MakeBuilder().
		WithPort(b.faults).
		WithRole(link.RoleHost).
		WithFrameTimeout(c.frameTimeout)
	rxBuilder := link.MakeBuilder().
		WithPort(devicePort).
		WithRole(link.RoleDevice).
		WithFrameTimeout(c.frameTimeout).
		WithThrottle(link.ThrottleFunc(func(index int) bool {
			return int64(index) == b.throttle.Load()
		}))

	for _, h := range c.linkHooks {
		txBuilder = txBuilder.WithHook(h)
		rxBuilder = rxBuilder.WithHook(h)
	}

	b.tx = txBuilder.Build(sim.BuildName(runName, "Transmitter"))
	b.rx = rxBuilder.Build(sim.BuildName(runName, "Receiver"))

	return b
}

// Run sends the pattern through the channel, injecting faults according to
// the profile, and reports the verdict on every frame.
func (c *Controller) Run(
	ctx context.Context,
	pattern Pattern,
	profile FaultProfile,
) (*RunReport, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	run := c.runs
	c.runs++

	runID := sim.GetIDGenerator().Generate()
	tracing.StartTask(runID, "", c, "bist", pattern.Kind.String(), profile)
	defer tracing.EndTask(runID, c)

	faults := make([]Fault, len(profile.Faults))
	for i, f := range profile.Faults {
		faults[i] = f.withDefaults()
	}

	rng := rand.New(rand.NewPCG(profile.Seed, uint64(len(faults))))
	b := c.newBench(run, profile.Cont, rng)
	defer b.loopback.Close()

	report := newReport(sim.BuildNameWithIndex(c.name, "Run", run), pattern)
	start := time.Now()

	injected := 0
	for i := 0; i < pattern.Frames; i++ {
		fault := Fault{Kind: None}
		if len(faults) > 0 && rng.Float64() < profile.Rate {
			fault = faults[injected%len(faults)]
			injected++
		}

		res, err := c.runFrame(ctx, b, rng, pattern, profile.Position, i, fault)
		if err != nil {
			return nil, err
		}

		report.add(res)
		c.frameChecked(runID, res)
	}

	report.Duration = time.Since(start)
	c.record(runID, report)

	return report, nil
}

func (c *Controller) runFrame(
	ctx context.Context,
	b *bench,
	rng *rand.Rand,
	pattern Pattern,
	position int,
	index int,
	fault Fault,
) (FrameResult, error) {
	switch fault.Kind {
	case None:
	case Throttle:
		at := position
		if at < 0 || at > pattern.Words {
			at = rng.IntN(pattern.Words + 1)
		}

		b.throttle.Store(int64(at))
	default:
		b.faults.arm(fault, position)
	}

	defer func() {
		b.faults.disarm()
		b.throttle.Store(-1)
	}()

	sent := &fis.Data{Payload: pattern.Frame(index)}

	fctx, cancel := context.WithTimeout(ctx, 8*c.frameTimeout)
	defer cancel()

	txErr := make(chan error, 1)
	go func() {
		txErr <- b.tx.Send(fctx, sent)
	}()

	got, rxErr := b.rx.Receive(fctx)
	sendErr := <-txErr

	if ctx.Err() != nil {
		return FrameResult{}, ctx.Err()
	}

	expected := fault.Kind.Expected()
	observed := classify(rxErr, got, sent)

	res := FrameResult{
		Index:    index,
		Fault:    fault,
		Injected: fault.Kind != None,
		Expected: expected,
		Observed: observed,
		Passed:   observed == expected,
	}

	if expected == Delivered && sendErr != nil {
		res.Passed = false
	}

	res.Detail = frameDetail(rxErr, sendErr)

	return res, nil
}

func frameDetail(rxErr, txErr error) string {
	switch {
	case rxErr != nil && txErr != nil:
		return fmt.Sprintf("%v; transmitter: %v", rxErr, txErr)
	case rxErr != nil:
		return rxErr.Error()
	case txErr != nil:
		return "transmitter: " + txErr.Error()
	}

	return ""
}

func (c *Controller) frameChecked(runID string, res FrameResult) {
	tracing.AddTaskStep(runID, c, res.Observed.String())

	if c.recorder != nil {
		c.recorder.InsertData(frameTableName, frameRecord{
			RunID:      runID,
			FrameIndex: res.Index,
			Fault:      res.Fault.Kind.String(),
			Injected:   res.Injected,
			Expected:   res.Expected.String(),
			Observed:   res.Observed.String(),
			Passed:     res.Passed,
			Detail:     res.Detail,
		})
	}

	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosFrameChecked,
		Item:   res,
	})
}

func (c *Controller) record(runID string, r *RunReport) {
	if c.recorder == nil {
		return
	}

	c.recorder.InsertData(runTableName, runRecord{
		RunID:    runID,
		Name:     r.Name,
		Pattern:  r.Pattern.Kind.String(),
		Frames:   r.Frames,
		Words:    r.Pattern.Words,
		Injected: r.Injected,
		Passed:   r.Passed,
		Failed:   r.Failed,
		Duration: r.Duration.Seconds(),
	})
	c.recorder.Flush()
}

// ErrRunFailed is returned by Check when a report has failed frames.
var ErrRunFailed = errors.New("bist: run failed")

// Check returns ErrRunFailed, wrapped with the first failure, if the report
// has any frame that was not classified as expected.
func Check(r *RunReport) error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}

	f := failures[0]

	return fmt.Errorf("%w: %d frames, first is frame %d (%v): expected %v, observed %v",
		ErrRunFailed, len(failures), f.Index, f.Fault.Kind, f.Expected, f.Observed)
}
