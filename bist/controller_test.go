package bist

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/satalink/link"
	"github.com/sarchlab/satalink/sim"
)

var _ = Describe("Controller", func() {
	var (
		c       *Controller
		pattern Pattern
	)

	BeforeEach(func() {
		c = MakeBuilder().
			WithFrameTimeout(30 * time.Millisecond).
			Build("BIST")
		pattern = Pattern{Kind: Counter, Frames: 8, Words: 16, Seed: 1}
	})

	It("should deliver every frame without faults", func() {
		r, err := c.Run(context.Background(), pattern, FaultProfile{})

		Expect(err).NotTo(HaveOccurred())
		Expect(r.OK()).To(BeTrue(), r.String())
		Expect(r.Frames).To(Equal(8))
		Expect(r.Injected).To(BeZero())
		Expect(r.Words).To(Equal(uint64(8 * 16)))
		Expect(r.ByFault[None]).To(Equal(FaultSummary{Frames: 8, Passed: 8}))
		Expect(Check(r)).To(Succeed())
	})

	DescribeTable("should classify each fault",
		func(kind FaultKind, cont bool) {
			pattern.Frames = 3
			pattern.Kind = Random
			profile := ProfileOf(kind)
			profile.Cont = cont

			r, err := c.Run(context.Background(), pattern, profile)

			Expect(err).NotTo(HaveOccurred())
			Expect(r.OK()).To(BeTrue(), r.String())
			Expect(r.Injected).To(Equal(3))
			for _, res := range r.Results {
				Expect(res.Fault.Kind).To(Equal(kind))
				Expect(res.Observed).To(Equal(kind.Expected()))
			}
		},
		Entry("bit flip", BitFlip, false),
		Entry("multi-bit flip", MultiBitFlip, false),
		Entry("corrupt CRC", CorruptCRC, false),
		Entry("drop word", DropWord, false),
		Entry("truncate", Truncate, false),
		Entry("stall", Stall, false),
		Entry("duplicate SOF", DuplicateSOF, false),
		Entry("inject primitive", InjectPrimitive, false),
		Entry("reorder", Reorder, false),
		Entry("hold run", HoldRun, false),
		Entry("align", Align, false),
		Entry("throttle", Throttle, false),
		Entry("bit flip with CONT", BitFlip, true),
		Entry("truncate with CONT", Truncate, true),
		Entry("hold run with CONT", HoldRun, true),
		Entry("align with CONT", Align, true),
		Entry("throttle with CONT", Throttle, true),
	)

	It("should see a CRC mismatch when a one-word frame loses a word", func() {
		pattern.Words = 1
		pattern.Frames = 2

		r, err := c.Run(context.Background(), pattern, ProfileOf(DropWord, Reorder))

		Expect(err).NotTo(HaveOccurred())
		Expect(r.OK()).To(BeTrue(), r.String())
		for _, res := range r.Results {
			Expect(res.Expected).To(Equal(CRCMismatch))
			Expect(res.Observed).To(Equal(CRCMismatch))
		}
	})

	It("should time out a stalled frame every time", func() {
		pattern.Frames = 4

		r, err := c.Run(context.Background(), pattern, ProfileOf(Stall))

		Expect(err).NotTo(HaveOccurred())
		Expect(r.OK()).To(BeTrue(), r.String())
		Expect(r.ByFault[Stall].Frames).To(Equal(4))
		for _, res := range r.Results {
			Expect(res.Observed).To(Equal(Timeout))
		}
	})

	It("should recover between faulty and clean frames", func() {
		profile := ProfileOf(AllFaults()...)
		profile.Rate = 0.5
		pattern.Frames = 24

		r, err := c.Run(context.Background(), pattern, profile)

		Expect(err).NotTo(HaveOccurred())
		Expect(r.OK()).To(BeTrue(), r.String())
		Expect(r.Injected).To(BeNumerically(">", 0))
		Expect(r.Injected).To(BeNumerically("<", 24))
		Expect(r.ByFault[None].Frames).To(Equal(24 - r.Injected))
	})

	It("should choose the same frames for the same seed", func() {
		profile := ProfileOf(BitFlip)
		profile.Rate = 0.3
		profile.Seed = 42

		injectedFrames := func() []int {
			r, err := c.Run(context.Background(), pattern, profile)
			Expect(err).NotTo(HaveOccurred())

			var idx []int
			for _, res := range r.Results {
				if res.Injected {
					idx = append(idx, res.Index)
				}
			}
			return idx
		}

		Expect(injectedFrames()).To(Equal(injectedFrames()))
	})

	It("should reject invalid input", func() {
		_, err := c.Run(context.Background(), Pattern{}, FaultProfile{})
		Expect(err).To(MatchError(ErrInvalidPattern))

		_, err = c.Run(context.Background(), pattern, FaultProfile{Rate: 2})
		Expect(err).To(MatchError(ErrInvalidProfile))
	})

	It("should stop when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Run(ctx, pattern, FaultProfile{})
		Expect(err).To(MatchError(context.Canceled))
	})

	It("should report a frame that was not classified as expected", func() {
		r := newReport("BIST.Run[0]", pattern)
		r.add(FrameResult{Index: 0, Fault: Fault{Kind: BitFlip}, Injected: true,
			Expected: CRCMismatch, Observed: Delivered})

		Expect(r.OK()).To(BeFalse())
		Expect(Check(r)).To(MatchError(ErrRunFailed))
		Expect(r.String()).To(ContainSubstring("expected CRCMismatch, observed Delivered"))
	})

	It("should invoke hooks for frames and links", func() {
		var frames, linkEvents int
		c = MakeBuilder().
			WithFrameTimeout(30 * time.Millisecond).
			WithHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosFrameChecked {
					frames++
				}
			})).
			WithLinkHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == link.HookPosFrameReceived {
					linkEvents++
				}
			})).
			Build("BIST")

		_, err := c.Run(context.Background(), pattern, FaultProfile{})

		Expect(err).NotTo(HaveOccurred())
		Expect(frames).To(Equal(8))
		Expect(linkEvents).To(Equal(8))
	})

	Context("with a recorder", func() {
		var (
			mockCtrl *gomock.Controller
			recorder *MockDataRecorder
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			recorder = NewMockDataRecorder(mockCtrl)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should record every frame and the run", func() {
			recorder.EXPECT().CreateTable("bist_frames", frameRecord{})
			recorder.EXPECT().CreateTable("bist_runs", runRecord{})
			recorder.EXPECT().InsertData("bist_frames", gomock.Any()).Times(8)
			recorder.EXPECT().
				InsertData("bist_runs", gomock.Any()).
				Do(func(_ string, entry any) {
					rec := entry.(runRecord)
					Expect(rec.Frames).To(Equal(8))
					Expect(rec.Passed).To(Equal(8))
					Expect(rec.Pattern).To(Equal("counter"))
				})
			recorder.EXPECT().Flush()

			c = MakeBuilder().
				WithFrameTimeout(30 * time.Millisecond).
				WithRecorder(recorder).
				Build("BIST")

			_, err := c.Run(context.Background(), pattern, FaultProfile{})
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
