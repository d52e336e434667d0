package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/satalink/sim"
)

type testDomain struct {
	*sim.HookableBase
	name string
}

func (d *testDomain) Name() string {
	return d.name
}

func newTestDomain(name string) *testDomain {
	return &testDomain{HookableBase: sim.NewHookableBase(), name: name}
}

var _ = Describe("Task API", func() {
	var (
		domain *testDomain
		clock  *sim.ManualClock
	)

	BeforeEach(func() {
		domain = newTestDomain("Host.Commands")
		clock = &sim.ManualClock{}
	})

	It("should not invoke anything without hooks", func() {
		Expect(func() {
			StartTask("", "", domain, "", "", nil)
		}).NotTo(Panic())
	})

	It("should panic on empty fields once traced", func() {
		CollectTrace(domain, NewAverageTimeTracer(clock, nil))

		Expect(func() {
			StartTask("", "", domain, "command", "read", nil)
		}).To(Panic())
	})

	It("should refuse the same tracer twice", func() {
		tracer := NewAverageTimeTracer(clock, nil)
		CollectTrace(domain, tracer)

		Expect(func() { CollectTrace(domain, tracer) }).To(Panic())
	})

	It("should deliver the location of the task", func() {
		var got []Task
		domain.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			if ctx.Pos == HookPosTaskStart {
				got = append(got, ctx.Item.(Task))
			}
		}))

		StartTask("1", "", domain, "command", "read", nil)

		Expect(got).To(HaveLen(1))
		Expect(got[0].Location).To(Equal("Host.Commands"))
		Expect(got[0].Kind).To(Equal("command"))
	})
})

var _ = Describe("MultiTracer", func() {
	It("should forward tasks to every tracer", func() {
		clock := &sim.ManualClock{}
		domain := newTestDomain("Host.Commands")
		reads := NewAverageTimeTracer(clock, func(t Task) bool {
			return t.What == "read"
		})
		all := NewAverageTimeTracer(clock, nil)
		multi := NewMultiTracer(reads, nil, all)
		CollectTrace(domain, multi)

		StartTask("1", "", domain, "command", "read", nil)
		StartTask("2", "", domain, "command", "write", nil)
		clock.Advance(1)
		EndTask("1", domain)
		EndTask("2", domain)

		Expect(multi.Len()).To(Equal(2))
		Expect(reads.TotalCount()).To(Equal(uint64(1)))
		Expect(all.TotalCount()).To(Equal(uint64(2)))
	})

	It("should refuse to be attached twice", func() {
		domain := newTestDomain("Host.Commands")
		multi := NewMultiTracer()
		CollectTrace(domain, multi)

		Expect(func() { CollectTrace(domain, multi) }).To(Panic())
	})
})

var _ = Describe("Task", func() {
	It("should report the duration of ended tasks only", func() {
		Expect(Task{StartTime: 1, EndTime: 3.5}.Duration()).
			To(BeNumerically("~", 2.5, 1e-9))
		Expect(Task{StartTime: 2}.Duration()).To(BeZero())
	})
})

var _ = Describe("AverageTimeTracer", func() {
	It("should average the accepted tasks", func() {
		clock := &sim.ManualClock{}
		domain := newTestDomain("Array")
		tracer := NewAverageTimeTracer(clock, func(t Task) bool {
			return t.What == "read"
		})
		CollectTrace(domain, tracer)

		StartTask("1", "", domain, "command", "read", nil)
		StartTask("2", "", domain, "command", "write", nil)
		clock.Advance(2)
		EndTask("1", domain)
		EndTask("2", domain)

		StartTask("3", "", domain, "command", "read", nil)
		clock.Advance(4)
		Expect(tracer.InflightCount()).To(Equal(1))
		EndTask("3", domain)

		Expect(tracer.TotalCount()).To(Equal(uint64(2)))
		Expect(tracer.AverageTime()).To(BeNumerically("~", 3, 1e-9))
	})

	It("should group latencies by kind and what", func() {
		clock := &sim.ManualClock{}
		domain := newTestDomain("Array")
		tracer := NewAverageTimeTracer(clock, nil)
		CollectTrace(domain, tracer)

		StartTask("1", "", domain, "array", "read", nil)
		StartTask("2", "", domain, "array", "write", nil)
		clock.Advance(1)
		EndTask("1", domain)
		StartTask("3", "", domain, "array", "read", nil)
		clock.Advance(3)
		EndTask("3", domain)
		EndTask("2", domain)
		EndTask("4", domain)

		reads := tracer.Latency("array", "read")
		Expect(reads.Count).To(Equal(uint64(2)))
		Expect(reads.Min).To(BeNumerically("~", 1, 1e-9))
		Expect(reads.Max).To(BeNumerically("~", 3, 1e-9))
		Expect(reads.Mean).To(BeNumerically("~", 2, 1e-9))

		writes := tracer.Latency("array", "write")
		Expect(writes.Count).To(Equal(uint64(1)))
		Expect(writes.Mean).To(BeNumerically("~", 4, 1e-9))

		Expect(tracer.Latency("command", "read").Count).To(BeZero())
		Expect(tracer.Overall().Count).To(Equal(uint64(3)))
		Expect(tracer.Overall().Max).To(BeNumerically("~", 4, 1e-9))
	})
})

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *MockDataRecorder
		clock    *sim.ManualClock
		domain   *testDomain
		tracer   *DBTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewMockDataRecorder(mockCtrl)
		clock = &sim.ManualClock{}
		domain = newTestDomain("Drive")

		recorder.EXPECT().CreateTable("commands", taskTableEntry{})
		tracer = NewDBTracer(clock, recorder, "commands")
		CollectTrace(domain, tracer)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should write completed tasks", func() {
		recorder.EXPECT().InsertData("commands", taskTableEntry{
			ID:        "7",
			Kind:      "command",
			What:      "write",
			Location:  "Drive",
			StartTime: 1,
			EndTime:   3.5,
			Steps:     1,
		})

		clock.Advance(1)
		StartTask("7", "", domain, "command", "write", nil)
		AddTaskStep("7", domain, "data")
		clock.Advance(2.5)
		EndTask("7", domain)

		Expect(tracer.Written()).To(Equal(uint64(1)))
	})

	It("should ignore tasks never started", func() {
		EndTask("9", domain)

		Expect(tracer.Written()).To(BeZero())
	})

	It("should flush on terminate", func() {
		recorder.EXPECT().Flush()

		StartTask("1", "", domain, "command", "read", nil)
		tracer.Terminate()
		EndTask("1", domain)

		Expect(tracer.Written()).To(BeZero())
	})
})
