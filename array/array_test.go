package array

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/satalink/drive"
	"github.com/sarchlab/satalink/sim"
	"github.com/sarchlab/satalink/tracing"
)

var errBroken = errors.New("endpoint broken")

// memEndpoint is an endpoint backed by drive storage that can be broken on
// demand.
type memEndpoint struct {
	name    string
	storage *drive.Storage
	delay   time.Duration

	broken atomic.Bool
	reads  atomic.Int64
	writes atomic.Int64
}

func newMemEndpoint(name string, sectors uint64) *memEndpoint {
	return &memEndpoint{
		name:    name,
		storage: drive.NewStorage(sectors * SectorSize),
	}
}

func (e *memEndpoint) Name() string { return e.name }

func (e *memEndpoint) Capacity(context.Context) (uint64, error) {
	return e.storage.Capacity() / SectorSize, nil
}

func (e *memEndpoint) wait(ctx context.Context) error {
	if e.delay == 0 {
		return nil
	}

	select {
	case <-time.After(e.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *memEndpoint) ReadSectors(ctx context.Context, lba uint64, buf []byte) error {
	e.reads.Add(1)

	if err := e.wait(ctx); err != nil {
		return err
	}

	if e.broken.Load() {
		return errBroken
	}

	data, err := e.storage.Read(lba*SectorSize, uint64(len(buf)))
	if err != nil {
		return err
	}

	copy(buf, data)

	return nil
}

func (e *memEndpoint) WriteSectors(ctx context.Context, lba uint64, data []byte) error {
	e.writes.Add(1)

	if err := e.wait(ctx); err != nil {
		return err
	}

	if e.broken.Load() {
		return errBroken
	}

	return e.storage.Write(lba*SectorSize, data)
}

func fill(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i>>9) ^ byte(i) ^ seed
	}

	return b
}

func endpoints(eps ...*memEndpoint) []Endpoint {
	out := make([]Endpoint, len(eps))
	for i, e := range eps {
		out[i] = e
	}

	return out
}

var _ = Describe("Config", func() {
	It("should validate", func() {
		Expect(DefaultConfig().Validate()).To(Succeed())
		Expect(Config{Mode: Mirroring}.Validate()).To(Succeed())

		bad := []Config{
			{Mode: Striping, StripeUnitSize: 0},
			{Mode: Striping, StripeUnitSize: 1000},
			{Mode: Mode(7)},
			{Mode: Mirroring, ReadPolicy: ReadPolicy(9)},
		}
		for _, c := range bad {
			Expect(c.Validate()).To(MatchError(ErrInvalidConfig))
		}
	})

	It("should parse names", func() {
		m, err := ParseMode("Mirroring")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(Mirroring))

		p, err := ParseReadPolicy("round-robin")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(RoundRobin))

		_, err = ParseMode("raid5")
		Expect(err).To(MatchError(ErrInvalidConfig))
		_, err = ParseReadPolicy("quorum")
		Expect(err).To(MatchError(ErrInvalidConfig))
	})
})

var _ = Describe("Builder", func() {
	var mockCtrl *gomock.Controller

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should refuse an invalid name", func() {
		_, err := MakeBuilder().
			WithEndpoints(endpoints(newMemEndpoint("A", 64), newMemEndpoint("B", 64))...).
			Build("my-array")

		Expect(err).To(MatchError(sim.ErrInvalidName))
	})

	It("should need two endpoints", func() {
		_, err := MakeBuilder().
			WithEndpoints(newMemEndpoint("A", 64)).
			Build("Array")

		Expect(err).To(MatchError(ErrTooFewEndpoints))
	})

	It("should refuse endpoints of different sizes", func() {
		_, err := MakeBuilder().
			WithEndpoints(endpoints(newMemEndpoint("A", 64), newMemEndpoint("B", 32))...).
			Build("Array")

		Expect(err).To(MatchError(ErrCapacityMismatch))
	})

	It("should report an endpoint that cannot tell its capacity", func() {
		ep := NewMockEndpoint(mockCtrl)
		ep.EXPECT().Capacity(gomock.Any()).Return(uint64(0), errBroken)
		ep.EXPECT().Name().Return("Broken")

		_, err := MakeBuilder().
			WithEndpoints(ep, newMemEndpoint("B", 64)).
			Build("Array")

		Expect(err).To(MatchError(errBroken))
		Expect(err.Error()).To(ContainSubstring("Broken"))
	})

	It("should refuse a stripe unit larger than an endpoint", func() {
		_, err := MakeBuilder().
			WithStripeUnitSize(64 << 10).
			WithEndpoints(endpoints(newMemEndpoint("A", 8), newMemEndpoint("B", 8))...).
			Build("Array")

		Expect(err).To(MatchError(ErrInvalidConfig))
	})

	It("should size the array", func() {
		a, b, c := newMemEndpoint("A", 100), newMemEndpoint("B", 100), newMemEndpoint("C", 100)

		striped, err := MakeBuilder().
			WithStripeUnitSize(4096).
			WithEndpoints(endpoints(a, b, c)...).
			Build("Striped")
		Expect(err).NotTo(HaveOccurred())
		Expect(striped.Size()).To(Equal(uint64(3 * 12 * 4096)))

		mirrored, err := MakeBuilder().
			WithMode(Mirroring).
			WithEndpoints(endpoints(a, b)...).
			Build("Mirrored")
		Expect(err).NotTo(HaveOccurred())
		Expect(mirrored.Size()).To(Equal(uint64(100 * SectorSize)))

		sectors, err := mirrored.Capacity(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(sectors).To(Equal(uint64(100)))
	})
})

var _ = Describe("Striping", func() {
	var (
		ctx context.Context
		eps []*memEndpoint
		arr *Controller
	)

	BeforeEach(func() {
		ctx = context.Background()
		eps = []*memEndpoint{
			newMemEndpoint("A", 256),
			newMemEndpoint("B", 256),
			newMemEndpoint("C", 256),
		}

		var err error
		arr, err = MakeBuilder().
			WithStripeUnitSize(1024).
			WithEndpoints(endpoints(eps...)...).
			Build("Array")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should split transfers at stripe unit boundaries", func() {
		chunks := arr.Layout(1536, 4096)

		Expect(chunks).To(Equal([]Chunk{
			{Index: 0, Endpoint: 1, Offset: 1536, EndpointOffset: 512, Length: 512},
			{Index: 1, Endpoint: 2, Offset: 2048, EndpointOffset: 0, Length: 1024},
			{Index: 2, Endpoint: 0, Offset: 3072, EndpointOffset: 1024, Length: 1024},
			{Index: 3, Endpoint: 1, Offset: 4096, EndpointOffset: 1024, Length: 1024},
			{Index: 4, Endpoint: 2, Offset: 5120, EndpointOffset: 1024, Length: 512},
		}))
	})

	It("should read back what was written", func() {
		data := fill(4*1024*3, 0x11)

		Expect(arr.WriteAt(ctx, 0, data)).To(Succeed())

		got := make([]byte, len(data))
		Expect(arr.ReadAt(ctx, 0, got)).To(Succeed())
		Expect(bytes.Equal(got, data)).To(BeTrue())

		for _, e := range eps {
			Expect(e.storage.UnitsAllocated()).To(BeNumerically(">", 0))
			Expect(e.writes.Load()).To(Equal(int64(4)))
		}
	})

	It("should handle transfers that start inside a unit", func() {
		data := fill(7*SectorSize, 0x22)

		Expect(arr.WriteSectors(ctx, 3, data)).To(Succeed())

		got := make([]byte, len(data))
		Expect(arr.ReadSectors(ctx, 3, got)).To(Succeed())
		Expect(bytes.Equal(got, data)).To(BeTrue())

		stored, err := eps[1].storage.Read(0, 1024)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored[512:]).To(Equal(data[:512]))
	})

	It("should fail the whole transfer when one endpoint fails", func() {
		eps[1].broken.Store(true)

		err := arr.WriteAt(ctx, 0, fill(6*1024, 0x33))

		var se *StripeError
		Expect(errors.As(err, &se)).To(BeTrue())
		Expect(err).To(MatchError(ErrPartialStripe))
		Expect(err).To(MatchError(errBroken))
		Expect(se.Chunks).To(HaveLen(6))
		Expect(se.Failed()).To(HaveLen(2))
		for _, c := range se.Failed() {
			Expect(c.Endpoint).To(Equal(1))
		}
		Expect(arr.Stats().PartialStripes).To(Equal(uint64(1)))
	})

	It("should not return partial data", func() {
		Expect(arr.WriteAt(ctx, 0, fill(3*1024, 0x44))).To(Succeed())
		eps[2].broken.Store(true)

		got := make([]byte, 3*1024)
		err := arr.ReadAt(ctx, 0, got)

		Expect(err).To(MatchError(ErrPartialStripe))
		Expect(got).To(Equal(make([]byte, 3*1024)))
	})

	It("should check alignment and range", func() {
		Expect(arr.WriteAt(ctx, 100, fill(512, 0))).To(MatchError(ErrMisaligned))
		Expect(arr.WriteAt(ctx, 0, fill(100, 0))).To(MatchError(ErrMisaligned))
		Expect(arr.ReadAt(ctx, arr.Size(), make([]byte, 512))).To(MatchError(ErrOutOfRange))
		Expect(arr.ReadAt(ctx, arr.Size(), nil)).To(Succeed())
	})

	It("should time out transfers on slow endpoints", func() {
		var err error
		eps[0].delay = time.Second
		arr, err = MakeBuilder().
			WithStripeUnitSize(1024).
			WithTransferTimeout(50 * time.Millisecond).
			WithEndpoints(endpoints(eps...)...).
			Build("Array")
		Expect(err).NotTo(HaveOccurred())

		err = arr.WriteAt(ctx, 0, fill(3*1024, 0))

		Expect(err).To(MatchError(ErrPartialStripe))
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("should trace transfers and their chunks", func() {
		tracer := tracing.NewAverageTimeTracer(sim.NewWallClock(), nil)
		tracing.CollectTrace(arr, tracer)

		Expect(arr.WriteAt(ctx, 0, fill(3*1024, 0))).To(Succeed())

		Expect(tracer.TotalCount()).To(Equal(uint64(4)))
		Expect(tracer.InflightCount()).To(BeZero())
	})

	It("should report transfers to hooks", func() {
		var lock sync.Mutex
		var completed []*Transfer
		arr.AcceptHook(sim.HookFunc(func(hctx sim.HookCtx) {
			if hctx.Pos == HookPosTransferComplete {
				lock.Lock()
				completed = append(completed, hctx.Item.(*Transfer))
				lock.Unlock()
			}
		}))

		Expect(arr.WriteAt(ctx, 0, fill(1024, 0))).To(Succeed())
		eps[0].broken.Store(true)
		Expect(arr.ReadAt(ctx, 0, make([]byte, 1024))).NotTo(Succeed())

		Expect(completed).To(HaveLen(2))
		Expect(completed[0].Op).To(Equal("write"))
		Expect(completed[0].Err).NotTo(HaveOccurred())
		Expect(completed[1].Err).To(MatchError(ErrPartialStripe))

		stats := arr.Stats()
		Expect(stats.Writes).To(Equal(uint64(1)))
		Expect(stats.BytesWritten).To(Equal(uint64(1024)))
		Expect(stats.Failed).To(Equal(uint64(1)))
	})
})

var _ = Describe("Mirroring", func() {
	var (
		ctx context.Context
		eps []*memEndpoint
		arr *Controller
	)

	build := func(policy ReadPolicy) {
		var err error
		arr, err = MakeBuilder().
			WithMode(Mirroring).
			WithReadPolicy(policy).
			WithEndpoints(endpoints(eps...)...).
			Build("Mirror")
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		eps = []*memEndpoint{newMemEndpoint("A", 64), newMemEndpoint("B", 64)}
		build(FirstSuccess)
	})

	It("should write every mirror", func() {
		data := fill(4*SectorSize, 0x55)

		Expect(arr.WriteAt(ctx, 1024, data)).To(Succeed())

		for _, e := range eps {
			stored, err := e.storage.Read(1024, uint64(len(data)))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(Equal(data))
		}

		got := make([]byte, len(data))
		Expect(arr.ReadAt(ctx, 1024, got)).To(Succeed())
		Expect(got).To(Equal(data))
	})

	It("should report divergence and stop using the failed mirror", func() {
		var staleHook []int
		arr.AcceptHook(sim.HookFunc(func(hctx sim.HookCtx) {
			if hctx.Pos == HookPosEndpointStale {
				staleHook = append(staleHook, hctx.Item.(int))
			}
		}))

		eps[1].broken.Store(true)
		err := arr.WriteAt(ctx, 0, fill(SectorSize, 0x66))

		var me *MirrorError
		Expect(errors.As(err, &me)).To(BeTrue())
		Expect(err).To(MatchError(ErrMirrorDivergence))
		Expect(me.Succeeded).To(Equal([]int{0}))
		Expect(me.FailedEndpoints()).To(Equal([]int{1}))
		Expect(arr.Stale()).To(Equal([]int{1}))
		Expect(staleHook).To(Equal([]int{1}))

		eps[1].broken.Store(false)
		readsBefore := eps[1].reads.Load()

		got := make([]byte, SectorSize)
		Expect(arr.ReadAt(ctx, 0, got)).To(Succeed())
		Expect(got).To(Equal(fill(SectorSize, 0x66)))
		Expect(eps[1].reads.Load()).To(Equal(readsBefore))

		writesBefore := eps[1].writes.Load()
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0x67))).To(Succeed())
		Expect(eps[1].writes.Load()).To(Equal(writesBefore + 1))
		Expect(arr.Stale()).To(Equal([]int{1}))

		Expect(arr.MarkConsistent(1)).To(Succeed())
		Expect(arr.IsStale(1)).To(BeFalse())
		Expect(arr.MarkConsistent(5)).To(MatchError(ErrNoEndpoint))
	})

	It("should keep reporting divergence while a mirror keeps failing", func() {
		eps[1].broken.Store(true)
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0x10))).
			To(MatchError(ErrMirrorDivergence))

		err := arr.WriteAt(ctx, SectorSize, fill(SectorSize, 0x11))

		var me *MirrorError
		Expect(errors.As(err, &me)).To(BeTrue())
		Expect(me.Succeeded).To(Equal([]int{0}))
		Expect(me.FailedEndpoints()).To(Equal([]int{1}))
		Expect(arr.Stale()).To(Equal([]int{1}))
	})

	It("should fail without divergence when every mirror fails", func() {
		eps[0].broken.Store(true)
		eps[1].broken.Store(true)

		err := arr.WriteAt(ctx, 0, fill(SectorSize, 0))

		Expect(err).To(MatchError(ErrAllMirrorsFailed))
		Expect(err).NotTo(MatchError(ErrMirrorDivergence))
		Expect(arr.Stale()).To(BeEmpty())
	})

	It("should keep the last consistent mirror in service", func() {
		eps[0].broken.Store(true)
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0))).To(MatchError(ErrMirrorDivergence))
		Expect(arr.Stale()).To(Equal([]int{0}))

		eps[0].broken.Store(false)
		eps[1].broken.Store(true)
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0))).To(MatchError(ErrAllMirrorsFailed))
		Expect(arr.Stale()).To(Equal([]int{0}))

		err := arr.ReadAt(ctx, 0, make([]byte, SectorSize))
		Expect(err).To(MatchError(ErrAllMirrorsFailed))
		Expect(eps[0].reads.Load()).To(BeZero())
	})

	It("should take the first good answer", func() {
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0x77))).To(Succeed())
		eps[0].broken.Store(true)

		got := make([]byte, SectorSize)
		Expect(arr.ReadAt(ctx, 0, got)).To(Succeed())
		Expect(got).To(Equal(fill(SectorSize, 0x77)))
	})

	It("should not wait for a slow mirror once one answered", func() {
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0x78))).To(Succeed())
		eps[1].delay = 5 * time.Second

		start := time.Now()
		Expect(arr.ReadAt(ctx, 0, make([]byte, SectorSize))).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("should take turns with round robin", func() {
		build(RoundRobin)
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0x79))).To(Succeed())

		for i := 0; i < 4; i++ {
			Expect(arr.ReadAt(ctx, 0, make([]byte, SectorSize))).To(Succeed())
		}

		Expect(eps[0].reads.Load()).To(Equal(int64(2)))
		Expect(eps[1].reads.Load()).To(Equal(int64(2)))
	})

	It("should fall back to the next mirror with round robin", func() {
		build(RoundRobin)
		Expect(arr.WriteAt(ctx, 0, fill(SectorSize, 0x7A))).To(Succeed())
		eps[0].broken.Store(true)

		for i := 0; i < 2; i++ {
			got := make([]byte, SectorSize)
			Expect(arr.ReadAt(ctx, 0, got)).To(Succeed())
			Expect(got).To(Equal(fill(SectorSize, 0x7A)))
		}

		eps[1].broken.Store(true)
		err := arr.ReadAt(ctx, 0, make([]byte, SectorSize))
		Expect(err).To(MatchError(ErrAllMirrorsFailed))
		Expect(err).To(MatchError(errBroken))
	})
})
