package phy

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/satalink/sim"
)

var _ = Describe("Loopback", func() {
	var (
		lb  *Loopback
		ctx context.Context
	)

	BeforeEach(func() {
		lb = MakeLoopbackBuilder().WithDepth(4).Build("Loopback")
		ctx = context.Background()
	})

	It("should deliver words in order in both directions", func() {
		host := lb.HostPort()
		dev := lb.DevicePort()

		Expect(host.Send(ctx, Prim(XRDY))).To(Succeed())
		Expect(host.Send(ctx, Data(7))).To(Succeed())
		Expect(dev.Send(ctx, Prim(RRDY))).To(Succeed())

		w, err := dev.Recv(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Is(XRDY)).To(BeTrue())

		w, err = dev.Recv(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(w).To(Equal(Data(7)))

		w, err = host.Recv(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Is(RRDY)).To(BeTrue())

		h2d, d2h := lb.WordsCarried()
		Expect(h2d).To(Equal(uint64(2)))
		Expect(d2h).To(Equal(uint64(1)))
	})

	It("should distinguish primitives from data of the same value", func() {
		Expect(Data(uint32(SOF)).Is(SOF)).To(BeFalse())
		Expect(Prim(SOF).Is(SOF)).To(BeTrue())
	})

	It("should report nothing pending on TryRecv", func() {
		_, ok, err := lb.DevicePort().TryRecv()

		Expect(ok).To(BeFalse())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should block a sender while the lane is full", func() {
		host := lb.HostPort()
		for i := 0; i < 4; i++ {
			Expect(host.Send(ctx, Data(uint32(i)))).To(Succeed())
		}

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		err := host.Send(tctx, Data(4))
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())

		Expect(lb.Buffers()[0].Level).To(Equal(4))
		Expect(lb.Buffers()[0].HighWatermark).To(Equal(4))
	})

	It("should wake a blocked receiver", func() {
		done := make(chan Word)
		go func() {
			defer GinkgoRecover()
			w, err := lb.DevicePort().Recv(ctx)
			Expect(err).NotTo(HaveOccurred())
			done <- w
		}()

		Expect(lb.HostPort().Send(ctx, Prim(SYNC))).To(Succeed())
		Eventually(done).Should(Receive(Equal(Prim(SYNC))))
	})

	It("should drain pending words before reporting close", func() {
		Expect(lb.HostPort().Send(ctx, Data(1))).To(Succeed())
		Expect(lb.HostPort().Close()).To(Succeed())

		w, err := lb.DevicePort().Recv(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(w).To(Equal(Data(1)))

		_, err = lb.DevicePort().Recv(ctx)
		Expect(err).To(MatchError(ErrClosed))

		Expect(lb.DevicePort().Send(ctx, Data(2))).To(MatchError(ErrClosed))
	})

	It("should invoke buffer hooks", func() {
		pushes := 0
		lb.AcceptBufferHook(sim.HookFunc(func(hc sim.HookCtx) {
			if hc.Pos == sim.HookPosBufPush {
				pushes++
			}
		}))

		Expect(lb.HostPort().Send(ctx, Data(1))).To(Succeed())
		Expect(lb.DevicePort().Send(ctx, Data(1))).To(Succeed())

		Expect(pushes).To(Equal(2))
	})
})
