package phy

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ContPort", func() {
	var (
		lb  *Loopback
		tx  *ContPort
		ctx context.Context
	)

	BeforeEach(func() {
		lb = MakeLoopbackBuilder().WithDepth(32).Build("Loopback")
		tx = NewContPort(lb.HostPort())
		ctx = context.Background()
	})

	drain := func() []Word {
		var words []Word
		for {
			w, ok, err := lb.DevicePort().TryRecv()
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				return words
			}
			words = append(words, w)
		}
	}

	It("should replace a long run with CONT and filler", func() {
		for i := 0; i < 5; i++ {
			Expect(tx.Send(ctx, Prim(HOLD))).To(Succeed())
		}

		words := drain()
		Expect(words).To(HaveLen(5))
		Expect(words[0].Is(HOLD)).To(BeTrue())
		Expect(words[1].Is(HOLD)).To(BeTrue())
		Expect(words[2].Is(CONT)).To(BeTrue())
		Expect(words[3].Primitive).To(BeFalse())
		Expect(words[4].Primitive).To(BeFalse())
	})

	It("should pass data untouched", func() {
		for i := 0; i < 4; i++ {
			Expect(tx.Send(ctx, Data(0x55))).To(Succeed())
		}

		Expect(drain()).To(Equal([]Word{Data(0x55), Data(0x55), Data(0x55), Data(0x55)}))
	})

	It("should restore the run on the receive side", func() {
		rx := NewContPort(lb.DevicePort())
		sent := []Word{
			Prim(SYNC), Prim(HOLD), Prim(HOLD), Prim(HOLD), Prim(HOLD),
			Data(9), Prim(EOF),
		}
		for _, w := range sent {
			Expect(tx.Send(ctx, w)).To(Succeed())
		}

		var got []Word
		for {
			w, ok, err := rx.TryRecv()
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				break
			}
			got = append(got, w)
		}

		// The last primitive of a coded run is repeated once before the
		// word that ends it.
		Expect(got).To(Equal([]Word{
			Prim(SYNC), Prim(HOLD), Prim(HOLD), Prim(HOLD), Prim(HOLD),
			Prim(HOLD), Data(9), Prim(EOF),
		}))
	})
})
