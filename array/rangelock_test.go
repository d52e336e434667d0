package array

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("rangeLock", func() {
	var l *rangeLock

	BeforeEach(func() {
		l = newRangeLock()
	})

	It("should let disjoint ranges proceed together", func() {
		r1, err := l.acquire(context.Background(), 0, 10)
		Expect(err).NotTo(HaveOccurred())
		r2, err := l.acquire(context.Background(), 10, 20)
		Expect(err).NotTo(HaveOccurred())

		Expect(l.holders()).To(Equal(2))

		r1()
		r2()
		Expect(l.holders()).To(BeZero())
	})

	It("should block an overlapping range until release", func() {
		release, err := l.acquire(context.Background(), 0, 10)
		Expect(err).NotTo(HaveOccurred())

		acquired := make(chan func())
		go func() {
			defer GinkgoRecover()

			r, err := l.acquire(context.Background(), 5, 15)
			Expect(err).NotTo(HaveOccurred())
			acquired <- r
		}()

		Consistently(acquired, 50*time.Millisecond).ShouldNot(Receive())

		release()

		var r func()
		Eventually(acquired).Should(Receive(&r))
		r()
	})

	It("should give up when the context ends", func() {
		_, err := l.acquire(context.Background(), 0, 10)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = l.acquire(ctx, 9, 11)
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(l.holders()).To(Equal(1))
	})
})
