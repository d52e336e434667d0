package scrambler

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Scrambler", func() {
	var s *Scrambler

	BeforeEach(func() {
		s = New()
	})

	It("should produce the reference sequence after reset", func() {
		Expect(s.Next()).To(Equal(uint32(0xC2D2768D)))
		Expect(s.Next()).To(Equal(uint32(0x1F26B368)))
		Expect(s.Next()).To(Equal(uint32(0xA508436C)))
		Expect(s.Next()).To(Equal(uint32(0x3452D354)))
		Expect(s.Next()).To(Equal(uint32(0x8A559502)))
		Expect(s.Next()).To(Equal(uint32(0xBB1ABE1B)))
		Expect(s.Steps()).To(Equal(uint64(6)))
	})

	It("should restart the sequence on reset", func() {
		s.Next()
		s.Next()
		s.Reset()

		Expect(s.Next()).To(Equal(uint32(0xC2D2768D)))
	})

	It("should restore data when both ends stay in lockstep", func() {
		tx := New()
		rx := New()
		data := []uint32{0, 0xFFFFFFFF, 0x12345678, 0x27, 0xDEADBEEF}

		for _, w := range data {
			Expect(rx.Whiten(tx.Whiten(w))).To(Equal(w))
		}
	})

	It("should produce wrong data when the resets diverge", func() {
		tx := New()
		rx := New()
		rx.Next()

		data := []uint32{1, 2, 3, 4}
		out := make([]uint32, len(data))
		for i, w := range data {
			out[i] = rx.Whiten(tx.Whiten(w))
		}

		Expect(out).NotTo(Equal(data))
	})

	It("should not repeat within a frame", func() {
		seen := make(map[uint32]bool)
		for i := 0; i < 2048; i++ {
			v := s.Next()
			Expect(seen).NotTo(HaveKey(v))
			seen[v] = true
		}
	})
})
