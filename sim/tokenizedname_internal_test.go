package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Name", func() {
	It("should parse name", func() {
		name, err := ParseName("Array.Endpoint[0]")

		Expect(err).NotTo(HaveOccurred())
		Expect(name.Tokens[0].ElemName).To(Equal("Array"))
		Expect(name.Tokens[0].Index).To(BeEmpty())
		Expect(name.Tokens[1].ElemName).To(Equal("Endpoint"))
		Expect(name.Tokens[1].Index).To(Equal([]int{0}))
	})

	It("should parse multi-dimensional index", func() {
		name, err := ParseName("Bist[0][1].Lane[0][1]")

		Expect(err).NotTo(HaveOccurred())
		Expect(name.Tokens[0].ElemName).To(Equal("Bist"))
		Expect(name.Tokens[0].Index).To(Equal([]int{0, 1}))
		Expect(name.Tokens[1].ElemName).To(Equal("Lane"))
		Expect(name.Tokens[1].Index).To(Equal([]int{0, 1}))
	})

	It("should print a parsed name back", func() {
		name, err := ParseName("Array.Drive[2].HostLink")

		Expect(err).NotTo(HaveOccurred())
		Expect(name.String()).To(Equal("Array.Drive[2].HostLink"))
		Expect(name.Parent().String()).To(Equal("Array.Drive[2]"))
		Expect(name.Parent().Parent().Parent().String()).To(Equal(""))
	})

	It("should reject a non-integer index", func() {
		_, err := ParseName("Drive[x]")

		Expect(err).To(MatchError(ErrInvalidName))
	})

	DescribeTable("invalid names",
		func(name string) {
			Expect(ValidateName(name)).To(MatchError(ErrInvalidName))
			Expect(func() { NameMustBeValid(name) }).To(Panic())
		},
		Entry("empty", ""),
		Entry("underscore", "Drive_0"),
		Entry("dash", "Drive-0"),
		Entry("space", "Drive 0"),
		Entry("lower case", "drive0"),
		Entry("unclosed bracket", "Drive[0"),
		Entry("unopened bracket", "Drive0]"),
		Entry("text after index", "Drive[0]x"),
		Entry("empty element", "Drive..0"),
	)

	It("should build name", func() {
		Expect(BuildName("", "Drive")).To(Equal("Drive"))
		Expect(BuildName("Drive", "Link")).To(Equal("Drive.Link"))
	})

	It("should build name with index", func() {
		Expect(BuildNameWithIndex("", "Drive", 0)).To(Equal("Drive[0]"))
		Expect(BuildNameWithIndex("Array", "Endpoint", 0)).To(Equal("Array.Endpoint[0]"))
	})

	It("should accept a well-formed hierarchical name", func() {
		Expect(ValidateName("Array.Endpoint[1].Link")).To(Succeed())
	})
})
