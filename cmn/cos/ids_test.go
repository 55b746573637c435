package cos_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/semanticscholar/s2orc-pipeline/cmn/cos"
)

var _ = Describe("RandHex8", func() {
	It("returns an 8-character lowercase hex string", func() {
		s, err := cos.RandHex8()
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(HaveLen(8))
		Expect(s).To(MatchRegexp("^[0-9a-f]{8}$"))
	})

	It("is not deterministic across calls", func() {
		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			s, err := cos.RandHex8()
			Expect(err).NotTo(HaveOccurred())
			seen[s] = true
		}
		Expect(len(seen)).To(BeNumerically(">", 1))
	})
})

var _ = Describe("EdgeKey", func() {
	It("is direction-sensitive", func() {
		Expect(cos.EdgeKey(1, 2)).NotTo(Equal(cos.EdgeKey(2, 1)))
	})

	It("is deterministic for the same pair", func() {
		Expect(cos.EdgeKey(5, 9)).To(Equal(cos.EdgeKey(5, 9)))
	})

	It("distinguishes a self-loop from a distinct pair", func() {
		Expect(cos.EdgeKey(5, 5)).NotTo(Equal(cos.EdgeKey(5, 9)))
	})
})
