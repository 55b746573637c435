package graph

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ApproxEdgeCounter", func() {
	It("reports true only the first time an edge is observed", func() {
		c := NewApproxEdgeCounter(1000)
		Expect(c.Observe(1, 2)).To(BeTrue())
		Expect(c.Observe(1, 2)).To(BeFalse())
		Expect(c.Count()).To(Equal(int64(1)))
	})

	It("treats direction as significant, matching EdgeKey's asymmetry", func() {
		c := NewApproxEdgeCounter(1000)
		Expect(c.Observe(1, 2)).To(BeTrue())
		Expect(c.Observe(2, 1)).To(BeTrue())
		Expect(c.Count()).To(Equal(int64(2)))
	})

	It("accumulates a distinct count across many unique edges", func() {
		c := NewApproxEdgeCounter(1000)
		for i := int64(0); i < 100; i++ {
			Expect(c.Observe(i, i+1)).To(BeTrue())
		}
		Expect(c.Count()).To(Equal(int64(100)))
	})
})
