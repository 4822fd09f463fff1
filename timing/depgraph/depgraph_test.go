package depgraph_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/timing/depgraph"
)

type inst struct{ seq int }

var _ = Describe("DependencyGraph", func() {
	var (
		g          *depgraph.DependencyGraph[*inst]
		a, b, c, p *inst
	)

	BeforeEach(func() {
		g = depgraph.New[*inst](8)
		a, b, c, p = &inst{1}, &inst{2}, &inst{3}, &inst{0}
	})

	It("should record producers", func() {
		_, ok := g.Producer(3)
		Expect(ok).To(BeFalse())

		g.SetInst(3, p)
		prod, ok := g.Producer(3)
		Expect(ok).To(BeTrue())
		Expect(prod).To(BeIdenticalTo(p))

		g.ClearInst(3)
		_, ok = g.Producer(3)
		Expect(ok).To(BeFalse())
	})

	It("should pop consumers most recent first", func() {
		g.Insert(2, a)
		g.Insert(2, b)
		g.Insert(5, c)
		Expect(g.NumNodes()).To(Equal(3))
		Expect(g.Consumers(2)).To(Equal([]*inst{b, a}))

		got, ok := g.Pop(2)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(b))
		got, _ = g.Pop(2)
		Expect(got).To(BeIdenticalTo(a))
		_, ok = g.Pop(2)
		Expect(ok).To(BeFalse())

		Expect(g.Empty(2)).To(BeTrue())
		Expect(g.Empty(5)).To(BeFalse())
		Expect(g.NumNodes()).To(Equal(1))
	})

	It("should remove a consumer from the middle of a list", func() {
		g.Insert(1, a)
		g.Insert(1, b)
		g.Insert(1, c)

		Expect(g.Remove(1, b)).To(BeTrue())
		Expect(g.Remove(1, b)).To(BeFalse())
		Expect(g.Consumers(1)).To(Equal([]*inst{c, a}))
		Expect(g.Remove(1, c)).To(BeTrue())
		Expect(g.Consumers(1)).To(Equal([]*inst{a}))
		Expect(g.NumNodes()).To(Equal(1))
	})

	It("should reuse released slots", func() {
		for i := 0; i < 100; i++ {
			g.Insert(i%8, a)
			_, _ = g.Pop(i % 8)
		}
		Expect(g.NumNodes()).To(BeZero())
	})

	It("should reset everything", func() {
		g.Insert(0, a)
		g.SetInst(0, p)
		g.Reset()
		Expect(g.Empty(0)).To(BeTrue())
		Expect(g.NumNodes()).To(BeZero())
		_, ok := g.Producer(0)
		Expect(ok).To(BeFalse())
	})
})
