package processor

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rtloop/model"
)

var _ = Describe("Filter", func() {
	var f *Filter

	BeforeEach(func() {
		f = NewFilter(4)
	})

	It("should average the latest values", func() {
		f.Add(model.Force, 1)
		f.Add(model.Force, 2)
		f.Add(model.Force, 3)
		f.Add(model.Force, 4)
		r := f.Add(model.Force, 9)

		Expect(r.Filtered).To(BeNumerically("~", (2+3+4+9)/4.0, 1e-9))
		Expect(r.History).To(Equal(4))
		Expect(r.RecentMean).To(BeNumerically("~", 2.5, 1e-9))
	})

	It("should keep kinds apart", func() {
		f.Add(model.Force, 100)
		r := f.Add(model.Temperature, 25)

		Expect(r.Filtered).To(Equal(25.0))
		Expect(r.History).To(Equal(0))
	})

	It("should not flag without history", func() {
		r := f.Add(model.Force, 1000)
		Expect(r.IsAnomaly(1000, 3)).To(BeFalse())
	})

	It("should flag a spike", func() {
		for _, v := range []float64{99, 101, 99, 101} {
			f.Add(model.Force, v)
		}

		r := f.Add(model.Force, 150)

		Expect(r.RecentStdDev).To(BeNumerically("~", 1, 1e-9))
		Expect(r.IsAnomaly(150, 3)).To(BeTrue())
		Expect(r.IsAnomaly(150, 100)).To(BeFalse())
	})

	It("should panic on an empty window", func() {
		Expect(func() { NewFilter(0) }).To(Panic())
	})
})
