package cpuload

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Generator", func() {
	var g *Generator

	BeforeEach(func() {
		g = NewGenerator(-1, nil)
	})

	AfterEach(func() {
		g.Stop()
	})

	It("should do nothing with zero threads", func() {
		Expect(g.Start(0)).To(Succeed())
		Expect(g.Threads()).To(BeZero())
	})

	It("should run and stop workers", func() {
		Expect(g.Start(2)).To(Succeed())
		Expect(g.Threads()).To(Equal(2))

		Eventually(g.Iterations, time.Second).Should(BeNumerically(">", 0))

		g.Stop()
		Expect(g.Threads()).To(BeZero())

		after := g.Iterations()
		time.Sleep(10 * time.Millisecond)
		Expect(g.Iterations()).To(Equal(after))
	})

	It("should refuse to start twice", func() {
		Expect(g.Start(2)).To(Succeed())
		Expect(g.Start(2)).To(MatchError(ErrRunning))
	})

	It("should allow stopping when idle", func() {
		g.Stop()
		g.Stop()
	})

	It("should keep running when pinning is requested", func() {
		pinned := NewGenerator(0, nil)
		Expect(pinned.Start(2)).To(Succeed())
		Eventually(pinned.Iterations, time.Second).Should(BeNumerically(">", 0))
		pinned.Stop()

		Expect(pinned.PinFailures()).To(BeNumerically("<=", 2))
	})

	It("should validate core indexes", func() {
		Expect(ValidateCore(-1)).To(Succeed())
		Expect(ValidateCore(0)).To(Succeed())
		Expect(ValidateCore(1 << 20)).NotTo(Succeed())
		Expect(ValidateCore(-2)).NotTo(Succeed())
	})

	It("should reject a negative count", func() {
		Expect(g.Start(-1)).NotTo(Succeed())
	})
})
