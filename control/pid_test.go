package control

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/syncmgr"
)

func positionAt(v float64) model.ProcessedSample {
	return model.ProcessedSample{
		SensorSample:  model.SensorSample{Kind: model.Position},
		FilteredValue: v,
	}
}

var _ = Describe("Controller", func() {
	var (
		gains config.PIDGains
		c     *Controller
		t0    time.Time
	)

	BeforeEach(func() {
		gains = config.PIDGains{Kp: 1, Ki: 1, Kd: 1}
		c = NewControllerWithGains(
			func() config.PIDGains { return gains }, 10, 50)
		t0 = time.Now()
	})

	It("should only apply the proportional term on the first step", func() {
		out := c.Step(positionAt(-2), t0)

		Expect(out.Error).To(Equal(2.0))
		Expect(out.Value).To(Equal(2.0))
		Expect(out.Integral).To(BeZero())
		Expect(out.Derivative).To(BeZero())
	})

	It("should use the setpoint of the sensor kind", func() {
		out := c.Step(model.ProcessedSample{
			SensorSample:  model.SensorSample{Kind: model.Force},
			FilteredValue: 98,
		}, t0)

		Expect(out.Error).To(Equal(2.0))
	})

	It("should integrate over the measured elapsed time", func() {
		c.Step(positionAt(-2), t0)
		out := c.Step(positionAt(-2), t0.Add(10*time.Millisecond))

		Expect(out.Integral).To(BeNumerically("~", 2*0.01, 1e-12))
		Expect(out.Derivative).To(BeZero())
		Expect(out.Elapsed).To(Equal(10 * time.Millisecond))
	})

	It("should divide the derivative by the measured elapsed time", func() {
		c.Step(positionAt(0), t0)
		short := c.Step(positionAt(-1), t0.Add(time.Millisecond))

		c.Reset()
		c.Step(positionAt(0), t0)
		long := c.Step(positionAt(-1), t0.Add(4*time.Millisecond))

		Expect(short.Derivative).To(BeNumerically("~", 1000, 1e-6))
		Expect(long.Derivative).To(BeNumerically("~", 250, 1e-6))
	})

	It("should skip integral and derivative when no time elapsed", func() {
		c.Step(positionAt(-1), t0)
		out := c.Step(positionAt(-3), t0)

		Expect(out.Integral).To(BeZero())
		Expect(out.Derivative).To(BeZero())
		Expect(out.Value).To(Equal(3.0))

		out = c.Step(positionAt(-3), t0.Add(-time.Millisecond))
		Expect(out.Derivative).To(BeZero())
	})

	It("should bound the integral under sustained error", func() {
		gains = config.PIDGains{Ki: 1}
		at := t0
		for i := 0; i < 10000; i++ {
			at = at.Add(5 * time.Millisecond)
			out := c.Step(positionAt(-40), at)
			Expect(out.Integral).To(BeNumerically("<=", 10))
		}

		Expect(c.IntegralOf(model.Position)).To(Equal(10.0))
	})

	It("should clamp the output", func() {
		gains = config.PIDGains{Kp: 100}

		Expect(c.Step(positionAt(-5), t0).Value).To(Equal(50.0))
		Expect(c.Step(positionAt(5), t0).Value).To(Equal(-50.0))
	})

	It("should keep kinds independent", func() {
		c.Step(positionAt(-2), t0)
		c.Step(positionAt(-2), t0.Add(time.Second/100))

		Expect(c.IntegralOf(model.Force)).To(BeZero())
		Expect(c.IntegralOf(model.Position)).NotTo(BeZero())
	})

	It("should read gains from the configuration buffer", func() {
		mgr := syncmgr.MakeBuilder().
			WithTunables(syncmgr.Tunables{
				AnomalyThreshold: 3,
				Gains:            config.PIDGains{Kp: 2},
			}).
			Build()
		defer mgr.Close()
		mc := NewController(mgr, 10, 50)

		Expect(mc.Step(positionAt(-1), t0).Value).To(Equal(2.0))

		mgr.AcquireWrite(func(t syncmgr.Tunables) syncmgr.Tunables {
			t.Gains.Kp = 3
			return t
		})
		Expect(mc.Step(positionAt(-1), t0).Value).To(Equal(3.0))
	})
})
