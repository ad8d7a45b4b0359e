package feedback

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

var initial = syncmgr.Tunables{
	AnomalyThreshold: 3.0,
	Gains:            config.PIDGains{Kp: 1.2, Ki: 0.01, Kd: 0.2},
}

func ack(errMagnitude float64, at time.Time) model.FeedbackEvent {
	return model.FeedbackEvent{
		ActuatorID:     "Motor",
		Kind:           model.Force,
		AckAt:          at,
		ErrorMagnitude: errMagnitude,
	}
}

var _ = Describe("Decide", func() {
	It("should relax the threshold and damp Kp on large errors", func() {
		t, tags := Decide(initial, WindowSummary{Size: 4, MeanError: 9}, 5, 0.1)

		Expect(t.AnomalyThreshold).To(BeNumerically("~", 3.3, 1e-9))
		Expect(t.Gains.Kp).To(BeNumerically("~", 1.14, 1e-9))
		Expect(t.Gains.Ki).To(Equal(initial.Gains.Ki))
		Expect(tags).To(Equal([]string{TagRelaxed}))
	})

	It("should tighten the threshold on many misses", func() {
		t, tags := Decide(initial, WindowSummary{Size: 10, Missed: 5}, 5, 0.1)

		Expect(t.AnomalyThreshold).To(BeNumerically("~", 2.85, 1e-9))
		Expect(t.Gains).To(Equal(initial.Gains))
		Expect(tags).To(Equal([]string{TagTightened}))
	})

	It("should respect the cap and the floor", func() {
		high := initial
		high.AnomalyThreshold = ThresholdCap
		t, _ := Decide(high, WindowSummary{Size: 1, MeanError: 100}, 5, 0.1)
		Expect(t.AnomalyThreshold).To(Equal(ThresholdCap))

		low := initial
		low.AnomalyThreshold = ThresholdFloor
		t, _ = Decide(low, WindowSummary{Size: 1, Missed: 1}, 5, 0.1)
		Expect(t.AnomalyThreshold).To(Equal(ThresholdFloor))
	})

	It("should change nothing for zero error", func() {
		t, tags := Decide(initial, WindowSummary{Size: 32}, 5, 0.1)

		Expect(t).To(Equal(initial))
		Expect(tags).To(BeEmpty())
	})
})

var _ = Describe("Loop", func() {
	var (
		mgr  syncmgr.Manager
		acks *queueing.Queue[model.FeedbackEvent]
		loop *Loop
	)

	BeforeEach(func() {
		mgr = syncmgr.MakeBuilder().WithTunables(initial).Build()
		acks = queueing.NewQueue[model.FeedbackEvent]("ForceAcks", 64)
		loop = MakeBuilder().
			WithManager(mgr).
			WithDeadline(time.Millisecond).
			WithWindow(4).
			WithAcks(model.Force, acks).
			Build("Feedback")
	})

	AfterEach(func() {
		mgr.Close()
	})

	It("should leave tunables unchanged across zero-error windows", func() {
		now := time.Now()
		for i := 0; i < 40; i++ {
			Expect(loop.Collect(ack(0, now), now)).To(BeTrue())
		}

		Expect(mgr.AcquireRead()).To(Equal(initial))
		Expect(loop.Stats().Recalibrations).To(BeZero())
	})

	It("should acknowledge on-time feedback to the sensor side", func() {
		now := time.Now()
		loop.Collect(ack(0.1, now), now.Add(100*time.Microsecond))

		fb, ok := acks.TryPop()
		Expect(ok).To(BeTrue())
		Expect(fb.ErrorMagnitude).To(Equal(0.1))
		Expect(loop.Stats().Acked).To(Equal(uint64(1)))
	})

	It("should discard late feedback without retrying", func() {
		now := time.Now()

		accepted := loop.Collect(ack(50, now.Add(-5*time.Millisecond)), now)

		Expect(accepted).To(BeFalse())
		Expect(acks.Size()).To(BeZero())
		Expect(loop.Stats().Late).To(Equal(uint64(1)))

		var late []model.Event
		for _, e := range mgr.Events() {
			if e.Tag == model.TagLateFeedback {
				late = append(late, e)
			}
		}
		Expect(late).To(HaveLen(1))
		Expect(late[0].Stage).To(Equal(model.StageFeedback))
		Expect(late[0].DeadlineMissed).To(BeTrue())
	})

	It("should not count late feedback towards the window", func() {
		now := time.Now()
		for i := 0; i < 8; i++ {
			loop.Collect(ack(50, now.Add(-time.Second)), now)
		}

		Expect(mgr.AcquireRead()).To(Equal(initial))
	})

	It("should recalibrate once per full window", func() {
		now := time.Now()
		for i := 0; i < 3; i++ {
			loop.Collect(ack(20, now), now)
		}
		Expect(mgr.AcquireRead()).To(Equal(initial))

		loop.Collect(ack(20, now), now)

		t := mgr.AcquireRead()
		Expect(t.AnomalyThreshold).To(BeNumerically("~", 3.3, 1e-9))
		Expect(t.Gains.Kp).To(BeNumerically("~", 1.14, 1e-9))
		Expect(loop.Stats().Recalibrations).To(Equal(uint64(1)))

		var recal []model.Event
		for _, e := range mgr.Events() {
			if e.Kind == model.EventRecalibration {
				recal = append(recal, e)
			}
		}
		Expect(recal).To(HaveLen(1))
		Expect(recal[0].Tag).To(Equal(TagRelaxed))
	})

	It("should tighten after a window of missed commands", func() {
		now := time.Now()
		for i := 0; i < 4; i++ {
			loop.Collect(ack(model.MissedErrorMagnitude, now), now)
		}

		Expect(mgr.AcquireRead().AnomalyThreshold).
			To(BeNumerically("~", 2.85, 1e-9))
	})

	It("should drain its input queue", func() {
		in := queueing.NewQueue[model.FeedbackEvent]("Feedback", 8)
		l := MakeBuilder().
			WithManager(mgr).
			WithDeadline(time.Second).
			WithInput(in).
			Build("Feedback")
		in.Push(ack(0, time.Now()))
		in.Push(ack(0, time.Now()))
		in.Close()

		l.Run(context.Background())

		Expect(l.Stats().Collected).To(Equal(uint64(2)))
	})
})
