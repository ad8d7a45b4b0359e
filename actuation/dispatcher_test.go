package actuation

import (
	"context"
	"errors"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

func drainFeedback(q *queueing.Queue[model.FeedbackEvent]) []model.FeedbackEvent {
	var out []model.FeedbackEvent
	for {
		fb, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, fb)
	}
}

var _ = ginkgo.Describe("Dispatcher", func() {
	var (
		mockCtrl *gomock.Controller
		fast     *MockActuator
		slow     *MockActuator
		mgr      syncmgr.Manager
		feedback *queueing.Queue[model.FeedbackEvent]
		d        *Dispatcher
		ps       model.ProcessedSample
		budget   time.Duration
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		fast = NewMockActuator(mockCtrl)
		slow = NewMockActuator(mockCtrl)
		fast.EXPECT().ID().Return("Gripper").AnyTimes()
		slow.EXPECT().ID().Return("Motor").AnyTimes()

		mgr = syncmgr.MakeBuilder().Build()
		feedback = queueing.NewQueue[model.FeedbackEvent]("Feedback", 64)
		budget = 2 * time.Millisecond
		d = NewDispatcher("Dispatcher", []Actuator{fast, slow}, budget,
			mgr, feedback, nil)
		ps = model.ProcessedSample{
			SensorSample: model.SensorSample{Kind: model.Force, Sequence: 9},
		}
	})

	ginkgo.AfterEach(func() {
		mgr.Close()
		mockCtrl.Finish()
	})

	ginkgo.It("should issue one command per actuator with the deadline budget", func() {
		fast.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(4.0, nil)
		slow.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(4.5, nil)
		issuedAt := time.Now()

		cycle := d.Dispatch(context.Background(), ps, 5, issuedAt)
		cycle.Wait()

		Expect(cycle.Commands).To(HaveLen(2))
		for _, cmd := range cycle.Commands {
			Expect(cmd.IssuedAt).To(Equal(issuedAt))
			Expect(cmd.DeadlineAt).To(Equal(issuedAt.Add(budget)))
			Expect(cmd.Sequence).To(Equal(uint64(9)))
			Expect(cmd.State()).To(Equal(Completed))
		}

		fbs := drainFeedback(feedback)
		Expect(fbs).To(HaveLen(2))
		for _, fb := range fbs {
			Expect(fb.Missed()).To(BeFalse())
			Expect(fb.ErrorMagnitude).To(BeNumerically("<=", 1.0))
		}
		Expect(d.Stats()).To(Equal(Stats{Issued: 2, Completed: 2}))
	})

	ginkgo.It("should not let a slow actuator consume another's budget", func() {
		fast.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(5.0, nil)
		slow.EXPECT().Execute(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ model.ActuatorCommand) (float64, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			})

		cycle := d.Dispatch(context.Background(), ps, 5, time.Now())
		cycle.Wait()

		Expect(cycle.Commands[0].State()).To(Equal(Completed))
		Expect(cycle.Commands[1].State()).To(Equal(Missed))

		var missed []model.FeedbackEvent
		for _, fb := range drainFeedback(feedback) {
			if fb.Missed() {
				missed = append(missed, fb)
			}
		}
		Expect(missed).To(HaveLen(1))
		Expect(missed[0].ActuatorID).To(Equal("Motor"))
		Expect(missed[0].ErrorMagnitude).To(Equal(model.MissedErrorMagnitude))

		var records []model.Event
		for _, e := range mgr.Events() {
			if e.Kind == model.EventDeadline {
				records = append(records, e)
			}
		}
		Expect(records).To(HaveLen(1))
		Expect(records[0].Stage).To(Equal(model.StageActuate))
	})

	ginkgo.It("should abandon an actuator that ignores its deadline", func() {
		release := make(chan struct{})
		defer close(release)

		fast.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(5.0, nil)
		slow.EXPECT().Execute(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, model.ActuatorCommand) (float64, error) {
				<-release
				return 5, nil
			})

		start := time.Now()
		cycle := d.Dispatch(context.Background(), ps, 5, start)
		cycle.Wait()

		Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))
		Expect(cycle.Commands[1].State()).To(Equal(Missed))
	})

	ginkgo.It("should treat a failing actuator as a miss", func() {
		fast.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return(0.0, errors.New("jammed"))
		slow.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(5.0, nil)

		d.Dispatch(context.Background(), ps, 5, time.Now()).Wait()

		Expect(d.Stats()).To(Equal(Stats{Issued: 2, Completed: 1, Missed: 1}))
	})

	ginkgo.It("should reach exactly one terminal state per command", func() {
		fast.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(1.0, nil).
			AnyTimes()
		slow.EXPECT().Execute(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ model.ActuatorCommand) (float64, error) {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(2 * time.Millisecond):
					return 1, nil
				}
			}).AnyTimes()

		var cycles []*Cycle
		for i := 0; i < 50; i++ {
			cycles = append(cycles,
				d.Dispatch(context.Background(), ps, 1, time.Now()))
		}
		d.Wait()

		for _, c := range cycles {
			for _, cmd := range c.Commands {
				Expect(cmd.State().Terminal()).To(BeTrue())
			}
		}

		s := d.Stats()
		Expect(s.Completed + s.Missed).To(Equal(s.Issued))
		Expect(s.Issued).To(Equal(uint64(100)))

		outcomes := 0
		for _, e := range mgr.Events() {
			if e.Kind == model.EventActuator {
				outcomes++
			}
		}
		Expect(outcomes).To(Equal(100))
	})
})

var _ = ginkgo.Describe("Simulated", func() {
	ginkgo.It("should move towards the target", func() {
		a := NewSimulated("Motor", 0, 0.5)
		cmd := model.ActuatorCommand{TargetValue: 10}

		v, err := a.Execute(context.Background(), cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(5.0))

		v, _ = a.Execute(context.Background(), cmd)
		Expect(v).To(Equal(7.5))
		Expect(a.Position()).To(Equal(7.5))
	})

	ginkgo.It("should give up when the context ends", func() {
		a := NewSimulated("Motor", time.Second, 1)
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Millisecond)
		defer cancel()

		_, err := a.Execute(ctx, model.ActuatorCommand{TargetValue: 1})

		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(a.Position()).To(BeZero())
	})

	ginkgo.It("should reject an invalid response", func() {
		Expect(func() { NewSimulated("Motor", 0, 0) }).To(Panic())
	})
})
