package processor

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

func sample(kind model.SensorKind, seq uint64, v float64) model.SensorSample {
	return model.SensorSample{
		Kind:        kind,
		Value:       v,
		Sequence:    seq,
		GeneratedAt: time.Now(),
	}
}

var _ = Describe("Processor", func() {
	var (
		mockCtrl *gomock.Controller
		mgr      syncmgr.Manager
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		mgr = syncmgr.MakeBuilder().
			WithMode(config.LockFree).
			WithTunables(syncmgr.Tunables{AnomalyThreshold: 3}).
			Build()
	})

	AfterEach(func() {
		mgr.Close()
		mockCtrl.Finish()
	})

	It("should embed the raw sample", func() {
		p := MakeBuilder().WithManager(mgr).Build("Processor")
		s := sample(model.Force, 1, 100.5)

		ps := p.Process(s, time.Now())

		Expect(ps.SensorSample).To(Equal(s))
		Expect(ps.FilteredValue).To(Equal(100.5))
		Expect(ps.ProcessingLatency).To(BeNumerically(">=", 0))
		Expect(ps.IsAnomaly).To(BeFalse())
	})

	It("should read the threshold from the configuration buffer", func() {
		p := MakeBuilder().WithManager(mgr).WithWindow(4).Build("Processor")
		for i, v := range []float64{99, 101, 99, 101} {
			p.Process(sample(model.Force, uint64(i+1), v), time.Now())
		}

		mgr.AcquireWrite(func(t syncmgr.Tunables) syncmgr.Tunables {
			t.AnomalyThreshold = 1000
			return t
		})

		ps := p.Process(sample(model.Force, 5, 150), time.Now())

		Expect(ps.IsAnomaly).To(BeFalse())
		Expect(p.Stats().Anomalies).To(BeZero())
	})

	It("should still emit a sample that misses the deadline", func() {
		p := MakeBuilder().
			WithManager(mgr).
			WithDeadline(20 * time.Microsecond).
			WithWork(300 * time.Microsecond).
			Build("Processor")
		s := sample(model.Position, 3, 0.1)

		ps := p.Process(s, time.Now())

		Expect(ps.SensorSample).To(Equal(s))
		Expect(ps.ProcessingLatency).To(BeNumerically(">=", 300*time.Microsecond))
		Expect(p.Stats().Missed).To(Equal(uint64(1)))

		var records []model.Event
		for _, e := range mgr.Events() {
			if e.Kind == model.EventDeadline {
				records = append(records, e)
			}
		}
		Expect(records).To(HaveLen(1))
		Expect(records[0].Stage).To(Equal(model.StageProcess))
		Expect(records[0].Deadline.Missed).To(BeTrue())
		Expect(records[0].Sequence).To(Equal(uint64(3)))
	})

	It("should forward samples in order until the input is closed", func() {
		in := queueing.NewQueue[model.SensorSample]("Samples", 16)
		sink := NewMockSink(mockCtrl)
		p := MakeBuilder().
			WithManager(mgr).
			WithInput(in).
			WithSink(sink).
			Build("Processor")

		var calls []any
		for i := 1; i <= 5; i++ {
			in.Push(sample(model.Temperature, uint64(i), 25))

			seq := uint64(i)
			calls = append(calls, sink.EXPECT().
				Send(gomock.Any(), gomock.Any()).
				Do(func(_ context.Context, ps model.ProcessedSample) {
					Expect(ps.Sequence).To(Equal(seq))
				}))
		}
		gomock.InOrder(calls...)
		in.Close()

		p.Run(context.Background())

		Expect(p.Stats().Processed).To(Equal(uint64(5)))
	})
})
