package model

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Model", func() {
	It("should round trip sensor kind names", func() {
		for _, k := range AllSensorKinds {
			parsed, err := ParseSensorKind(k.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(k))
		}

		_, err := ParseSensorKind("Pressure")
		Expect(err).To(HaveOccurred())
	})

	It("should set the command deadline from the budget", func() {
		issued := time.Now()
		sample := ProcessedSample{
			SensorSample: SensorSample{Kind: Force, Sequence: 7},
		}

		cmd := NewActuatorCommand("Gripper", sample, 1.5, issued,
			2*time.Millisecond)

		Expect(cmd.DeadlineAt).To(Equal(issued.Add(2 * time.Millisecond)))
		Expect(cmd.Sequence).To(Equal(uint64(7)))
		Expect(cmd.Kind).To(Equal(Force))
	})

	It("should flag synthesized feedback as missed", func() {
		fb := FeedbackEvent{ErrorMagnitude: MissedErrorMagnitude}
		Expect(fb.Missed()).To(BeTrue())

		fb.ErrorMagnitude = 0.3
		Expect(fb.Missed()).To(BeFalse())
	})

	Context("deadline records", func() {
		var expected time.Time

		BeforeEach(func() {
			expected = time.Now()
		})

		It("should not mark an on-time completion as missed", func() {
			r := NewDeadlineRecord(StageProcess, expected,
				expected.Add(-time.Microsecond))

			Expect(r.Missed).To(BeFalse())
			Expect(r.Tag).To(BeEmpty())
		})

		It("should mark a late completion as missed", func() {
			r := NewDeadlineRecord(StageProcess, expected,
				expected.Add(time.Microsecond))

			Expect(r.Missed).To(BeTrue())
			Expect(r.Tag).To(Equal(TagDeadlineMiss))

			e := DeadlineEvent("processor", Force, 3, r)
			Expect(e.Kind).To(Equal(EventDeadline))
			Expect(e.DeadlineMissed).To(BeTrue())
			Expect(e.Latency).To(Equal(time.Microsecond))
			Expect(e.Deadline.Stage).To(Equal(StageProcess))
		})

		It("should never report a negative lateness", func() {
			r := NewDeadlineRecord(StageProcess, expected,
				expected.Add(-time.Second))

			e := DeadlineEvent("processor", Force, 3, r)
			Expect(e.Latency).To(BeNumerically(">=", 0))
		})
	})
})
