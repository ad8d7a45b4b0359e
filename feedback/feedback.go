// Package feedback collects actuator feedback, acknowledges it to the
// sensor side and recalibrates the shared tunables when errors drift.
package feedback

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// Recalibration factors and bounds of the anomaly threshold.
const (
	RelaxFactor    = 1.1
	TightenFactor  = 0.95
	DampFactor     = 0.95
	ThresholdFloor = 1.5
	ThresholdCap   = 10.0
)

// Recalibration tags.
const (
	TagRelaxed   = "relaxed"
	TagTightened = "tightened"
)

// Stats counts what a Loop did.
type Stats struct {
	Collected      uint64
	Late           uint64
	Acked          uint64
	Recalibrations uint64
}

// WindowSummary aggregates one full window of on-time feedback.
type WindowSummary struct {
	Size      int
	Missed    int
	MeanError float64
}

// MissRate is the fraction of feedback synthesized for missed commands.
func (w WindowSummary) MissRate() float64 {
	if w.Size == 0 {
		return 0
	}

	return float64(w.Missed) / float64(w.Size)
}

// A Loop consumes feedback on a single goroutine and is the only writer of
// the configuration buffer.
type Loop struct {
	name     string
	deadline time.Duration
	mgr      syncmgr.Manager
	in       *queueing.Queue[model.FeedbackEvent]
	acks     map[model.SensorKind]*queueing.Queue[model.FeedbackEvent]
	logger   *slog.Logger

	errorBand float64
	missBand  float64

	window []model.FeedbackEvent
	filled int

	collected      atomic.Uint64
	late           atomic.Uint64
	acked          atomic.Uint64
	recalibrations atomic.Uint64
}

// Stats returns the counters of the loop.
func (l *Loop) Stats() Stats {
	return Stats{
		Collected:      l.collected.Load(),
		Late:           l.late.Load(),
		Acked:          l.acked.Load(),
		Recalibrations: l.recalibrations.Load(),
	}
}

// Run collects feedback until the input is closed and drained or ctx is
// canceled.
func (l *Loop) Run(ctx context.Context) {
	if l.in == nil {
		panic("feedback loop requires an input queue to run")
	}

	for {
		fb, ok := l.in.Pop(ctx)
		if !ok {
			return
		}

		l.Collect(fb, time.Now())
	}
}

// Collect handles one feedback event observed at now. Feedback older than
// the feedback deadline is recorded and discarded; it is never retried. It
// returns whether the event was accepted.
func (l *Loop) Collect(fb model.FeedbackEvent, now time.Time) bool {
	l.collected.Add(1)

	expected := fb.AckAt.Add(l.deadline)
	if now.After(expected) {
		l.discard(fb, expected, now)
		return false
	}

	if q, ok := l.acks[fb.Kind]; ok {
		q.Push(fb)
		l.acked.Add(1)
	}

	l.mgr.AppendEvent(model.StageEvent(
		model.StageFeedback, l.name, fb.Kind, fb.Sequence,
		now, now.Sub(fb.AckAt), false))

	l.window[l.filled] = fb
	l.filled++

	if l.filled == len(l.window) {
		l.recalibrate(summarize(l.window), now)
		l.filled = 0
	}

	l.mgr.PublishStatus(syncmgr.Status{
		Component:   l.name,
		Stage:       model.StageFeedback,
		Processed:   l.acked.Load(),
		Missed:      l.late.Load(),
		LastLatency: now.Sub(fb.AckAt),
		UpdatedAt:   now,
	})

	return true
}

func (l *Loop) discard(fb model.FeedbackEvent, expected, now time.Time) {
	l.late.Add(1)

	record := model.NewDeadlineRecord(model.StageFeedback, expected, now)
	record.Tag = model.TagLateFeedback

	e := model.DeadlineEvent(fb.ActuatorID, fb.Kind, fb.Sequence, record)
	e.ActuatorID = fb.ActuatorID
	l.mgr.AppendEvent(e)
}

func summarize(window []model.FeedbackEvent) WindowSummary {
	s := WindowSummary{Size: len(window)}

	var total float64
	completed := 0

	for _, fb := range window {
		if fb.Missed() {
			s.Missed++
			continue
		}

		total += fb.ErrorMagnitude
		completed++
	}

	if completed > 0 {
		s.MeanError = total / float64(completed)
	}

	return s
}

// Decide returns the tunables after applying the recalibration rules for
// one window. It returns t unchanged if no rule fires.
func Decide(
	t syncmgr.Tunables,
	s WindowSummary,
	errorBand, missBand float64,
) (syncmgr.Tunables, []string) {
	var tags []string

	if s.MeanError > errorBand {
		t.AnomalyThreshold = math.Min(t.AnomalyThreshold*RelaxFactor,
			math.Max(ThresholdCap, t.AnomalyThreshold))
		t.Gains.Kp *= DampFactor
		tags = append(tags, TagRelaxed)
	}

	if s.MissRate() > missBand {
		t.AnomalyThreshold = math.Max(t.AnomalyThreshold*TightenFactor,
			math.Min(ThresholdFloor, t.AnomalyThreshold))
		tags = append(tags, TagTightened)
	}

	return t, tags
}

func (l *Loop) recalibrate(s WindowSummary, now time.Time) {
	if s.MeanError <= l.errorBand && s.MissRate() <= l.missBand {
		return
	}

	var tags []string

	next, applied := l.mgr.AcquireWrite(
		func(current syncmgr.Tunables) syncmgr.Tunables {
			var t syncmgr.Tunables
			t, tags = Decide(current, s, l.errorBand, l.missBand)
			return t
		})

	if !applied {
		return
	}

	l.recalibrations.Add(1)

	for _, tag := range tags {
		l.mgr.AppendEvent(model.Event{
			Kind:          model.EventRecalibration,
			Stage:         model.StageRecalib,
			Producer:      l.name,
			Timestamp:     now,
			AchievedValue: next.AnomalyThreshold,
			Tag:           tag,
		})
	}

	l.logger.Info("recalibrated",
		"threshold", next.AnomalyThreshold,
		"kp", next.Gains.Kp,
		"mean_error", s.MeanError,
		"miss_rate", s.MissRate())
}
