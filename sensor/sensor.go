// Package sensor generates periodic synthetic readings, one goroutine per
// sensor kind, with optional fault injection.
package sensor

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// Signal describes the synthetic reading of a sensor kind.
type Signal struct {
	Base      float64
	Noise     float64
	Amplitude float64
	Cycle     int
}

// SignalOf returns the default signal of a sensor kind.
func SignalOf(kind model.SensorKind) Signal {
	switch kind {
	case model.Force:
		return Signal{Base: 100.0, Noise: 2.0, Amplitude: 1.0, Cycle: 200}
	case model.Temperature:
		return Signal{Base: 25.0, Noise: 0.2, Amplitude: 0.1, Cycle: 200}
	default:
		return Signal{Base: 0.0, Noise: 0.5, Amplitude: 0.25, Cycle: 200}
	}
}

// Value returns the reading of the seq-th tick given a uniform noise draw u
// in [0, 1).
func (s Signal) Value(seq uint64, u float64) float64 {
	v := s.Base + s.Noise*(2*u-1)

	if s.Cycle > 0 {
		phase := 2 * math.Pi * float64(seq%uint64(s.Cycle)) / float64(s.Cycle)
		v += s.Amplitude * math.Sin(phase)
	}

	return v
}

// Stats counts what a Generator did.
type Stats struct {
	Ticks     uint64
	Generated uint64
	Dropouts  uint64
	Delayed   uint64
	LateTicks uint64
	Saturated uint64
	Acks      uint64
}

// A Generator produces SensorSamples of one kind on an absolute periodic
// schedule. Sequence numbers start at 1 and are consumed by every tick,
// including dropped ones, so a dropout is visible as a gap.
type Generator struct {
	name   string
	kind   model.SensorKind
	signal Signal
	period time.Duration

	mgr    syncmgr.Manager
	out    *queueing.Queue[model.SensorSample]
	acks   *queueing.Queue[model.FeedbackEvent]
	logger *slog.Logger

	rng        *rand.Rand
	dropoutP   float64
	delayP     float64
	maxSamples int

	ticks     atomic.Uint64
	generated atomic.Uint64
	dropouts  atomic.Uint64
	delayed   atomic.Uint64
	late      atomic.Uint64
	saturated atomic.Uint64
	ackCount  atomic.Uint64
	lastAck   atomic.Pointer[model.FeedbackEvent]
}

// Name returns the name of the generator.
func (g *Generator) Name() string {
	return g.name
}

// Kind returns the sensor kind.
func (g *Generator) Kind() model.SensorKind {
	return g.kind
}

// Stats returns the counters of the generator.
func (g *Generator) Stats() Stats {
	return Stats{
		Ticks:     g.ticks.Load(),
		Generated: g.generated.Load(),
		Dropouts:  g.dropouts.Load(),
		Delayed:   g.delayed.Load(),
		LateTicks: g.late.Load(),
		Saturated: g.saturated.Load(),
		Acks:      g.ackCount.Load(),
	}
}

// LastAck returns the latest feedback acknowledged to this sensor.
func (g *Generator) LastAck() (model.FeedbackEvent, bool) {
	ack := g.lastAck.Load()
	if ack == nil {
		return model.FeedbackEvent{}, false
	}

	return *ack, true
}

// Run ticks until ctx is canceled or the sample limit is reached.
func (g *Generator) Run(ctx context.Context) {
	timer := time.NewTimer(g.period)
	defer timer.Stop()

	start := time.Now()
	next := start.Add(g.period)

	for seq := uint64(1); g.maxSamples == 0 || seq <= uint64(g.maxSamples); seq++ {
		if !g.sleepUntil(ctx, timer, next) {
			return
		}

		g.tick(ctx, timer, seq, next)
		next = next.Add(g.period)
	}

	g.logger.Debug("sensor finished",
		"sensor", g.name, "ticks", g.ticks.Load())
}

func (g *Generator) sleepUntil(
	ctx context.Context,
	timer *time.Timer,
	at time.Time,
) bool {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer.Reset(d)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (g *Generator) tick(
	ctx context.Context,
	timer *time.Timer,
	seq uint64,
	release time.Time,
) {
	g.ticks.Add(1)
	g.drainAcks()

	deadline := release.Add(g.period)
	fault := g.rng.Float64()

	injected := false

	switch {
	case fault < g.dropoutP:
		g.dropout(seq, deadline)
		return
	case fault < g.dropoutP+g.delayP:
		if !g.delay(ctx, timer, seq, deadline) {
			return
		}
		injected = true
	}

	now := time.Now()
	late := now.After(deadline)

	if late && !injected {
		g.late.Add(1)
		record := model.NewDeadlineRecord(model.StageSensor, deadline, now)
		g.mgr.AppendEvent(model.DeadlineEvent(g.name, g.kind, seq, record))
	}

	g.emit(seq, now, release, late)
}

func (g *Generator) dropout(seq uint64, deadline time.Time) {
	g.dropouts.Add(1)

	record := model.DeadlineRecord{
		Stage:            model.StageSensor,
		ExpectedDeadline: deadline,
		ActualCompletion: time.Now(),
		Missed:           true,
		Tag:              model.TagSensorDropout,
	}
	g.mgr.AppendEvent(model.DeadlineEvent(g.name, g.kind, seq, record))
}

func (g *Generator) delay(
	ctx context.Context,
	timer *time.Timer,
	seq uint64,
	deadline time.Time,
) bool {
	g.delayed.Add(1)

	if !g.sleepUntil(ctx, timer, deadline.Add(g.period/2)) {
		return false
	}

	record := model.NewDeadlineRecord(model.StageSensor, deadline, time.Now())
	record.Tag = model.TagSensorDropout
	g.mgr.AppendEvent(model.DeadlineEvent(g.name, g.kind, seq, record))

	return true
}

func (g *Generator) emit(seq uint64, now, release time.Time, late bool) {
	sample := model.SensorSample{
		Kind:        g.kind,
		Value:       g.signal.Value(seq, g.rng.Float64()),
		Sequence:    seq,
		GeneratedAt: now,
	}

	dropped := g.out.Push(sample)
	g.generated.Add(1)

	jitter := now.Sub(release)
	g.mgr.AppendEvent(model.StageEvent(
		model.StageSensor, g.name, g.kind, seq, now, jitter, late))

	if dropped > 0 {
		g.saturated.Add(uint64(dropped))
		g.mgr.AppendEvent(model.Event{
			Kind:      model.EventSaturation,
			Stage:     model.StageSensor,
			Producer:  g.name,
			Sensor:    g.kind,
			Sequence:  seq,
			Timestamp: now,
			Tag:       model.TagChannelSaturation,
		})
	}

	g.mgr.PublishStatus(syncmgr.Status{
		Component:   g.name,
		Stage:       model.StageSensor,
		Processed:   g.generated.Load(),
		Missed:      g.late.Load() + g.dropouts.Load(),
		Dropped:     g.saturated.Load(),
		LastLatency: jitter,
		UpdatedAt:   now,
	})
}

func (g *Generator) drainAcks() {
	if g.acks == nil {
		return
	}

	for {
		ack, ok := g.acks.TryPop()
		if !ok {
			return
		}

		g.ackCount.Add(1)
		g.lastAck.Store(&ack)
	}
}
