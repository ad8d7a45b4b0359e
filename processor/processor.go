// Package processor filters raw sensor readings, flags anomalies and hands
// the result to the transmitter within the processing deadline.
package processor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// overrunStreak is the number of consecutive misses reported as overload.
const overrunStreak = 3

// A Sink receives processed samples.
type Sink interface {
	Send(ctx context.Context, s model.ProcessedSample)
}

// Stats counts what a Processor did.
type Stats struct {
	Processed uint64
	Anomalies uint64
	Missed    uint64
}

// A Processor consumes SensorSamples of every kind. Per-kind order is
// preserved because a single goroutine drains the input.
type Processor struct {
	name     string
	deadline time.Duration
	work     time.Duration

	mgr    syncmgr.Manager
	in     *queueing.Queue[model.SensorSample]
	sink   Sink
	filter *Filter
	logger *slog.Logger

	overruns int

	processed atomic.Uint64
	anomalies atomic.Uint64
	missed    atomic.Uint64
}

// Name returns the name of the processor.
func (p *Processor) Name() string {
	return p.name
}

// Stats returns the counters of the processor.
func (p *Processor) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Anomalies: p.anomalies.Load(),
		Missed:    p.missed.Load(),
	}
}

// Run processes samples until the input is closed and drained or ctx is
// canceled.
func (p *Processor) Run(ctx context.Context) {
	if p.in == nil || p.sink == nil {
		panic("processor requires an input queue and a sink to run")
	}

	for {
		sample, ok := p.in.Pop(ctx)
		if !ok {
			return
		}

		ps := p.Process(sample, time.Now())
		p.sink.Send(ctx, ps)
	}
}

// Process filters one sample received at receivedAt. A sample that misses
// the deadline is still returned intact.
func (p *Processor) Process(
	sample model.SensorSample,
	receivedAt time.Time,
) model.ProcessedSample {
	threshold := p.mgr.AcquireRead().AnomalyThreshold

	reading := p.filter.Add(sample.Kind, sample.Value)
	anomaly := reading.IsAnomaly(sample.Value, threshold)

	if p.work > 0 {
		spin(p.work)
	}

	now := time.Now()
	ps := model.ProcessedSample{
		SensorSample:      sample,
		FilteredValue:     reading.Filtered,
		IsAnomaly:         anomaly,
		ProcessedAt:       now,
		ProcessingLatency: now.Sub(receivedAt),
	}

	p.record(ps, receivedAt.Add(p.deadline))

	return ps
}

func (p *Processor) record(ps model.ProcessedSample, deadline time.Time) {
	p.processed.Add(1)
	if ps.IsAnomaly {
		p.anomalies.Add(1)
	}

	missed := ps.ProcessedAt.After(deadline)

	p.mgr.AppendEvent(model.StageEvent(
		model.StageProcess, p.name, ps.Kind, ps.Sequence,
		ps.ProcessedAt, ps.ProcessingLatency, missed))

	if missed {
		p.missed.Add(1)
		record := model.NewDeadlineRecord(
			model.StageProcess, deadline, ps.ProcessedAt)
		p.mgr.AppendEvent(model.DeadlineEvent(
			p.name, ps.Kind, ps.Sequence, record))

		p.overruns++
		if p.overruns == overrunStreak {
			p.logger.Warn("consecutive processing deadline misses",
				"processor", p.name, "streak", p.overruns)
		}
	} else {
		p.overruns = 0
	}

	p.mgr.PublishStatus(syncmgr.Status{
		Component:   p.name,
		Stage:       model.StageProcess,
		Processed:   p.processed.Load(),
		Missed:      p.missed.Load(),
		LastLatency: ps.ProcessingLatency,
		UpdatedAt:   ps.ProcessedAt,
	})
}

var spinSink atomic.Uint64

// spin keeps the CPU busy for d.
func spin(d time.Duration) {
	start := time.Now()

	var x uint64
	for time.Since(start) < d {
		x = x*6364136223846793005 + 1
	}

	spinSink.Add(x)
}
