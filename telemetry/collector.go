// Package telemetry turns the event stream of a run into live aggregate
// metrics.
package telemetry

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/sim/hooking"
	"github.com/sarchlab/rtloop/syncmgr"
)

// DefaultWindow is the number of recent samples kept per stage for
// percentile and jitter estimation.
const DefaultWindow = 1024

// StageSnapshot aggregates the stage instances of one stage.
type StageSnapshot struct {
	Stage  model.Stage
	Count  uint64
	Missed uint64

	MeanLatency time.Duration
	P99Latency  time.Duration
	MaxLatency  time.Duration

	// Jitter is the standard deviation of recent inter-completion times of
	// the same sensor kind.
	Jitter time.Duration

	// Throughput is completions per second between the first and the last
	// recorded completion.
	Throughput float64
}

// MissRate is the fraction of stage instances that missed their deadline.
func (s StageSnapshot) MissRate() float64 {
	if s.Count == 0 {
		return 0
	}

	return float64(s.Missed) / float64(s.Count)
}

// Snapshot is a consistent copy of the aggregates at one point in time.
type Snapshot struct {
	TakenAt time.Time
	Stages  map[model.Stage]StageSnapshot

	DeadlineMisses     map[model.Stage]uint64
	Dropouts           uint64
	ContentionTimeouts uint64
	Saturations        uint64
	Recalibrations     uint64
	LateFeedback       uint64

	// Outcomes counts actuator outcomes per actuator.
	Outcomes map[string]map[string]uint64
}

// Compliance is the fraction of stage instances, over all stages, that met
// their deadline.
func (s Snapshot) Compliance() float64 {
	var count, missed uint64
	for _, st := range s.Stages {
		count += st.Count
		missed += st.Missed
	}

	if count == 0 {
		return 1
	}

	return 1 - float64(missed)/float64(count)
}

type ring struct {
	values []time.Duration
	next   int
	full   bool
}

func (r *ring) add(d time.Duration) {
	r.values[r.next] = d
	r.next = (r.next + 1) % len(r.values)

	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) contents() []time.Duration {
	if r.full {
		return r.values
	}

	return r.values[:r.next]
}

type stageStats struct {
	count, missed  uint64
	totalLatency   time.Duration
	maxLatency     time.Duration
	latencies      ring
	intervals      ring
	lastByKind     map[model.SensorKind]time.Time
	first, last    time.Time
	hasCompletions bool
}

// Collector is a hook that aggregates the events appended to a
// synchronization manager. It is safe for concurrent use.
type Collector struct {
	window int

	mu     sync.Mutex
	stages map[model.Stage]*stageStats
	snap   Snapshot
}

// NewCollector creates a collector keeping window recent samples per stage.
func NewCollector(window int) *Collector {
	if window < 2 {
		window = DefaultWindow
	}

	return &Collector{
		window: window,
		stages: make(map[model.Stage]*stageStats),
		snap: Snapshot{
			DeadlineMisses: make(map[model.Stage]uint64),
			Outcomes:       make(map[string]map[string]uint64),
		},
	}
}

// Func implements hooking.Hook.
func (c *Collector) Func(ctx hooking.HookCtx) {
	if ctx.Pos != syncmgr.HookPosEventAppended {
		return
	}

	e, ok := ctx.Item.(model.Event)
	if !ok {
		return
	}

	c.Observe(e)
}

// Observe aggregates one event.
func (c *Collector) Observe(e model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case model.EventStage:
		c.observeStage(e)
	case model.EventActuator:
		c.observeStage(e)
		c.observeOutcome(e)
	case model.EventDeadline:
		c.observeDeadline(e)
	case model.EventContention:
		c.snap.ContentionTimeouts++
	case model.EventSaturation:
		c.snap.Saturations++
	case model.EventRecalibration:
		c.snap.Recalibrations++
	}
}

func (c *Collector) observeStage(e model.Event) {
	s, ok := c.stages[e.Stage]
	if !ok {
		s = &stageStats{
			latencies:  ring{values: make([]time.Duration, c.window)},
			intervals:  ring{values: make([]time.Duration, c.window)},
			lastByKind: make(map[model.SensorKind]time.Time),
		}
		c.stages[e.Stage] = s
	}

	s.count++
	if e.DeadlineMissed {
		s.missed++
	}

	s.totalLatency += e.Latency
	s.maxLatency = max(s.maxLatency, e.Latency)
	s.latencies.add(e.Latency)

	if prev, ok := s.lastByKind[e.Sensor]; ok && e.Timestamp.After(prev) {
		s.intervals.add(e.Timestamp.Sub(prev))
	}
	s.lastByKind[e.Sensor] = e.Timestamp

	switch {
	case !s.hasCompletions:
		s.first, s.last = e.Timestamp, e.Timestamp
		s.hasCompletions = true
	case e.Timestamp.After(s.last):
		s.last = e.Timestamp
	case e.Timestamp.Before(s.first):
		s.first = e.Timestamp
	}
}

func (c *Collector) observeOutcome(e model.Event) {
	perActuator, ok := c.snap.Outcomes[e.ActuatorID]
	if !ok {
		perActuator = make(map[string]uint64)
		c.snap.Outcomes[e.ActuatorID] = perActuator
	}

	perActuator[e.Outcome]++
}

func (c *Collector) observeDeadline(e model.Event) {
	switch e.Tag {
	case model.TagSensorDropout:
		c.snap.Dropouts++
	case model.TagLateFeedback:
		c.snap.LateFeedback++
	}

	if e.DeadlineMissed {
		c.snap.DeadlineMisses[e.Stage]++
	}
}

// Snapshot returns a copy of the current aggregates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.snap
	out.TakenAt = time.Now()
	out.Stages = make(map[model.Stage]StageSnapshot, len(c.stages))
	out.DeadlineMisses = make(map[model.Stage]uint64, len(c.snap.DeadlineMisses))
	out.Outcomes = make(map[string]map[string]uint64, len(c.snap.Outcomes))

	for stage, n := range c.snap.DeadlineMisses {
		out.DeadlineMisses[stage] = n
	}

	for id, perActuator := range c.snap.Outcomes {
		cp := make(map[string]uint64, len(perActuator))
		for k, v := range perActuator {
			cp[k] = v
		}
		out.Outcomes[id] = cp
	}

	for stage, s := range c.stages {
		out.Stages[stage] = s.snapshot(stage)
	}

	return out
}

func (s *stageStats) snapshot(stage model.Stage) StageSnapshot {
	snap := StageSnapshot{
		Stage:      stage,
		Count:      s.count,
		Missed:     s.missed,
		MaxLatency: s.maxLatency,
	}

	if s.count > 0 {
		snap.MeanLatency = s.totalLatency / time.Duration(s.count)
	}

	snap.P99Latency = percentile(s.latencies.contents(), 0.99)
	snap.Jitter = stdDev(s.intervals.contents())

	if span := s.last.Sub(s.first); span > 0 {
		snap.Throughput = float64(s.count-1) / span.Seconds()
	}

	return snap
}

func percentile(values []time.Duration, q float64) time.Duration {
	if len(values) == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))

	return sorted[idx]
}

func stdDev(values []time.Duration) time.Duration {
	if len(values) < 2 {
		return 0
	}

	var mean float64
	for _, v := range values {
		mean += float64(v)
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return time.Duration(math.Sqrt(variance))
}
