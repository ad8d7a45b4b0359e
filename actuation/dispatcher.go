// Package actuation turns control outputs into per-actuator commands and
// executes them in parallel under individual deadlines.
package actuation

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// DefaultResponse is the first-order response of simulated actuators.
const DefaultResponse = 0.8

// Stats counts command outcomes.
type Stats struct {
	Issued    uint64
	Completed uint64
	Missed    uint64
}

type actuatorCounters struct {
	completed atomic.Uint64
	missed    atomic.Uint64
}

// A Cycle is the set of commands issued for one control output.
type Cycle struct {
	Commands []*Command
	wg       sync.WaitGroup
}

// Wait blocks until every command of the cycle reached a terminal state.
// It never waits longer than the actuator deadline plus scheduling delay.
func (c *Cycle) Wait() {
	c.wg.Wait()
}

// A Dispatcher issues one command per actuator per cycle. Each command runs
// on its own goroutine so one slow actuator cannot use up another's budget.
type Dispatcher struct {
	name      string
	actuators []Actuator
	budget    time.Duration
	mgr       syncmgr.Manager
	feedback  *queueing.Queue[model.FeedbackEvent]
	logger    *slog.Logger

	inflight sync.WaitGroup
	counters map[string]*actuatorCounters

	issued    atomic.Uint64
	completed atomic.Uint64
	missed    atomic.Uint64
}

// NewDispatcher creates a dispatcher. Feedback for every command, completed
// or missed, is pushed into feedback.
func NewDispatcher(
	name string,
	actuators []Actuator,
	budget time.Duration,
	mgr syncmgr.Manager,
	feedback *queueing.Queue[model.FeedbackEvent],
	logger *slog.Logger,
) *Dispatcher {
	if len(actuators) == 0 {
		panic("dispatcher requires at least one actuator")
	}

	if mgr == nil || feedback == nil {
		panic("dispatcher requires a manager and a feedback queue")
	}

	if logger == nil {
		logger = slog.Default()
	}

	counters := make(map[string]*actuatorCounters, len(actuators))
	for _, a := range actuators {
		if _, dup := counters[a.ID()]; dup {
			panic("duplicated actuator " + a.ID())
		}
		counters[a.ID()] = &actuatorCounters{}
	}

	return &Dispatcher{
		name:      name,
		actuators: actuators,
		budget:    budget,
		mgr:       mgr,
		feedback:  feedback,
		logger:    logger,
		counters:  counters,
	}
}

// Actuators returns the IDs of the actuators.
func (d *Dispatcher) Actuators() []string {
	ids := make([]string, len(d.actuators))
	for i, a := range d.actuators {
		ids[i] = a.ID()
	}

	return ids
}

// Stats returns the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Issued:    d.issued.Load(),
		Completed: d.completed.Load(),
		Missed:    d.missed.Load(),
	}
}

// Dispatch issues one command per actuator towards target and returns
// without waiting for them.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	ps model.ProcessedSample,
	target float64,
	issuedAt time.Time,
) *Cycle {
	cycle := &Cycle{Commands: make([]*Command, len(d.actuators))}

	for i, a := range d.actuators {
		cmd := NewCommand(model.NewActuatorCommand(
			a.ID(), ps, target, issuedAt, d.budget))
		cycle.Commands[i] = cmd

		d.issued.Add(1)
		d.inflight.Add(1)
		cycle.wg.Add(1)

		go func(a Actuator) {
			defer d.inflight.Done()
			defer cycle.wg.Done()

			d.execute(ctx, a, cmd)
		}(a)
	}

	return cycle
}

// Wait blocks until every dispatched command reached a terminal state.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

type result struct {
	achieved float64
	err      error
}

func (d *Dispatcher) execute(ctx context.Context, a Actuator, cmd *Command) {
	if !cmd.transition(Pending, Dispatched) {
		return
	}

	cmdCtx, cancel := context.WithDeadline(ctx, cmd.DeadlineAt)
	defer cancel()

	results := make(chan result, 1)
	go func() {
		v, err := a.Execute(cmdCtx, cmd.ActuatorCommand)
		results <- result{achieved: v, err: err}
	}()

	select {
	case r := <-results:
		now := time.Now()
		if r.err == nil && !now.After(cmd.DeadlineAt) {
			d.complete(cmd, r.achieved, now)
			return
		}

		if r.err != nil && cmdCtx.Err() == nil {
			d.logger.Debug("actuator failed",
				"actuator", cmd.ActuatorID, "error", r.err)
		}

		d.miss(cmd, now)
	case <-cmdCtx.Done():
		d.miss(cmd, time.Now())
	}
}

func (d *Dispatcher) complete(cmd *Command, achieved float64, now time.Time) {
	if !cmd.transition(Dispatched, Completed) {
		return
	}

	d.completed.Add(1)
	d.counters[cmd.ActuatorID].completed.Add(1)
	d.report(cmd, model.OutcomeCompleted, achieved, now, false)

	d.feedback.Push(model.FeedbackEvent{
		ActuatorID:     cmd.ActuatorID,
		Kind:           cmd.Kind,
		Sequence:       cmd.Sequence,
		AchievedValue:  achieved,
		AckAt:          now,
		ErrorMagnitude: math.Abs(cmd.TargetValue - achieved),
	})
}

func (d *Dispatcher) miss(cmd *Command, now time.Time) {
	if !cmd.transition(Dispatched, Missed) {
		return
	}

	d.missed.Add(1)
	d.counters[cmd.ActuatorID].missed.Add(1)
	d.report(cmd, model.OutcomeMissed, 0, now, true)

	record := model.DeadlineRecord{
		Stage:            model.StageActuate,
		ExpectedDeadline: cmd.DeadlineAt,
		ActualCompletion: now,
		Missed:           true,
		Tag:              model.TagDeadlineMiss,
	}
	d.mgr.AppendEvent(model.DeadlineEvent(
		cmd.ActuatorID, cmd.Kind, cmd.Sequence, record))

	d.feedback.Push(model.FeedbackEvent{
		ActuatorID:     cmd.ActuatorID,
		Kind:           cmd.Kind,
		Sequence:       cmd.Sequence,
		AckAt:          now,
		ErrorMagnitude: model.MissedErrorMagnitude,
	})
}

func (d *Dispatcher) report(
	cmd *Command,
	outcome string,
	achieved float64,
	now time.Time,
	missed bool,
) {
	d.mgr.AppendEvent(model.Event{
		Kind:           model.EventActuator,
		Stage:          model.StageActuate,
		Producer:       d.name,
		Sensor:         cmd.Kind,
		Sequence:       cmd.Sequence,
		Timestamp:      now,
		Latency:        now.Sub(cmd.IssuedAt),
		DeadlineMissed: missed,
		ActuatorID:     cmd.ActuatorID,
		Outcome:        outcome,
		AchievedValue:  achieved,
	})

	c := d.counters[cmd.ActuatorID]
	d.mgr.PublishStatus(syncmgr.Status{
		Component:   cmd.ActuatorID,
		Stage:       model.StageActuate,
		Processed:   c.completed.Load(),
		Missed:      c.missed.Load(),
		LastLatency: now.Sub(cmd.IssuedAt),
		UpdatedAt:   now,
	})
}
