// Package pipeline wires the sensors, the processor, the transport, the
// controller, the actuators and the feedback loop into one closed loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarchlab/rtloop/actuation"
	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/control"
	"github.com/sarchlab/rtloop/cpuload"
	"github.com/sarchlab/rtloop/feedback"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/processor"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/sensor"
	"github.com/sarchlab/rtloop/sim/hooking"
	"github.com/sarchlab/rtloop/syncmgr"
	"github.com/sarchlab/rtloop/telemetry"
	"github.com/sarchlab/rtloop/transport"
)

// ErrStarted is returned when Start is called more than once.
var ErrStarted = errors.New("pipeline already started")

// Stats summarizes the counters of every stage.
type Stats struct {
	Ticks     uint64
	Generated uint64
	Dropouts  uint64

	Processed uint64
	Anomalies uint64

	Sent     uint64
	Received uint64
	Dropped  uint64

	Issued    uint64
	Completed uint64
	Missed    uint64

	Feedback       uint64
	LateFeedback   uint64
	Recalibrations uint64

	DroppedEvents uint64
	LoadThreads   int
}

// A Pipeline is one run of the control loop under one configuration.
type Pipeline struct {
	name      string
	cfg       config.Config
	logger    *slog.Logger
	actuators []actuation.Actuator
	hooks     []hooking.Hook
	collector *telemetry.Collector

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	mgr         syncmgr.Manager
	load        *cpuload.Generator
	sensors     []*sensor.Generator
	sensorQueue *queueing.Queue[model.SensorSample]
	acks        map[model.SensorKind]*queueing.Queue[model.FeedbackEvent]
	processor   *processor.Processor
	channel     *transport.Channel
	transmitter *transport.Transmitter
	receiver    *transport.Receiver
	controller  *control.Controller
	dispatcher  *actuation.Dispatcher
	feedbackQ   *queueing.Queue[model.FeedbackEvent]
	loop        *feedback.Loop

	loadThreads int
}

// Name returns the name of the pipeline.
func (p *Pipeline) Name() string {
	return p.name
}

// Config returns the run configuration.
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// Start validates the configuration and, only if it is valid, starts the
// background load and every stage. A configuration error wraps
// config.ErrFatalConfiguration and leaves nothing running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrStarted
	}

	if err := p.cfg.Validate(); err != nil {
		return fmt.Errorf("starting %s: %w", p.name, err)
	}

	if err := cpuload.ValidateCore(p.cfg.PinCore); err != nil {
		return fmt.Errorf("starting %s: %w: %v",
			p.name, config.ErrFatalConfiguration, err)
	}

	p.wire()

	if err := p.load.Start(p.cfg.BackgroundLoadThreads); err != nil {
		p.mgr.Close()
		return fmt.Errorf("starting %s: %w: %v",
			p.name, config.ErrFatalConfiguration, err)
	}
	p.loadThreads = p.load.Threads()

	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.launch(ctx)

	p.logger.Info("pipeline started",
		"sync_mode", p.cfg.SyncMode.String(),
		"load_threads", p.cfg.BackgroundLoadThreads,
		"sampling_period", p.cfg.SamplingPeriod,
		"max_samples", p.cfg.MaxSamples)

	return nil
}

func (p *Pipeline) wire() {
	cfg := p.cfg

	p.mgr = syncmgr.MakeBuilder().
		WithConfig(cfg).
		WithLogger(p.logger).
		Build()

	p.mgr.AcceptHook(p.collector)
	for _, h := range p.hooks {
		p.mgr.AcceptHook(h)
	}

	p.load = cpuload.NewGenerator(cfg.PinCore, p.logger)

	p.sensorQueue = queueing.NewQueue[model.SensorSample](
		p.name+".SensorQueue", cfg.SensorQueueCapacity)
	p.channel = transport.NewChannel(p.name+".Channel", cfg.ChannelCapacity)
	p.feedbackQ = queueing.NewQueue[model.FeedbackEvent](
		p.name+".FeedbackQueue", cfg.FeedbackCapacity)

	loopBuilder := feedback.MakeBuilder().
		WithDeadline(cfg.FeedbackDeadline).
		WithWindow(cfg.RecalibrationWindow).
		WithErrorBand(cfg.ErrorBand).
		WithMissBand(cfg.MissBand).
		WithManager(p.mgr).
		WithInput(p.feedbackQ).
		WithLogger(p.logger)

	p.acks = make(map[model.SensorKind]*queueing.Queue[model.FeedbackEvent])
	p.sensors = nil

	for _, kind := range model.AllSensorKinds {
		acks := queueing.NewQueue[model.FeedbackEvent](
			fmt.Sprintf("%s.Acks[%s]", p.name, kind), cfg.FeedbackCapacity)
		p.acks[kind] = acks
		loopBuilder = loopBuilder.WithAcks(kind, acks)

		s := sensor.MakeBuilder().
			WithKind(kind).
			WithPeriod(cfg.SamplingPeriod).
			WithManager(p.mgr).
			WithOutput(p.sensorQueue).
			WithAcks(acks).
			WithSeed(cfg.Seed).
			WithDropoutProbability(cfg.DropoutProbability).
			WithDelayProbability(cfg.DelayProbability).
			WithMaxSamples(cfg.MaxSamples).
			WithLogger(p.logger).
			Build(fmt.Sprintf("%s.Sensor[%s]", p.name, kind))
		p.sensors = append(p.sensors, s)
	}

	p.loop = loopBuilder.Build(p.name + ".Feedback")

	p.transmitter = transport.NewTransmitter(p.name+".Transmitter",
		cfg.SyncMode, cfg.TransmissionDeadline, p.channel, p.mgr, p.logger)

	p.processor = processor.MakeBuilder().
		WithDeadline(cfg.ProcessingDeadline).
		WithWork(cfg.ProcessingWork).
		WithWindow(cfg.FilterWindow).
		WithManager(p.mgr).
		WithInput(p.sensorQueue).
		WithSink(p.transmitter).
		WithLogger(p.logger).
		Build(p.name + ".Processor")

	p.controller = control.NewController(p.mgr,
		cfg.IntegralLimit, cfg.OutputLimit)

	actuators := p.actuators
	if len(actuators) == 0 {
		for _, id := range cfg.Actuators {
			actuators = append(actuators, actuation.NewSimulated(
				id, cfg.ActuatorCost, actuation.DefaultResponse))
		}
	}

	p.dispatcher = actuation.NewDispatcher(p.name+".Dispatcher", actuators,
		cfg.ActuatorDeadline, p.mgr, p.feedbackQ, p.logger)

	p.receiver = transport.NewReceiver(p.name+".Receiver",
		cfg.TransmissionDeadline, p.channel, p.mgr,
		transport.HandlerFunc(p.handle))
}

// handle runs the control step of one received sample and issues the
// actuator commands. It runs on the receiver goroutine only.
func (p *Pipeline) handle(
	ctx context.Context,
	ps model.ProcessedSample,
	receivedAt time.Time,
) {
	out := p.controller.Step(ps, receivedAt)

	issuedAt := time.Now()
	p.mgr.AppendEvent(model.StageEvent(
		model.StageControl, p.name+".Controller", ps.Kind, ps.Sequence,
		issuedAt, issuedAt.Sub(receivedAt), false))

	p.dispatcher.Dispatch(ctx, ps, out.Value, issuedAt)
}

// launch starts the stages and a supervisor that closes each queue once
// every producer of it has returned.
func (p *Pipeline) launch(ctx context.Context) {
	var sensors, processing, receiving, collecting sync.WaitGroup

	for _, s := range p.sensors {
		sensors.Add(1)
		go func(s *sensor.Generator) {
			defer sensors.Done()
			s.Run(ctx)
		}(s)
	}

	processing.Add(1)
	go func() {
		defer processing.Done()
		p.processor.Run(ctx)
	}()

	receiving.Add(1)
	go func() {
		defer receiving.Done()
		p.receiver.Run(ctx)
	}()

	collecting.Add(1)
	go func() {
		defer collecting.Done()
		p.loop.Run(ctx)
	}()

	go func() {
		sensors.Wait()
		p.sensorQueue.Close()

		processing.Wait()
		p.channel.Close()

		receiving.Wait()
		p.dispatcher.Wait()
		p.feedbackQ.Close()

		collecting.Wait()

		for _, q := range p.acks {
			q.Close()
		}

		p.load.Stop()
		p.mgr.Close()
		p.cancel()

		p.logger.Info("pipeline stopped",
			"compliance", p.collector.Snapshot().Compliance(),
			"dropped_events", p.mgr.DroppedEvents())

		close(p.done)
	}()
}

// Stop asks every stage to shut down. It does not wait.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every stage returned. It returns at once if the
// pipeline was never started.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}

	<-p.done
}

// Done returns a channel that is closed when the run is over.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Run starts the pipeline and waits until the sample limit is reached or
// ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	p.Wait()

	return nil
}

// Snapshot returns the live telemetry aggregates.
func (p *Pipeline) Snapshot() telemetry.Snapshot {
	return p.collector.Snapshot()
}

// Manager returns the synchronization manager, or nil before Start.
func (p *Pipeline) Manager() syncmgr.Manager {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.mgr
}

// Events returns the event log of the run, or nil before Start.
func (p *Pipeline) Events() []model.Event {
	mgr := p.Manager()
	if mgr == nil {
		return nil
	}

	return mgr.Events()
}

// Components returns every stage by name, for inspection.
func (p *Pipeline) Components() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return map[string]any{}
	}

	out := map[string]any{
		p.processor.Name(): p.processor,
		p.name + ".Load":   p.load,
	}

	out[p.name+".Transmitter"] = p.transmitter
	out[p.name+".Receiver"] = p.receiver
	out[p.name+".Controller"] = p.controller
	out[p.name+".Dispatcher"] = p.dispatcher
	out[p.name+".Feedback"] = p.loop

	for _, s := range p.sensors {
		out[s.Name()] = s
	}

	return out
}

// Queues returns every queue between stages. It is empty before Start.
func (p *Pipeline) Queues() []queueing.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	queues := []queueing.Buffer{p.sensorQueue, p.channel, p.feedbackQ}
	for _, kind := range model.AllSensorKinds {
		queues = append(queues, p.acks[kind])
	}

	return queues
}

// Stats sums the counters of every stage. It is zero before Start.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return Stats{}
	}

	var s Stats
	for _, g := range p.sensors {
		gs := g.Stats()
		s.Ticks += gs.Ticks
		s.Generated += gs.Generated
		s.Dropouts += gs.Dropouts
	}

	ps := p.processor.Stats()
	s.Processed = ps.Processed
	s.Anomalies = ps.Anomalies

	ts := p.transmitter.Stats()
	s.Sent = ts.Sent
	s.Dropped = ts.Dropped
	s.Received = p.receiver.Stats().Received

	ds := p.dispatcher.Stats()
	s.Issued = ds.Issued
	s.Completed = ds.Completed
	s.Missed = ds.Missed

	ls := p.loop.Stats()
	s.Feedback = ls.Collected
	s.LateFeedback = ls.Late
	s.Recalibrations = ls.Recalibrations

	s.DroppedEvents = p.mgr.DroppedEvents()
	s.LoadThreads = p.loadThreads

	return s
}
