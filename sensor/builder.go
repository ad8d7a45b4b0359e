package sensor

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// Builder can build sensor generators.
type Builder struct {
	kind       model.SensorKind
	signal     *Signal
	period     time.Duration
	mgr        syncmgr.Manager
	out        *queueing.Queue[model.SensorSample]
	acks       *queueing.Queue[model.FeedbackEvent]
	logger     *slog.Logger
	seed       uint64
	dropoutP   float64
	delayP     float64
	maxSamples int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		period: 5 * time.Millisecond,
		seed:   1,
		logger: slog.Default(),
	}
}

// WithKind sets the sensor kind.
func (b Builder) WithKind(k model.SensorKind) Builder {
	b.kind = k
	return b
}

// WithSignal overrides the default signal of the sensor kind.
func (b Builder) WithSignal(s Signal) Builder {
	b.signal = &s
	return b
}

// WithPeriod sets the sampling period.
func (b Builder) WithPeriod(p time.Duration) Builder {
	b.period = p
	return b
}

// WithManager sets the synchronization manager that receives events.
func (b Builder) WithManager(m syncmgr.Manager) Builder {
	b.mgr = m
	return b
}

// WithOutput sets the queue that receives the samples.
func (b Builder) WithOutput(q *queueing.Queue[model.SensorSample]) Builder {
	b.out = q
	return b
}

// WithAcks sets the queue that delivers feedback acknowledgements.
func (b Builder) WithAcks(q *queueing.Queue[model.FeedbackEvent]) Builder {
	b.acks = q
	return b
}

// WithSeed sets the seed of the noise and fault generator.
func (b Builder) WithSeed(seed uint64) Builder {
	b.seed = seed
	return b
}

// WithDropoutProbability sets the probability that a tick is skipped.
func (b Builder) WithDropoutProbability(p float64) Builder {
	b.dropoutP = p
	return b
}

// WithDelayProbability sets the probability that a tick is released late.
func (b Builder) WithDelayProbability(p float64) Builder {
	b.delayP = p
	return b
}

// WithMaxSamples limits the number of ticks. Zero means unlimited.
func (b Builder) WithMaxSamples(n int) Builder {
	b.maxSamples = n
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// Build creates a Generator.
func (b Builder) Build(name string) *Generator {
	if b.mgr == nil {
		panic("sensor requires a synchronization manager")
	}

	if b.out == nil {
		panic("sensor requires an output queue")
	}

	if b.period <= 0 {
		panic("sensor period must be positive")
	}

	signal := SignalOf(b.kind)
	if b.signal != nil {
		signal = *b.signal
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		name:       name,
		kind:       b.kind,
		signal:     signal,
		period:     b.period,
		mgr:        b.mgr,
		out:        b.out,
		acks:       b.acks,
		logger:     logger,
		rng:        rand.New(rand.NewPCG(b.seed, uint64(b.kind)+1)),
		dropoutP:   b.dropoutP,
		delayP:     b.delayP,
		maxSamples: b.maxSamples,
	}
}
