package feedback

import (
	"log/slog"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// Builder can build feedback loops.
type Builder struct {
	deadline  time.Duration
	window    int
	errorBand float64
	missBand  float64
	mgr       syncmgr.Manager
	in        *queueing.Queue[model.FeedbackEvent]
	acks      map[model.SensorKind]*queueing.Queue[model.FeedbackEvent]
	logger    *slog.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		deadline:  500 * time.Microsecond,
		window:    32,
		errorBand: 5.0,
		missBand:  0.1,
		acks:      make(map[model.SensorKind]*queueing.Queue[model.FeedbackEvent]),
		logger:    slog.Default(),
	}
}

// WithDeadline sets how old feedback may be when it is collected.
func (b Builder) WithDeadline(d time.Duration) Builder {
	b.deadline = d
	return b
}

// WithWindow sets the number of feedback events per recalibration.
func (b Builder) WithWindow(n int) Builder {
	b.window = n
	return b
}

// WithErrorBand sets the mean error above which the loop relaxes.
func (b Builder) WithErrorBand(v float64) Builder {
	b.errorBand = v
	return b
}

// WithMissBand sets the miss rate above which the loop tightens.
func (b Builder) WithMissBand(v float64) Builder {
	b.missBand = v
	return b
}

// WithManager sets the synchronization manager.
func (b Builder) WithManager(m syncmgr.Manager) Builder {
	b.mgr = m
	return b
}

// WithInput sets the queue of feedback events.
func (b Builder) WithInput(q *queueing.Queue[model.FeedbackEvent]) Builder {
	b.in = q
	return b
}

// WithAcks routes the acknowledgements of a sensor kind to q.
func (b Builder) WithAcks(
	kind model.SensorKind,
	q *queueing.Queue[model.FeedbackEvent],
) Builder {
	acks := make(map[model.SensorKind]*queueing.Queue[model.FeedbackEvent],
		len(b.acks)+1)
	for k, v := range b.acks {
		acks[k] = v
	}
	acks[kind] = q
	b.acks = acks

	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// Build creates a Loop.
func (b Builder) Build(name string) *Loop {
	if b.mgr == nil {
		panic("feedback loop requires a synchronization manager")
	}

	if b.window < 1 {
		panic("recalibration window must hold at least one event")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		name:      name,
		deadline:  b.deadline,
		mgr:       b.mgr,
		in:        b.in,
		acks:      b.acks,
		logger:    logger,
		errorBand: b.errorBand,
		missBand:  b.missBand,
		window:    make([]model.FeedbackEvent, b.window),
	}
}
