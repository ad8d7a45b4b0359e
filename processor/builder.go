package processor

import (
	"log/slog"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// Builder can build processors.
type Builder struct {
	deadline time.Duration
	work     time.Duration
	window   int
	mgr      syncmgr.Manager
	in       *queueing.Queue[model.SensorSample]
	sink     Sink
	logger   *slog.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		deadline: 200 * time.Microsecond,
		window:   10,
		logger:   slog.Default(),
	}
}

// WithDeadline sets the processing deadline, measured from receipt.
func (b Builder) WithDeadline(d time.Duration) Builder {
	b.deadline = d
	return b
}

// WithWork sets the synthetic CPU work spent on every sample.
func (b Builder) WithWork(d time.Duration) Builder {
	b.work = d
	return b
}

// WithWindow sets the size of the moving-average window.
func (b Builder) WithWindow(n int) Builder {
	b.window = n
	return b
}

// WithManager sets the synchronization manager.
func (b Builder) WithManager(m syncmgr.Manager) Builder {
	b.mgr = m
	return b
}

// WithInput sets the queue of raw samples.
func (b Builder) WithInput(q *queueing.Queue[model.SensorSample]) Builder {
	b.in = q
	return b
}

// WithSink sets where processed samples go.
func (b Builder) WithSink(s Sink) Builder {
	b.sink = s
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// Build creates a Processor.
func (b Builder) Build(name string) *Processor {
	if b.mgr == nil {
		panic("processor requires a synchronization manager")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		name:     name,
		deadline: b.deadline,
		work:     b.work,
		mgr:      b.mgr,
		in:       b.in,
		sink:     b.sink,
		filter:   NewFilter(b.window),
		logger:   logger,
	}
}
