// Package transport moves processed samples from the sensor side to the
// actuator side across a bounded channel.
package transport

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
)

// Channel is the boundary between the sensor side and the actuator side.
type Channel = queueing.Queue[model.ProcessedSample]

// NewChannel creates a channel that holds at most capacity samples.
func NewChannel(name string, capacity int) *Channel {
	return queueing.NewQueue[model.ProcessedSample](name, capacity)
}

// TransmitterStats counts what a Transmitter did.
type TransmitterStats struct {
	Sent    uint64
	Dropped uint64
}

// A Transmitter sends processed samples into a Channel. In lock-free mode
// it never blocks; in mutex mode it waits at most the transmission deadline
// for room. Either way a full channel loses its oldest sample.
type Transmitter struct {
	name     string
	mode     config.SyncMode
	deadline time.Duration
	ch       *Channel
	mgr      syncmgr.Manager
	logger   *slog.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewTransmitter creates a Transmitter.
func NewTransmitter(
	name string,
	mode config.SyncMode,
	deadline time.Duration,
	ch *Channel,
	mgr syncmgr.Manager,
	logger *slog.Logger,
) *Transmitter {
	if ch == nil || mgr == nil {
		panic("transmitter requires a channel and a synchronization manager")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Transmitter{
		name:     name,
		mode:     mode,
		deadline: deadline,
		ch:       ch,
		mgr:      mgr,
		logger:   logger,
	}
}

// Stats returns the counters of the transmitter.
func (t *Transmitter) Stats() TransmitterStats {
	return TransmitterStats{
		Sent:    t.sent.Load(),
		Dropped: t.dropped.Load(),
	}
}

// Send hands ps to the channel.
func (t *Transmitter) Send(ctx context.Context, ps model.ProcessedSample) {
	start := time.Now()

	var dropped int

	switch t.mode {
	case config.Mutex:
		var err error

		dropped, err = t.ch.PushWait(ctx, ps, t.deadline)
		if err != nil {
			return
		}
	default:
		dropped = t.ch.Push(ps)
	}

	now := time.Now()
	latency := now.Sub(start)
	t.sent.Add(1)

	t.mgr.AppendEvent(model.StageEvent(
		model.StageTransmit, t.name, ps.Kind, ps.Sequence,
		now, latency, latency > t.deadline))

	if dropped == 0 {
		return
	}

	if t.dropped.Add(uint64(dropped)) == uint64(dropped) {
		t.logger.Warn("channel saturated, dropping oldest samples",
			"channel", t.ch.Name())
	}

	t.mgr.AppendEvent(model.Event{
		Kind:      model.EventSaturation,
		Stage:     model.StageTransport,
		Producer:  t.name,
		Sensor:    ps.Kind,
		Sequence:  ps.Sequence,
		Timestamp: now,
		Tag:       model.TagChannelSaturation,
	})
}
