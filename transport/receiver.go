package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/syncmgr"
)

// A Handler consumes the samples that arrive on the actuator side.
type Handler interface {
	Handle(ctx context.Context, ps model.ProcessedSample, receivedAt time.Time)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(
	ctx context.Context,
	ps model.ProcessedSample,
	receivedAt time.Time,
)

// Handle calls f.
func (f HandlerFunc) Handle(
	ctx context.Context,
	ps model.ProcessedSample,
	receivedAt time.Time,
) {
	f(ctx, ps, receivedAt)
}

// ReceiverStats counts what a Receiver did.
type ReceiverStats struct {
	Received uint64
	Late     uint64
}

// A Receiver takes samples out of a Channel and records how long they took
// to arrive.
type Receiver struct {
	name     string
	deadline time.Duration
	ch       *Channel
	mgr      syncmgr.Manager
	handler  Handler

	received atomic.Uint64
	late     atomic.Uint64
}

// NewReceiver creates a Receiver. The deadline bounds the hand-off from the
// end of processing to the receipt.
func NewReceiver(
	name string,
	deadline time.Duration,
	ch *Channel,
	mgr syncmgr.Manager,
	handler Handler,
) *Receiver {
	if ch == nil || mgr == nil || handler == nil {
		panic("receiver requires a channel, a manager and a handler")
	}

	return &Receiver{
		name:     name,
		deadline: deadline,
		ch:       ch,
		mgr:      mgr,
		handler:  handler,
	}
}

// Stats returns the counters of the receiver.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Received: r.received.Load(),
		Late:     r.late.Load(),
	}
}

// Run receives until the channel is closed and drained or ctx is canceled.
func (r *Receiver) Run(ctx context.Context) {
	for {
		ps, ok := r.ch.Pop(ctx)
		if !ok {
			return
		}

		receivedAt := time.Now()
		r.record(ps, receivedAt)
		r.handler.Handle(ctx, ps, receivedAt)
	}
}

func (r *Receiver) record(ps model.ProcessedSample, receivedAt time.Time) {
	r.received.Add(1)

	endToEnd := receivedAt.Sub(ps.GeneratedAt)
	expected := ps.ProcessedAt.Add(r.deadline)
	missed := receivedAt.After(expected)

	r.mgr.AppendEvent(model.StageEvent(
		model.StageReceive, r.name, ps.Kind, ps.Sequence,
		receivedAt, endToEnd, missed))

	if missed {
		r.late.Add(1)
		record := model.NewDeadlineRecord(
			model.StageTransmit, expected, receivedAt)
		r.mgr.AppendEvent(model.DeadlineEvent(
			r.name, ps.Kind, ps.Sequence, record))
	}

	r.mgr.PublishStatus(syncmgr.Status{
		Component:   r.name,
		Stage:       model.StageReceive,
		Processed:   r.received.Load(),
		Missed:      r.late.Load(),
		LastLatency: endToEnd,
		UpdatedAt:   receivedAt,
	})
}
