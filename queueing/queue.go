// Package queueing provides the bounded queues that connect pipeline stages.
package queueing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/sim/hooking"
)

// HookPosQueuePush marks when an element is pushed into the queue.
var HookPosQueuePush = &hooking.HookPos{Name: "Queue Push"}

// HookPosQueuePop marks when an element is popped from the queue.
var HookPosQueuePop = &hooking.HookPos{Name: "Queue Pop"}

// HookPosQueueDrop marks when the oldest element is discarded to make room.
// The hook item is the discarded element.
var HookPosQueueDrop = &hooking.HookPos{Name: "Queue Drop"}

// A Buffer is the element-type independent view of a Queue.
type Buffer interface {
	Name() string
	Capacity() int
	Size() int
	Dropped() uint64
}

// A Queue is a bounded FIFO shared by goroutines. When it is full, pushing
// discards the oldest unread element rather than blocking, so memory stays
// bounded no matter how slow the consumer is.
type Queue[T any] struct {
	hooking.HookableBase

	name     string
	elements chan T
	dropped  atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Buffer = (*Queue[int])(nil)

// NewQueue creates a queue that holds at most capacity elements.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity < 1 {
		panic("queue capacity must be at least 1")
	}

	return &Queue[T]{
		name:     name,
		elements: make(chan T, capacity),
		closed:   make(chan struct{}),
	}
}

// Name returns the name of the queue.
func (q *Queue[T]) Name() string {
	return q.name
}

// Capacity returns the maximum number of elements.
func (q *Queue[T]) Capacity() int {
	return cap(q.elements)
}

// Size returns the number of unread elements.
func (q *Queue[T]) Size() int {
	return len(q.elements)
}

// Dropped returns how many elements were discarded by the drop-oldest policy.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Push appends e without blocking. If the queue is full, the oldest unread
// element is discarded first. It returns the number of discarded elements.
func (q *Queue[T]) Push(e T) (dropped int) {
	for {
		select {
		case q.elements <- e:
			q.invoke(HookPosQueuePush, e)
			return dropped
		default:
		}

		select {
		case old := <-q.elements:
			dropped++
			q.dropped.Add(1)
			q.invoke(HookPosQueueDrop, old)
		default:
		}
	}
}

// PushWait appends e, waiting up to timeout for room. If the wait expires,
// it falls back to Push and discards the oldest element. It returns
// ctx.Err() without pushing if ctx is canceled first.
func (q *Queue[T]) PushWait(
	ctx context.Context,
	e T,
	timeout time.Duration,
) (dropped int, err error) {
	select {
	case q.elements <- e:
		q.invoke(HookPosQueuePush, e)
		return 0, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.elements <- e:
		q.invoke(HookPosQueuePush, e)
		return 0, nil
	case <-timer.C:
		return q.Push(e), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Pop blocks until an element is available, the queue is closed and
// drained, or ctx is canceled. The boolean is false in the latter two cases.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	select {
	case e := <-q.elements:
		q.invoke(HookPosQueuePop, e)
		return e, true
	case <-ctx.Done():
		var zero T
		return zero, false
	case <-q.closed:
		return q.TryPop()
	}
}

// TryPop returns the oldest element if one is available.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case e := <-q.elements:
		q.invoke(HookPosQueuePop, e)
		return e, true
	default:
		var zero T
		return zero, false
	}
}

// Close tells consumers that no more elements will be pushed. Elements
// already queued can still be popped. Producers must stop before Close.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed returns a channel that is closed when Close is called.
func (q *Queue[T]) Closed() <-chan struct{} {
	return q.closed
}

func (q *Queue[T]) invoke(pos *hooking.HookPos, e T) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(hooking.HookCtx{
		Domain: q,
		Pos:    pos,
		Item:   e,
	})
}
