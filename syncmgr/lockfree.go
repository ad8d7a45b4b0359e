package syncmgr

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/sim/hooking"
)

const enqueueAttempts = 64

// lockFreeManager never lets a producer wait on another goroutine. Events
// go through a bounded MPMC queue that a single consumer moves into an
// append-only slice. The configuration buffer is a copy-on-write pointer.
type lockFreeManager struct {
	hooking.HookableBase

	logger *slog.Logger

	tunables atomic.Pointer[Tunables]

	pending   *xsync.MPMCQueue[model.Event]
	wake      chan struct{}
	dropped   atomic.Uint64
	drainLock sync.Mutex
	owned     []model.Event
	published atomic.Pointer[[]model.Event]

	status *xsync.Map[string, Status]

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

func newLockFreeManager(b Builder) *lockFreeManager {
	m := &lockFreeManager{
		logger:  b.logger,
		pending: xsync.NewMPMCQueue[model.Event](b.logCapacity),
		wake:    make(chan struct{}, 1),
		status:  xsync.NewMap[string, Status](),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	t := b.tunables
	m.tunables.Store(&t)

	empty := []model.Event{}
	m.published.Store(&empty)

	go m.drainLoop(b.drainInterval)

	return m
}

func (m *lockFreeManager) Mode() config.SyncMode {
	return config.LockFree
}

func (m *lockFreeManager) AcquireRead() Tunables {
	return *m.tunables.Load()
}

func (m *lockFreeManager) AcquireWrite(
	update func(current Tunables) Tunables,
) (Tunables, bool) {
	for {
		current := m.tunables.Load()
		next := update(*current)

		if m.tunables.CompareAndSwap(current, &next) {
			return next, true
		}
	}
}

func (m *lockFreeManager) AppendEvent(e model.Event) {
	for i := 0; i < enqueueAttempts; i++ {
		if m.pending.TryEnqueue(e) {
			return
		}

		m.nudge()
		runtime.Gosched()
	}

	m.dropped.Add(1)
}

func (m *lockFreeManager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *lockFreeManager) drainLoop(interval time.Duration) {
	defer close(m.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			m.drain()
			return
		case <-ticker.C:
		case <-m.wake:
		}

		m.drain()
	}
}

func (m *lockFreeManager) drain() {
	m.drainLock.Lock()
	defer m.drainLock.Unlock()

	start := len(m.owned)
	for {
		e, ok := m.pending.TryDequeue()
		if !ok {
			break
		}

		m.owned = append(m.owned, e)
	}

	if len(m.owned) == start {
		return
	}

	snapshot := m.owned[:len(m.owned):len(m.owned)]
	m.published.Store(&snapshot)

	if m.NumHooks() == 0 {
		return
	}

	for _, e := range m.owned[start:] {
		m.InvokeHook(hooking.HookCtx{
			Domain: m,
			Pos:    HookPosEventAppended,
			Item:   e,
		})
	}
}

func (m *lockFreeManager) Events() []model.Event {
	m.drain()
	return *m.published.Load()
}

func (m *lockFreeManager) DroppedEvents() uint64 {
	return m.dropped.Load()
}

func (m *lockFreeManager) PublishStatus(s Status) {
	m.status.Store(s.Component, s)
}

func (m *lockFreeManager) StatusSnapshot() map[string]Status {
	out := make(map[string]Status, m.status.Size())
	m.status.Range(func(k string, v Status) bool {
		out[k] = v
		return true
	})

	return out
}

func (m *lockFreeManager) Contention() map[Resource]ContentionStats {
	out := make(map[Resource]ContentionStats, len(Resources))
	for _, r := range Resources {
		out[r] = ContentionStats{}
	}

	return out
}

func (m *lockFreeManager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.stopped

		if n := m.dropped.Load(); n > 0 {
			m.logger.Warn("event log overflowed",
				"mode", config.LockFree.String(), "dropped", n)
		}
	})
}
