package syncmgr

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/sim/hooking"
)

const (
	spinAttempts = 8
	minBackoff   = time.Microsecond
	maxBackoff   = 50 * time.Microsecond
)

// guardedResource is a mutex plus the statistics of waiting for it.
type guardedResource struct {
	mu sync.Mutex

	acquisitions atomic.Uint64
	totalWait    atomic.Int64
	maxWait      atomic.Int64
	timeouts     atomic.Uint64
	degraded     atomic.Uint64
}

// tryLockFor polls the mutex until it is acquired or timeout elapses.
func (r *guardedResource) tryLockFor(timeout time.Duration) bool {
	if r.mu.TryLock() {
		return true
	}

	deadline := time.Now().Add(timeout)
	backoff := minBackoff

	for i := 0; ; i++ {
		if r.mu.TryLock() {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		if i < spinAttempts {
			runtime.Gosched()
			continue
		}

		time.Sleep(min(backoff, remaining))
		backoff = min(backoff*2, maxBackoff)
	}
}

func (r *guardedResource) recordWait(d time.Duration) {
	r.acquisitions.Add(1)
	r.totalWait.Add(int64(d))

	for {
		current := r.maxWait.Load()
		if int64(d) <= current || r.maxWait.CompareAndSwap(current, int64(d)) {
			return
		}
	}
}

func (r *guardedResource) stats() ContentionStats {
	return ContentionStats{
		Acquisitions: r.acquisitions.Load(),
		TotalWait:    time.Duration(r.totalWait.Load()),
		MaxWait:      time.Duration(r.maxWait.Load()),
		Timeouts:     r.timeouts.Load(),
		Degraded:     r.degraded.Load(),
	}
}

// mutexManager guards each resource with its own mutex. Acquisitions wait
// at most the contention timeout, retry once, and then fall back to a
// degraded operation instead of blocking further.
type mutexManager struct {
	hooking.HookableBase

	logger  *slog.Logger
	timeout time.Duration

	configRes guardedResource
	tunables  Tunables
	lastGood  atomic.Pointer[Tunables]

	logRes  guardedResource
	events  []model.Event
	spillMu sync.Mutex
	spill   []model.Event
	spilled atomic.Bool

	statusRes guardedResource
	status    map[string]Status
}

func newMutexManager(b Builder) *mutexManager {
	m := &mutexManager{
		logger:   b.logger,
		timeout:  b.contentionTimeout,
		tunables: b.tunables,
		status:   make(map[string]Status),
	}

	t := b.tunables
	m.lastGood.Store(&t)

	return m
}

func (m *mutexManager) Mode() config.SyncMode {
	return config.Mutex
}

// acquire locks r, recording the wait. A timed out attempt is logged as
// contention and retried once. It returns false if both attempts failed.
func (m *mutexManager) acquire(r *guardedResource, res Resource) bool {
	start := time.Now()

	ok := r.tryLockFor(m.timeout)
	if !ok {
		r.timeouts.Add(1)
		m.recordTimeout(res, start)
		ok = r.tryLockFor(m.timeout)
	}

	r.recordWait(time.Since(start))

	if !ok {
		r.degraded.Add(1)
	}

	return ok
}

func (m *mutexManager) recordTimeout(res Resource, start time.Time) {
	now := time.Now()
	e := model.Event{
		Kind:      model.EventContention,
		Stage:     model.StageSyncMgr,
		Producer:  res.String(),
		Timestamp: now,
		Latency:   now.Sub(start),
		Tag:       model.TagContentionTimeout,
	}

	if res == ResourceLog {
		m.spillEvent(e)
		return
	}

	m.AppendEvent(e)
}

func (m *mutexManager) AcquireRead() Tunables {
	if !m.acquire(&m.configRes, ResourceConfig) {
		return *m.lastGood.Load()
	}

	t := m.tunables
	m.configRes.mu.Unlock()

	return t
}

func (m *mutexManager) AcquireWrite(
	update func(current Tunables) Tunables,
) (Tunables, bool) {
	if !m.acquire(&m.configRes, ResourceConfig) {
		return *m.lastGood.Load(), false
	}

	m.tunables = update(m.tunables)
	t := m.tunables
	m.lastGood.Store(&t)
	m.configRes.mu.Unlock()

	return t, true
}

func (m *mutexManager) AppendEvent(e model.Event) {
	if !m.acquire(&m.logRes, ResourceLog) {
		m.spillEvent(e)
		m.invoke(e)

		return
	}

	m.mergeSpill()
	m.events = append(m.events, e)
	m.logRes.mu.Unlock()

	m.invoke(e)
}

func (m *mutexManager) invoke(e model.Event) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    HookPosEventAppended,
		Item:   e,
	})
}

func (m *mutexManager) spillEvent(e model.Event) {
	m.spillMu.Lock()
	m.spill = append(m.spill, e)
	m.spilled.Store(true)
	m.spillMu.Unlock()
}

// mergeSpill must be called with the log mutex held.
func (m *mutexManager) mergeSpill() {
	if !m.spilled.Load() {
		return
	}

	m.spillMu.Lock()
	m.events = append(m.events, m.spill...)
	m.spill = nil
	m.spilled.Store(false)
	m.spillMu.Unlock()
}

func (m *mutexManager) Events() []model.Event {
	m.logRes.mu.Lock()
	defer m.logRes.mu.Unlock()

	m.mergeSpill()

	return m.events[:len(m.events):len(m.events)]
}

func (m *mutexManager) DroppedEvents() uint64 {
	return 0
}

func (m *mutexManager) PublishStatus(s Status) {
	if !m.acquire(&m.statusRes, ResourceStatus) {
		return
	}

	m.status[s.Component] = s
	m.statusRes.mu.Unlock()
}

func (m *mutexManager) StatusSnapshot() map[string]Status {
	m.statusRes.mu.Lock()
	defer m.statusRes.mu.Unlock()

	return copyStatus(m.status)
}

func (m *mutexManager) Contention() map[Resource]ContentionStats {
	return map[Resource]ContentionStats{
		ResourceConfig: m.configRes.stats(),
		ResourceLog:    m.logRes.stats(),
		ResourceStatus: m.statusRes.stats(),
	}
}

func (m *mutexManager) Close() {
	stats := m.Contention()
	for _, r := range Resources {
		s := stats[r]
		if s.Timeouts == 0 {
			continue
		}

		m.logger.Warn("resource contention",
			"resource", r.String(),
			"timeouts", s.Timeouts,
			"degraded", s.Degraded,
			"max_wait", s.MaxWait)
	}
}
