// Package syncmgr mediates every access to the state shared between
// pipeline stages: the configuration buffer, the diagnostic event log and
// the status memory. Two interchangeable disciplines are provided, a
// lock-free one and a mutex-based one, selected by config.SyncMode.
package syncmgr

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/sim/hooking"
)

// HookPosEventAppended is invoked once for every event accepted into the
// log. The hook item is the model.Event.
var HookPosEventAppended = &hooking.HookPos{Name: "Event Appended"}

// Tunables is the content of the configuration buffer. Readers always see a
// complete value, never a mix of an old and a new one.
type Tunables struct {
	AnomalyThreshold float64
	Gains            config.PIDGains
}

// Status is the latest aggregate published by one component.
type Status struct {
	Component   string
	Stage       model.Stage
	Processed   uint64
	Missed      uint64
	Dropped     uint64
	LastLatency time.Duration
	UpdatedAt   time.Time
}

// Resource names one of the shared resources.
type Resource int

// The shared resources.
const (
	ResourceConfig Resource = iota
	ResourceLog
	ResourceStatus
)

// Resources lists every shared resource.
var Resources = []Resource{ResourceConfig, ResourceLog, ResourceStatus}

func (r Resource) String() string {
	switch r {
	case ResourceConfig:
		return "config"
	case ResourceLog:
		return "log"
	case ResourceStatus:
		return "status"
	default:
		return fmt.Sprintf("Resource(%d)", int(r))
	}
}

// ContentionStats summarizes how long accessors waited for a resource.
type ContentionStats struct {
	Acquisitions uint64
	TotalWait    time.Duration
	MaxWait      time.Duration
	Timeouts     uint64
	Degraded     uint64
}

// MeanWait is the average wait per acquisition.
func (s ContentionStats) MeanWait() time.Duration {
	if s.Acquisitions == 0 {
		return 0
	}

	return s.TotalWait / time.Duration(s.Acquisitions)
}

// A Manager mediates access to the shared resources. All methods are safe
// for concurrent use.
type Manager interface {
	hooking.Hookable

	// Mode returns the synchronization discipline.
	Mode() config.SyncMode

	// AcquireRead returns the current configuration buffer.
	AcquireRead() Tunables

	// AcquireWrite replaces the configuration buffer with update(current).
	// It reports whether the update was applied. There must be at most one
	// writer.
	AcquireWrite(update func(current Tunables) Tunables) (Tunables, bool)

	// AppendEvent adds an event to the log. It never fails; under pressure
	// the event may be deferred or, in lock-free mode, dropped and counted.
	AppendEvent(e model.Event)

	// Events returns the events appended so far in log order. The returned
	// slice must not be modified.
	Events() []model.Event

	// DroppedEvents returns the number of events that could not be logged.
	DroppedEvents() uint64

	// PublishStatus replaces the status of s.Component.
	PublishStatus(s Status)

	// StatusSnapshot returns the latest status of every component.
	StatusSnapshot() map[string]Status

	// Contention returns the wait statistics of every resource.
	Contention() map[Resource]ContentionStats

	// Close flushes pending events and stops background work.
	Close()
}

// Builder builds Managers.
type Builder struct {
	mode              config.SyncMode
	tunables          Tunables
	contentionTimeout time.Duration
	logCapacity       int
	drainInterval     time.Duration
	logger            *slog.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		mode: config.LockFree,
		tunables: Tunables{
			AnomalyThreshold: 3.0,
			Gains:            config.PIDGains{Kp: 1.2, Ki: 0.01, Kd: 0.2},
		},
		contentionTimeout: 500 * time.Microsecond,
		logCapacity:       8192,
		drainInterval:     time.Millisecond,
		logger:            slog.Default(),
	}
}

// WithMode sets the synchronization discipline.
func (b Builder) WithMode(m config.SyncMode) Builder {
	b.mode = m
	return b
}

// WithTunables sets the initial content of the configuration buffer.
func (b Builder) WithTunables(t Tunables) Builder {
	b.tunables = t
	return b
}

// WithContentionTimeout sets how long a mutex acquisition may wait before
// it is recorded as a contention timeout.
func (b Builder) WithContentionTimeout(d time.Duration) Builder {
	b.contentionTimeout = d
	return b
}

// WithLogCapacity sets the capacity of the lock-free log queue.
func (b Builder) WithLogCapacity(n int) Builder {
	b.logCapacity = n
	return b
}

// WithDrainInterval sets how often the lock-free log queue is drained.
func (b Builder) WithDrainInterval(d time.Duration) Builder {
	b.drainInterval = d
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// WithConfig copies the relevant fields of a run configuration.
func (b Builder) WithConfig(c config.Config) Builder {
	b.mode = c.SyncMode
	b.contentionTimeout = c.ContentionTimeout
	b.tunables = Tunables{
		AnomalyThreshold: c.AnomalyThreshold,
		Gains:            c.PIDGains,
	}

	return b
}

// Build creates the Manager and starts its background work.
func (b Builder) Build() Manager {
	if b.logger == nil {
		b.logger = slog.Default()
	}

	switch b.mode {
	case config.LockFree:
		if b.logCapacity < 1 {
			panic("log capacity must be at least 1")
		}

		return newLockFreeManager(b)
	case config.Mutex:
		if b.contentionTimeout <= 0 {
			panic("contention timeout must be positive")
		}

		return newMutexManager(b)
	default:
		panic(fmt.Sprintf("unsupported sync mode %s", b.mode))
	}
}

func copyStatus(src map[string]Status) map[string]Status {
	dst := make(map[string]Status, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}
