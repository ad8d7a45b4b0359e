// Package cpuload runs busy background workers that compete with the
// pipeline for CPU time and memory bandwidth.
package cpuload

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/cpu"
)

const (
	// BufferSize is the memory touched by each worker.
	BufferSize = 1 << 20

	// YieldEvery is the number of iterations between voluntary yields.
	YieldEvery = 1 << 20
)

// ErrRunning is returned by Start if workers are already running.
var ErrRunning = errors.New("load generator already running")

// A Generator owns a set of busy workers. Start and Stop may be called from
// any goroutine.
type Generator struct {
	pinCore int
	logger  *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	threads int

	iterations atomic.Uint64
	pinFailed  atomic.Uint64
}

// NewGenerator creates a generator. A pinCore of -1 disables pinning.
func NewGenerator(pinCore int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{pinCore: pinCore, logger: logger}
}

// ValidateCore checks that core is -1 or an existing logical core.
func ValidateCore(core int) error {
	if core == -1 {
		return nil
	}

	n, err := cpu.Counts(true)
	if err != nil {
		n = runtime.NumCPU()
	}

	if core < 0 || core >= n {
		return fmt.Errorf("core %d does not exist, %d cores available", core, n)
	}

	return nil
}

// Start launches n workers.
func (g *Generator) Start(n int) error {
	if n < 0 {
		return fmt.Errorf("negative worker count %d", n)
	}

	if err := ValidateCore(g.pinCore); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop != nil {
		return ErrRunning
	}

	if n == 0 {
		return nil
	}

	g.stop = make(chan struct{})
	g.threads = n

	for id := 0; id < n; id++ {
		g.wg.Add(1)
		go g.work(id, g.stop)
	}

	g.logger.Info("background load started",
		"threads", n, "pin_core", g.pinCore)

	return nil
}

// Stop signals every worker and waits for them to exit.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop == nil {
		return
	}

	close(g.stop)
	g.wg.Wait()

	g.logger.Info("background load stopped",
		"threads", g.threads, "iterations", g.iterations.Load())

	g.stop = nil
	g.threads = 0
}

// Threads returns the number of running workers.
func (g *Generator) Threads() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.threads
}

// Iterations returns the total number of busy iterations done so far.
func (g *Generator) Iterations() uint64 {
	return g.iterations.Load()
}

// PinFailures returns how many workers could not be pinned.
func (g *Generator) PinFailures() uint64 {
	return g.pinFailed.Load()
}

func (g *Generator) work(id int, stop <-chan struct{}) {
	defer g.wg.Done()

	// The thread is discarded when the goroutine exits while still locked,
	// so the affinity never leaks to other goroutines.
	runtime.LockOSThread()

	if g.pinCore >= 0 {
		if err := pinCurrentThread(g.pinCore); err != nil {
			g.pinFailed.Add(1)
			g.logger.Warn("failed to pin load worker",
				"worker", id, "core", g.pinCore, "error", err)
		}
	}

	buf := make([]byte, BufferSize)
	var iter uint64

	for {
		for i := 0; i < YieldEvery; i++ {
			iter++
			buf[iter%BufferSize] = byte(uint64(id)*31 + iter)
		}

		g.iterations.Add(YieldEvery)

		select {
		case <-stop:
			return
		default:
			runtime.Gosched()
		}
	}
}
