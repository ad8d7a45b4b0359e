package actuation

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/sarchlab/rtloop/model"
)

// An Actuator executes commands. Execute should return early when ctx is
// done; if it does not, the dispatcher abandons it at the deadline anyway.
type Actuator interface {
	ID() string
	Execute(ctx context.Context, cmd model.ActuatorCommand) (float64, error)
}

// Simulated is an actuator with a fixed execution cost and a first-order
// response: every command moves the position a fraction of the way towards
// the target.
type Simulated struct {
	id       string
	cost     time.Duration
	response float64
	position atomic.Uint64
}

// NewSimulated creates a simulated actuator. Response is the fraction of
// the remaining distance covered per command, in (0, 1].
func NewSimulated(id string, cost time.Duration, response float64) *Simulated {
	if response <= 0 || response > 1 {
		panic("actuator response must be within (0, 1]")
	}

	return &Simulated{id: id, cost: cost, response: response}
}

// ID returns the actuator name.
func (s *Simulated) ID() string {
	return s.id
}

// Position returns the current position.
func (s *Simulated) Position() float64 {
	return math.Float64frombits(s.position.Load())
}

// Execute waits for the execution cost and then moves the actuator.
func (s *Simulated) Execute(
	ctx context.Context,
	cmd model.ActuatorCommand,
) (float64, error) {
	if s.cost > 0 {
		timer := time.NewTimer(s.cost)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return s.Position(), ctx.Err()
		case <-timer.C:
		}
	}

	for {
		old := s.position.Load()
		current := math.Float64frombits(old)
		next := current + (cmd.TargetValue-current)*s.response

		if s.position.CompareAndSwap(old, math.Float64bits(next)) {
			return next, nil
		}
	}
}
