// Package control computes actuator targets with one PID loop per sensor
// kind.
package control

import (
	"math"
	"time"

	"github.com/sarchlab/rtloop/config"
	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/syncmgr"
)

// DefaultMaxStep bounds the elapsed time fed to the integral and derivative
// terms after a long pause.
const DefaultMaxStep = 50 * time.Millisecond

// Output is the result of one PID step.
type Output struct {
	Kind     model.SensorKind
	Sequence uint64
	Error    float64

	Proportional float64
	Integral     float64
	Derivative   float64

	// Value is the clamped control output.
	Value float64
	// Elapsed is the measured time since the previous step of the same kind.
	Elapsed time.Duration
}

// state is owned by the controller and never shared.
type state struct {
	integral  float64
	prevError float64
	prevAt    time.Time
	started   bool
}

// A Controller runs an independent PID loop per sensor kind. It is not
// safe for concurrent use and never blocks.
type Controller struct {
	gains         func() config.PIDGains
	integralLimit float64
	outputLimit   float64
	maxStep       time.Duration

	states map[model.SensorKind]*state
}

// NewController creates a controller that reads its gains from mgr before
// every step.
func NewController(
	mgr syncmgr.Manager,
	integralLimit, outputLimit float64,
) *Controller {
	if mgr == nil {
		panic("controller requires a synchronization manager")
	}

	return NewControllerWithGains(
		func() config.PIDGains { return mgr.AcquireRead().Gains },
		integralLimit, outputLimit)
}

// NewControllerWithGains creates a controller with a custom gain source.
func NewControllerWithGains(
	gains func() config.PIDGains,
	integralLimit, outputLimit float64,
) *Controller {
	return &Controller{
		gains:         gains,
		integralLimit: integralLimit,
		outputLimit:   outputLimit,
		maxStep:       DefaultMaxStep,
		states:        make(map[model.SensorKind]*state),
	}
}

// Step computes the output for ps observed at time at. The error is the
// setpoint of the kind minus the filtered value. A step whose elapsed time
// is not positive only has a proportional term.
func (c *Controller) Step(ps model.ProcessedSample, at time.Time) Output {
	s, ok := c.states[ps.Kind]
	if !ok {
		s = &state{}
		c.states[ps.Kind] = s
	}

	g := c.gains()
	e := ps.Kind.Setpoint() - ps.FilteredValue

	out := Output{
		Kind:         ps.Kind,
		Sequence:     ps.Sequence,
		Error:        e,
		Proportional: g.Kp * e,
	}

	if s.started {
		out.Elapsed = at.Sub(s.prevAt)
	}

	if s.started && out.Elapsed > 0 {
		dt := min(out.Elapsed, c.maxStep).Seconds()

		s.integral = clamp(s.integral+e*dt, c.integralLimit)
		out.Derivative = g.Kd * (e - s.prevError) / dt
	}

	out.Integral = g.Ki * s.integral
	out.Value = clamp(out.Proportional+out.Integral+out.Derivative,
		c.outputLimit)

	s.prevError = e
	s.prevAt = at
	s.started = true

	return out
}

// IntegralOf returns the accumulated integral error of a kind.
func (c *Controller) IntegralOf(kind model.SensorKind) float64 {
	if s, ok := c.states[kind]; ok {
		return s.integral
	}

	return 0
}

// Reset forgets the state of every kind.
func (c *Controller) Reset() {
	c.states = make(map[model.SensorKind]*state)
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
