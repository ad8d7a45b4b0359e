// Package config holds the immutable run configuration of the control
// pipeline and its validation rules.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrFatalConfiguration is wrapped by every validation failure. It is the
// only error class that aborts a run, and only before anything starts.
var ErrFatalConfiguration = errors.New("fatal configuration error")

// SyncMode selects the synchronization discipline of a run.
type SyncMode int

// The supported synchronization disciplines.
const (
	LockFree SyncMode = iota
	Mutex
)

func (m SyncMode) String() string {
	switch m {
	case LockFree:
		return "LockFree"
	case Mutex:
		return "Mutex"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// ParseSyncMode accepts the mode names case-insensitively, with or without
// separators ("lock-free", "lock_free", "LockFree").
func ParseSyncMode(s string) (SyncMode, error) {
	normalized := strings.ToLower(s)
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").
		Replace(normalized)

	switch normalized {
	case "lockfree":
		return LockFree, nil
	case "mutex":
		return Mutex, nil
	default:
		return 0, fmt.Errorf("%w: unknown sync_mode %q",
			ErrFatalConfiguration, s)
	}
}

// LoadLevels are the accepted background_load_threads values.
var LoadLevels = []int{0, 2, 4, 8, 12, 16, 18, 20}

// PIDGains are the proportional, integral and derivative gains.
type PIDGains struct {
	Kp float64
	Ki float64
	Kd float64
}

// Config is selected before a run and never changes during it.
type Config struct {
	SyncMode SyncMode

	SamplingPeriod       time.Duration
	ProcessingDeadline   time.Duration
	TransmissionDeadline time.Duration
	ActuatorDeadline     time.Duration
	FeedbackDeadline     time.Duration

	BackgroundLoadThreads int
	PinCore               int

	PIDGains      PIDGains
	IntegralLimit float64
	OutputLimit   float64

	FilterWindow     int
	AnomalyThreshold float64
	ProcessingWork   time.Duration

	DropoutProbability float64
	DelayProbability   float64
	MaxSamples         int
	Seed               uint64

	Actuators    []string
	ActuatorCost time.Duration

	RecalibrationWindow int
	ErrorBand           float64
	MissBand            float64

	ContentionTimeout time.Duration

	SensorQueueCapacity int
	ChannelCapacity     int
	FeedbackCapacity    int
}

// Default returns the configuration used when no option is given.
func Default() Config {
	return Config{
		SyncMode: LockFree,

		SamplingPeriod:       5 * time.Millisecond,
		ProcessingDeadline:   200 * time.Microsecond,
		TransmissionDeadline: 100 * time.Microsecond,
		ActuatorDeadline:     2 * time.Millisecond,
		FeedbackDeadline:     500 * time.Microsecond,

		BackgroundLoadThreads: 0,
		PinCore:               -1,

		PIDGains:      PIDGains{Kp: 1.2, Ki: 0.01, Kd: 0.2},
		IntegralLimit: 50,
		OutputLimit:   50,

		FilterWindow:     10,
		AnomalyThreshold: 3.0,

		Seed: 1,

		Actuators:    []string{"Gripper", "Motor", "Stabiliser"},
		ActuatorCost: 200 * time.Microsecond,

		RecalibrationWindow: 32,
		ErrorBand:           5.0,
		MissBand:            0.1,

		ContentionTimeout: 500 * time.Microsecond,

		SensorQueueCapacity: 2048,
		ChannelCapacity:     1024,
		FeedbackCapacity:    64,
	}
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format,
		append([]any{ErrFatalConfiguration}, args...)...)
}

// Validate checks the configuration. Every error wraps
// ErrFatalConfiguration.
func (c Config) Validate() error {
	if c.SyncMode != LockFree && c.SyncMode != Mutex {
		return fatalf("unknown sync mode %d", int(c.SyncMode))
	}

	if err := c.validateTiming(); err != nil {
		return err
	}

	if err := c.validateLoad(); err != nil {
		return err
	}

	if err := c.validateControl(); err != nil {
		return err
	}

	if err := c.validateFaults(); err != nil {
		return err
	}

	if err := c.validateActuators(); err != nil {
		return err
	}

	return c.validateCapacities()
}

func (c Config) validateTiming() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"sampling_period", c.SamplingPeriod},
		{"processing_deadline", c.ProcessingDeadline},
		{"transmission_deadline", c.TransmissionDeadline},
		{"actuator_deadline", c.ActuatorDeadline},
		{"feedback_deadline", c.FeedbackDeadline},
		{"contention_timeout", c.ContentionTimeout},
	}

	for _, d := range durations {
		if d.value <= 0 {
			return fatalf("%s must be positive, got %v", d.name, d.value)
		}
	}

	if c.ProcessingWork < 0 {
		return fatalf("processing_work must not be negative")
	}

	if c.ActuatorCost < 0 {
		return fatalf("actuator_cost must not be negative")
	}

	return nil
}

func (c Config) validateLoad() error {
	valid := false
	for _, l := range LoadLevels {
		if c.BackgroundLoadThreads == l {
			valid = true
			break
		}
	}

	if !valid {
		return fatalf("background_load_threads must be one of %v, got %d",
			LoadLevels, c.BackgroundLoadThreads)
	}

	if c.PinCore < -1 {
		return fatalf("pin_core must be -1 or a core index, got %d",
			c.PinCore)
	}

	return nil
}

func (c Config) validateControl() error {
	gains := []float64{c.PIDGains.Kp, c.PIDGains.Ki, c.PIDGains.Kd}
	for _, g := range gains {
		if math.IsNaN(g) || math.IsInf(g, 0) || g < 0 {
			return fatalf("pid gains must be finite and non-negative, got %+v",
				c.PIDGains)
		}
	}

	if !(c.IntegralLimit > 0) || !(c.OutputLimit > 0) {
		return fatalf("integral_limit and output_limit must be positive")
	}

	if c.FilterWindow < 1 {
		return fatalf("filter_window must be at least 1, got %d",
			c.FilterWindow)
	}

	if !(c.AnomalyThreshold > 0) || math.IsInf(c.AnomalyThreshold, 0) {
		return fatalf("anomaly_threshold must be positive, got %v",
			c.AnomalyThreshold)
	}

	if c.RecalibrationWindow < 1 {
		return fatalf("recalibration_window must be at least 1")
	}

	if !(c.ErrorBand > 0) || !(c.MissBand > 0) {
		return fatalf("error_band and miss_band must be positive")
	}

	return nil
}

func (c Config) validateFaults() error {
	probabilities := []struct {
		name  string
		value float64
	}{
		{"dropout_probability", c.DropoutProbability},
		{"delay_probability", c.DelayProbability},
	}

	for _, p := range probabilities {
		if math.IsNaN(p.value) || p.value < 0 || p.value > 1 {
			return fatalf("%s must be within [0, 1], got %v",
				p.name, p.value)
		}
	}

	if c.DropoutProbability+c.DelayProbability > 1 {
		return fatalf("dropout and delay probabilities add up to more than 1")
	}

	if c.MaxSamples < 0 {
		return fatalf("max_samples must not be negative")
	}

	return nil
}

func (c Config) validateActuators() error {
	if len(c.Actuators) == 0 {
		return fatalf("at least one actuator is required")
	}

	seen := make(map[string]bool, len(c.Actuators))
	for _, a := range c.Actuators {
		if a == "" {
			return fatalf("actuator names must not be empty")
		}

		if seen[a] {
			return fatalf("duplicated actuator %q", a)
		}

		seen[a] = true
	}

	return nil
}

func (c Config) validateCapacities() error {
	if c.SensorQueueCapacity < 1 || c.ChannelCapacity < 1 ||
		c.FeedbackCapacity < 1 {
		return fatalf("queue capacities must be at least 1")
	}

	return nil
}
