// Package model defines the records that flow through the control pipeline
// and the entries of the diagnostic event log.
package model

import (
	"fmt"
	"math"
	"time"
)

// SensorKind identifies the physical quantity a sensor reports.
type SensorKind int

// The supported sensor kinds.
const (
	Force SensorKind = iota
	Position
	Temperature
)

// AllSensorKinds lists every sensor kind in a stable order.
var AllSensorKinds = []SensorKind{Force, Position, Temperature}

func (k SensorKind) String() string {
	switch k {
	case Force:
		return "Force"
	case Position:
		return "Position"
	case Temperature:
		return "Temperature"
	default:
		return fmt.Sprintf("SensorKind(%d)", int(k))
	}
}

// ParseSensorKind converts a name produced by String back to a SensorKind.
func ParseSensorKind(name string) (SensorKind, error) {
	for _, k := range AllSensorKinds {
		if k.String() == name {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown sensor kind %q", name)
}

// Setpoint is the value the controller drives a sensor kind towards.
func (k SensorKind) Setpoint() float64 {
	switch k {
	case Force:
		return 100.0
	case Temperature:
		return 25.0
	default:
		return 0.0
	}
}

// SensorSample is a raw reading. It is never modified after creation.
type SensorSample struct {
	Kind        SensorKind
	Value       float64
	Sequence    uint64
	GeneratedAt time.Time
}

// ProcessedSample is a filtered and anomaly-checked SensorSample.
type ProcessedSample struct {
	SensorSample

	FilteredValue     float64
	IsAnomaly         bool
	ProcessedAt       time.Time
	ProcessingLatency time.Duration
}

// ActuatorCommand asks one actuator to reach a target within its deadline.
type ActuatorCommand struct {
	ActuatorID  string
	Kind        SensorKind
	Sequence    uint64
	TargetValue float64
	IssuedAt    time.Time
	DeadlineAt  time.Time
}

// NewActuatorCommand creates a command whose deadline is issuedAt+budget.
func NewActuatorCommand(
	actuatorID string,
	sample ProcessedSample,
	target float64,
	issuedAt time.Time,
	budget time.Duration,
) ActuatorCommand {
	return ActuatorCommand{
		ActuatorID:  actuatorID,
		Kind:        sample.Kind,
		Sequence:    sample.Sequence,
		TargetValue: target,
		IssuedAt:    issuedAt,
		DeadlineAt:  issuedAt.Add(budget),
	}
}

// MissedErrorMagnitude is the error magnitude carried by feedback that was
// synthesized for an actuator that missed its deadline.
var MissedErrorMagnitude = math.Inf(1)

// FeedbackEvent reports what an actuator achieved for one command.
type FeedbackEvent struct {
	ActuatorID     string
	Kind           SensorKind
	Sequence       uint64
	AchievedValue  float64
	AckAt          time.Time
	ErrorMagnitude float64
}

// Missed tells if the feedback was synthesized for a missed command.
func (f FeedbackEvent) Missed() bool {
	return math.IsInf(f.ErrorMagnitude, 1)
}
