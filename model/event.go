package model

import "time"

// Stage names a pipeline stage in the event log.
type Stage string

// The pipeline stages.
const (
	StageSensor    Stage = "sensor"
	StageProcess   Stage = "process"
	StageTransmit  Stage = "transmit"
	StageReceive   Stage = "receive"
	StageControl   Stage = "control"
	StageActuate   Stage = "actuate"
	StageFeedback  Stage = "feedback"
	StageRecalib   Stage = "recalibrate"
	StageSyncMgr   Stage = "sync"
	StageTransport Stage = "channel"
)

// PipelineStages lists the stages a sample passes through, in order.
var PipelineStages = []Stage{
	StageSensor,
	StageProcess,
	StageTransmit,
	StageReceive,
	StageControl,
	StageActuate,
	StageFeedback,
}

// EventKind classifies event log records.
type EventKind int

// Kinds of event log records.
const (
	// EventStage is a completed stage instance.
	EventStage EventKind = iota
	// EventDeadline carries a DeadlineRecord.
	EventDeadline
	// EventActuator is the terminal outcome of an actuator command.
	EventActuator
	// EventSaturation reports a sample dropped by a full queue.
	EventSaturation
	// EventContention reports a mutex acquisition that timed out.
	EventContention
	// EventRecalibration reports a configuration buffer change.
	EventRecalibration
)

func (k EventKind) String() string {
	switch k {
	case EventStage:
		return "stage"
	case EventDeadline:
		return "deadline"
	case EventActuator:
		return "actuator"
	case EventSaturation:
		return "saturation"
	case EventContention:
		return "contention"
	case EventRecalibration:
		return "recalibration"
	default:
		return "unknown"
	}
}

// Tags attached to deadline records and degraded-operation events.
const (
	TagDeadlineMiss      = "deadline miss"
	TagSensorDropout     = "sensor dropout"
	TagContentionTimeout = "contention timeout"
	TagChannelSaturation = "channel saturation"
	TagLateFeedback      = "late feedback"
)

// Actuator outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeMissed    = "missed"
)

// DeadlineRecord states whether a stage instance met its deadline.
type DeadlineRecord struct {
	Stage            Stage
	ExpectedDeadline time.Time
	ActualCompletion time.Time
	Missed           bool
	Tag              string
}

// NewDeadlineRecord builds a record by comparing completion with the deadline.
func NewDeadlineRecord(stage Stage, expected, actual time.Time) DeadlineRecord {
	r := DeadlineRecord{
		Stage:            stage,
		ExpectedDeadline: expected,
		ActualCompletion: actual,
		Missed:           actual.After(expected),
	}

	if r.Missed {
		r.Tag = TagDeadlineMiss
	}

	return r
}

// Event is one append-only record of the diagnostic log. Events are values;
// once appended they are never changed.
type Event struct {
	Kind     EventKind
	Stage    Stage
	Producer string

	Sensor   SensorKind
	Sequence uint64

	Timestamp      time.Time
	Latency        time.Duration
	DeadlineMissed bool

	Deadline *DeadlineRecord

	ActuatorID    string
	Outcome       string
	AchievedValue float64

	Tag string
}

// StageEvent creates the record of a completed stage instance.
func StageEvent(
	stage Stage,
	producer string,
	kind SensorKind,
	seq uint64,
	at time.Time,
	latency time.Duration,
	missed bool,
) Event {
	return Event{
		Kind:           EventStage,
		Stage:          stage,
		Producer:       producer,
		Sensor:         kind,
		Sequence:       seq,
		Timestamp:      at,
		Latency:        latency,
		DeadlineMissed: missed,
	}
}

// DeadlineEvent wraps a DeadlineRecord into a log record.
func DeadlineEvent(
	producer string,
	kind SensorKind,
	seq uint64,
	record DeadlineRecord,
) Event {
	latency := record.ActualCompletion.Sub(record.ExpectedDeadline)
	if latency < 0 {
		latency = 0
	}

	return Event{
		Kind:           EventDeadline,
		Stage:          record.Stage,
		Producer:       producer,
		Sensor:         kind,
		Sequence:       seq,
		Timestamp:      record.ActualCompletion,
		Latency:        latency,
		DeadlineMissed: record.Missed,
		Deadline:       &record,
		Tag:            record.Tag,
	}
}
