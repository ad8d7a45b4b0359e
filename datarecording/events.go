package datarecording

import (
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/syncmgr"
	"github.com/sarchlab/rtloop/telemetry"
)

// Table names.
const (
	EventTable      = "event"
	StatusTable     = "status"
	ContentionTable = "contention"
	StageTable      = "stage"
	RunTable        = "run"
)

// EventRow is one event of the log. Times are Unix nanoseconds and
// durations are nanoseconds.
type EventRow struct {
	RunID            string
	Position         int
	Kind             string
	Stage            string
	Producer         string
	Sensor           string
	Sequence         int64
	Timestamp        int64
	Latency          int64
	DeadlineMissed   bool
	ExpectedDeadline int64
	ActualCompletion int64
	ActuatorID       string
	Outcome          string
	AchievedValue    float64
	Tag              string
}

// NewEventRow flattens an event. Position is its index in the log.
func NewEventRow(runID string, position int, e model.Event) EventRow {
	row := EventRow{
		RunID:          runID,
		Position:       position,
		Kind:           e.Kind.String(),
		Stage:          string(e.Stage),
		Producer:       e.Producer,
		Sensor:         e.Sensor.String(),
		Sequence:       int64(e.Sequence),
		Timestamp:      unixNano(e.Timestamp),
		Latency:        int64(e.Latency),
		DeadlineMissed: e.DeadlineMissed,
		ActuatorID:     e.ActuatorID,
		Outcome:        e.Outcome,
		AchievedValue:  e.AchievedValue,
		Tag:            e.Tag,
	}

	if e.Deadline != nil {
		row.ExpectedDeadline = unixNano(e.Deadline.ExpectedDeadline)
		row.ActualCompletion = unixNano(e.Deadline.ActualCompletion)
	}

	return row
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// StatusRow is the final status published by one component.
type StatusRow struct {
	RunID       string
	Component   string
	Stage       string
	Processed   int64
	Missed      int64
	Dropped     int64
	LastLatency int64
	UpdatedAt   int64
}

// ContentionRow is the wait statistics of one shared resource.
type ContentionRow struct {
	RunID        string
	Resource     string
	Acquisitions int64
	TotalWait    int64
	MaxWait      int64
	Timeouts     int64
	Degraded     int64
}

// StageRow is the telemetry aggregate of one stage.
type StageRow struct {
	RunID       string
	Stage       string
	Count       int64
	Missed      int64
	MeanLatency int64
	P99Latency  int64
	MaxLatency  int64
	Jitter      int64
	Throughput  float64
}

// RunRow describes one run.
type RunRow struct {
	ID                 string
	Name               string
	SyncMode           string
	LoadThreads        int
	SamplingPeriod     int64
	MaxSamples         int
	Seed               int64
	StartedAt          int64
	Duration           int64
	Compliance         float64
	Dropouts           int64
	ContentionTimeouts int64
	Saturations        int64
	Recalibrations     int64
	LateFeedback       int64
	DroppedEvents      int64
}

// Run is everything that is recorded about one run.
type Run struct {
	Row        RunRow
	Events     []model.Event
	Status     map[string]syncmgr.Status
	Contention map[syncmgr.Resource]syncmgr.ContentionStats
	Snapshot   telemetry.Snapshot
}

// NewRunID returns a unique run identifier.
func NewRunID() string {
	return xid.New().String()
}

// RunRecorder writes runs into a DataRecorder. Several runs, for example
// the runs of a load sweep, can share one database.
type RunRecorder struct {
	recorder DataRecorder
}

// NewRunRecorder creates the run tables in recorder.
func NewRunRecorder(recorder DataRecorder) *RunRecorder {
	recorder.CreateTable(RunTable, RunRow{})
	recorder.CreateTable(EventTable, EventRow{})
	recorder.CreateTable(StatusTable, StatusRow{})
	recorder.CreateTable(ContentionTable, ContentionRow{})
	recorder.CreateTable(StageTable, StageRow{})

	return &RunRecorder{recorder: recorder}
}

// Record buffers a run and flushes it. A run without an ID gets one.
func (r *RunRecorder) Record(run Run) string {
	if run.Row.ID == "" {
		run.Row.ID = NewRunID()
	}

	id := run.Row.ID
	s := run.Snapshot

	run.Row.Compliance = s.Compliance()
	run.Row.Dropouts = int64(s.Dropouts)
	run.Row.ContentionTimeouts = int64(s.ContentionTimeouts)
	run.Row.Saturations = int64(s.Saturations)
	run.Row.Recalibrations = int64(s.Recalibrations)
	run.Row.LateFeedback = int64(s.LateFeedback)

	r.recorder.InsertData(RunTable, run.Row)

	for i, e := range run.Events {
		r.recorder.InsertData(EventTable, NewEventRow(id, i, e))
	}

	for _, st := range run.Status {
		r.recorder.InsertData(StatusTable, StatusRow{
			RunID:       id,
			Component:   st.Component,
			Stage:       string(st.Stage),
			Processed:   int64(st.Processed),
			Missed:      int64(st.Missed),
			Dropped:     int64(st.Dropped),
			LastLatency: int64(st.LastLatency),
			UpdatedAt:   unixNano(st.UpdatedAt),
		})
	}

	for res, c := range run.Contention {
		r.recorder.InsertData(ContentionTable, ContentionRow{
			RunID:        id,
			Resource:     res.String(),
			Acquisitions: int64(c.Acquisitions),
			TotalWait:    int64(c.TotalWait),
			MaxWait:      int64(c.MaxWait),
			Timeouts:     int64(c.Timeouts),
			Degraded:     int64(c.Degraded),
		})
	}

	for stage, st := range s.Stages {
		r.recorder.InsertData(StageTable, StageRow{
			RunID:       id,
			Stage:       string(stage),
			Count:       int64(st.Count),
			Missed:      int64(st.Missed),
			MeanLatency: int64(st.MeanLatency),
			P99Latency:  int64(st.P99Latency),
			MaxLatency:  int64(st.MaxLatency),
			Jitter:      int64(st.Jitter),
			Throughput:  st.Throughput,
		})
	}

	r.recorder.Flush()

	return id
}
