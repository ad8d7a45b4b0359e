package datarecording

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExecTable is the table that describes the process that wrote a database.
const ExecTable = "exec_info"

const execTimeFormat = "2006-01-02 15:04:05.000000000"

// ExecInfo is one property of the recording process.
type ExecInfo struct {
	Property string
	Value    string
}

// execRecorder writes the command line, the working directory and the start
// and end times of the recording process.
type execRecorder struct {
	recorder DataRecorder
}

func newExecRecorder(recorder DataRecorder) *execRecorder {
	recorder.CreateTable(ExecTable, ExecInfo{})

	return &execRecorder{recorder: recorder}
}

// Start records the process that is recording.
func (e *execRecorder) Start() {
	e.recorder.InsertData(ExecTable,
		ExecInfo{"Start Time", time.Now().Format(execTimeFormat)})
	e.recorder.InsertData(ExecTable,
		ExecInfo{"Command", strings.Join(os.Args, " ")})

	cwd, err := os.Getwd()
	if err != nil {
		cwd = filepath.Dir(os.Args[0])
	}

	e.recorder.InsertData(ExecTable, ExecInfo{"Working Directory", cwd})
}

// End records the end time.
func (e *execRecorder) End() {
	e.recorder.InsertData(ExecTable,
		ExecInfo{"End Time", time.Now().Format(execTimeFormat)})
}
