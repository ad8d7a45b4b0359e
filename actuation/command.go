package actuation

import (
	"sync/atomic"

	"github.com/sarchlab/rtloop/model"
)

// CommandState is the life-cycle state of a command.
type CommandState int32

// A command moves from Pending to Dispatched and then to exactly one of
// Completed or Missed.
const (
	Pending CommandState = iota
	Dispatched
	Completed
	Missed
)

func (s CommandState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Dispatched:
		return "Dispatched"
	case Completed:
		return "Completed"
	case Missed:
		return "Missed"
	default:
		return "Unknown"
	}
}

// Terminal tells if no transition can leave the state.
func (s CommandState) Terminal() bool {
	return s == Completed || s == Missed
}

// Command is an ActuatorCommand being tracked by the dispatcher.
type Command struct {
	model.ActuatorCommand

	state atomic.Int32
}

// NewCommand wraps an ActuatorCommand in the Pending state.
func NewCommand(c model.ActuatorCommand) *Command {
	return &Command{ActuatorCommand: c}
}

// State returns the current state.
func (c *Command) State() CommandState {
	return CommandState(c.state.Load())
}

// transition moves the command from one state to another. It fails if the
// command is not in the from state, so only one terminal transition wins.
func (c *Command) transition(from, to CommandState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
