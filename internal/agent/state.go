package agent

import (
	"fmt"
)

// State is a phase of one orchestration run.
type State string

// Run states. A run starts in StateAwaitingModel and ends in StateDone
// or StateAborted.
const (
	StateAwaitingModel  State = "AWAITING_MODEL"
	StateExecutingTools State = "EXECUTING_TOOLS"
	StateDone           State = "DONE"
	StateAborted        State = "ABORTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// validTransitions lists the states reachable from each state.
var validTransitions = map[State][]State{
	StateAwaitingModel:  {StateExecutingTools, StateDone, StateAborted},
	StateExecutingTools: {StateAwaitingModel, StateAborted},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrIterationLimit is returned when the model still requests tools on
// the last permitted invocation.
type ErrIterationLimit struct {
	Limit     int
	ToolCalls int
}

// Error implements the error interface.
func (e *ErrIterationLimit) Error() string {
	return fmt.Sprintf("model still requested %d tool calls after %d invocations", e.ToolCalls, e.Limit)
}
