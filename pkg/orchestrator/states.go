package orchestrator

import (
	"time"
)

// State is a step of the deposit workflow
type State string

const (
	StateIdle                            State = "Idle"
	StateValidating                      State = "Validating"
	StateSwitchingNetwork                State = "SwitchingNetwork"
	StateQuoting                         State = "Quoting"
	StateSubmittingSource                State = "SubmittingSource"
	StateAwaitingSourceConfirmation      State = "AwaitingSourceConfirmation"
	StateAwaitingBridgeCompletion        State = "AwaitingBridgeCompletion"
	StateSubmittingDestination           State = "SubmittingDestination"
	StateAwaitingDestinationConfirmation State = "AwaitingDestinationConfirmation"
	StateCompleted                       State = "Completed"
	StateFailed                          State = "Failed"
)

// numStates bounds the number of events a workflow can emit, since no state
// is entered twice
const numStates = 11

// transitions lists the forward moves of the pipeline. Failed is reachable
// from every non-terminal state and is not listed.
var transitions = map[State][]State{
	StateIdle:                            {StateValidating},
	StateValidating:                      {StateSwitchingNetwork, StateQuoting, StateSubmittingSource},
	StateSwitchingNetwork:                {StateQuoting, StateSubmittingSource},
	StateQuoting:                         {StateSubmittingSource},
	StateSubmittingSource:                {StateAwaitingSourceConfirmation},
	StateAwaitingSourceConfirmation:      {StateCompleted, StateAwaitingBridgeCompletion},
	StateAwaitingBridgeCompletion:        {StateSubmittingDestination},
	StateSubmittingDestination:           {StateAwaitingDestinationConfirmation},
	StateAwaitingDestinationConfirmation: {StateCompleted},
}

// IsTerminal returns true for Completed and Failed
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether a workflow in from may move to to
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is emitted on every state transition of a workflow
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
	Detail     string    `json:"detail,omitempty"`
}
