package orchestrator

import (
	"fmt"
)

// FailureKind classifies why a workflow failed
type FailureKind string

const (
	// ValidationError is bad input the user has to correct
	ValidationError FailureKind = "ValidationError"
	// WrongNetwork means the wallet could not be moved to the source chain
	WrongNetwork FailureKind = "WrongNetwork"
	// QuoteRejected means the bridge provider considers the transfer infeasible
	QuoteRejected FailureKind = "QuoteRejected"
	// SourceTxFailed means the source transaction was never broadcast
	SourceTxFailed FailureKind = "SourceTxFailed"
	// SourceTxReverted means the source transaction failed on chain or was not confirmed in time
	SourceTxReverted FailureKind = "SourceTxReverted"
	// BridgeFailed is a terminal failure reported by the bridge provider
	BridgeFailed FailureKind = "BridgeFailed"
	// BridgeTimeout means the order was still pending at the deadline
	BridgeTimeout FailureKind = "BridgeTimeout"
	// BridgeStatusUnavailable means the order status could not be read
	BridgeStatusUnavailable FailureKind = "BridgeStatusUnavailable"
	// DestinationTxFailed means the settlement on the destination chain failed
	DestinationTxFailed FailureKind = "DestinationTxFailed"
	// Cancelled means the caller cancelled the workflow
	Cancelled FailureKind = "Cancelled"
)

// failureKindFor is the failure a step reports when it goes wrong
func failureKindFor(state State) FailureKind {
	switch state {
	case StateSwitchingNetwork:
		return WrongNetwork
	case StateQuoting:
		return QuoteRejected
	case StateSubmittingSource:
		return SourceTxFailed
	case StateAwaitingSourceConfirmation:
		return SourceTxReverted
	case StateAwaitingBridgeCompletion:
		return BridgeStatusUnavailable
	case StateSubmittingDestination, StateAwaitingDestinationConfirmation:
		return DestinationTxFailed
	default:
		return ValidationError
	}
}

// Failure is attached to every workflow that ends in Failed. It records the
// step that failed, what went wrong, and whether trying again with a new
// request can help.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	State     State       `json:"state"`
	Detail    string      `json:"detail"`
	Retryable bool        `json:"retryable"`
	// InFlight is set when funds left the source chain but their arrival
	// could not be established
	InFlight bool  `json:"in_flight,omitempty"`
	Err      error `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s during %s: %s", f.Kind, f.State, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// FundsInFlight reports whether bridged funds may still arrive. Callers must
// not treat such a failure as a loss of funds.
func (f *Failure) FundsInFlight() bool {
	return f.InFlight || f.Kind == BridgeTimeout || f.Kind == BridgeStatusUnavailable
}

func newFailure(kind FailureKind, state State, err error, format string, args ...interface{}) *Failure {
	detail := fmt.Sprintf(format, args...)
	if err != nil {
		if detail == "" {
			detail = err.Error()
		} else {
			detail = fmt.Sprintf("%s: %v", detail, err)
		}
	}

	return &Failure{
		Kind:      kind,
		State:     state,
		Detail:    detail,
		Retryable: defaultRetryable(kind),
		Err:       err,
	}
}

func defaultRetryable(kind FailureKind) bool {
	switch kind {
	case WrongNetwork, SourceTxFailed, DestinationTxFailed:
		return true
	default:
		return false
	}
}
