package chat

import "fmt"

// StateKind tags the phase a session is in.
type StateKind int

const (
	// StateIdle means no request is in flight and the last turn, if any, succeeded.
	StateIdle StateKind = iota
	// StateAwaiting means exactly one request is in flight.
	StateAwaiting
	// StateFailed means no request is in flight and the last turn failed. A new turn may start from here.
	StateFailed
)

// State is the explicit state of a session: Idle, Awaiting(requestID) or Failed(reason).
type State struct {
	Kind StateKind
	// RequestID identifies the in-flight turn. Set only when Kind is StateAwaiting.
	RequestID string
	// Reason describes the last failure. Set only when Kind is StateFailed. It is kept for logs and
	// diagnostics; the user only ever sees the fallback message.
	Reason string
}

// Idle returns the idle state.
func Idle() State {
	return State{Kind: StateIdle}
}

// Awaiting returns the state of a session waiting on the turn identified by requestID.
func Awaiting(requestID string) State {
	return State{Kind: StateAwaiting, RequestID: requestID}
}

// Failed returns the state of a session whose last turn failed for reason.
func Failed(reason string) State {
	return State{Kind: StateFailed, Reason: reason}
}

func (s State) String() string {
	switch s.Kind {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return fmt.Sprintf("awaiting(%s)", s.RequestID)
	case StateFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return fmt.Sprintf("unknown(%d)", int(s.Kind))
	}
}

// Outcome reports what Submit did with the submitted text.
type Outcome int

const (
	// OutcomeSent means the user message was appended and a turn started.
	OutcomeSent Outcome = iota
	// OutcomeEmpty means the text was empty after trimming and nothing happened.
	OutcomeEmpty
	// OutcomeBusy means a turn was already in flight and nothing happened.
	OutcomeBusy
	// OutcomeCredentialRequired means there is no credential; the caller should prompt for one.
	OutcomeCredentialRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeEmpty:
		return "empty"
	case OutcomeBusy:
		return "busy"
	case OutcomeCredentialRequired:
		return "credential_required"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}
