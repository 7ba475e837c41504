package sessions

import "fmt"

// State is the lifecycle position of a session.
//
//	Handshaking -> Ready -> Closed
//	Handshaking ---------> Closed
//
// Ready never returns to Handshaking and Closed is terminal.
type State string

const (
	StateHandshaking State = "handshaking"
	StateReady       State = "ready"
	StateClosed      State = "closed"
)

// TransitionError is returned when a state change is not permitted.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	switch from {
	case StateHandshaking:
		return to == StateReady || to == StateClosed
	case StateReady:
		return to == StateClosed
	default:
		return false
	}
}
