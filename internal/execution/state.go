package execution

import "fmt"

// State is one phase of the per-symbol trade lifecycle. A symbol is in
// exactly one state; every entry attempt walks the cycle
// Idle -> Evaluating -> PendingEntry -> Open -> Closing -> Idle.
type State int

const (
	StateIdle State = iota
	StateEvaluating
	StatePendingEntry
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateEvaluating:
		return "EVALUATING"
	case StatePendingEntry:
		return "PENDING_ENTRY"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "IDLE"
	}
}

// MarshalJSON renders the state as its name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Transition event names.
type Event int

const (
	EventEvaluate Event = iota // a candidate signal starts processing
	EventAbort                 // evaluation rejected before any order
	EventCommit                // order accepted, counts against the daily limit
	EventFilled                // entry order filled
	EventFillFailed            // entry order failed or timed out
	EventBeginClose            // exit condition met
	EventCloseConfirmed        // close order filled
	EventCloseFailed           // close order failed, position still open
)

func (e Event) String() string {
	switch e {
	case EventEvaluate:
		return "EVALUATE"
	case EventAbort:
		return "ABORT"
	case EventCommit:
		return "COMMIT"
	case EventFilled:
		return "FILLED"
	case EventFillFailed:
		return "FILL_FAILED"
	case EventBeginClose:
		return "BEGIN_CLOSE"
	case EventCloseConfirmed:
		return "CLOSE_CONFIRMED"
	case EventCloseFailed:
		return "CLOSE_FAILED"
	default:
		return "UNKNOWN"
	}
}

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventEvaluate: StateEvaluating,
	},
	StateEvaluating: {
		EventAbort:  StateIdle,
		EventCommit: StatePendingEntry,
	},
	StatePendingEntry: {
		EventFilled:     StateOpen,
		EventFillFailed: StateIdle,
	},
	StateOpen: {
		EventBeginClose: StateClosing,
	},
	StateClosing: {
		EventCloseConfirmed: StateIdle,
		EventCloseFailed:    StateOpen,
	},
}

// Transition applies an event to a state. Undefined pairs are programming
// errors and return the unchanged state with an error.
func Transition(s State, e Event) (State, error) {
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("invalid transition: %s + %s", s, e)
}
