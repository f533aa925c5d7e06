package bridge

// State is the lifecycle phase of one bridged call.
type State int

const (
	// StateConnecting: telephony socket open, agent setup in flight,
	// stream identifiers not yet known.
	StateConnecting State = iota
	// StateActive: stream identifiers known and agent socket open.
	StateActive
	// StateDraining: teardown observed, finalize in progress.
	StateDraining
	// StateClosed: terminal. Re-entry is a no-op.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateConnecting: {StateActive, StateDraining},
	StateActive:     {StateDraining},
	StateDraining:   {StateClosed},
	StateClosed:     {StateClosed},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
