package ledger

// State is the lifecycle state of a transaction.
type State string

const (
	// StateBuilding accepts line, tender, suspend, commit, and abort
	// operations. Every transaction starts here.
	StateBuilding State = "BUILDING"

	// StateCommitting and StateAborting are transient states held while the
	// terminal write-ahead record is made durable.
	StateCommitting State = "COMMITTING"
	StateAborting   State = "ABORTING"

	// StateSuspended marks a transaction parked in the suspend store.
	// Resumption produces a new Building transaction under a new handle.
	StateSuspended State = "SUSPENDED"

	// StateResuming is held while a suspended snapshot is re-hydrated.
	StateResuming State = "RESUMING"

	// Terminal states. No further mutation is ever accepted.
	StateCommitted State = "COMMITTED"
	StateAborted   State = "ABORTED"
	StateTimedOut  State = "TIMED_OUT"
)

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateAborted, StateTimedOut:
		return true
	}
	return false
}

// Code returns the stable numeric encoding of the state used across the
// boundary. Values are append-only; never renumber.
func (s State) Code() int32 {
	switch s {
	case StateBuilding:
		return 0
	case StateCommitted:
		return 1
	case StateAborted:
		return 2
	case StateTimedOut:
		return 3
	case StateSuspended:
		return 4
	case StateCommitting:
		return 5
	case StateAborting:
		return 6
	case StateResuming:
		return 7
	}
	return -1
}

func (s State) String() string {
	return string(s)
}

// transitions is the legal state graph. A transition absent here is rejected.
var transitions = map[State][]State{
	StateBuilding:   {StateCommitting, StateAborting, StateSuspended, StateTimedOut},
	StateCommitting: {StateCommitted},
	StateAborting:   {StateAborted},
	StateSuspended:  {StateResuming, StateAborted},
	StateResuming:   {StateBuilding},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
