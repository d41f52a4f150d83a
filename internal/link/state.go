package link

import (
	"errors"
	"fmt"
)

// ErrUnknownStateCode is returned for a status code outside 0-5.
var ErrUnknownStateCode = errors.New("link: unknown state code")

// State is the co-processor's self-reported lifecycle state.
type State int

const (
	StateNotReady     State = 0
	StateInitializing State = 1
	StateReady        State = 2
	StateSleeping     State = 3
	StateError        State = 4
	StateFatal        State = 5
)

var stateNames = [...]string{
	StateNotReady:     "NotReady",
	StateInitializing: "Initializing",
	StateReady:        "Ready",
	StateSleeping:     "Sleeping",
	StateError:        "Error",
	StateFatal:        "Fatal",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateFromCode maps a wire status code to a State. Unknown codes map to
// StateError together with ErrUnknownStateCode.
func StateFromCode(code int64) (State, error) {
	if code >= 0 && code < int64(len(stateNames)) {
		return State(code), nil
	}
	return StateError, fmt.Errorf("%w: %d", ErrUnknownStateCode, code)
}

// CanTransition reports whether the co-processor may move from s to next.
// Staying in the same state is always allowed.
//
//	NotReady -> Initializing -> Ready <-> Sleeping
//	Ready, Sleeping -> Error -> Ready, Fatal
//
// Fatal is terminal.
func (s State) CanTransition(next State) bool {
	if s == next {
		return true
	}
	switch s {
	case StateNotReady:
		return next == StateInitializing
	case StateInitializing:
		return next == StateReady
	case StateReady:
		return next == StateSleeping || next == StateError
	case StateSleeping:
		return next == StateReady || next == StateError
	case StateError:
		return next == StateReady || next == StateFatal
	}
	return false
}
