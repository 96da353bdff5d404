package engine

import "fmt"

// SessionState tracks where a session is in its lifecycle.
type SessionState string

const (
	// StateAuthenticated means the token was verified but the session
	// has not joined any room yet.
	StateAuthenticated SessionState = "authenticated"
	// StateJoined means the session belongs to at least one room.
	StateJoined SessionState = "joined"
	// StateClosed is terminal; the session is gone from the registry.
	StateClosed SessionState = "closed"
)

// ValidTransitions defines the allowed state transitions for sessions.
// Key is the current state, value is a slice of valid next states.
var ValidTransitions = map[SessionState][]SessionState{
	StateAuthenticated: {
		StateJoined,
		StateClosed,
	},
	StateJoined: {
		// Leaving the last room drops back to authenticated.
		StateAuthenticated,
		StateClosed,
	},
	// Terminal state with no valid transitions.
	StateClosed: {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to SessionState) bool {
	validTargets, exists := ValidTransitions[from]
	if !exists {
		return false
	}
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid state transition attempt.
type TransitionError struct {
	SessionID string
	From      SessionState
	To        SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition: %s -> %s (session: %s)", e.From, e.To, e.SessionID)
}
