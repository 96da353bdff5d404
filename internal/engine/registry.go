package engine

import (
	"sync"
	"time"
)

// Session is one authenticated connection. Its identity is fixed at
// creation; room membership and state change under the session's own
// lock so the registry's map lock stays cheap.
type Session struct {
	ID        string
	Identity  string
	CreatedAt time.Time

	mu    sync.Mutex
	state SessionState
	rooms map[string]struct{}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Rooms returns a snapshot of the rooms the session has joined.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// InRoom reports whether the session has joined the room.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

// join adds the room and moves the session to joined. Idempotent for a
// room the session is already in.
func (s *Session) join(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionNotFound
	}
	if _, ok := s.rooms[room]; ok {
		return nil
	}
	if s.state == StateAuthenticated {
		if !CanTransition(s.state, StateJoined) {
			return &TransitionError{SessionID: s.ID, From: s.state, To: StateJoined}
		}
		s.state = StateJoined
	}
	s.rooms[room] = struct{}{}
	return nil
}

// leave removes the room; leaving the last room drops the session back
// to authenticated. Leaving a room the session is not in is an
// ErrNotJoined.
func (s *Session) leave(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionNotFound
	}
	if _, ok := s.rooms[room]; !ok {
		return ErrNotJoined
	}
	delete(s.rooms, room)
	if len(s.rooms) == 0 {
		s.state = StateAuthenticated
	}
	return nil
}

// close marks the session terminal and returns the rooms it was in so
// the caller can unwind subscriptions. Only the first close succeeds.
func (s *Session) close() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, false
	}
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.rooms = make(map[string]struct{})
	s.state = StateClosed
	return rooms, true
}

// Registry is the in-memory session table. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open registers a new authenticated session.
func (r *Registry) Open(sessionID, identity string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return nil, ErrDuplicateSession
	}
	s := &Session{
		ID:        sessionID,
		Identity:  identity,
		CreatedAt: time.Now(),
		state:     StateAuthenticated,
		rooms:     make(map[string]struct{}),
	}
	r.sessions[sessionID] = s
	return s, nil
}

// Lookup returns the session, or ErrSessionNotFound.
func (r *Registry) Lookup(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close removes the session from the registry and returns the rooms it
// had joined. Exactly one concurrent Close observes the session; every
// later call gets ErrSessionNotFound.
func (r *Registry) Close(sessionID string) ([]string, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	rooms, first := s.close()
	if !first {
		return nil, ErrSessionNotFound
	}
	return rooms, nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
