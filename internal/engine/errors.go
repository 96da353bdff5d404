package engine

import "errors"

var (
	// ErrSessionNotFound is returned when an operation names a session
	// that is not (or is no longer) in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateSession is returned when a session ID is already
	// registered.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrNotJoined is returned when a session sends to a room it has
	// not joined.
	ErrNotJoined = errors.New("session has not joined this room")

	// ErrRateLimited is returned when a send exceeds the sender's
	// message rate limit. The message has no side effects.
	ErrRateLimited = errors.New("rate limit exceeded")
)
