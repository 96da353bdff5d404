package history

import (
	"context"
	"sync"

	"chatrelay/internal/chat"
)

// MemoryStore keeps room logs in process memory with the same
// newest-first, capped semantics as the Redis backend.
type MemoryStore struct {
	mu    sync.RWMutex
	cap   int
	rooms map[string][]chat.Message
}

// NewMemoryStore creates an in-memory store trimming each room to the
// newest cap entries.
func NewMemoryStore(cap int) *MemoryStore {
	return &MemoryStore{
		cap:   cap,
		rooms: make(map[string][]chat.Message),
	}
}

// Append prepends msg to the room's log and trims to the cap under one
// lock acquisition, so readers never observe an over-cap log.
func (s *MemoryStore) Append(_ context.Context, room string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append([]chat.Message{msg}, s.rooms[room]...)
	if len(log) > s.cap {
		log = log[:s.cap]
	}
	s.rooms[room] = log
	return nil
}

// Recent returns up to limit newest-first entries for the room.
func (s *MemoryStore) Recent(_ context.Context, room string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[room]
	if limit > len(log) {
		limit = len(log)
	}
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	out := make([]chat.Message, limit)
	copy(out, log[:limit])
	return out, nil
}
