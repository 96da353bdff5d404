package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window tracks one identity's counter and its expiry.
type window struct {
	count  int
	expiry time.Time
}

// MemoryLimiter is a fixed-window limiter held in process memory. It
// mirrors the Redis semantics (count resets when the window has expired
// at increment time) for single-instance deployments and tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	rule    Rule
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter for the given rule.
func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{
		rule:    rule,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow increments the identity's counter, starting a fresh window when
// the previous one has expired. The read-increment-compare sequence runs
// under the limiter's lock, so concurrent senders cannot both slip past
// the bound.
func (l *MemoryLimiter) Allow(_ context.Context, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[identity]
	if !ok || now.After(w.expiry) {
		l.windows[identity] = &window{count: 1, expiry: now.Add(l.rule.Window)}
		return 1 <= l.rule.Limit, nil
	}

	w.count++
	return w.count <= l.rule.Limit, nil
}

// Sweep removes expired windows. Call it periodically from a background
// goroutine to keep memory bounded under many distinct identities.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for identity, w := range l.windows {
		if now.After(w.expiry) {
			delete(l.windows, identity)
		}
	}
}
