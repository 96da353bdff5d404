// Package ratelimit provides per-identity fixed-window rate limiting for
// outbound chat messages. Two backends exist: a Redis counter shared by
// every relay instance, and an in-memory counter for single-instance and
// test use.
//
// The policy is a fixed window with expire-on-first-increment: the first
// increment in a window starts the clock, and the whole counter resets
// when the window lapses. Bursts straddling a window boundary can reach
// twice the limit; that is a documented property of the policy, not a
// bug.
package ratelimit

import (
	"context"
	"time"
)

// Rule defines a rate limiting policy: the maximum number of admitted
// messages in the window and the window duration.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter decides whether a message from an identity is admitted.
//
// Allow atomically increments the identity's counter and reports whether
// the incremented count is within the limit. Backend failures return an
// error; callers treat that as a transient failure and reject the send
// rather than admitting it with an inconsistent view.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}
