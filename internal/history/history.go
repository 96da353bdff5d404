// Package history keeps the bounded per-room message log: a newest-first
// sequence capped at a fixed number of entries. The Redis backend shares
// the log across all relay instances; the memory backend serves
// single-instance deployments and tests.
package history

import (
	"context"

	"chatrelay/internal/chat"
)

// Store is the bounded append-only-per-room log.
//
// Append adds msg as the newest entry and trims the room to the cap; the
// pair is effectively atomic per room, so no reader observes more than
// cap entries and no concurrent append is lost. Recent returns up to
// limit newest-first entries and yields an empty slice, not an error,
// for a room with no history.
type Store interface {
	Append(ctx context.Context, room string, msg chat.Message) error
	Recent(ctx context.Context, room string, limit int) ([]chat.Message, error)
}
