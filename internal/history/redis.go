package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"chatrelay/internal/chat"
)

// keyPrefix namespaces room logs in the shared store.
const keyPrefix = "chat:"

// RedisStore keeps each room's log in a Redis list, newest entry at the
// head. Any instance may append; the cap invariant holds across all of
// them because push and trim run in one MULTI/EXEC transaction.
type RedisStore struct {
	client *redis.Client
	cap    int
}

// NewRedisStore creates a store trimming each room to the newest cap
// entries.
func NewRedisStore(client *redis.Client, cap int) *RedisStore {
	return &RedisStore{client: client, cap: cap}
}

// Append pushes msg to the head of the room's list and trims the list to
// the cap in the same transaction.
func (s *RedisStore) Append(ctx context.Context, room string, msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	key := keyPrefix + room
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(s.cap-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history append failed: %w", err)
	}

	return nil
}

// Recent returns up to limit newest-first entries for the room.
func (s *RedisStore) Recent(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	items, err := s.client.LRange(ctx, keyPrefix+room, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("history read failed: %w", err)
	}

	msgs := make([]chat.Message, 0, len(items))
	for _, item := range items {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// A corrupt entry is skipped rather than poisoning the page.
			slog.Warn("history: skipping undecodable entry", "room", room, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}
