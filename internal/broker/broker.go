// Package broker fans chat messages out to room subscribers. Each relay
// instance keeps a local subscription index (session -> delivery channel,
// room -> member sessions); with a Redis backbone attached, publishes go
// through a shared pub/sub channel so sessions owned by other instances
// receive them too.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"chatrelay/internal/chat"
)

const (
	// channelPrefix namespaces room traffic on the pub/sub backbone.
	channelPrefix = "chat.room."

	// deliveryBufSize is the per-session delivery channel buffer. A
	// session that falls this far behind starts dropping deliveries;
	// fan-out is at-most-once per attempt by contract.
	deliveryBufSize = 32
)

// Broker routes published messages to every session subscribed to a
// room. A nil Redis client runs the broker in local-only mode (single
// instance, used in tests and development).
type Broker struct {
	client *redis.Client

	mu    sync.RWMutex
	sinks map[string]chan chat.Message
	rooms map[string]map[string]struct{}

	pubsub *redis.PubSub
}

// New creates a broker. client may be nil for local-only delivery.
func New(client *redis.Client) *Broker {
	return &Broker{
		client: client,
		sinks:  make(map[string]chan chat.Message),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// Start attaches to the pub/sub backbone and begins delivering remote
// publishes to local subscribers. It is a no-op in local-only mode.
// One goroutine drains the backbone, so deliveries to any single
// recipient preserve publish order per room.
func (b *Broker) Start(ctx context.Context) error {
	if b.client == nil {
		return nil
	}

	b.pubsub = b.client.PSubscribe(ctx, channelPrefix+"*")
	// Force the subscription to be established before Publish can race it.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("backbone subscribe failed: %w", err)
	}

	go b.dispatchLoop()
	return nil
}

// Stop detaches from the backbone. Registered sessions remain until
// their own Unregister calls.
func (b *Broker) Stop() {
	if b.pubsub != nil {
		b.pubsub.Close()
	}
}

// dispatchLoop drains the backbone subscription until Stop closes it.
func (b *Broker) dispatchLoop() {
	for m := range b.pubsub.Channel() {
		room := strings.TrimPrefix(m.Channel, channelPrefix)

		var msg chat.Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			slog.Warn("broker: dropping undecodable publish", "channel", m.Channel, "error", err)
			continue
		}
		b.deliverLocal(room, msg)
	}
}

// Register allocates the delivery channel for a session. The returned
// channel carries every message published to rooms the session is
// subscribed to, and is closed by Unregister.
func (b *Broker) Register(sessionID string) <-chan chat.Message {
	ch := make(chan chat.Message, deliveryBufSize)

	b.mu.Lock()
	b.sinks[sessionID] = ch
	b.mu.Unlock()

	return ch
}

// Unregister removes the session from every room and closes its
// delivery channel.
func (b *Broker) Unregister(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.sinks[sessionID]
	if !ok {
		return
	}
	delete(b.sinks, sessionID)
	for room, members := range b.rooms {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	// Safe to close here: fan-out sends hold the read lock, which this
	// write lock excludes.
	close(ch)
}

// Subscribe registers the session as a recipient of the room's
// broadcasts. Rooms are created implicitly on first use.
func (b *Broker) Subscribe(room, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[room] = members
	}
	members[sessionID] = struct{}{}
}

// Unsubscribe removes the session from the room's recipients.
func (b *Broker) Unsubscribe(room, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(b.rooms, room)
	}
}

// Publish delivers msg to every session currently subscribed to the
// room, on this instance and (with a backbone) every other one. A
// backbone failure is returned to the caller; local-only delivery
// cannot fail.
func (b *Broker) Publish(ctx context.Context, room string, msg chat.Message) error {
	if b.client == nil {
		b.deliverLocal(room, msg)
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+room, payload).Err(); err != nil {
		return fmt.Errorf("broadcast publish failed: %w", err)
	}
	return nil
}

// deliverLocal performs a non-blocking fan-out to the room's local
// subscribers. A full (slow) recipient drops this delivery; other
// recipients are unaffected.
func (b *Broker) deliverLocal(room string, msg chat.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sessionID := range b.rooms[room] {
		ch, ok := b.sinks[sessionID]
		if !ok {
			continue
		}
		select {
		case ch <- msg:
		default:
			slog.Debug("broker: recipient buffer full, dropping delivery",
				"session_id", sessionID, "room", room)
		}
	}
}

// SubscriberCount returns the number of local sessions subscribed to a
// room (for testing/diagnostics).
func (b *Broker) SubscriberCount(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}
