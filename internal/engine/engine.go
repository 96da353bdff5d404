// Package engine orchestrates the chat session lifecycle: connect and
// authenticate, join and leave rooms, admit or reject sends, and fan
// accepted messages out through the history store, the broadcast
// router, and the archive sink.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/history"
	"chatrelay/internal/ratelimit"
)

// TokenVerifier checks a bearer token and returns the identity it was
// issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Router fans messages out to room subscribers.
type Router interface {
	Subscribe(room, sessionID string)
	Unsubscribe(room, sessionID string)
	Publish(ctx context.Context, room string, msg chat.Message) error
}

// ArchiveSink receives accepted messages for long-term storage. Sinks
// must not block the send path; failures are the sink's own problem.
type ArchiveSink interface {
	Record(msg chat.Message)
}

// Config carries the engine's tunables.
type Config struct {
	// AuthTimeout bounds token verification during connect.
	AuthTimeout time.Duration
	// HistoryPageSize caps how many entries Recent returns.
	HistoryPageSize int
}

// Engine is the chat relay's core. It owns the session registry and
// wires the rate limiter, history store, router, and archive sink into
// the message admission pipeline.
type Engine struct {
	cfg      Config
	verifier TokenVerifier
	limiter  ratelimit.Limiter
	history  history.Store
	router   Router
	sink     ArchiveSink
	registry *Registry
}

// New creates an engine. sink may be nil when archival is disabled.
func New(cfg Config, verifier TokenVerifier, limiter ratelimit.Limiter, store history.Store, router Router, sink ArchiveSink) *Engine {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	return &Engine{
		cfg:      cfg,
		verifier: verifier,
		limiter:  limiter,
		history:  store,
		router:   router,
		sink:     sink,
		registry: NewRegistry(),
	}
}

// Connect verifies the token and opens a session for its identity. No
// session exists until the token checks out, so an invalid token has no
// side effects at all.
func (e *Engine) Connect(ctx context.Context, sessionID, token string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AuthTimeout)
	defer cancel()

	identity, err := e.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	s, err := e.registry.Open(sessionID, identity)
	if err != nil {
		return nil, err
	}
	slog.Info("session connected", "session_id", sessionID, "identity", identity)
	return s, nil
}

// Join subscribes the session to a room's broadcasts.
func (e *Engine) Join(sessionID, room string) error {
	s, err := e.registry.Lookup(sessionID)
	if err != nil {
		return err
	}
	if err := s.join(room); err != nil {
		return err
	}
	e.router.Subscribe(room, sessionID)
	slog.Info("session joined room", "session_id", sessionID, "identity", s.Identity, "room", room)
	return nil
}

// Leave removes the session from a room.
func (e *Engine) Leave(sessionID, room string) error {
	s, err := e.registry.Lookup(sessionID)
	if err != nil {
		return err
	}
	if err := s.leave(room); err != nil {
		return err
	}
	e.router.Unsubscribe(room, sessionID)
	slog.Info("session left room", "session_id", sessionID, "identity", s.Identity, "room", room)
	return nil
}

// Send runs the message admission pipeline: membership check, rate
// limit, history append, broadcast, archive. A message rejected at any
// gate produces none of the later effects; in particular a history
// append failure suppresses the broadcast so no client sees a message
// that was never persisted.
func (e *Engine) Send(ctx context.Context, sessionID, room, text string) (chat.Message, error) {
	s, err := e.registry.Lookup(sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	if !s.InRoom(room) {
		return chat.Message{}, ErrNotJoined
	}

	allowed, err := e.limiter.Allow(ctx, s.Identity)
	if err != nil {
		return chat.Message{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		return chat.Message{}, ErrRateLimited
	}

	msg := chat.Message{
		User: s.Identity,
		Room: room,
		Text: text,
		TS:   time.Now().Unix(),
	}

	if err := e.history.Append(ctx, room, msg); err != nil {
		return chat.Message{}, fmt.Errorf("history append failed: %w", err)
	}
	if err := e.router.Publish(ctx, room, msg); err != nil {
		return chat.Message{}, err
	}
	if e.sink != nil {
		e.sink.Record(msg)
	}
	return msg, nil
}

// Recent returns the newest messages in a room, newest first, capped at
// the configured page size.
func (e *Engine) Recent(ctx context.Context, room string) ([]chat.Message, error) {
	return e.history.Recent(ctx, room, e.cfg.HistoryPageSize)
}

// Disconnect tears the session down and unwinds its room
// subscriptions. Concurrent disconnects of the same session are safe;
// only the first one wins.
func (e *Engine) Disconnect(sessionID string) error {
	rooms, err := e.registry.Close(sessionID)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		e.router.Unsubscribe(room, sessionID)
	}
	slog.Info("session disconnected", "session_id", sessionID)
	return nil
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int {
	return e.registry.Count()
}
