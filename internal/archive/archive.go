// Package archive persists accepted chat messages outside the bounded
// room history. Archival is best-effort: a failed or dropped record
// never surfaces to the sender.
package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/chat"
	"chatrelay/internal/db"
)

const defaultBufferSize = 256

// writeTimeout bounds each database insert so a stalled database
// cannot wedge the worker forever.
const writeTimeout = 10 * time.Second

// DBSink archives messages to the relational store on a background
// worker. Record never blocks; if the buffer is full the message is
// dropped and counted.
type DBSink struct {
	database *db.DB

	// mu guards queue sends, closed, and dropped. Close sets closed
	// before closing the queue, so Record can never send on a closed
	// channel.
	mu      sync.Mutex
	queue   chan chat.Message
	closed  bool
	dropped int64

	done chan struct{}
	once sync.Once
}

// NewDBSink starts the archive worker. bufferSize <= 0 selects the
// default.
func NewDBSink(database *db.DB, bufferSize int) *DBSink {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	s := &DBSink{
		database: database,
		queue:    make(chan chat.Message, bufferSize),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Record queues a message for archival. Safe to call after Close; the
// message is dropped.
func (s *DBSink) Record(msg chat.Message) {
	s.mu.Lock()
	if s.closed {
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		slog.Warn("archive sink closed, dropping message", "room", msg.Room, "dropped_total", n)
		return
	}
	select {
	case s.queue <- msg:
		s.mu.Unlock()
	default:
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		slog.Warn("archive buffer full, dropping message", "room", msg.Room, "dropped_total", n)
	}
}

// Dropped returns how many messages the sink has discarded.
func (s *DBSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the worker after draining queued messages.
func (s *DBSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
	})
}

func (s *DBSink) run() {
	defer close(s.done)
	for msg := range s.queue {
		s.store(msg)
	}
}

func (s *DBSink) store(msg chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	rec := db.ArchivedMessage{
		ID:       uuid.New().String(),
		Identity: msg.User,
		Room:     msg.Room,
		Text:     msg.Text,
		TS:       msg.TS,
	}
	if err := s.database.InsertMessage(ctx, rec); err != nil {
		slog.Error("archive insert failed", "room", msg.Room, "error", err)
	}
}

// LogSink archives nothing; it just logs each record. Used when no
// database is configured.
type LogSink struct{}

// Record logs the message at debug level.
func (LogSink) Record(msg chat.Message) {
	slog.Debug("archive (log only)", "user", msg.User, "room", msg.Room, "ts", msg.TS)
}
