package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "archive_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestDBSinkArchivesMessages(t *testing.T) {
	database := openTestDB(t)
	sink := NewDBSink(database, 16)

	sink.Record(chat.Message{User: "alice", Room: "general", Text: "hello", TS: 100})
	sink.Record(chat.Message{User: "bob", Room: "general", Text: "hi", TS: 101})
	sink.Close()

	count, err := database.CountMessages(context.Background(), "general")
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 2 {
		t.Errorf("archived %d messages, want 2", count)
	}

	msgs, err := database.ListMessages(context.Background(), "general", 10)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if msgs[0].TS != 101 {
		t.Errorf("newest archived message has TS %d, want 101", msgs[0].TS)
	}
	if msgs[0].Identity != "bob" {
		t.Errorf("newest archived message from %q, want %q", msgs[0].Identity, "bob")
	}
}

func TestDBSinkCloseDrainsQueue(t *testing.T) {
	database := openTestDB(t)
	sink := NewDBSink(database, 64)

	for i := 0; i < 50; i++ {
		sink.Record(chat.Message{User: "alice", Room: "general", Text: "m", TS: int64(i)})
	}
	sink.Close()

	count, err := database.CountMessages(context.Background(), "general")
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 50 {
		t.Errorf("archived %d messages after Close, want 50", count)
	}
}

func TestDBSinkCloseIsIdempotent(t *testing.T) {
	sink := NewDBSink(openTestDB(t), 4)
	sink.Close()
	sink.Close()
}

func TestDBSinkRecordAfterCloseDrops(t *testing.T) {
	database := openTestDB(t)
	sink := NewDBSink(database, 4)
	sink.Close()

	// Sends can still land after shutdown starts; they are dropped,
	// not delivered and never a panic.
	sink.Record(chat.Message{User: "alice", Room: "general", Text: "late", TS: 100})
	sink.Record(chat.Message{User: "bob", Room: "general", Text: "later", TS: 101})

	if got := sink.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	count, err := database.CountMessages(context.Background(), "general")
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 0 {
		t.Errorf("archived %d messages after Close, want 0", count)
	}
}

func TestDBSinkRecordNeverBlocks(t *testing.T) {
	// Tiny buffer and a burst far beyond it; Record must return
	// immediately either way.
	sink := NewDBSink(openTestDB(t), 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			sink.Record(chat.Message{User: "alice", Room: "general", Text: "m", TS: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a full archive buffer")
	}
	sink.Close()
}
