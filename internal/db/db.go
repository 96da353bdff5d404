// Package db provides the relational store for the chat relay: user
// credentials for login/registration and the best-effort message archive
// fed by the engine's async handoff. The live chat path (history, rate
// state, broadcast) never reads from here.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// ErrUserExists is returned by CreateUser when the username is taken.
var ErrUserExists = errors.New("user already exists")

// User represents a registered account.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID           string    `json:"id" bun:"id,pk"`
	Username     string    `json:"username" bun:"username,notnull,unique"`
	PasswordHash string    `json:"-" bun:"password_hash,notnull"`
	CreatedAt    time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ArchivedMessage is a durably stored copy of a relayed chat message.
// Archival is fire-and-forget; rows here may lag or miss messages that
// the live history retained.
type ArchivedMessage struct {
	bun.BaseModel `bun:"table:messages"`

	ID        string    `json:"id" bun:"id,pk"`
	Identity  string    `json:"user" bun:"identity,notnull"`
	Room      string    `json:"room" bun:"room,notnull"`
	Text      string    `json:"text" bun:"text,notnull"`
	TS        int64     `json:"ts" bun:"ts,notnull"`
	CreatedAt time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// DB wraps the bun.DB connection.
type DB struct {
	bun    *bun.DB
	dbType string
}

// DBType returns the database type ("sqlite" or "postgres").
func (db *DB) DBType() string {
	return db.dbType
}

// Open opens a SQLite database at the given path.
// This is a convenience wrapper around OpenDB.
func Open(dbPath string) (*DB, error) {
	return OpenDB("sqlite", dbPath)
}

// OpenDB opens a database connection for the given type and DSN,
// runs any pending migrations, and returns the DB handle.
func OpenDB(dbType, dsn string) (*DB, error) {
	var driverName string
	switch dbType {
	case "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	// For SQLite in-memory databases, use shared cache so that the migration
	// connection (opened separately by golang-migrate) sees the same database.
	if dbType == "sqlite" && dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// busy_timeout waits up to 5 seconds for locks to clear
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}

		// WAL mode allows concurrent reads while the archive worker writes
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// Keep at least one connection open to prevent in-memory databases
		// from being destroyed when all connections close.
		conn.SetMaxIdleConns(1)
	}

	// Run all pending migrations (uses its own connection to avoid
	// m.Close() side effects on the application connection).
	if err := runMigrations(dbType, dsn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(conn, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(conn, pgdialect.New())
	}

	return &DB{bun: bunDB, dbType: dbType}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.bun.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.bun.PingContext(ctx)
}

// --- Users ---

// CreateUser inserts a new user. Returns ErrUserExists when the username
// is already registered.
func (db *DB) CreateUser(ctx context.Context, user User) error {
	existing, err := db.GetUserByUsername(ctx, user.Username)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrUserExists
	}

	_, err = db.bun.NewInsert().Model(&user).Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		// Two registrations can race past the existence check; the
		// loser hits the unique index.
		return ErrUserExists
	}
	return err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// GetUserByUsername returns the user with the given username, or nil if
// no such user exists.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := db.bun.NewSelect().Model(&user).Where("username = ?", username).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CountUsers returns the number of registered users.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	return db.bun.NewSelect().Model((*User)(nil)).Count(ctx)
}

// --- Message archive ---

// InsertMessage stores an archived message row.
func (db *DB) InsertMessage(ctx context.Context, msg ArchivedMessage) error {
	_, err := db.bun.NewInsert().Model(&msg).Exec(ctx)
	return err
}

// ListMessages returns up to limit archived messages for a room,
// newest-first by insertion time.
func (db *DB) ListMessages(ctx context.Context, room string, limit int) ([]ArchivedMessage, error) {
	var msgs []ArchivedMessage
	err := db.bun.NewSelect().
		Model(&msgs).
		Where("room = ?", room).
		OrderExpr("ts DESC, created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountMessages returns the number of archived messages for a room.
func (db *DB) CountMessages(ctx context.Context, room string) (int, error) {
	return db.bun.NewSelect().
		Model((*ArchivedMessage)(nil)).
		Where("room = ?", room).
		Count(ctx)
}
