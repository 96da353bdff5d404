// Package testutil builds fully wired relay servers for integration
// tests: temp-file SQLite, in-memory history and rate limiting, and a
// local-only broadcast router.
package testutil

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/archive"
	"chatrelay/internal/auth"
	"chatrelay/internal/broker"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/engine"
	"chatrelay/internal/history"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/server"
	"chatrelay/internal/ws"
)

// TestJWTSecret is the signing secret used for all integration tests.
const TestJWTSecret = "test-jwt-secret-for-integration-tests"

// TestServer wraps an httptest.Server with test-specific helpers.
type TestServer struct {
	// Server is the underlying httptest.Server.
	Server *httptest.Server
	// URL is the base URL of the test server.
	URL string
	// WSURL is the WebSocket URL of the chat endpoint.
	WSURL string
	// Codec issues and verifies tokens with the test secret.
	Codec *auth.Codec
	// DB is the archive/user database.
	DB *db.DB
	// Store is the in-memory room history backing the engine.
	Store *history.MemoryStore
	// Engine is the wired chat engine.
	Engine *engine.Engine
	// Sink is the archive sink; flush with Sink.Close before asserting
	// on archived rows.
	Sink *archive.DBSink
	// Config is the test configuration.
	Config *config.Config
}

// Option is a function that modifies the test config before server creation.
type Option func(*config.Config)

// WithRateLimit sets the per-identity message rate limit.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *config.Config) {
		c.RateLimit = limit
		c.RateWindow = window
	}
}

// WithHistoryCap sets the per-room history retention.
func WithHistoryCap(cap int) Option {
	return func(c *config.Config) { c.HistoryCap = cap }
}

// WithHistoryPageSize sets the history endpoint page size.
func WithHistoryPageSize(n int) Option {
	return func(c *config.Config) { c.HistoryPageSize = n }
}

// NewTestServer creates a fully wired test server with:
//   - Fresh temp-file SQLite database
//   - Token codec with the test secret
//   - In-memory history, rate limiting, and local-only broadcast
//   - All routes registered via server.App.Handler()
//
// The server is automatically cleaned up when the test completes.
// Optional Option functions can modify the config before the server is built.
func NewTestServer(t *testing.T, opts ...Option) *TestServer {
	t.Helper()

	cfg := &config.Config{
		JWTSecret:         TestJWTSecret,
		JWTAccessExpiry:   time.Hour,
		RateLimit:         config.DefaultRateLimit,
		RateWindow:        config.DefaultRateWindow,
		HistoryCap:        config.DefaultHistoryCap,
		HistoryPageSize:   config.DefaultHistoryPageSize,
		AuthTimeout:       time.Second,
		ArchiveBuffer:     64,
		AllowRegistration: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	codec, err := auth.NewCodec(cfg.JWTSecret, cfg.JWTAccessExpiry)
	if err != nil {
		t.Fatalf("failed to create token codec: %v", err)
	}

	store := history.NewMemoryStore(cfg.HistoryCap)
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Rule{Limit: cfg.RateLimit, Window: cfg.RateWindow})
	b := broker.New(nil)
	sink := archive.NewDBSink(database, cfg.ArchiveBuffer)
	t.Cleanup(sink.Close)

	e := engine.New(engine.Config{
		AuthTimeout:     cfg.AuthTimeout,
		HistoryPageSize: cfg.HistoryPageSize,
	}, codec, limiter, store, b, sink)

	app := &server.App{
		DB:        database,
		Auth:      auth.NewService(database, codec),
		Codec:     codec,
		Engine:    e,
		WSHandler: ws.NewHandler(e, b),
		Config:    cfg,
	}

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	return &TestServer{
		Server: srv,
		URL:    srv.URL,
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat",
		Codec:  codec,
		DB:     database,
		Store:  store,
		Engine: e,
		Sink:   sink,
		Config: cfg,
	}
}

// Token issues an access token for the given identity.
func (ts *TestServer) Token(t *testing.T, identity string) string {
	t.Helper()
	token, err := ts.Codec.IssueDefault(identity)
	if err != nil {
		t.Fatalf("failed to issue token for %s: %v", identity, err)
	}
	return token
}
