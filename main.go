// Command chatrelay runs the chat relay server: WebSocket fan-out,
// bounded room history, token auth, and message archival.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"

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

func main() {
	// Parse command-line flags (can override env vars)
	port := flag.Int("port", config.DefaultPort, "Port to listen on")
	dbPath := flag.String("db", config.DefaultDBPath, "Path to SQLite database")
	redisURL := flag.String("redis", "", "Redis URL (empty runs single-instance in-memory mode)")
	flag.Parse()

	cfg, err := config.LoadWithFlags(*port, *dbPath, *redisURL)
	if err != nil {
		log.Fatalf("Configuration error:\n%v", err)
	}

	database, err := db.OpenDB(cfg.DBType, cfg.DSN())
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer database.Close()

	codec, err := auth.NewCodec(cfg.JWTSecret, cfg.JWTAccessExpiry)
	if err != nil {
		log.Fatal("Failed to initialize token codec:", err)
	}
	authService := auth.NewService(database, codec)

	// Shared-state backends: Redis when configured, in-process otherwise.
	var redisClient *redis.Client
	var store history.Store
	var limiter ratelimit.Limiter
	rule := ratelimit.Rule{Limit: cfg.RateLimit, Window: cfg.RateWindow}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid Redis URL:", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal("Failed to reach Redis:", err)
		}
		defer redisClient.Close()

		store = history.NewRedisStore(redisClient, cfg.HistoryCap)
		limiter = ratelimit.NewRedisLimiter(redisClient, rule)
		slog.Info("using redis backends", "history_cap", cfg.HistoryCap)
	} else {
		store = history.NewMemoryStore(cfg.HistoryCap)
		memLimiter := ratelimit.NewMemoryLimiter(rule)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memLimiter.Sweep()
			}
		}()
		limiter = memLimiter
		slog.Warn("no Redis configured, running single-instance in-memory mode")
	}

	b := broker.New(redisClient)
	if err := b.Start(context.Background()); err != nil {
		log.Fatal("Failed to start broadcast router:", err)
	}
	defer b.Stop()

	sink := archive.NewDBSink(database, cfg.ArchiveBuffer)
	defer sink.Close()

	e := engine.New(engine.Config{
		AuthTimeout:     cfg.AuthTimeout,
		HistoryPageSize: cfg.HistoryPageSize,
	}, codec, limiter, store, b, sink)

	app := &server.App{
		DB:        database,
		Auth:      authService,
		Codec:     codec,
		Engine:    e,
		WSHandler: ws.NewHandler(e, b),
		Limiter:   server.NewRateLimiter(xrate.Limit(cfg.ConnRateLimit), cfg.ConnBurst),
		Config:    cfg,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("chatrelay server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("Server error:", err)
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown did not complete cleanly", "error", err)
	}
}
