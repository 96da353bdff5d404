// Package server provides the HTTP handler assembly for the chat relay.
// It accepts all dependencies as parameters so that both main() and tests
// can build the same handler chain without route drift.
package server

import (
	"net/http"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/engine"
	"chatrelay/internal/middleware"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	DB        *db.DB
	Auth      *auth.Service
	Codec     *auth.Codec
	Engine    *engine.Engine
	WSHandler http.Handler
	Limiter   *RateLimiter
	Config    *config.Config
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	h := &handlers{app: a}

	// Observability endpoints (public, no auth required)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	// Auth routes (public)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/register", h.handleRegister)

	// Room history
	mux.HandleFunc("/history/", h.handleHistory)

	// WebSocket chat endpoint, behind the per-IP connection limiter.
	if a.WSHandler != nil {
		mux.Handle("/ws/chat", a.rateLimited(a.WSHandler))
	}

	return middleware.SecurityHeaders(middleware.RequestID(mux))
}

// rateLimited rejects connection attempts from IPs exceeding the
// connection rate limit before they reach the upgrade path.
func (a *App) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Limiter != nil && !a.Limiter.Allow(clientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
