package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"chatrelay/internal/db"
	"chatrelay/internal/ws"
)

// handlers binds HTTP endpoint implementations to the App's dependencies.
type handlers struct {
	app *App
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := true
	checks := make(map[string]interface{})

	if h.app.DB != nil {
		if err := h.app.DB.Ping(r.Context()); err != nil {
			ready = false
			checks["database"] = map[string]string{"status": "unhealthy", "error": err.Error()}
		} else {
			checks["database"] = map[string]string{"status": "healthy"}
		}
	}

	if h.app.Engine != nil {
		checks["sessions"] = map[string]interface{}{
			"status": "ok",
			"active": h.app.Engine.SessionCount(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		checks["status"] = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		checks["status"] = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// --- Auth endpoints ---

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.app.Auth == nil {
		http.Error(w, "Authentication not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	identity, err := h.app.Auth.VerifyCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		slog.Warn("login failed", "username", req.Username, "error", err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.app.Auth.IssueToken(identity)
	if err != nil {
		slog.Error("token issue failed", "username", req.Username, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	expiresIn := int64(h.app.Codec.DefaultExpiry().Seconds())

	http.SetCookie(w, &http.Cookie{
		Name:     ws.AccessTokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(expiresIn),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}

func (h *handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.app.Auth == nil || !h.app.Config.AllowRegistration {
		http.Error(w, "Registration is disabled", http.StatusForbidden)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	if err := h.app.Auth.Register(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, db.ErrUserExists) {
			http.Error(w, "Username already taken", http.StatusConflict)
			return
		}
		slog.Error("registration failed", "username", req.Username, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"username": req.Username})
}

// --- History endpoint ---

// handleHistory serves GET /history/{room}: the newest messages in the
// room, newest first. An unknown room is an empty list, not a 404.
func (h *handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	room := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/history/"), "/")
	if room == "" || strings.Contains(room, "/") {
		http.Error(w, "Invalid room name", http.StatusBadRequest)
		return
	}

	msgs, err := h.app.Engine.Recent(r.Context(), room)
	if err != nil {
		slog.Error("history fetch failed", "room", room, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}
