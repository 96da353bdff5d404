// Package ws is the WebSocket gateway: it authenticates the upgrade
// request, binds the connection to an engine session, and pumps events
// between the socket and the broadcast router.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatrelay/internal/broker"
	"chatrelay/internal/chat"
	"chatrelay/internal/engine"
)

// AccessTokenCookieName is the cookie the login handler sets; the
// gateway accepts it as one of the token sources.
const AccessTokenCookieName = "chatrelay_access_token"

const (
	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second

	// pongWait is how long the socket may sit idle before a missed
	// pong kills it.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound client frames.
	maxMessageSize = 4096

	// eventBufSize is the per-connection buffer for direct server
	// events (acks, errors) as opposed to room broadcasts.
	eventBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, this should be restricted
		return true
	},
}

// Handler serves the /ws/chat endpoint.
type Handler struct {
	engine *engine.Engine
	broker *broker.Broker
}

// NewHandler creates the WebSocket gateway handler.
func NewHandler(e *engine.Engine, b *broker.Broker) *Handler {
	return &Handler{engine: e, broker: b}
}

// ServeHTTP authenticates and upgrades the connection. Authentication
// happens before the upgrade so a bad token gets a plain 401 and no
// session or socket ever exists for it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := uuid.New().String()
	session, err := h.engine.Connect(r.Context(), sessionID, token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error; just unwind the session.
		h.engine.Disconnect(sessionID)
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	// The request context dies with the hijacked response; give the
	// connection its own context so in-flight sends are cancelled at
	// teardown, not before.
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		handler:    h,
		conn:       conn,
		sessionID:  sessionID,
		identity:   session.Identity,
		ctx:        ctx,
		cancel:     cancel,
		deliveries: h.broker.Register(sessionID),
		events:     make(chan chat.ServerEvent, eventBufSize),
		done:       make(chan struct{}),
	}

	go c.writePump()
	c.readPump()
}

// extractToken pulls the bearer token from the query string, the
// access-token cookie, or the Authorization header, in that order.
func extractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	if c, err := r.Cookie(AccessTokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}

// client is one upgraded connection. readPump owns the socket's read
// side and the session lifecycle; writePump is the only writer.
type client struct {
	handler    *Handler
	conn       *websocket.Conn
	sessionID  string
	identity   string
	ctx        context.Context
	cancel     context.CancelFunc
	deliveries <-chan chat.Message
	events     chan chat.ServerEvent
	done       chan struct{}
}

// readPump reads client events until the socket dies, then tears the
// session down. Teardown unregisters from the broker, which closes the
// delivery channel and lets writePump exit.
func (c *client) readPump() {
	defer func() {
		c.cancel()
		close(c.done)
		c.handler.engine.Disconnect(c.sessionID)
		c.handler.broker.Unregister(c.sessionID)
		c.conn.Close()
		slog.Info("websocket closed", "session_id", c.sessionID, "identity", c.identity)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "session_id", c.sessionID, "error", err)
			}
			return
		}

		var ev chat.ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.sendEvent(chat.ServerEvent{Type: chat.EventError, Msg: "malformed event"})
			continue
		}
		c.dispatch(ev)
	}
}

func (c *client) dispatch(ev chat.ClientEvent) {
	switch ev.Type {
	case chat.EventJoin:
		if err := c.handler.engine.Join(c.sessionID, ev.Room); err != nil {
			c.sendEvent(chat.ServerEvent{Type: chat.EventError, Room: ev.Room, Msg: err.Error()})
			return
		}
		c.sendEvent(chat.ServerEvent{Type: chat.EventJoined, User: c.identity, Room: ev.Room})

	case chat.EventLeave:
		if err := c.handler.engine.Leave(c.sessionID, ev.Room); err != nil {
			c.sendEvent(chat.ServerEvent{Type: chat.EventError, Room: ev.Room, Msg: err.Error()})
			return
		}
		c.sendEvent(chat.ServerEvent{Type: chat.EventLeft, User: c.identity, Room: ev.Room})

	case chat.EventSendMessage:
		_, err := c.handler.engine.Send(c.ctx, c.sessionID, ev.Room, ev.Text)
		switch {
		case err == nil:
			// The sender sees its own message through the room
			// broadcast, same as everyone else.
		case errors.Is(err, engine.ErrRateLimited):
			c.sendEvent(chat.ServerEvent{Type: chat.EventRateLimited, Room: ev.Room, Msg: "rate limit exceeded"})
		default:
			c.sendEvent(chat.ServerEvent{Type: chat.EventError, Room: ev.Room, Msg: err.Error()})
		}

	default:
		c.sendEvent(chat.ServerEvent{Type: chat.EventError, Msg: "unknown event type: " + ev.Type})
	}
}

// sendEvent queues a direct server event without blocking the read
// loop. A connection too slow to take its own acks loses them.
func (c *client) sendEvent(ev chat.ServerEvent) {
	select {
	case c.events <- ev:
	default:
		slog.Debug("event buffer full, dropping server event",
			"session_id", c.sessionID, "type", ev.Type)
	}
}

// writePump is the sole socket writer: room broadcasts, direct events,
// and keepalive pings all go through here.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.deliveries:
			if !ok {
				// Unregistered; session is gone.
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeJSON(chat.NewMessageEvent(msg)); err != nil {
				return
			}

		case ev := <-c.events:
			if err := c.writeJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *client) writeJSON(ev chat.ServerEvent) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}
