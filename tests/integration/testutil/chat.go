package testutil

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/chat"
)

// readTimeout bounds every event read in tests.
const readTimeout = 2 * time.Second

// ChatClient is one WebSocket connection speaking the relay protocol.
type ChatClient struct {
	t    *testing.T
	Conn *websocket.Conn
}

// Connect dials the chat endpoint as the given identity and returns the
// connected client. The connection is closed on test cleanup.
func Connect(t *testing.T, ts *TestServer, identity string) *ChatClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+ts.Token(t, identity), nil)
	if err != nil {
		t.Fatalf("failed to connect as %s: %v", identity, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &ChatClient{t: t, Conn: conn}
}

// Join joins a room and waits for the ack.
func (c *ChatClient) Join(room string) {
	c.t.Helper()
	c.send(chat.ClientEvent{Type: chat.EventJoin, Room: room})
	if ev := c.Read(); ev.Type != chat.EventJoined {
		c.t.Fatalf("expected joined ack, got %+v", ev)
	}
}

// Send sends a message to a room. It does not wait for any event.
func (c *ChatClient) Send(room, text string) {
	c.t.Helper()
	c.send(chat.ClientEvent{Type: chat.EventSendMessage, Room: room, Text: text})
}

// Read returns the next server event, failing the test on timeout.
func (c *ChatClient) Read() chat.ServerEvent {
	c.t.Helper()
	c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	var ev chat.ServerEvent
	if err := c.Conn.ReadJSON(&ev); err != nil {
		c.t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

// ExpectSilence fails the test if any event arrives within the window.
func (c *ChatClient) ExpectSilence(window time.Duration) {
	c.t.Helper()
	c.Conn.SetReadDeadline(time.Now().Add(window))
	var ev chat.ServerEvent
	if err := c.Conn.ReadJSON(&ev); err == nil {
		c.t.Fatalf("expected no event, got %+v", ev)
	}
}

// Close closes the connection immediately.
func (c *ChatClient) Close() {
	c.Conn.Close()
}

func (c *ChatClient) send(ev chat.ClientEvent) {
	c.t.Helper()
	c.Conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if err := c.Conn.WriteJSON(ev); err != nil {
		c.t.Fatalf("failed to write event: %v", err)
	}
}
