// Package chat defines the core message type and the JSON wire events
// exchanged between clients and the relay. It is a leaf package: every
// other component (history, broker, engine, transport) depends on it.
package chat

// Message is a single chat message. It is constructed once by the engine
// on an admitted send and never mutated afterwards. The JSON field names
// are the externally visible contract for both the history API and the
// new_message broadcast event.
type Message struct {
	User string `json:"user"`
	Room string `json:"room"`
	Text string `json:"text"`
	TS   int64  `json:"ts"` // unix seconds
}

// Client event types.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSendMessage = "send_message"
)

// Server event types.
const (
	EventNewMessage  = "new_message"
	EventRateLimited = "rate_limited"
	EventJoined      = "joined"
	EventLeft        = "left"
	EventError       = "error"
)

// ClientEvent is a message sent by a client over the WebSocket.
type ClientEvent struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Text string `json:"text,omitempty"`
}

// ServerEvent is a message sent by the relay to a client.
type ServerEvent struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Room string `json:"room,omitempty"`
	Text string `json:"text,omitempty"`
	TS   int64  `json:"ts,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// NewMessageEvent wraps a Message in a new_message server event.
func NewMessageEvent(m Message) ServerEvent {
	return ServerEvent{
		Type: EventNewMessage,
		User: m.User,
		Room: m.Room,
		Text: m.Text,
		TS:   m.TS,
	}
}
