package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/chat"
	"chatrelay/tests/integration/testutil"
)

func TestChat_SendOrderingAndHistory(t *testing.T) {
	ts := testutil.NewTestServer(t)

	alice := testutil.Connect(t, ts, "alice")
	alice.Join("general")

	texts := []string{"first", "second", "third"}
	for _, text := range texts {
		alice.Send("general", text)
	}

	// Broadcasts arrive in send order.
	for _, want := range texts {
		ev := alice.Read()
		if ev.Type != chat.EventNewMessage {
			t.Fatalf("expected new_message, got %+v", ev)
		}
		if ev.Text != want {
			t.Fatalf("broadcast text = %q, want %q", ev.Text, want)
		}
		if ev.User != "alice" {
			t.Errorf("broadcast user = %q, want alice", ev.User)
		}
	}

	// History returns the same messages newest first.
	resp, err := http.Get(ts.URL + "/history/general")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()

	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("history holds %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"third", "second", "first"} {
		if msgs[i].Text != want {
			t.Errorf("history[%d] = %q, want %q", i, msgs[i].Text, want)
		}
	}
	for i := 0; i < len(msgs)-1; i++ {
		if msgs[i].TS < msgs[i+1].TS {
			t.Errorf("history timestamps not non-increasing: %d before %d", msgs[i].TS, msgs[i+1].TS)
		}
	}
}

func TestChat_RateLimitedSendHasNoEffects(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithRateLimit(5, time.Minute))

	alice := testutil.Connect(t, ts, "alice")
	alice.Join("general")

	for i := 0; i < 5; i++ {
		alice.Send("general", "ok")
		if ev := alice.Read(); ev.Type != chat.EventNewMessage {
			t.Fatalf("send %d: expected new_message, got %+v", i, ev)
		}
	}

	alice.Send("general", "over the limit")
	if ev := alice.Read(); ev.Type != chat.EventRateLimited {
		t.Fatalf("expected rate_limited, got %+v", ev)
	}

	// The rejected message reached neither history nor the room.
	msgs, err := ts.Engine.Recent(context.Background(), "general")
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 5 {
		t.Errorf("history holds %d messages, want 5", len(msgs))
	}
	for _, m := range msgs {
		if m.Text == "over the limit" {
			t.Error("rejected message found in history")
		}
	}
}

func TestChat_FanOutToRoomMembers(t *testing.T) {
	ts := testutil.NewTestServer(t)

	alice := testutil.Connect(t, ts, "alice")
	bob := testutil.Connect(t, ts, "bob")
	carol := testutil.Connect(t, ts, "carol")

	alice.Join("general")
	bob.Join("general")
	carol.Join("random")

	alice.Send("general", "hello room")

	got := alice.Read()
	want := bob.Read()
	if got != want {
		t.Errorf("room members saw different payloads: %+v vs %+v", got, want)
	}
	if want.Type != chat.EventNewMessage || want.Text != "hello room" {
		t.Errorf("bob received %+v", want)
	}

	// Carol is in a different room and hears nothing.
	carol.ExpectSilence(200 * time.Millisecond)
}

func TestChat_DisconnectedMemberStopsReceiving(t *testing.T) {
	ts := testutil.NewTestServer(t)

	alice := testutil.Connect(t, ts, "alice")
	bob := testutil.Connect(t, ts, "bob")
	alice.Join("general")
	bob.Join("general")

	bob.Close()

	// Wait for the server to notice the close and tear the session down.
	deadline := time.Now().Add(2 * time.Second)
	for ts.Engine.SessionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ts.Engine.SessionCount(); got != 1 {
		t.Fatalf("SessionCount() = %d after disconnect, want 1", got)
	}

	// Sends to the room still work for the remaining member.
	alice.Send("general", "still here")
	if ev := alice.Read(); ev.Type != chat.EventNewMessage || ev.Text != "still here" {
		t.Fatalf("alice received %+v", ev)
	}
}

func TestChat_UnauthenticatedConnectionHasNoSideEffects(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token=forged", nil)
	if err == nil {
		t.Fatal("dial with forged token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
	if got := ts.Engine.SessionCount(); got != 0 {
		t.Errorf("SessionCount() = %d after refused connect, want 0", got)
	}
}

func TestChat_SendToUnjoinedRoom(t *testing.T) {
	ts := testutil.NewTestServer(t)

	alice := testutil.Connect(t, ts, "alice")
	alice.Join("general")

	alice.Send("random", "sneaky")
	if ev := alice.Read(); ev.Type != chat.EventError {
		t.Fatalf("expected error event, got %+v", ev)
	}

	msgs, err := ts.Engine.Recent(context.Background(), "random")
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("unjoined room received %d messages, want 0", len(msgs))
	}
}
