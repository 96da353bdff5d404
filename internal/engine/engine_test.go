package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/history"
	"chatrelay/internal/ratelimit"
)

type fakeVerifier struct {
	identity string
	err      error
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.identity, nil
}

type fakeRouter struct {
	mu          sync.Mutex
	subscribed  map[string][]string
	published   []chat.Message
	publishErr  error
	unsubscribe []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{subscribed: make(map[string][]string)}
}

func (f *fakeRouter) Subscribe(room, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[room] = append(f.subscribed[room], sessionID)
}

func (f *fakeRouter) Unsubscribe(room, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribe = append(f.unsubscribe, room+"/"+sessionID)
}

func (f *fakeRouter) Publish(ctx context.Context, room string, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeRouter) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type failingStore struct {
	err error
}

func (f *failingStore) Append(ctx context.Context, room string, msg chat.Message) error {
	return f.err
}

func (f *failingStore) Recent(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	return nil, f.err
}

type recordingSink struct {
	mu       sync.Mutex
	recorded []chat.Message
}

func (s *recordingSink) Record(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, msg)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recorded)
}

type testDeps struct {
	verifier *fakeVerifier
	limiter  ratelimit.Limiter
	store    history.Store
	router   *fakeRouter
	sink     *recordingSink
}

func newTestEngine(t *testing.T, mutate func(*testDeps)) (*Engine, *testDeps) {
	t.Helper()
	deps := &testDeps{
		verifier: &fakeVerifier{identity: "alice"},
		limiter:  ratelimit.NewMemoryLimiter(ratelimit.Rule{Limit: 5, Window: time.Second}),
		store:    history.NewMemoryStore(100),
		router:   newFakeRouter(),
		sink:     &recordingSink{},
	}
	if mutate != nil {
		mutate(deps)
	}
	e := New(Config{AuthTimeout: time.Second, HistoryPageSize: 50},
		deps.verifier, deps.limiter, deps.store, deps.router, deps.sink)
	return e, deps
}

func TestConnectRejectsBadToken(t *testing.T) {
	e, _ := newTestEngine(t, func(d *testDeps) {
		d.verifier.err = errors.New("signature mismatch")
	})

	if _, err := e.Connect(context.Background(), "s1", "bad-token"); err == nil {
		t.Fatal("Connect() with bad token succeeded")
	}
	if got := e.SessionCount(); got != 0 {
		t.Errorf("SessionCount() = %d after refused connect, want 0", got)
	}
}

func TestSendRequiresJoin(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	if _, err := e.Connect(context.Background(), "s1", "tok"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, err := e.Send(context.Background(), "s1", "general", "hello")
	if !errors.Is(err, ErrNotJoined) {
		t.Fatalf("Send() before join error = %v, want ErrNotJoined", err)
	}
	if deps.router.publishCount() != 0 {
		t.Error("rejected send was published")
	}
}

func TestSendFullPipeline(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	e.Connect(context.Background(), "s1", "tok")
	if err := e.Join("s1", "general"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	msg, err := e.Send(context.Background(), "s1", "general", "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.User != "alice" || msg.Room != "general" || msg.Text != "hello" {
		t.Errorf("Send() returned %+v", msg)
	}
	if msg.TS == 0 {
		t.Error("Send() left TS unset")
	}

	recent, err := e.Recent(context.Background(), "general")
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 1 || recent[0] != msg {
		t.Errorf("Recent() = %+v, want the sent message", recent)
	}
	if deps.router.publishCount() != 1 {
		t.Errorf("published %d messages, want 1", deps.router.publishCount())
	}
	if deps.sink.count() != 1 {
		t.Errorf("archived %d messages, want 1", deps.sink.count())
	}
}

func TestSendRateLimitedHasNoSideEffects(t *testing.T) {
	e, deps := newTestEngine(t, func(d *testDeps) {
		d.limiter = ratelimit.NewMemoryLimiter(ratelimit.Rule{Limit: 2, Window: time.Minute})
	})
	e.Connect(context.Background(), "s1", "tok")
	e.Join("s1", "general")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := e.Send(ctx, "s1", "general", "ok"); err != nil {
			t.Fatalf("Send() %d error = %v", i, err)
		}
	}

	_, err := e.Send(ctx, "s1", "general", "too fast")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Send() over limit error = %v, want ErrRateLimited", err)
	}

	recent, _ := e.Recent(ctx, "general")
	if len(recent) != 2 {
		t.Errorf("history holds %d messages, want 2", len(recent))
	}
	if deps.router.publishCount() != 2 {
		t.Errorf("published %d messages, want 2", deps.router.publishCount())
	}
	if deps.sink.count() != 2 {
		t.Errorf("archived %d messages, want 2", deps.sink.count())
	}
}

func TestSendHistoryFailureSuppressesBroadcast(t *testing.T) {
	e, deps := newTestEngine(t, func(d *testDeps) {
		d.store = &failingStore{err: errors.New("store unavailable")}
	})
	e.Connect(context.Background(), "s1", "tok")
	e.Join("s1", "general")

	_, err := e.Send(context.Background(), "s1", "general", "hello")
	if err == nil {
		t.Fatal("Send() with failing store succeeded")
	}
	if deps.router.publishCount() != 0 {
		t.Error("broadcast went out despite history failure")
	}
	if deps.sink.count() != 0 {
		t.Error("archive recorded despite history failure")
	}
}

func TestSendAfterDisconnect(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.Connect(context.Background(), "s1", "tok")
	e.Join("s1", "general")

	if err := e.Disconnect("s1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if _, err := e.Send(context.Background(), "s1", "general", "hello"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Send() after disconnect error = %v, want ErrSessionNotFound", err)
	}
	if err := e.Disconnect("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Disconnect() error = %v, want ErrSessionNotFound", err)
	}
}

func TestDisconnectUnsubscribesJoinedRooms(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	e.Connect(context.Background(), "s1", "tok")
	e.Join("s1", "general")
	e.Join("s1", "random")

	if err := e.Disconnect("s1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	deps.router.mu.Lock()
	defer deps.router.mu.Unlock()
	if len(deps.router.unsubscribe) != 2 {
		t.Errorf("unsubscribed %d rooms, want 2: %v", len(deps.router.unsubscribe), deps.router.unsubscribe)
	}
}

func TestLeaveUnsubscribesRoom(t *testing.T) {
	e, deps := newTestEngine(t, nil)
	e.Connect(context.Background(), "s1", "tok")
	e.Join("s1", "general")

	if err := e.Leave("s1", "general"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	deps.router.mu.Lock()
	got := len(deps.router.unsubscribe)
	deps.router.mu.Unlock()
	if got != 1 {
		t.Errorf("unsubscribed %d rooms, want 1", got)
	}

	if err := e.Leave("s1", "general"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("second Leave() error = %v, want ErrNotJoined", err)
	}
}
