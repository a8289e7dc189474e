package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/cmiguez/smepro/internal/store"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	closed string
}

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	c.closed = reason
	c.mu.Unlock()
}

func (c *fakeConn) lastEvent(t *testing.T) Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("no events received")
	}
	return c.events[len(c.events)-1]
}

func newRegistryFixture(t *testing.T) (*Registry, *session.Hub, string) {
	t.Helper()
	hub := session.NewHub(store.NewMemory())
	sess, err := hub.Create(context.Background(), &domain.ChatSession{Title: "t"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return NewRegistry(hub), hub, sess.SessionID
}

func TestRegisterBroadcastsJoin(t *testing.T) {
	registry, _, sessionID := newRegistryFixture(t)
	ctx := context.Background()

	a := &fakeConn{}
	if err := registry.Register(ctx, sessionID, domain.UserProfile{Email: "a@x", Name: "A"}, a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	b := &fakeConn{}
	if err := registry.Register(ctx, sessionID, domain.UserProfile{Email: "b@x", Name: "B"}, b); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ev := a.lastEvent(t)
	if ev.Type != "presence" || ev.Event != "join" || ev.User.Email != "b@x" {
		t.Errorf("event = %+v, want join for b@x", ev)
	}
	if len(ev.Users) != 2 {
		t.Errorf("users = %+v, want both connected users", ev.Users)
	}
}

func TestDuplicateRegistrationReplacesConn(t *testing.T) {
	registry, _, sessionID := newRegistryFixture(t)
	ctx := context.Background()
	user := domain.UserProfile{Email: "a@x", Name: "A"}

	old := &fakeConn{}
	if err := registry.Register(ctx, sessionID, user, old); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	replacement := &fakeConn{}
	if err := registry.Register(ctx, sessionID, user, replacement); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	if old.closed == "" {
		t.Error("prior connection not closed on duplicate registration")
	}
	if users := registry.Users(sessionID); len(users) != 1 {
		t.Errorf("users = %+v, want exactly one", users)
	}

	// The replaced connection's cleanup must not evict the replacement.
	registry.Unregister(sessionID, user, old)
	if users := registry.Users(sessionID); len(users) != 1 {
		t.Errorf("stale unregister evicted replacement: %+v", users)
	}
}

func TestSessionUpdatesFanOut(t *testing.T) {
	registry, hub, sessionID := newRegistryFixture(t)
	ctx := context.Background()

	conn := &fakeConn{}
	if err := registry.Register(ctx, sessionID, domain.UserProfile{Email: "a@x", Name: "A"}, conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := hub.SendMessage(ctx, sessionID, domain.NewUserMessage([]domain.Part{{Text: "hi"}}, "a@x", "A")); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	ev := conn.lastEvent(t)
	if ev.Type != "session" || ev.Session == nil || len(ev.Session.Messages) != 1 {
		t.Errorf("event = %+v, want session snapshot with 1 message", ev)
	}
}

func TestUnregisterLastClientStopsFanOut(t *testing.T) {
	registry, hub, sessionID := newRegistryFixture(t)
	ctx := context.Background()
	user := domain.UserProfile{Email: "a@x", Name: "A"}

	conn := &fakeConn{}
	if err := registry.Register(ctx, sessionID, user, conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	registry.Unregister(sessionID, user, conn)

	before := len(conn.events)
	if _, err := hub.SendMessage(ctx, sessionID, domain.NewUserMessage([]domain.Part{{Text: "hi"}}, "a@x", "A")); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	conn.mu.Lock()
	after := len(conn.events)
	conn.mu.Unlock()
	if after != before {
		t.Errorf("disconnected client still received %d events", after-before)
	}
}

func TestTypingTrackerSetAndClear(t *testing.T) {
	tracker := NewTypingTracker(6 * time.Second)

	typing := tracker.Set("s1", domain.TypingUser{UserID: "a@x", UserName: "A"}, true)
	if len(typing) != 1 || typing[0].UserName != "A" {
		t.Fatalf("typing = %+v", typing)
	}
	typing = tracker.Set("s1", domain.TypingUser{UserID: "b@x", UserName: "B"}, true)
	if len(typing) != 2 {
		t.Fatalf("typing = %+v, want 2", typing)
	}

	typing = tracker.Set("s1", domain.TypingUser{UserID: "a@x"}, false)
	if len(typing) != 1 || typing[0].UserID != "b@x" {
		t.Errorf("typing = %+v, want only b@x", typing)
	}
	// Sessions are isolated.
	if other := tracker.Typing("s2"); other != nil {
		t.Errorf("unrelated session typing = %+v", other)
	}
}

func TestTypingTrackerExpiry(t *testing.T) {
	tracker := NewTypingTracker(6 * time.Second)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	tracker.Set("s1", domain.TypingUser{UserID: "a@x"}, true)
	now = now.Add(3 * time.Second)
	tracker.Set("s1", domain.TypingUser{UserID: "b@x"}, true)

	now = now.Add(4 * time.Second) // a@x expired, b@x still fresh
	if typing := tracker.Typing("s1"); len(typing) != 1 || typing[0].UserID != "b@x" {
		t.Errorf("typing = %+v, want only b@x", typing)
	}

	changed := tracker.sweep()
	if len(changed) != 1 || changed[0] != "s1" {
		t.Errorf("sweep changed = %v", changed)
	}
	// A refresh extends the deadline.
	tracker.Set("s1", domain.TypingUser{UserID: "b@x"}, true)
	now = now.Add(5 * time.Second)
	if typing := tracker.Typing("s1"); len(typing) != 1 {
		t.Errorf("refreshed entry expired early: %+v", typing)
	}
}
