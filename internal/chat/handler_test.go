package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cmiguez/smepro/internal/config"
	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/cmiguez/smepro/internal/safety"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/cmiguez/smepro/internal/store"
	"github.com/go-chi/chi/v5"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
		SSE: config.SSEConfig{
			KeepaliveInterval:  10 * time.Second,
			RetryDelay:         5 * time.Second,
			MaxRequestBodySize: 1 << 20,
		},
	}
}

func newHandlerFixture(t *testing.T, gen *fakeGenerator, gate *fakeGate) (*Handler, *session.Hub, string) {
	t.Helper()
	hub := session.NewHub(store.NewMemory())
	sess, err := hub.Create(context.Background(), &domain.ChatSession{Title: "t"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h := NewHandler(NewService(hub, gen, gate), hub, testConfig())
	t.Cleanup(h.Close)
	return h, hub, sess.SessionID
}

func chatPost(t *testing.T, h *Handler, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/chat", strings.NewReader(body))
	req = req.WithContext(identity.WithProfile(req.Context(), domain.UserProfile{Email: "u@example.com", Name: "U"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleChatStreamsTurn(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{`{"markdownContent":"hi there","suggestedPrompts":[]}`}}
	h, _, sessionID := newHandlerFixture(t, gen, &fakeGate{})

	rec := chatPost(t, h, sessionID, `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: update") {
		t.Errorf("missing update events in %q", body)
	}
	if !strings.Contains(body, "event: done") || !strings.Contains(body, "hi there") {
		t.Errorf("missing done event in %q", body)
	}
}

func TestHandleChatBlocked(t *testing.T) {
	gate := &fakeGate{verdict: &safety.Verdict{
		Method:  domain.DetectionKeyword,
		Details: "forbidden",
		Action:  domain.ActionWarn,
	}}
	h, hub, sessionID := newHandlerFixture(t, &fakeGenerator{}, gate)

	rec := chatPost(t, h, sessionID, `{"message":"forbidden"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "event: blocked") {
		t.Errorf("missing blocked event in %q", rec.Body.String())
	}
	snap, _ := hub.Get(context.Background(), sessionID)
	if len(snap.Messages) != 0 {
		t.Errorf("blocked prompt persisted %d messages", len(snap.Messages))
	}
}

func TestHandleChatLockout(t *testing.T) {
	h, _, sessionID := newHandlerFixture(t, &fakeGenerator{}, &fakeGate{lockEnd: 1790000000000})

	rec := chatPost(t, h, sessionID, `{"message":"hello"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "1790000000000") {
		t.Errorf("body missing lockoutEndTime: %s", rec.Body.String())
	}
}

func TestHandleChatValidation(t *testing.T) {
	h, _, sessionID := newHandlerFixture(t, &fakeGenerator{}, &fakeGate{})

	if rec := chatPost(t, h, sessionID, `{"message":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}
	if rec := chatPost(t, h, sessionID, `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
	if rec := chatPost(t, h, "missing", `{"message":"hi"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{`{"markdownContent":"ok","suggestedPrompts":[]}`}}
	h, _, sessionID := newHandlerFixture(t, gen, &fakeGate{})
	h.limiter = NewRateLimiter(1, time.Minute)

	if rec := chatPost(t, h, sessionID, `{"message":"one"}`); rec.Code != http.StatusOK {
		t.Fatalf("first send status = %d", rec.Code)
	}
	if rec := chatPost(t, h, sessionID, `{"message":"two"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second send status = %d, want 429", rec.Code)
	}
}

func TestHandleContextSearch(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"found it"}}
	h, hub, sessionID := newHandlerFixture(t, gen, &fakeGate{})
	ctx := context.Background()
	if _, err := hub.SendMessage(ctx, sessionID, domain.NewUserMessage([]domain.Part{{Text: "q"}}, "u@example.com", "U")); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	req := httptest.NewRequest(http.MethodPost, "/api/context-search",
		strings.NewReader(`{"query":"what?","sessionIds":["`+sessionID+`"]}`))
	req = req.WithContext(identity.WithProfile(req.Context(), domain.UserProfile{Email: "u@example.com", Name: "U"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "found it") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
