package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/cmiguez/smepro/internal/store"
	"github.com/go-chi/chi/v5"
)

var testProfile = domain.UserProfile{Email: "chris@example.com", Name: "chris"}

func newSessionRouter(t *testing.T) (*chi.Mux, *session.Hub) {
	t.Helper()
	repo := store.NewMemory()
	hub := session.NewHub(repo)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.WithProfile(req.Context(), testProfile)))
		})
	})
	NewSessionHandler(NewHandler(repo), hub).RegisterRoutes(r)
	return r, hub
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetSession(t *testing.T) {
	r, _ := newSessionRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/sessions", domain.ChatSession{
		Title:      "Drilling Questions",
		SmeConfigs: []domain.SmeConfig{{Industry: "Oil & Gas", SubType: "Upstream", Segment: "Drilling"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create status = %d, body %s", w.Code, w.Body.String())
	}
	var created domain.ChatSession
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if !created.HasParticipant(testProfile.Email) {
		t.Errorf("caller not added as participant: %+v", created.Participants)
	}

	w = doJSON(t, r, http.MethodGet, "/api/sessions/"+created.SessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Get status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/sessions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Get missing status = %d, want 404", w.Code)
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	r, hub := newSessionRouter(t)
	sess, _ := hub.Create(context.Background(), &domain.ChatSession{})

	msg := domain.NewUserMessage([]domain.Part{{Text: "hello"}}, testProfile.Email, testProfile.Name)
	w := doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.SessionID+"/messages", msg)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got, _ := hub.Get(context.Background(), sess.SessionID)
	if len(got.Messages) != 1 || got.Messages[0].Text() != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}

	w = doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.SessionID+"/messages", domain.Message{Role: domain.RoleUser})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", w.Code)
	}
}

func TestAddSmeAppendsIntroduction(t *testing.T) {
	r, hub := newSessionRouter(t)
	sess, _ := hub.Create(context.Background(), &domain.ChatSession{})

	cfg := domain.SmeConfig{Industry: "Retail", SubType: "E-commerce", Segment: "Logistics"}
	w := doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.SessionID+"/smes", cfg)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got, _ := hub.Get(context.Background(), sess.SessionID)
	if len(got.SmeConfigs) != 1 {
		t.Fatalf("smeConfigs = %+v", got.SmeConfigs)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != domain.RoleModel {
		t.Fatalf("expected one introduction turn, got %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[0].Text(), "Logistics") {
		t.Errorf("introduction = %q", got.Messages[0].Text())
	}

	// Re-adding the same expert is a no-op: no duplicate, no second intro.
	doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.SessionID+"/smes", cfg)
	got, _ = hub.Get(context.Background(), sess.SessionID)
	if len(got.SmeConfigs) != 1 || len(got.Messages) != 1 {
		t.Errorf("duplicate add changed session: %d configs, %d messages", len(got.SmeConfigs), len(got.Messages))
	}
}

func TestJoinAndLeave(t *testing.T) {
	r, hub := newSessionRouter(t)
	sess, _ := hub.Create(context.Background(), &domain.ChatSession{})

	guest := domain.UserProfile{Email: "dana@example.com", Name: "dana"}
	w := doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.SessionID+"/participants", guest)
	if w.Code != http.StatusOK {
		t.Fatalf("join status = %d", w.Code)
	}
	got, _ := hub.Get(context.Background(), sess.SessionID)
	if !got.HasParticipant(guest.Email) {
		t.Errorf("participants = %+v", got.Participants)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/sessions/"+sess.SessionID+"/participants/dana%40example.com", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leave status = %d", w.Code)
	}
	got, _ = hub.Get(context.Background(), sess.SessionID)
	if got.HasParticipant(guest.Email) {
		t.Errorf("participant not removed: %+v", got.Participants)
	}
}

func TestCompleteStepEndpoint(t *testing.T) {
	r, hub := newSessionRouter(t)
	sess, _ := hub.Create(context.Background(), &domain.ChatSession{})

	plan := domain.Message{
		Role:  domain.RoleModel,
		Parts: []domain.Part{{Text: "here is your plan"}},
		Payload: &domain.ModelPayload{
			Kind: domain.PayloadStructured,
			GuidedSession: &domain.GuidedSessionData{
				Title: "Learn SQL",
				Steps: []domain.Step{
					{Title: "Select", Status: domain.StepActive},
					{Title: "Join", Status: domain.StepPending},
				},
			},
		},
	}
	if _, err := hub.SendMessage(context.Background(), sess.SessionID, plan); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.SessionID+"/steps/complete",
		map[string]int{"messageIndex": 0, "stepIndex": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got, _ := hub.Get(context.Background(), sess.SessionID)
	steps := got.Messages[0].Payload.GuidedSession.Steps
	if steps[0].Status != domain.StepComplete || steps[1].Status != domain.StepActive {
		t.Errorf("steps = %+v", steps)
	}
}

func TestShareRendersTranscript(t *testing.T) {
	r, hub := newSessionRouter(t)
	sess, _ := hub.Create(context.Background(), &domain.ChatSession{
		Title:      "Quarterly Review",
		SmeConfigs: []domain.SmeConfig{{Industry: "Finance", SubType: "Accounting", Segment: "Audit"}},
	})
	hub.SendMessage(context.Background(), sess.SessionID, domain.NewUserMessage([]domain.Part{{Text: "What should I check?"}}, testProfile.Email, "chris"))
	hub.SendMessage(context.Background(), sess.SessionID, domain.NewModelText("Start with **revenue recognition**."))

	w := doJSON(t, r, http.MethodGet, "/api/sessions/"+sess.SessionID+"/share", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"Quarterly Review", "<strong>revenue recognition</strong>", "chris", "Audit"} {
		if !strings.Contains(body, want) {
			t.Errorf("share page missing %q", want)
		}
	}
}

func TestUpdateTitleEndpoint(t *testing.T) {
	r, hub := newSessionRouter(t)
	sess, _ := hub.Create(context.Background(), &domain.ChatSession{Title: "old"})

	w := doJSON(t, r, http.MethodPut, "/api/sessions/"+sess.SessionID+"/title", map[string]string{"title": "new"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got, _ := hub.Get(context.Background(), sess.SessionID)
	if got.Title != "new" {
		t.Errorf("title = %q", got.Title)
	}

	w = doJSON(t, r, http.MethodPut, "/api/sessions/"+sess.SessionID+"/title", map[string]string{"title": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty title status = %d, want 400", w.Code)
	}
}
