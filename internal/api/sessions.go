package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles chat-session endpoints.
type SessionHandler struct {
	*Handler
	hub *session.Hub
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler, hub *session.Hub) *SessionHandler {
	return &SessionHandler{Handler: base, hub: hub}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{sessionID}", h.Get)
		r.Delete("/{sessionID}", h.Delete)
		r.Post("/{sessionID}/messages", h.SendMessage)
		r.Put("/{sessionID}/title", h.UpdateTitle)
		r.Post("/{sessionID}/smes", h.AddSme)
		r.Post("/{sessionID}/participants", h.Join)
		r.Delete("/{sessionID}/participants/{email}", h.Leave)
		r.Post("/{sessionID}/steps/complete", h.CompleteStep)
		r.Get("/{sessionID}/share", h.Share)
	})
}

// List returns all sessions, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.hub.List(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.ChatSession{}
	}
	JSON(w, http.StatusOK, sessions)
}

// Create creates a session from a partial session body. The caller is
// added as the first participant.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body domain.ChatSession
	if !decode(w, r, &body) {
		return
	}
	profile := identity.ProfileFromContext(r.Context())
	if profile.Email != "" && !body.HasParticipant(profile.Email) {
		body.Participants = append(body.Participants, profile)
	}

	created, err := h.hub.Create(r.Context(), &body)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	slog.Info("Session created", "session_id", created.SessionID, "user", profile.Email)
	JSON(w, http.StatusCreated, created)
}

// Get returns one session with its full message list.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.hub.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.sessionError(w, err, "load")
		return
	}
	JSON(w, http.StatusOK, sess)
}

// Delete removes a session and its messages.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.hub.Delete(r.Context(), sessionID); err != nil {
		h.sessionError(w, err, "delete")
		return
	}
	slog.Info("Session deleted", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SendMessage appends a message to the session without involving the
// generation pipeline. Collaboration clients use this to sync turns;
// generated turns go through the chat endpoint instead.
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	if !decode(w, r, &msg) {
		return
	}
	if len(msg.Parts) == 0 {
		Error(w, http.StatusBadRequest, "message has no parts")
		return
	}
	saved, err := h.hub.SendMessage(r.Context(), chi.URLParam(r, "sessionID"), msg)
	if err != nil {
		h.sessionError(w, err, "append message to")
		return
	}
	JSON(w, http.StatusCreated, saved)
}

// UpdateTitle renames the session. Last write wins.
func (h *SessionHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Title == "" {
		Error(w, http.StatusBadRequest, "title cannot be empty")
		return
	}
	if err := h.hub.UpdateTitle(r.Context(), chi.URLParam(r, "sessionID"), body.Title); err != nil {
		h.sessionError(w, err, "rename")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"title": body.Title})
}

// AddSme adds an expert to the session. Duplicate experts (matched by
// the industry/subType/segment triple, case-insensitive) are ignored; a
// newly added expert introduces itself with a model turn.
func (h *SessionHandler) AddSme(w http.ResponseWriter, r *http.Request) {
	var cfg domain.SmeConfig
	if !decode(w, r, &cfg) {
		return
	}
	if cfg.Industry == "" || cfg.Segment == "" {
		Error(w, http.StatusBadRequest, "industry and segment are required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	added, err := h.hub.AddSme(r.Context(), sessionID, cfg)
	if err != nil {
		h.sessionError(w, err, "add expert to")
		return
	}
	if added {
		intro := fmt.Sprintf("Hello, I'm your new expert in **%s** (%s, %s). I've caught up on the conversation so far and I'm ready to contribute.",
			cfg.Segment, cfg.SubType, cfg.Industry)
		if _, err := h.hub.SendMessage(r.Context(), sessionID, domain.NewModelText(intro)); err != nil {
			slog.Error("Failed to append expert introduction", "error", err, "session_id", sessionID)
		}
		slog.Info("Expert added to session", "session_id", sessionID, "segment", cfg.Segment)
	}
	JSON(w, http.StatusOK, cfg)
}

// Join adds the caller (or the posted profile) to the participant set.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var profile domain.UserProfile
	if !decode(w, r, &profile) {
		return
	}
	if profile.Email == "" {
		profile = identity.ProfileFromContext(r.Context())
	}
	if profile.Email == "" {
		Error(w, http.StatusBadRequest, "participant email is required")
		return
	}
	if err := h.hub.Join(r.Context(), chi.URLParam(r, "sessionID"), profile); err != nil {
		h.sessionError(w, err, "join")
		return
	}
	JSON(w, http.StatusOK, profile)
}

// Leave removes a participant by email. Leaving a session the user is
// not in is a no-op.
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || email == "" {
		Error(w, http.StatusBadRequest, "invalid participant email")
		return
	}
	if err := h.hub.Leave(r.Context(), chi.URLParam(r, "sessionID"), email); err != nil {
		h.sessionError(w, err, "leave")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// CompleteStep marks a guided-plan step complete and promotes the next
// pending step to active.
func (h *SessionHandler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageIndex int `json:"messageIndex"`
		StepIndex    int `json:"stepIndex"`
	}
	if !decode(w, r, &body) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.hub.CompleteGuidedStep(r.Context(), sessionID, body.MessageIndex, body.StepIndex); err != nil {
		h.sessionError(w, err, "update guided step in")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *SessionHandler) sessionError(w http.ResponseWriter, err error, verb string) {
	if errors.Is(err, session.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	slog.Error("Session operation failed", "verb", verb, "error", err)
	Error(w, http.StatusInternalServerError, "failed to "+verb+" session")
}
