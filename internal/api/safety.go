package api

import (
	"log/slog"
	"net/http"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/cmiguez/smepro/internal/safety"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SafetyHandler exposes the moderation keyword list, the flagged-prompt
// audit log, and the caller's lockout state.
type SafetyHandler struct {
	*Handler
	gate *safety.Gate
}

// NewSafetyHandler creates a new safety handler.
func NewSafetyHandler(base *Handler, gate *safety.Gate) *SafetyHandler {
	return &SafetyHandler{Handler: base, gate: gate}
}

// RegisterRoutes registers safety routes.
func (h *SafetyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/safety", func(r chi.Router) {
		r.Get("/keywords", h.ListKeywords)
		r.Post("/keywords", h.SaveKeywords)
		r.Get("/flagged-prompts", h.ListFlaggedPrompts)
		r.Post("/flagged-prompts", h.LogFlaggedPrompt)
		r.Get("/lockout", h.LockoutStatus)
	})
}

// ListKeywords returns the moderation keyword list.
func (h *SafetyHandler) ListKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := h.repo.ListKeywords(r.Context())
	if err != nil {
		slog.Error("Failed to list keywords", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list keywords")
		return
	}
	if keywords == nil {
		keywords = []string{}
	}
	JSON(w, http.StatusOK, keywords)
}

// SaveKeywords replaces the moderation keyword list.
func (h *SafetyHandler) SaveKeywords(w http.ResponseWriter, r *http.Request) {
	var keywords []string
	if !decode(w, r, &keywords) {
		return
	}
	if err := h.repo.SaveKeywords(r.Context(), keywords); err != nil {
		slog.Error("Failed to save keywords", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save keywords")
		return
	}
	slog.Info("Moderation keywords updated", "count", len(keywords))
	JSON(w, http.StatusOK, keywords)
}

// ListFlaggedPrompts returns the moderation audit log, newest first.
func (h *SafetyHandler) ListFlaggedPrompts(w http.ResponseWriter, r *http.Request) {
	flags, err := h.repo.ListFlaggedPrompts(r.Context())
	if err != nil {
		slog.Error("Failed to list flagged prompts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list flagged prompts")
		return
	}
	if flags == nil {
		flags = []*domain.FlaggedPrompt{}
	}
	JSON(w, http.StatusOK, flags)
}

// LogFlaggedPrompt records a moderation event reported by a client. The
// chat pipeline logs its own flags; this endpoint covers client-side
// detections the server never saw.
func (h *SafetyHandler) LogFlaggedPrompt(w http.ResponseWriter, r *http.Request) {
	var flag domain.FlaggedPrompt
	if !decode(w, r, &flag) {
		return
	}
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.UserID == "" {
		flag.UserID = identity.ProfileFromContext(r.Context()).Email
	}
	if err := h.repo.LogFlaggedPrompt(r.Context(), &flag); err != nil {
		slog.Error("Failed to log flagged prompt", "error", err)
		Error(w, http.StatusInternalServerError, "failed to log flagged prompt")
		return
	}
	JSON(w, http.StatusCreated, flag)
}

// LockoutStatus reports when the caller's lockout ends, zero when the
// caller is not locked out.
func (h *SafetyHandler) LockoutStatus(w http.ResponseWriter, r *http.Request) {
	profile := identity.ProfileFromContext(r.Context())
	if profile.Email == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"lockoutEndTime": h.gate.Lockout(profile.Email)})
}
