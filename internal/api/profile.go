package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ProfileHandler handles the user-profile endpoints.
type ProfileHandler struct {
	*Handler
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(base *Handler) *ProfileHandler {
	return &ProfileHandler{Handler: base}
}

// RegisterRoutes registers profile routes.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/user", func(r chi.Router) {
		r.Get("/profile", h.Get)
		r.Post("/profile", h.Save)
	})
}

// Get returns the caller's profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile := identity.ProfileFromContext(r.Context())
	if profile.Email == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, profile)
}

// Save creates or updates a profile. Saving a real email upgrades an
// anonymous visitor to a named participant; subsequent requests carry
// the email in the identity header.
func (h *ProfileHandler) Save(w http.ResponseWriter, r *http.Request) {
	var profile domain.UserProfile
	if !decode(w, r, &profile) {
		return
	}
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	if !identity.IsValidEmail(profile.Email) {
		Error(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if profile.Name == "" {
		profile.Name = profile.Email[:strings.Index(profile.Email, "@")]
	}

	if err := h.repo.SaveProfile(r.Context(), &profile); err != nil {
		slog.Error("Failed to save profile", "error", err, "email", profile.Email)
		Error(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	slog.Info("Profile saved", "email", profile.Email)
	JSON(w, http.StatusOK, profile)
}
