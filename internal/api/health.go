package api

import (
	"log/slog"
	"net/http"

	"github.com/cmiguez/smepro/internal/config"
	"github.com/cmiguez/smepro/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler reports service health for probes and the SPA's
// feature-detection call.
type HealthHandler struct {
	repo store.Repository
	cfg  *config.Config
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, cfg *config.Config) *HealthHandler {
	return &HealthHandler{repo: repo, cfg: cfg}
}

// RegisterRoutes registers health routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health checks database connectivity and reports whether AI features
// are configured.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ai_enabled": h.cfg.AIEnabled(),
	})
}
