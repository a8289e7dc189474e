package api

import (
	"log/slog"
	"net/http"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/vault"
	"github.com/go-chi/chi/v5"
)

// VaultHandler handles knowledge-vault endpoints.
type VaultHandler struct {
	*Handler
	svc *vault.Service
}

// NewVaultHandler creates a new vault handler.
func NewVaultHandler(base *Handler, svc *vault.Service) *VaultHandler {
	return &VaultHandler{Handler: base, svc: svc}
}

// RegisterRoutes registers vault routes. The singular /item vs. plural
// /items split mirrors the SPA's client contract.
func (h *VaultHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/vault", func(r chi.Router) {
		r.Get("/items", h.ListItems)
		r.Post("/items", h.SaveItems)
		r.Delete("/items", h.DeleteByOrigin)
		r.Post("/item", h.SaveItem)
		r.Delete("/item/{itemID}", h.DeleteItem)
		r.Get("/categories", h.ListCategories)
		r.Post("/categories", h.SaveCategories)
		r.Post("/import", h.Import)
	})
}

// ListItems returns all vault items, newest first.
func (h *VaultHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		slog.Error("Failed to list vault items", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list vault items")
		return
	}
	if items == nil {
		items = []*domain.VaultItem{}
	}
	JSON(w, http.StatusOK, items)
}

// SaveItem persists one item and returns it with bookkeeping filled in.
func (h *VaultHandler) SaveItem(w http.ResponseWriter, r *http.Request) {
	var item domain.VaultItem
	if !decode(w, r, &item) {
		return
	}
	saved, err := h.svc.Save(r.Context(), item)
	if err != nil {
		slog.Error("Failed to save vault item", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save vault item")
		return
	}
	JSON(w, http.StatusOK, saved)
}

// SaveItems persists a batch of items.
func (h *VaultHandler) SaveItems(w http.ResponseWriter, r *http.Request) {
	var items []domain.VaultItem
	if !decode(w, r, &items) {
		return
	}
	saved, err := h.svc.SaveAll(r.Context(), items)
	if err != nil {
		slog.Error("Failed to save vault items", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save vault items")
		return
	}
	if saved == nil {
		saved = []*domain.VaultItem{}
	}
	JSON(w, http.StatusOK, saved)
}

// DeleteItem removes one vault item.
func (h *VaultHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		slog.Error("Failed to delete vault item", "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete vault item")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DeleteByOrigin removes every item imported from ?origin=.
func (h *VaultHandler) DeleteByOrigin(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		Error(w, http.StatusBadRequest, "origin query parameter is required")
		return
	}
	removed, err := h.svc.DeleteByOrigin(r.Context(), origin)
	if err != nil {
		slog.Error("Failed to delete vault items by origin", "error", err, "origin", origin)
		Error(w, http.StatusInternalServerError, "failed to delete vault items")
		return
	}
	slog.Info("Vault items removed by origin", "origin", origin, "removed", removed)
	JSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// ListCategories returns vault categories in saved order.
func (h *VaultHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.svc.Categories(r.Context())
	if err != nil {
		slog.Error("Failed to list categories", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []string{}
	}
	JSON(w, http.StatusOK, categories)
}

// SaveCategories replaces the category list.
func (h *VaultHandler) SaveCategories(w http.ResponseWriter, r *http.Request) {
	var categories []string
	if !decode(w, r, &categories) {
		return
	}
	if err := h.svc.SaveCategories(r.Context(), categories); err != nil {
		slog.Error("Failed to save categories", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save categories")
		return
	}
	JSON(w, http.StatusOK, categories)
}

// Import pulls conversations from an external provider into the vault.
func (h *VaultHandler) Import(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
		APIKey   string `json:"apiKey"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Provider == "" {
		Error(w, http.StatusBadRequest, "provider is required")
		return
	}

	imported, err := h.svc.Import(r.Context(), body.Provider, body.APIKey)
	if err != nil {
		slog.Error("Provider import failed", "error", err, "provider", body.Provider)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	if imported == nil {
		imported = []*domain.VaultItem{}
	}
	JSON(w, http.StatusOK, imported)
}
