package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/genai"
	"github.com/cmiguez/smepro/internal/store"
	"github.com/cmiguez/smepro/internal/vault"
	"github.com/go-chi/chi/v5"
)

type stubNormalizer struct{}

func (stubNormalizer) Normalize(context.Context, string, []string) (*genai.NormalizedItem, error) {
	return &genai.NormalizedItem{Title: "t", Summary: "s", Category: "Uncategorized"}, nil
}

func newVaultRouter(t *testing.T) (*chi.Mux, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	svc := vault.NewService(repo, stubNormalizer{}, vault.DefaultFetchers()...)
	r := chi.NewRouter()
	NewVaultHandler(NewHandler(repo), svc).RegisterRoutes(r)
	return r, repo
}

func TestVaultItemRoundTrip(t *testing.T) {
	r, _ := newVaultRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vault/item", domain.VaultItem{
		Message:  domain.NewModelText("saved insight"),
		Category: "Engineering",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", w.Code, w.Body.String())
	}
	var saved domain.VaultItem
	if err := json.NewDecoder(w.Body).Decode(&saved); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if saved.ID == "" || saved.SyncStatus != domain.SyncSynced {
		t.Errorf("saved = %+v", saved)
	}

	w = doJSON(t, r, http.MethodGet, "/api/vault/items", nil)
	var items []domain.VaultItem
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/vault/item/"+saved.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/vault/items", nil)
	items = nil
	json.NewDecoder(w.Body).Decode(&items)
	if len(items) != 0 {
		t.Errorf("items after delete = %+v", items)
	}
}

func TestVaultDeleteByOriginRequiresOrigin(t *testing.T) {
	r, _ := newVaultRouter(t)
	w := doJSON(t, r, http.MethodDelete, "/api/vault/items", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestVaultCategories(t *testing.T) {
	r, _ := newVaultRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vault/categories", []string{"Marketing", "Engineering"})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/vault/categories", nil)
	var categories []string
	if err := json.NewDecoder(w.Body).Decode(&categories); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(categories) != 2 || categories[0] != "Marketing" {
		t.Errorf("categories = %v", categories)
	}
}

func TestVaultImportEndpoint(t *testing.T) {
	r, _ := newVaultRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vault/import", map[string]string{
		"provider": "openai", "apiKey": "sk-test",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var imported []domain.VaultItem
	if err := json.NewDecoder(w.Body).Decode(&imported); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(imported) == 0 {
		t.Fatal("expected imported items")
	}
	if imported[0].Origin != "openai" {
		t.Errorf("origin = %q", imported[0].Origin)
	}

	w = doJSON(t, r, http.MethodPost, "/api/vault/import", map[string]string{"provider": "yahoo"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("unknown provider status = %d, want 502", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/vault/import", map[string]string{"apiKey": "k"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing provider status = %d, want 400", w.Code)
	}
}
