package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
industries:
  - name: Healthcare
    subTypes: [Providers, Payers]
segments: [Operations, Legal]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if len(catalog.Industries) != 1 || catalog.Industries[0].Name != "Healthcare" {
		t.Errorf("industries = %+v", catalog.Industries)
	}
	if len(catalog.Industries[0].SubTypes) != 2 || len(catalog.Segments) != 2 {
		t.Errorf("catalog = %+v", catalog)
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(catalog.Industries) != 0 {
		t.Errorf("catalog = %+v, want empty", catalog)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	r := chi.NewRouter()
	NewCatalogHandler(&Catalog{
		Industries: []CatalogIndustry{{Name: "Finance", SubTypes: []string{"Insurance"}}},
		Segments:   []string{"Audit"},
	}).RegisterRoutes(r)

	w := doJSON(t, r, http.MethodGet, "/api/catalog", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got Catalog
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Industries) != 1 || got.Industries[0].Name != "Finance" {
		t.Errorf("catalog = %+v", got)
	}
}
