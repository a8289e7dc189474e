package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

// Catalog is the SME selection hierarchy the SPA's expert picker walks:
// industry → sub-type, plus the flat organizational-segment list.
type Catalog struct {
	Industries []CatalogIndustry `yaml:"industries" json:"industries"`
	Segments   []string          `yaml:"segments" json:"segments"`
}

// CatalogIndustry is one industry with its selectable sub-types.
type CatalogIndustry struct {
	Name     string   `yaml:"name" json:"name"`
	SubTypes []string `yaml:"subTypes" json:"subTypes"`
}

// LoadCatalog reads the persona catalog from a YAML file. A missing
// file yields an empty catalog so the server still boots; the picker
// then only offers free-text entry.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("SME catalog file not found, serving an empty catalog", "path", path)
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &catalog, nil
}

// CatalogHandler serves the persona catalog.
type CatalogHandler struct {
	catalog *Catalog
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(catalog *Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// RegisterRoutes registers catalog routes.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/catalog", h.Get)
}

// Get returns the full catalog.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.catalog)
}
