// Package vault is the knowledge vault: saved conversation snippets,
// their categories, and imports from external chat providers.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/genai"
	"github.com/google/uuid"
)

// UncategorizedCategory receives items whose model-picked category is not
// in the saved list.
const UncategorizedCategory = "Uncategorized"

// Store is the slice of the repository the vault needs.
type Store interface {
	SaveVaultItem(ctx context.Context, item *domain.VaultItem) error
	ListVaultItems(ctx context.Context) ([]*domain.VaultItem, error)
	DeleteVaultItem(ctx context.Context, itemID string) error
	DeleteVaultItemsByOrigin(ctx context.Context, origin string) (int64, error)
	ListCategories(ctx context.Context) ([]string, error)
	SaveCategories(ctx context.Context, categories []string) error
}

// Normalizer distills an imported transcript into a titled, categorized
// summary.
type Normalizer interface {
	Normalize(ctx context.Context, transcript string, categories []string) (*genai.NormalizedItem, error)
}

// Service owns vault items and imports.
type Service struct {
	repo       Store
	normalizer Normalizer
	fetchers   map[string]Fetcher
	now        func() time.Time
}

// NewService wires the vault. Fetchers are registered by provider name.
func NewService(repo Store, normalizer Normalizer, fetchers ...Fetcher) *Service {
	byName := make(map[string]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byName[f.Provider()] = f
	}
	return &Service{repo: repo, normalizer: normalizer, fetchers: byName, now: time.Now}
}

// Save persists one item. Missing bookkeeping fields are filled in, and
// the item comes back confirmed (synced); the pending state only exists
// while a save is in flight.
func (s *Service) Save(ctx context.Context, item domain.VaultItem) (*domain.VaultItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.SavedAt == 0 {
		item.SavedAt = s.now().UnixMilli()
	}
	if item.Origin == "" {
		item.Origin = domain.OriginSMEPro
	}
	item.SyncStatus = domain.SyncSynced
	if err := s.repo.SaveVaultItem(ctx, &item); err != nil {
		item.SyncStatus = domain.SyncError
		return nil, fmt.Errorf("save vault item: %w", err)
	}
	return &item, nil
}

// SaveAll persists a batch, stopping at the first failure.
func (s *Service) SaveAll(ctx context.Context, items []domain.VaultItem) ([]*domain.VaultItem, error) {
	out := make([]*domain.VaultItem, 0, len(items))
	for _, item := range items {
		saved, err := s.Save(ctx, item)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}

// List returns all vault items, newest first.
func (s *Service) List(ctx context.Context) ([]*domain.VaultItem, error) {
	return s.repo.ListVaultItems(ctx)
}

// Delete removes one item.
func (s *Service) Delete(ctx context.Context, itemID string) error {
	return s.repo.DeleteVaultItem(ctx, itemID)
}

// DeleteByOrigin removes every item imported from an origin and reports
// how many were dropped.
func (s *Service) DeleteByOrigin(ctx context.Context, origin string) (int64, error) {
	return s.repo.DeleteVaultItemsByOrigin(ctx, origin)
}

// Categories returns the saved category list.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.repo.ListCategories(ctx)
}

// SaveCategories replaces the category list, preserving order.
func (s *Service) SaveCategories(ctx context.Context, categories []string) error {
	return s.repo.SaveCategories(ctx, categories)
}

// Import fetches conversations from an external provider and files each
// as a vault item. A session that fails to normalize is skipped with a
// log; one bad conversation never sinks the batch.
func (s *Service) Import(ctx context.Context, provider, apiKey string) ([]*domain.VaultItem, error) {
	fetcher, ok := s.fetchers[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	sessions, err := fetcher.FetchSessions(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("fetch %s sessions: %w", provider, err)
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	var imported []*domain.VaultItem
	for _, sess := range sessions {
		item, err := s.importOne(ctx, provider, sess, categories)
		if err != nil {
			slog.Error("failed to import provider session",
				"provider", provider,
				"session_id", sess.ID,
				"error", err,
			)
			continue
		}
		imported = append(imported, item)
	}
	slog.Info("provider import finished", "provider", provider, "fetched", len(sessions), "imported", len(imported))
	return imported, nil
}

func (s *Service) importOne(ctx context.Context, provider string, sess ImportedSession, categories []string) (*domain.VaultItem, error) {
	analysis, err := s.normalizer.Normalize(ctx, sess.Transcript(), categories)
	if err != nil {
		return nil, err
	}

	category := UncategorizedCategory
	for _, c := range categories {
		if c == analysis.Category {
			category = analysis.Category
			break
		}
	}

	segment := analysis.Title
	if segment == "" {
		segment = sess.Title
	}
	item := &domain.VaultItem{
		ID: uuid.NewString(),
		SmeConfig: domain.SmeConfig{
			Industry: "Imported",
			SubType:  fetcherLabel(provider),
			Segment:  segment,
		},
		Message:      domain.NewModelText(analysis.Summary),
		Category:     category,
		SavedAt:      s.now().UnixMilli(),
		SyncStatus:   domain.SyncSynced,
		SessionTitle: sess.Title,
		Origin:       provider,
	}
	if err := s.repo.SaveVaultItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save imported item: %w", err)
	}
	return item, nil
}
