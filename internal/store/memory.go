package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
)

// Memory is an in-process Repository. It backs tests and ephemeral dev
// runs; production uses SQLite.
type Memory struct {
	mu         sync.Mutex
	sessions   map[string]*domain.ChatSession
	order      []string
	vault      map[string]*domain.VaultItem
	vaultOrder []string
	categories []string
	keywords   []string
	flags      []*domain.FlaggedPrompt
	profiles   map[string]*domain.UserProfile
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*domain.ChatSession),
		vault:    make(map[string]*domain.VaultItem),
		profiles: make(map[string]*domain.UserProfile),
	}
}

func (m *Memory) CreateSession(_ context.Context, session *domain.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.SessionID]; !ok {
		m.order = append(m.order, session.SessionID)
	}
	m.sessions[session.SessionID] = session.Clone()
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return session.Clone(), nil
}

func (m *Memory) ListSessions(_ context.Context) ([]*domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ChatSession, 0, len(m.sessions))
	for _, id := range m.order {
		if session, ok := m.sessions[id]; ok {
			out = append(out, session.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	for i, id := range m.order {
		if id == sessionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, sessionID string, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		session.Messages = append(session.Messages, msg.Clone())
		session.LastModified = time.Now()
	}
	return nil
}

func (m *Memory) ReplaceLastMessage(_ context.Context, sessionID string, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || len(session.Messages) == 0 {
		return nil
	}
	session.Messages[len(session.Messages)-1] = msg.Clone()
	session.LastModified = time.Now()
	return nil
}

func (m *Memory) ReplaceMessageAt(_ context.Context, sessionID string, index int, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || index < 0 || index >= len(session.Messages) {
		return nil
	}
	session.Messages[index] = msg.Clone()
	session.LastModified = time.Now()
	return nil
}

func (m *Memory) UpdateTitle(_ context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		session.Title = title
		session.LastModified = time.Now()
	}
	return nil
}

func (m *Memory) SetSmeConfigs(_ context.Context, sessionID string, configs []domain.SmeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		session.SmeConfigs = append([]domain.SmeConfig(nil), configs...)
		session.LastModified = time.Now()
	}
	return nil
}

func (m *Memory) SetParticipants(_ context.Context, sessionID string, participants []domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		session.Participants = append([]domain.UserProfile(nil), participants...)
		session.LastModified = time.Now()
	}
	return nil
}

func (m *Memory) SaveVaultItem(_ context.Context, item *domain.VaultItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *item
	if _, ok := m.vault[item.ID]; !ok {
		m.vaultOrder = append(m.vaultOrder, item.ID)
	}
	m.vault[item.ID] = &clone
	return nil
}

func (m *Memory) ListVaultItems(_ context.Context) ([]*domain.VaultItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.VaultItem, 0, len(m.vault))
	for _, id := range m.vaultOrder {
		if item, ok := m.vault[id]; ok {
			clone := *item
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt > out[j].SavedAt })
	return out, nil
}

func (m *Memory) DeleteVaultItem(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vault, itemID)
	return nil
}

func (m *Memory) DeleteVaultItemsByOrigin(_ context.Context, origin string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, item := range m.vault {
		if item.Origin == origin {
			delete(m.vault, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) ListCategories(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.categories...), nil
}

func (m *Memory) SaveCategories(_ context.Context, categories []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = append([]string(nil), categories...)
	return nil
}

func (m *Memory) ListKeywords(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keywords...), nil
}

func (m *Memory) SaveKeywords(_ context.Context, keywords []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords = append([]string(nil), keywords...)
	return nil
}

func (m *Memory) LogFlaggedPrompt(_ context.Context, flag *domain.FlaggedPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *flag
	m.flags = append(m.flags, &clone)
	return nil
}

func (m *Memory) ListFlaggedPrompts(context.Context) ([]*domain.FlaggedPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.FlaggedPrompt, 0, len(m.flags))
	for i := len(m.flags) - 1; i >= 0; i-- {
		clone := *m.flags[i]
		out = append(out, &clone)
	}
	return out, nil
}

func (m *Memory) CountRecentFlags(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, f := range m.flags {
		if f.UserID == userID && f.Timestamp >= since.UnixMilli() {
			count++
		}
	}
	return count, nil
}

func (m *Memory) GetProfile(_ context.Context, email string) (*domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[email]
	if !ok {
		return nil, nil
	}
	clone := *profile
	return &clone, nil
}

func (m *Memory) SaveProfile(_ context.Context, profile *domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *profile
	m.profiles[profile.Email] = &clone
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
