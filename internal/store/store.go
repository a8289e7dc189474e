// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
)

// Repository defines the interface for persisting SMEPro data. Session
// reads return (nil, nil) when the session does not exist; callers decide
// whether that is a NotFound condition.
type Repository interface {
	// CreateSession persists a new chat session (metadata and any seed messages).
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession retrieves a session with its full message list.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// ListSessions retrieves all sessions with messages, newest first.
	ListSessions(ctx context.Context) ([]*domain.ChatSession, error)

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, sessionID string) error

	// AppendMessage appends a message to the session's ordered list and
	// bumps last_modified.
	AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) error

	// ReplaceLastMessage overwrites the final message of the session.
	// A session with no messages is a silent no-op.
	ReplaceLastMessage(ctx context.Context, sessionID string, msg *domain.Message) error

	// ReplaceMessageAt overwrites the message at the given position
	// (0-based order). Out-of-range positions are a silent no-op.
	ReplaceMessageAt(ctx context.Context, sessionID string, index int, msg *domain.Message) error

	// UpdateTitle sets the session title (last write wins).
	UpdateTitle(ctx context.Context, sessionID, title string) error

	// SetSmeConfigs replaces the session's expert list.
	SetSmeConfigs(ctx context.Context, sessionID string, configs []domain.SmeConfig) error

	// SetParticipants replaces the session's participant set.
	SetParticipants(ctx context.Context, sessionID string, participants []domain.UserProfile) error

	// SaveVaultItem creates or updates a vault item.
	SaveVaultItem(ctx context.Context, item *domain.VaultItem) error

	// ListVaultItems retrieves all vault items, newest first.
	ListVaultItems(ctx context.Context) ([]*domain.VaultItem, error)

	// DeleteVaultItem removes one vault item.
	DeleteVaultItem(ctx context.Context, itemID string) error

	// DeleteVaultItemsByOrigin removes every item imported from an origin.
	DeleteVaultItemsByOrigin(ctx context.Context, origin string) (int64, error)

	// ListCategories returns vault categories in saved order.
	ListCategories(ctx context.Context) ([]string, error)

	// SaveCategories replaces the category list.
	SaveCategories(ctx context.Context, categories []string) error

	// ListKeywords returns the moderation keyword list.
	ListKeywords(ctx context.Context) ([]string, error)

	// SaveKeywords replaces the moderation keyword list.
	SaveKeywords(ctx context.Context, keywords []string) error

	// LogFlaggedPrompt records a moderation event.
	LogFlaggedPrompt(ctx context.Context, flag *domain.FlaggedPrompt) error

	// ListFlaggedPrompts returns moderation events, newest first.
	ListFlaggedPrompts(ctx context.Context) ([]*domain.FlaggedPrompt, error)

	// CountRecentFlags counts a user's moderation events since the cutoff.
	CountRecentFlags(ctx context.Context, userID string, since time.Time) (int, error)

	// GetProfile retrieves a user profile by email, (nil, nil) when absent.
	GetProfile(ctx context.Context, email string) (*domain.UserProfile, error)

	// SaveProfile creates or updates a user profile.
	SaveProfile(ctx context.Context, profile *domain.UserProfile) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
