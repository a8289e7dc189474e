package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
)

type typingEntry struct {
	user    domain.TypingUser
	expires time.Time
}

// TypingTracker holds who is typing in each session. Entries expire after
// the TTL unless refreshed, so a client that vanishes mid-keystroke does
// not leave a stuck indicator.
type TypingTracker struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]map[string]typingEntry // sessionID -> userID -> entry
	now      func() time.Time
}

// NewTypingTracker creates a tracker with the given indicator TTL.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		ttl:      ttl,
		sessions: make(map[string]map[string]typingEntry),
		now:      time.Now,
	}
}

// Set records or clears a user's typing state and returns the session's
// current typing list.
func (t *TypingTracker) Set(sessionID string, user domain.TypingUser, isTyping bool) []domain.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, ok := t.sessions[sessionID]
	if !ok {
		if !isTyping {
			return nil
		}
		entries = make(map[string]typingEntry)
		t.sessions[sessionID] = entries
	}

	if isTyping {
		entries[user.UserID] = typingEntry{user: user, expires: t.now().Add(t.ttl)}
	} else {
		delete(entries, user.UserID)
		if len(entries) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	return t.listLocked(sessionID)
}

// Typing returns the session's unexpired typing users.
func (t *TypingTracker) Typing(sessionID string) []domain.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(sessionID)
}

func (t *TypingTracker) listLocked(sessionID string) []domain.TypingUser {
	now := t.now()
	var out []domain.TypingUser
	for _, entry := range t.sessions[sessionID] {
		if entry.expires.After(now) {
			out = append(out, entry.user)
		}
	}
	return out
}

// sweep drops expired entries and returns the sessions whose typing list
// changed, so the caller can broadcast the new state.
func (t *TypingTracker) sweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var changed []string
	for sessionID, entries := range t.sessions {
		dropped := false
		for userID, entry := range entries {
			if !entry.expires.After(now) {
				delete(entries, userID)
				dropped = true
			}
		}
		if dropped {
			changed = append(changed, sessionID)
		}
		if len(entries) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	return changed
}

// StartSweeper runs the background expiry sweep until the context ends.
// Each sweep broadcasts the pruned typing list for affected sessions.
func (t *TypingTracker) StartSweeper(ctx context.Context, registry *Registry) {
	interval := t.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("typing sweeper started", "interval", interval, "ttl", t.ttl)
		for {
			select {
			case <-ctx.Done():
				slog.Info("typing sweeper shutting down", "reason", ctx.Err())
				return
			case <-ticker.C:
				for _, sessionID := range t.sweep() {
					registry.Broadcast(sessionID, Event{Type: "typing", Typing: t.Typing(sessionID)})
				}
			}
		}
	}()
}
