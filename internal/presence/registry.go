// Package presence is the realtime collaboration channel: who is in a
// session, who is typing, and live session updates, fanned out over
// WebSocket connections.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/session"
)

// Sender abstracts one client connection for fan-out.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string)
}

// Event is one presence channel frame.
type Event struct {
	Type    string              `json:"type"` // presence, typing, session
	Event   string              `json:"event,omitempty"`
	User    *domain.UserProfile `json:"user,omitempty"`
	Users   []domain.UserProfile `json:"users,omitempty"`
	Typing  []domain.TypingUser `json:"typing,omitempty"`
	Session *domain.ChatSession `json:"session,omitempty"`
}

type clientEntry struct {
	profile domain.UserProfile
	conn    Sender
}

type sessionClients struct {
	clients map[string]clientEntry // keyed by email
	token   session.Token
}

// Registry tracks connected clients per session and fans events out to
// them. Registering the same user twice replaces the prior connection.
type Registry struct {
	hub *session.Hub

	mu       sync.Mutex
	sessions map[string]*sessionClients
}

// NewRegistry creates a registry over the session hub.
func NewRegistry(hub *session.Hub) *Registry {
	return &Registry{
		hub:      hub,
		sessions: make(map[string]*sessionClients),
	}
}

// Register adds a client to a session. The first client establishes the
// hub subscription that feeds session updates to the whole group.
func (r *Registry) Register(ctx context.Context, sessionID string, user domain.UserProfile, conn Sender) error {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	if !ok {
		sc = &sessionClients{clients: make(map[string]clientEntry)}
		r.sessions[sessionID] = sc
	}
	prior, hadPrior := sc.clients[user.Email]
	sc.clients[user.Email] = clientEntry{profile: user, conn: conn}
	first := !ok
	r.mu.Unlock()

	if hadPrior {
		prior.conn.Close("replaced by newer connection")
	}

	if first {
		token, err := r.hub.Subscribe(ctx, sessionID, func(snap *domain.ChatSession) {
			r.Broadcast(sessionID, Event{Type: "session", Session: snap})
		})
		if err != nil {
			r.mu.Lock()
			delete(r.sessions, sessionID)
			r.mu.Unlock()
			return err
		}
		r.mu.Lock()
		sc.token = token
		r.mu.Unlock()
	}

	r.Broadcast(sessionID, Event{Type: "presence", Event: "join", User: &user, Users: r.Users(sessionID)})
	return nil
}

// Unregister drops a client. The connection is only removed when it is
// still the registered one, so a replaced connection's deferred cleanup
// cannot evict its successor.
func (r *Registry) Unregister(sessionID string, user domain.UserProfile, conn Sender) {
	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if entry, ok := sc.clients[user.Email]; !ok || entry.conn != conn {
		r.mu.Unlock()
		return
	}
	delete(sc.clients, user.Email)
	var token session.Token
	last := len(sc.clients) == 0
	if last {
		token = sc.token
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if last {
		r.hub.Unsubscribe(token)
	}
	r.Broadcast(sessionID, Event{Type: "presence", Event: "leave", User: &user, Users: r.Users(sessionID)})
}

// Users lists the users currently connected to a session.
func (r *Registry) Users(sessionID string) []domain.UserProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]domain.UserProfile, 0, len(sc.clients))
	for _, entry := range sc.clients {
		out = append(out, entry.profile)
	}
	return out
}

// Broadcast sends an event to every client in the session. Failed sends
// are logged, not fatal: the read loop notices the dead connection and
// unregisters it.
func (r *Registry) Broadcast(sessionID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal presence event", "error", err)
		return
	}

	r.mu.Lock()
	sc, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	conns := make([]Sender, 0, len(sc.clients))
	for _, entry := range sc.clients {
		conns = append(conns, entry.conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Send(context.Background(), data); err != nil {
			slog.Debug("presence send failed", "session_id", sessionID, "error", err)
		}
	}
}
