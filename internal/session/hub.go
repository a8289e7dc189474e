// Package session implements the authoritative in-process session store:
// an observable cache over the repository that owns all mutation of
// message lists, participants, and SME configs. UI surfaces never mutate
// session state directly; they request mutations here and react to
// subscription callbacks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/store"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for operations against an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Handler receives a snapshot of the session after each state change.
// Handlers must not block; slow consumers should hand off to a channel.
type Handler func(session *domain.ChatSession)

// Token identifies one subscription for unsubscribe.
type Token struct {
	sessionID string
	id        int64
}

// Hub is the session store. All per-session operations are serialized
// (FIFO by call order); operations on different sessions proceed
// independently.
type Hub struct {
	repo store.Repository

	mu     sync.Mutex
	states map[string]*state
}

type state struct {
	mu      sync.Mutex
	session *domain.ChatSession

	subs    map[int64]Handler
	nextSub int64

	// generation fences streaming updates: a late chunk or finalization
	// from a superseded generation is discarded instead of clobbering a
	// newer message.
	generation uint64
}

// NewHub creates a session hub backed by the repository.
func NewHub(repo store.Repository) *Hub {
	return &Hub{
		repo:   repo,
		states: make(map[string]*state),
	}
}

// Create persists a new session and makes it observable.
func (h *Hub) Create(ctx context.Context, session *domain.ChatSession) (*domain.ChatSession, error) {
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	session.LastModified = time.Now()
	for i := range session.Messages {
		if session.Messages[i].ID == "" {
			session.Messages[i].ID = uuid.NewString()
		}
	}

	if err := h.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	h.mu.Lock()
	h.states[session.SessionID] = &state{
		session: session.Clone(),
		subs:    make(map[int64]Handler),
	}
	h.mu.Unlock()

	return session.Clone(), nil
}

// Get returns a snapshot of the session.
func (h *Hub) Get(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.Clone(), nil
}

// List returns snapshots of all sessions, newest first.
func (h *Hub) List(ctx context.Context) ([]*domain.ChatSession, error) {
	sessions, err := h.repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	// Prefer the live cached state where one exists: it may carry
	// streaming text the repository has not seen yet.
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, session := range sessions {
		if st, ok := h.states[session.SessionID]; ok {
			st.mu.Lock()
			sessions[i] = st.session.Clone()
			st.mu.Unlock()
		}
	}
	return sessions, nil
}

// Delete removes a session and drops its runtime state.
func (h *Hub) Delete(ctx context.Context, sessionID string) error {
	if err := h.repo.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.states, sessionID)
	h.mu.Unlock()
	return nil
}

// SendMessage appends a message to the session, updates lastModified and
// notifies subscribers. Returns the appended message with its assigned ID.
func (h *Hub) SendMessage(ctx context.Context, sessionID string, msg domain.Message) (*domain.Message, error) {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	st.mu.Lock()
	if err := h.repo.AppendMessage(ctx, sessionID, &msg); err != nil {
		st.mu.Unlock()
		return nil, fmt.Errorf("append message: %w", err)
	}
	st.session.Messages = append(st.session.Messages, msg.Clone())
	st.session.LastModified = time.Now()
	snapshot, handlers := st.snapshotLocked()
	st.mu.Unlock()

	notify(snapshot, handlers)
	appended := msg.Clone()
	return &appended, nil
}

// ReplaceLastMessage overwrites the final message. A session with no
// messages is a silent no-op — never an error, never an append.
func (h *Hub) ReplaceLastMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if len(st.session.Messages) == 0 {
		st.mu.Unlock()
		return nil
	}
	last := &st.session.Messages[len(st.session.Messages)-1]
	if msg.ID == "" {
		msg.ID = last.ID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = last.CreatedAt
	}
	if err := h.repo.ReplaceLastMessage(ctx, sessionID, &msg); err != nil {
		st.mu.Unlock()
		return fmt.Errorf("replace last message: %w", err)
	}
	st.session.Messages[len(st.session.Messages)-1] = msg.Clone()
	st.session.LastModified = time.Now()
	snapshot, handlers := st.snapshotLocked()
	st.mu.Unlock()

	notify(snapshot, handlers)
	return nil
}

// BeginGeneration starts a new generation for the session and returns its
// fencing id. Any streaming update or finalization carrying an older id
// is discarded.
func (h *Hub) BeginGeneration(ctx context.Context, sessionID string) (uint64, error) {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.generation++
	return st.generation, nil
}

// UpdateStreamingMessage sets the text of the final message's first part
// without altering list length. In-memory only: the accumulated text is
// persisted once, by the finalizing ReplaceLastMessage. Updates from a
// superseded generation are dropped.
func (h *Hub) UpdateStreamingMessage(ctx context.Context, sessionID string, gen uint64, partialText string) error {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if gen != st.generation {
		st.mu.Unlock()
		slog.Debug("dropping stale streaming update", "session_id", sessionID, "gen", gen)
		return nil
	}
	if len(st.session.Messages) == 0 {
		st.mu.Unlock()
		return nil
	}
	last := &st.session.Messages[len(st.session.Messages)-1]
	if len(last.Parts) == 0 {
		last.Parts = []domain.Part{{}}
	}
	last.Parts[0].Text = partialText
	snapshot, handlers := st.snapshotLocked()
	st.mu.Unlock()

	notify(snapshot, handlers)
	return nil
}

// FinalizeStreaming replaces the streaming placeholder with the final
// message, unless the generation has been superseded.
func (h *Hub) FinalizeStreaming(ctx context.Context, sessionID string, gen uint64, msg domain.Message) error {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	current := st.generation
	st.mu.Unlock()
	if gen != current {
		slog.Debug("dropping stale finalization", "session_id", sessionID, "gen", gen)
		return nil
	}
	return h.ReplaceLastMessage(ctx, sessionID, msg)
}

// Join adds a participant; no-op when already present.
func (h *Hub) Join(ctx context.Context, sessionID string, profile domain.UserProfile) error {
	return h.mutateParticipants(ctx, sessionID, func(session *domain.ChatSession) bool {
		if session.HasParticipant(profile.Email) {
			return false
		}
		session.Participants = append(session.Participants, profile)
		return true
	})
}

// Leave removes a participant; no-op when absent.
func (h *Hub) Leave(ctx context.Context, sessionID string, email string) error {
	return h.mutateParticipants(ctx, sessionID, func(session *domain.ChatSession) bool {
		for i, p := range session.Participants {
			if p.Email == email {
				session.Participants = append(session.Participants[:i], session.Participants[i+1:]...)
				return true
			}
		}
		return false
	})
}

// UpdateTitle sets the session title. Concurrent writes are
// last-write-wins; messages are unaffected.
func (h *Hub) UpdateTitle(ctx context.Context, sessionID, title string) error {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if err := h.repo.UpdateTitle(ctx, sessionID, title); err != nil {
		st.mu.Unlock()
		return fmt.Errorf("update title: %w", err)
	}
	st.session.Title = title
	st.session.LastModified = time.Now()
	snapshot, handlers := st.snapshotLocked()
	st.mu.Unlock()

	notify(snapshot, handlers)
	return nil
}

// AddSme adds an expert to the session. The (industry, subType, segment)
// triple de-duplicates: adding an expert that is already present reports
// added=false and changes nothing.
func (h *Hub) AddSme(ctx context.Context, sessionID string, cfg domain.SmeConfig) (bool, error) {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	if st.session.HasSme(cfg) {
		st.mu.Unlock()
		return false, nil
	}
	updated := append(append([]domain.SmeConfig(nil), st.session.SmeConfigs...), cfg)
	if err := h.repo.SetSmeConfigs(ctx, sessionID, updated); err != nil {
		st.mu.Unlock()
		return false, fmt.Errorf("add sme: %w", err)
	}
	st.session.SmeConfigs = updated
	st.session.LastModified = time.Now()
	snapshot, handlers := st.snapshotLocked()
	st.mu.Unlock()

	notify(snapshot, handlers)
	return true, nil
}

// CompleteGuidedStep marks a guided plan step complete on the message at
// messageIndex and promotes the next step per the step machine.
func (h *Hub) CompleteGuidedStep(ctx context.Context, sessionID string, messageIndex, stepIndex int) error {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if messageIndex < 0 || messageIndex >= len(st.session.Messages) {
		st.mu.Unlock()
		return fmt.Errorf("message index %d out of range", messageIndex)
	}
	msg := &st.session.Messages[messageIndex]
	if msg.Payload == nil || msg.Payload.GuidedSession == nil {
		st.mu.Unlock()
		return fmt.Errorf("message %d carries no guided plan", messageIndex)
	}
	msg.Payload.GuidedSession.Complete(stepIndex)
	if err := h.repo.ReplaceMessageAt(ctx, sessionID, messageIndex, msg); err != nil {
		st.mu.Unlock()
		return fmt.Errorf("persist guided step: %w", err)
	}
	st.session.LastModified = time.Now()
	snapshot, handlers := st.snapshotLocked()
	st.mu.Unlock()

	notify(snapshot, handlers)
	return nil
}

// Subscribe registers a handler for session state changes and returns an
// unsubscribe token. Each call registers exactly one delivery; holding a
// token and re-subscribing with it released is idempotent by construction.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, handler Handler) (Token, error) {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return Token{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextSub++
	st.subs[st.nextSub] = handler
	return Token{sessionID: sessionID, id: st.nextSub}, nil
}

// Unsubscribe releases a subscription. Safe to call more than once.
func (h *Hub) Unsubscribe(token Token) {
	h.mu.Lock()
	st, ok := h.states[token.sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	delete(st.subs, token.id)
	st.mu.Unlock()
}

// state returns the runtime state for a session, loading it from the
// repository on first use. Unknown sessions yield ErrSessionNotFound.
func (h *Hub) state(ctx context.Context, sessionID string) (*state, error) {
	h.mu.Lock()
	if st, ok := h.states[sessionID]; ok {
		h.mu.Unlock()
		return st, nil
	}
	h.mu.Unlock()

	session, err := h.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Another goroutine may have loaded it while we read the repo.
	if st, ok := h.states[sessionID]; ok {
		return st, nil
	}
	st := &state{
		session: session,
		subs:    make(map[int64]Handler),
	}
	h.states[sessionID] = st
	return st, nil
}

func (h *Hub) mutateParticipants(ctx context.Context, sessionID string, mutate func(*domain.ChatSession) bool) error {
	st, err := h.state(ctx, sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if !mutate(st.session) {
		st.mu.Unlock()
		return nil
	}
	if err := h.repo.SetParticipants(ctx, sessionID, st.session.Participants); err != nil {
		st.mu.Unlock()
		return fmt.Errorf("update participants: %w", err)
	}
	st.session.LastModified = time.Now()
	snapshot, handlers := st.snapshotLocked()
	st.mu.Unlock()

	notify(snapshot, handlers)
	return nil
}

// snapshotLocked copies the session and the current handler set while the
// state lock is held, so notification happens outside the lock.
func (st *state) snapshotLocked() (*domain.ChatSession, []Handler) {
	handlers := make([]Handler, 0, len(st.subs))
	for _, handler := range st.subs {
		handlers = append(handlers, handler)
	}
	return st.session.Clone(), handlers
}

func notify(snapshot *domain.ChatSession, handlers []Handler) {
	for _, handler := range handlers {
		handler(snapshot)
	}
}
