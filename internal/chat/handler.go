package chat

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cmiguez/smepro/internal/config"
	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/go-chi/chi/v5"
)

// RateLimiter throttles chat sends per user. The key is the user's email,
// not email:sessionID, so clients cannot bypass throttling by rotating
// sessions.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether the key may make another request now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, time.Now())
	return true
}

// Close stops the eviction goroutine.
func (r *RateLimiter) Close() { close(r.done) }

// evictLoop drops expired keys so the map cannot grow without bound.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}
}

// eventQueue buffers recent session events per session so a reconnecting
// SSE client can replay what it missed via Last-Event-ID.
type eventQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

type queuedEvent struct {
	EventID int64
	Data    string
}

func newEventQueue(maxSize int) *eventQueue {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &eventQueue{queues: make(map[string]*list.List), maxSize: maxSize}
}

func (q *eventQueue) enqueue(sessionID string, eventID int64, data string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.queues[sessionID]
	if !ok {
		l = list.New()
		q.queues[sessionID] = l
	}
	l.PushBack(&queuedEvent{EventID: eventID, Data: data})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

func (q *eventQueue) missed(sessionID string, afterEventID int64) []*queuedEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()
	l, ok := q.queues[sessionID]
	if !ok {
		return nil
	}
	var out []*queuedEvent
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(*queuedEvent)
		if ev.EventID > afterEventID {
			out = append(out, ev)
		}
	}
	return out
}

func (q *eventQueue) prune(sessionID string) {
	q.mu.Lock()
	delete(q.queues, sessionID)
	q.mu.Unlock()
}

// Handler is the chat HTTP surface: a send endpoint that streams the turn
// back to the caller, and a live session stream for collaborators.
type Handler struct {
	svc     *Service
	hub     *session.Hub
	limiter *RateLimiter
	cfg     *config.Config
	queue   *eventQueue

	counterMu    sync.Mutex
	eventCounter int64
	streamCount  map[string]int
}

// NewHandler wires the chat HTTP surface.
func NewHandler(svc *Service, hub *session.Hub, cfg *config.Config) *Handler {
	return &Handler{
		svc:         svc,
		hub:         hub,
		limiter:     NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg,
		queue:       newEventQueue(50),
		streamCount: make(map[string]int),
	}
}

// RegisterRoutes registers chat routes on the session subtree.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/sessions/{sessionID}/chat", h.HandleChat)
	r.Get("/api/sessions/{sessionID}/stream", h.HandleStream)
	r.Post("/api/context-search", h.HandleContextSearch)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.limiter.Close()
}

type chatRequest struct {
	Message      string              `json:"message"`
	Attachments  []domain.InlineData `json:"attachments,omitempty"`
	UseCitations bool                `json:"useCitations,omitempty"`
}

// HandleChat handles POST /api/sessions/{sessionID}/chat. The turn's
// progress streams back as SSE while the session hub fans the same
// updates out to collaborators.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	profile := identity.ProfileFromContext(r.Context())
	if profile.Email == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if end := h.svc.Lockout(profile.Email); end > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintf(w, `{"error": "user is locked out", "lockoutEndTime": %d}`, end)
		return
	}

	if !h.limiter.Allow(profile.Email) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, http.ErrHandlerTimeout) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" && len(req.Attachments) == 0 {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	parts := []domain.Part{{Text: req.Message}}
	for i := range req.Attachments {
		att := req.Attachments[i]
		parts = append(parts, domain.Part{InlineData: &att})
	}

	slog.Info("chat send",
		"session_id", sessionID,
		"user_id", profile.Email,
		"message_length", len(req.Message),
		"attachments", len(req.Attachments),
		"citations", req.UseCitations,
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	// Collaborator sends in the same session notify this subscription
	// from their own goroutines, so SSE writes need a lock.
	var writeMu sync.Mutex
	token, err := h.hub.Subscribe(r.Context(), sessionID, func(snap *domain.ChatSession) {
		if len(snap.Messages) == 0 {
			return
		}
		data, merr := json.Marshal(snap.Messages[len(snap.Messages)-1])
		if merr != nil {
			slog.Warn("failed to marshal streaming update", "error", merr)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if werr := writeSSE(w, "update", string(data)); werr != nil {
			slog.Warn("failed to write SSE update", "error", werr)
			return
		}
		flusher.Flush()
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	defer h.hub.Unsubscribe(token)

	result, err := h.svc.Send(r.Context(), SendRequest{
		SessionID:    sessionID,
		User:         profile,
		Parts:        parts,
		UseCitations: req.UseCitations,
	})

	writeMu.Lock()
	defer writeMu.Unlock()
	switch {
	case err != nil:
		slog.Error("chat send failed", "session_id", sessionID, "error", err)
		if werr := writeSSE(w, "error", `{"error": "internal error"}`); werr != nil {
			return
		}
	case result.Blocked != nil:
		data, _ := json.Marshal(map[string]any{
			"detectionMethod": result.Blocked.Method,
			"details":         result.Blocked.Details,
			"actionTaken":     result.Blocked.Action,
			"lockoutEndTime":  result.Blocked.LockoutEnd,
		})
		if werr := writeSSE(w, "blocked", string(data)); werr != nil {
			return
		}
	default:
		data, merr := json.Marshal(result.Message)
		if merr != nil {
			slog.Warn("failed to marshal final message", "error", merr)
			return
		}
		if werr := writeSSE(w, "done", string(data)); werr != nil {
			return
		}
	}
	flusher.Flush()
}

// HandleStream handles GET /api/sessions/{sessionID}/stream: a long-lived
// SSE feed of session snapshots for collaborators, with event IDs for
// replay and keepalive pings.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	profile := identity.ProfileFromContext(r.Context())
	if profile.Email == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.SSE.RetryDelay.Milliseconds())); err != nil {
		return
	}
	flusher.Flush()

	// Snapshots arrive from whichever goroutine mutated the session.
	// They go through a buffered channel; the select loop below owns all
	// writes to this connection.
	updates := make(chan string, 16)
	token, err := h.hub.Subscribe(r.Context(), sessionID, func(snap *domain.ChatSession) {
		data, merr := json.Marshal(snap)
		if merr != nil {
			slog.Warn("failed to marshal session snapshot", "error", merr)
			return
		}
		select {
		case updates <- string(data):
		default:
			slog.Warn("dropping session update for slow SSE client", "session_id", sessionID)
		}
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	h.trackStream(sessionID, 1)
	defer func() {
		h.hub.Unsubscribe(token)
		// Drop the replay buffer once the last collaborator disconnects.
		if h.trackStream(sessionID, -1) == 0 {
			h.queue.prune(sessionID)
		}
		slog.Info("session stream closed", "session_id", sessionID, "user_id", profile.Email)
	}()

	if lastEventID > 0 {
		for _, ev := range h.queue.missed(sessionID, lastEventID) {
			if werr := writeSSEWithID(w, ev.EventID, "message", ev.Data); werr != nil {
				return
			}
		}
		flusher.Flush()
	}

	eventID := h.nextEventID()
	connected := fmt.Sprintf(`{"status":"connected","sessionId":%q,"event_id":%d}`, sessionID, eventID)
	if werr := writeSSEWithID(w, eventID, "connected", connected); werr != nil {
		return
	}
	flusher.Flush()

	slog.Info("session stream connected",
		"session_id", sessionID,
		"user_id", profile.Email,
		"reconnect", lastEventID > 0,
	)

	keepalive := time.NewTicker(h.cfg.SSE.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-updates:
			eventID := h.nextEventID()
			h.queue.enqueue(sessionID, eventID, data)
			if werr := writeSSEWithID(w, eventID, "message", data); werr != nil {
				slog.Warn("failed to write session update", "error", werr)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if werr := writeSSE(w, "ping", `{"status":"alive"}`); werr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type contextSearchRequest struct {
	Query      string   `json:"query"`
	SessionIDs []string `json:"sessionIds"`
}

// HandleContextSearch handles POST /api/context-search: analyze selected
// past sessions against a query.
func (h *Handler) HandleContextSearch(w http.ResponseWriter, r *http.Request) {
	profile := identity.ProfileFromContext(r.Context())
	if profile.Email == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.limiter.Allow(profile.Email) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)
	var req contextSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" || len(req.SessionIDs) == 0 {
		http.Error(w, `{"error": "query and sessionIds are required"}`, http.StatusBadRequest)
		return
	}

	answer, err := h.svc.ContextSearch(r.Context(), req.Query, req.SessionIDs)
	if err != nil {
		slog.Error("context search failed", "error", err)
		http.Error(w, `{"error": "context search failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"answer": answer})
}

func (h *Handler) nextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

func (h *Handler) trackStream(sessionID string, delta int) int {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.streamCount[sessionID] += delta
	count := h.streamCount[sessionID]
	if count <= 0 {
		delete(h.streamCount, sessionID)
		return 0
	}
	return count
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
