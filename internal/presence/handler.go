package presence

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Handler upgrades presence WebSocket connections and runs their read
// loops.
type Handler struct {
	hub           *session.Hub
	registry      *Registry
	typing        *TypingTracker
	allowedOrigin string
	isDev         bool
}

// NewHandler creates the presence WebSocket handler.
func NewHandler(hub *session.Hub, registry *Registry, typing *TypingTracker, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		hub:           hub,
		registry:      registry,
		typing:        typing,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// RegisterRoutes registers the presence endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/sessions/{sessionID}/presence", h.ServeSession)
}

// wsConn adapts websocket.Conn to the registry's Sender. Writes use a
// background context because the connection manages its own state; the
// request context only scopes the initial setup.
type wsConn struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (c *wsConn) Send(_ context.Context, data []byte) error {
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	return c.conn.Write(context.Background(), websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) {
	if err := c.conn.Close(websocket.StatusPolicyViolation, reason); err != nil {
		slog.Debug("presence close error", "error", err)
	}
}

// clientMessage is what connected clients send upstream.
type clientMessage struct {
	Type     string `json:"type"` // typing, ping
	IsTyping bool   `json:"isTyping,omitempty"`
}

// ServeSession handles GET /api/sessions/{sessionID}/presence.
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	profile := identity.ProfileFromContext(r.Context())
	if profile.Email == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Joining makes the user a durable participant; presence state below
	// is ephemeral and ends with the connection.
	if err := h.hub.Join(r.Context(), sessionID, profile); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept presence WebSocket", "error", err, "user_id", profile.Email)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "presence ended"); closeErr != nil {
			slog.Debug("presence WebSocket close", "error", closeErr)
		}
	}()

	slog.Info("presence connected", "session_id", sessionID, "user_id", profile.Email, "ip", identity.IPFromRequest(r))

	conn := &wsConn{conn: ws, ctx: r.Context()}
	if err := h.registry.Register(r.Context(), sessionID, profile, conn); err != nil {
		slog.Error("presence registration failed", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		h.registry.Unregister(sessionID, profile, conn)
		typing := h.typing.Set(sessionID, domain.TypingUser{UserID: profile.Email}, false)
		h.registry.Broadcast(sessionID, Event{Type: "typing", Typing: typing})
		slog.Info("presence disconnected", "session_id", sessionID, "user_id", profile.Email)
	}()

	for {
		_, data, err := ws.Read(r.Context())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return
			}
			slog.Debug("presence read error", "error", err, "session_id", sessionID)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ignoring malformed presence message", "error", err)
			continue
		}
		switch msg.Type {
		case "typing":
			typing := h.typing.Set(sessionID, domain.TypingUser{
				UserID:   profile.Email,
				UserName: profile.Name,
			}, msg.IsTyping)
			h.registry.Broadcast(sessionID, Event{Type: "typing", Typing: typing})
		case "ping":
			// Keepalive only.
		default:
			slog.Debug("unknown presence message type", "type", msg.Type)
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.isDev {
		return true
	}
	if h.allowedOrigin == "" {
		return strings.EqualFold(originHost(origin), r.Host)
	}
	return strings.EqualFold(strings.TrimSuffix(origin, "/"), strings.TrimSuffix(h.allowedOrigin, "/"))
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Host
}
