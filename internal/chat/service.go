package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/genai"
	"github.com/cmiguez/smepro/internal/safety"
	"github.com/cmiguez/smepro/internal/session"
)

// Generator is the model backend the service talks to.
type Generator interface {
	GenerateStream(ctx context.Context, req genai.GenerateRequest) iter.Seq2[string, error]
	GenerateGrounded(ctx context.Context, req genai.GenerateRequest) (*genai.GroundedResult, error)
}

// Gate screens prompts before they reach the model.
type Gate interface {
	Check(ctx context.Context, userID, prompt string) (*safety.Verdict, error)
	Lockout(userID string) int64
}

// SendRequest is one user turn to process.
type SendRequest struct {
	SessionID    string
	User         domain.UserProfile
	Parts        []domain.Part
	UseCitations bool
}

// SendResult is the resolved outcome of a send. Exactly one of Blocked
// and Message is set.
type SendResult struct {
	Blocked *safety.Verdict
	Message *domain.Message
}

// Service runs the conversational loop. Sends within one session are
// strictly sequential; a second send waits for the generation in flight.
type Service struct {
	hub        *session.Hub
	reconciler *Reconciler
	generator  Generator
	gate       Gate

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewService wires the orchestrator.
func NewService(hub *session.Hub, generator Generator, gate Gate) *Service {
	return &Service{
		hub:        hub,
		reconciler: NewReconciler(hub),
		generator:  generator,
		gate:       gate,
		inflight:   make(map[string]*sync.Mutex),
	}
}

// Send processes one user turn: safety check, persist the user message,
// open a model placeholder and reconcile the generation into it. Safety
// flags block the turn before anything is persisted.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	prompt := partsText(req.Parts)
	if strings.TrimSpace(prompt) == "" && !hasAttachment(req.Parts) {
		return nil, errors.New("message is empty")
	}

	verdict, err := s.gate.Check(ctx, req.User.Email, prompt)
	if err != nil {
		return nil, fmt.Errorf("safety check: %w", err)
	}
	if verdict != nil {
		slog.Info("prompt blocked",
			"session_id", req.SessionID,
			"user_id", req.User.Email,
			"method", verdict.Method,
			"action", verdict.Action,
		)
		return &SendResult{Blocked: verdict}, nil
	}

	unlock := s.lockSession(req.SessionID)
	defer unlock()

	snapshot, err := s.hub.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	userMsg := domain.NewUserMessage(req.Parts, req.User.Email, req.User.Name)
	if _, err := s.hub.SendMessage(ctx, req.SessionID, userMsg); err != nil {
		return nil, err
	}

	// Placeholder the stream resolves into. Opened before the model call
	// so collaborators see the turn start immediately.
	placeholder := domain.NewModelText("")
	if _, err := s.hub.SendMessage(ctx, req.SessionID, placeholder); err != nil {
		return nil, err
	}
	gen, err := s.hub.BeginGeneration(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	instruction := genai.SystemInstruction(snapshot.SmeConfigs, snapshot.HasGuidedPlan())
	contents := append(genai.ContentsFromMessages(snapshot.Messages), genai.Content{
		Role:  "user",
		Parts: wireParts(req.Parts),
	})

	var final domain.Message
	if req.UseCitations {
		result, gerr := s.generator.GenerateGrounded(ctx, genai.GenerateRequest{
			SystemInstruction: instruction,
			Contents:          contents,
		})
		if gerr != nil {
			final, err = s.reconciler.FinalizeError(ctx, req.SessionID, gen, gerr)
		} else {
			final, err = s.reconciler.FinalizeGrounded(ctx, req.SessionID, gen, result)
		}
	} else {
		stream := s.generator.GenerateStream(ctx, genai.GenerateRequest{
			SystemInstruction: instruction,
			Contents:          contents,
			ResponseSchema:    genai.ChatResponseSchema(len(snapshot.SmeConfigs) > 1),
		})
		final, err = s.reconciler.StreamStructured(ctx, req.SessionID, gen, stream)
	}
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: &final}, nil
}

// Lockout reports the requesting user's active lockout end in epoch ms.
func (s *Service) Lockout(userID string) int64 {
	return s.gate.Lockout(userID)
}

// ContextSearch analyzes a set of past sessions against a query and
// returns a synthesized answer (deep-context mode).
func (s *Service) ContextSearch(ctx context.Context, query string, sessionIDs []string) (string, error) {
	var transcript strings.Builder
	for _, id := range sessionIDs {
		snap, err := s.hub.Get(ctx, id)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				continue
			}
			return "", err
		}
		fmt.Fprintf(&transcript, "--- Session: %s ---\n", snap.Title)
		for _, msg := range snap.Messages {
			fmt.Fprintf(&transcript, "[%s]: %s\n", msg.Role, msg.Text())
		}
		transcript.WriteString("\n")
	}
	if transcript.Len() == 0 {
		return "", errors.New("no sessions to analyze")
	}

	var answer strings.Builder
	for delta, err := range s.generator.GenerateStream(ctx, genai.GenerateRequest{
		SystemInstruction: genai.ContextAnalysisInstruction(query),
		Contents: []genai.Content{{
			Role:  "user",
			Parts: []genai.Part{{Text: transcript.String()}},
		}},
	}) {
		if err != nil {
			return "", fmt.Errorf("context analysis: %w", err)
		}
		answer.WriteString(delta)
	}
	return answer.String(), nil
}

func (s *Service) lockSession(sessionID string) func() {
	s.mu.Lock()
	mu, ok := s.inflight[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.inflight[sessionID] = mu
	}
	s.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func partsText(parts []domain.Part) string {
	var out strings.Builder
	for _, p := range parts {
		out.WriteString(p.Text)
	}
	return out.String()
}

func hasAttachment(parts []domain.Part) bool {
	for _, p := range parts {
		if p.InlineData != nil {
			return true
		}
	}
	return false
}

func wireParts(parts []domain.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		wp := genai.Part{Text: p.Text}
		if p.InlineData != nil {
			wp.InlineData = &genai.Blob{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}
		}
		out = append(out, wp)
	}
	return out
}
