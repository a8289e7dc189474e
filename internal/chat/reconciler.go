// Package chat orchestrates the conversational loop: safety gate, message
// persistence, model generation and the streaming reconciler that turns a
// raw structured-output stream into exactly one finalized model turn.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"regexp"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/genai"
	"github.com/cmiguez/smepro/internal/session"
)

const (
	apologyText    = "I apologize, but I encountered a formatting error in my response. Please try again."
	disclaimerNote = "\n\n*(Note: Full structured response could not be displayed due to a formatting error.)*"
)

// markdownContentPattern salvages the main response text from a truncated
// or malformed structured payload. The capture is the raw JSON string
// body, escapes included.
var markdownContentPattern = regexp.MustCompile(`"markdownContent"\s*:\s*"((?:\\.|[^"])*)"`)

// Reconciler drives a streaming generation against the session store. The
// placeholder message is assumed to already be the session's last message;
// the reconciler finalizes it exactly once, whatever the stream does.
type Reconciler struct {
	hub *session.Hub
}

// NewReconciler creates a reconciler over the session hub.
func NewReconciler(hub *session.Hub) *Reconciler {
	return &Reconciler{hub: hub}
}

// StreamStructured consumes a structured-output stream, mirroring the
// accumulated text into the placeholder as it grows, then parses the
// complete payload into the final message. A malformed payload degrades
// to salvaged markdown, then to a fixed apology; a stream error becomes
// an in-conversation error turn.
func (r *Reconciler) StreamStructured(ctx context.Context, sessionID string, gen uint64, stream iter.Seq2[string, error]) (domain.Message, error) {
	var accumulated string
	for delta, err := range stream {
		if err != nil {
			final := domain.NewModelError("Sorry, I ran into an error: " + err.Error())
			if ferr := r.hub.FinalizeStreaming(ctx, sessionID, gen, final); ferr != nil {
				return domain.Message{}, fmt.Errorf("finalize after stream error: %w", ferr)
			}
			return final, nil
		}
		accumulated += delta
		if err := r.hub.UpdateStreamingMessage(ctx, sessionID, gen, accumulated); err != nil {
			return domain.Message{}, fmt.Errorf("mirror streaming text: %w", err)
		}
	}

	final := resolveStructured(accumulated)
	if err := r.hub.FinalizeStreaming(ctx, sessionID, gen, final); err != nil {
		return domain.Message{}, fmt.Errorf("finalize streamed message: %w", err)
	}
	return final, nil
}

// FinalizeGrounded turns a grounded result into the final message.
// Citations missing a URI or title are discarded rather than rendered as
// broken links.
func (r *Reconciler) FinalizeGrounded(ctx context.Context, sessionID string, gen uint64, result *genai.GroundedResult) (domain.Message, error) {
	var citations []domain.Citation
	for _, c := range result.Citations {
		if c.URI == "" || c.Title == "" {
			continue
		}
		citations = append(citations, c)
	}

	final := domain.NewModelText(result.Text)
	final.Payload = &domain.ModelPayload{Kind: domain.PayloadCitations, Citations: citations}
	if err := r.hub.FinalizeStreaming(ctx, sessionID, gen, final); err != nil {
		return domain.Message{}, fmt.Errorf("finalize grounded message: %w", err)
	}
	return final, nil
}

// FinalizeError resolves the placeholder with an in-conversation error
// turn so the user never sees a stuck spinner.
func (r *Reconciler) FinalizeError(ctx context.Context, sessionID string, gen uint64, cause error) (domain.Message, error) {
	final := domain.NewModelError("Sorry, I ran into an error: " + cause.Error())
	if err := r.hub.FinalizeStreaming(ctx, sessionID, gen, final); err != nil {
		return domain.Message{}, fmt.Errorf("finalize error message: %w", err)
	}
	return final, nil
}

// resolveStructured parses the accumulated payload, degrading gracefully
// when the model broke the schema.
func resolveStructured(accumulated string) domain.Message {
	var parsed genai.StructuredResponse
	if err := json.Unmarshal([]byte(accumulated), &parsed); err == nil && parsed.MarkdownContent != "" {
		final := domain.NewModelText(parsed.MarkdownContent)
		final.Payload = &domain.ModelPayload{
			Kind:             domain.PayloadStructured,
			SuggestedPrompts: parsed.SuggestedPrompts,
			SmeSuggestion:    parsed.SmeSuggestionData,
		}
		if parsed.GuidedSessionData != nil && len(parsed.GuidedSessionData.Steps) > 0 {
			plan := *parsed.GuidedSessionData
			plan.InitStatuses()
			final.Payload.GuidedSession = &plan
		}
		return final
	}

	salvaged := apologyText
	if m := markdownContentPattern.FindStringSubmatch(accumulated); m != nil {
		var text string
		if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &text); err == nil {
			salvaged = text
		}
	}
	final := domain.NewModelText(salvaged + disclaimerNote)
	final.Payload.Kind = domain.PayloadError
	return final
}
