package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/genai"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/cmiguez/smepro/internal/store"
)

func newStreamFixture(t *testing.T) (*Reconciler, *session.Hub, string, uint64) {
	t.Helper()
	hub := session.NewHub(store.NewMemory())
	ctx := context.Background()
	sess, err := hub.Create(ctx, &domain.ChatSession{Title: "t"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := hub.SendMessage(ctx, sess.SessionID, domain.NewModelText("")); err != nil {
		t.Fatalf("placeholder failed: %v", err)
	}
	gen, err := hub.BeginGeneration(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("BeginGeneration failed: %v", err)
	}
	return NewReconciler(hub), hub, sess.SessionID, gen
}

func streamOf(chunks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func lastMessage(t *testing.T, hub *session.Hub, sessionID string) domain.Message {
	t.Helper()
	snap, err := hub.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(snap.Messages) == 0 {
		t.Fatal("no messages in session")
	}
	return snap.Messages[len(snap.Messages)-1]
}

func TestStreamStructuredSuccess(t *testing.T) {
	r, hub, sessionID, gen := newStreamFixture(t)

	payload := `{"markdownContent":"Here is your **plan**.","suggestedPrompts":["next?","why?"],` +
		`"guidedSessionData":{"title":"Plan","objective":"Do it","steps":[{"title":"A","description":"a"},{"title":"B","description":"b"}]}}`
	// Chunk boundaries fall mid-token to mimic real streams.
	final, err := r.StreamStructured(context.Background(), sessionID, gen, streamOf(payload[:17], payload[17:40], payload[40:]))
	if err != nil {
		t.Fatalf("StreamStructured failed: %v", err)
	}

	if final.Text() != "Here is your **plan**." {
		t.Errorf("text = %q", final.Text())
	}
	if final.Payload == nil || final.Payload.Kind != domain.PayloadStructured {
		t.Fatalf("payload = %+v, want structured", final.Payload)
	}
	if len(final.Payload.SuggestedPrompts) != 2 {
		t.Errorf("prompts = %v", final.Payload.SuggestedPrompts)
	}
	steps := final.Payload.GuidedSession.Steps
	if steps[0].Status != domain.StepActive || steps[1].Status != domain.StepPending {
		t.Errorf("step statuses = %q, %q; want active, pending", steps[0].Status, steps[1].Status)
	}
	if got := lastMessage(t, hub, sessionID); got.Text() != final.Text() {
		t.Errorf("session last message = %q, want finalized text", got.Text())
	}
}

func TestStreamStructuredMirrorsChunks(t *testing.T) {
	r, hub, sessionID, gen := newStreamFixture(t)

	var seen []string
	token, err := hub.Subscribe(context.Background(), sessionID, func(snap *domain.ChatSession) {
		seen = append(seen, snap.Messages[len(snap.Messages)-1].Text())
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer hub.Unsubscribe(token)

	if _, err := r.StreamStructured(context.Background(), sessionID, gen, streamOf(`{"markdown`, `Content":"hi",`, `"suggestedPrompts":[]}`)); err != nil {
		t.Fatalf("StreamStructured failed: %v", err)
	}

	// Three mirror updates plus the finalization, each carrying the full
	// accumulator so far.
	if len(seen) != 4 {
		t.Fatalf("expected 4 notifications, got %d: %v", len(seen), seen)
	}
	if seen[0] != `{"markdown` || seen[1] != `{"markdownContent":"hi",` {
		t.Errorf("mirror updates wrong: %v", seen[:2])
	}
	if seen[3] != "hi" {
		t.Errorf("finalized text = %q", seen[3])
	}
}

func TestStreamStructuredSalvage(t *testing.T) {
	r, _, sessionID, gen := newStreamFixture(t)

	// Valid markdownContent inside an otherwise truncated payload.
	broken := `{"markdownContent":"Partial \"answer\" here","suggestedPrompts":["a",`
	final, err := r.StreamStructured(context.Background(), sessionID, gen, streamOf(broken))
	if err != nil {
		t.Fatalf("StreamStructured failed: %v", err)
	}
	want := `Partial "answer" here` + disclaimerNote
	if final.Text() != want {
		t.Errorf("text = %q, want %q", final.Text(), want)
	}
	if final.Payload.Kind != domain.PayloadError {
		t.Errorf("kind = %q, want error", final.Payload.Kind)
	}
}

func TestStreamStructuredApology(t *testing.T) {
	r, _, sessionID, gen := newStreamFixture(t)

	final, err := r.StreamStructured(context.Background(), sessionID, gen, streamOf("not json at all"))
	if err != nil {
		t.Fatalf("StreamStructured failed: %v", err)
	}
	if final.Text() != apologyText+disclaimerNote {
		t.Errorf("text = %q", final.Text())
	}
}

func TestStreamStructuredEmptyStream(t *testing.T) {
	r, hub, sessionID, gen := newStreamFixture(t)

	final, err := r.StreamStructured(context.Background(), sessionID, gen, streamOf())
	if err != nil {
		t.Fatalf("StreamStructured failed: %v", err)
	}
	// An empty stream still resolves the placeholder, never leaves it hanging.
	if final.Text() != apologyText+disclaimerNote {
		t.Errorf("text = %q", final.Text())
	}
	if got := lastMessage(t, hub, sessionID); got.Payload == nil || got.Payload.Kind != domain.PayloadError {
		t.Errorf("placeholder not resolved to error turn: %+v", got.Payload)
	}
}

func TestStreamStructuredStreamError(t *testing.T) {
	r, _, sessionID, gen := newStreamFixture(t)

	stream := func(yield func(string, error) bool) {
		if !yield(`{"markdownContent":"pre`, nil) {
			return
		}
		yield("", errors.New("upstream reset"))
	}
	final, err := r.StreamStructured(context.Background(), sessionID, gen, stream)
	if err != nil {
		t.Fatalf("StreamStructured failed: %v", err)
	}
	if !strings.Contains(final.Text(), "Sorry, I ran into an error: upstream reset") {
		t.Errorf("text = %q", final.Text())
	}
	if final.Payload.Kind != domain.PayloadError {
		t.Errorf("kind = %q, want error", final.Payload.Kind)
	}
}

func TestFinalizeGroundedFiltersIncompleteCitations(t *testing.T) {
	r, _, sessionID, gen := newStreamFixture(t)

	final, err := r.FinalizeGrounded(context.Background(), sessionID, gen, &genai.GroundedResult{
		Text: "grounded answer",
		Citations: []domain.Citation{
			{URI: "https://a.example", Title: "A"},
			{URI: "https://b.example"},
			{Title: "C"},
		},
	})
	if err != nil {
		t.Fatalf("FinalizeGrounded failed: %v", err)
	}
	if final.Payload.Kind != domain.PayloadCitations {
		t.Errorf("kind = %q", final.Payload.Kind)
	}
	if len(final.Payload.Citations) != 1 || final.Payload.Citations[0].Title != "A" {
		t.Errorf("citations = %+v, want only the complete pair", final.Payload.Citations)
	}
}
