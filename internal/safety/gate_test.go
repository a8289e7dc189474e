package safety

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmiguez/smepro/internal/config"
	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/genai"
)

type fakeStore struct {
	keywords []string
	flags    []*domain.FlaggedPrompt
}

func (s *fakeStore) ListKeywords(context.Context) ([]string, error) { return s.keywords, nil }
func (s *fakeStore) SaveKeywords(_ context.Context, keywords []string) error {
	s.keywords = keywords
	return nil
}
func (s *fakeStore) LogFlaggedPrompt(_ context.Context, flag *domain.FlaggedPrompt) error {
	s.flags = append(s.flags, flag)
	return nil
}
func (s *fakeStore) CountRecentFlags(_ context.Context, userID string, since time.Time) (int, error) {
	count := 0
	for _, f := range s.flags {
		if f.UserID == userID && f.Timestamp >= since.UnixMilli() {
			count++
		}
	}
	return count, nil
}

type fakeClassifier struct {
	verdict *genai.Classification
	err     error
	calls   int
}

func (c *fakeClassifier) Classify(context.Context, string) (*genai.Classification, error) {
	c.calls++
	return c.verdict, c.err
}

func testCfg() config.SafetyConfig {
	return config.SafetyConfig{
		LockoutThreshold: 3,
		FlagWindow:       time.Hour,
		LockoutDuration:  5 * time.Minute,
	}
}

func TestKeywordMatchSkipsClassifier(t *testing.T) {
	store := &fakeStore{keywords: []string{"forbidden"}}
	classifier := &fakeClassifier{verdict: &genai.Classification{IsHarmful: true}}
	gate := NewGate(store, classifier, testCfg())

	verdict, err := gate.Check(context.Background(), "u1", "This is FORBIDDEN territory")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if verdict == nil {
		t.Fatal("expected a flag")
	}
	if verdict.Method != domain.DetectionKeyword || verdict.Details != "forbidden" {
		t.Errorf("verdict = %+v, want keyword match on %q", verdict, "forbidden")
	}
	if classifier.calls != 0 {
		t.Errorf("classifier invoked %d times, want 0", classifier.calls)
	}
	if len(store.flags) != 1 {
		t.Errorf("expected 1 logged flag, got %d", len(store.flags))
	}
}

func TestClassifierFlagsPrompt(t *testing.T) {
	store := &fakeStore{}
	classifier := &fakeClassifier{verdict: &genai.Classification{
		IsHarmful: true, Category: "Harassment", Reasoning: "targets an individual",
	}}
	gate := NewGate(store, classifier, testCfg())

	verdict, err := gate.Check(context.Background(), "u1", "mean prompt")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if verdict == nil || verdict.Method != domain.DetectionAI {
		t.Fatalf("verdict = %+v, want AI detection", verdict)
	}
	if verdict.Details != "Harassment: targets an individual" {
		t.Errorf("details = %q", verdict.Details)
	}
	if verdict.Action != domain.ActionWarn {
		t.Errorf("action = %q, want warn on first offense", verdict.Action)
	}
}

func TestClassifierFailureFailsOpen(t *testing.T) {
	gate := NewGate(&fakeStore{}, &fakeClassifier{err: errors.New("upstream down")}, testCfg())

	verdict, err := gate.Check(context.Background(), "u1", "anything")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if verdict != nil {
		t.Errorf("expected clean verdict when classifier fails, got %+v", verdict)
	}
}

func TestNoCredentialSkipsClassifier(t *testing.T) {
	gate := NewGate(&fakeStore{}, &fakeClassifier{err: genai.ErrNoCredential}, testCfg())

	verdict, err := gate.Check(context.Background(), "u1", "anything")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if verdict != nil {
		t.Errorf("expected clean verdict without credentials, got %+v", verdict)
	}
}

func TestEscalationToLockout(t *testing.T) {
	store := &fakeStore{keywords: []string{"bad"}}
	gate := NewGate(store, nil, testCfg())
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		verdict, err := gate.Check(ctx, "u1", "bad prompt")
		if err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		if verdict.Action != domain.ActionWarn {
			t.Fatalf("flag %d action = %q, want warn", i, verdict.Action)
		}
	}

	verdict, err := gate.Check(ctx, "u1", "bad prompt")
	if err != nil {
		t.Fatalf("third Check failed: %v", err)
	}
	if verdict.Action != domain.ActionLockout {
		t.Fatalf("third flag action = %q, want lockout", verdict.Action)
	}
	wantEnd := now.Add(5 * time.Minute).UnixMilli()
	if verdict.LockoutEnd != wantEnd {
		t.Errorf("lockout end = %d, want %d", verdict.LockoutEnd, wantEnd)
	}
	if gate.Lockout("u1") != wantEnd {
		t.Errorf("Lockout() = %d, want %d", gate.Lockout("u1"), wantEnd)
	}

	// While locked out, even clean prompts are rejected.
	verdict, err = gate.Check(ctx, "u1", "perfectly fine")
	if err != nil {
		t.Fatalf("Check during lockout failed: %v", err)
	}
	if verdict == nil || verdict.Action != domain.ActionLockout {
		t.Errorf("expected lockout verdict during lockout, got %+v", verdict)
	}

	// Expiry is clock-based: advancing past the end lifts blocking.
	now = now.Add(5*time.Minute + time.Second)
	if gate.Lockout("u1") != 0 {
		t.Errorf("expected lockout lifted, got %d", gate.Lockout("u1"))
	}
}

func TestOtherUserUnaffectedByLockout(t *testing.T) {
	store := &fakeStore{keywords: []string{"bad"}}
	gate := NewGate(store, nil, testCfg())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := gate.Check(ctx, "u1", "bad"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}
	verdict, err := gate.Check(ctx, "u2", "clean prompt")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if verdict != nil {
		t.Errorf("u2 should be unaffected, got %+v", verdict)
	}
}

func TestSeedKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	if err := os.WriteFile(path, []byte("keywords:\n  - alpha\n  - beta\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	if err := SeedKeywords(context.Background(), store, path); err != nil {
		t.Fatalf("SeedKeywords failed: %v", err)
	}
	if len(store.keywords) != 2 || store.keywords[0] != "alpha" {
		t.Errorf("keywords = %v", store.keywords)
	}

	// A populated list is never overwritten by the seed file.
	store.keywords = []string{"custom"}
	if err := SeedKeywords(context.Background(), store, path); err != nil {
		t.Fatalf("SeedKeywords failed: %v", err)
	}
	if len(store.keywords) != 1 || store.keywords[0] != "custom" {
		t.Errorf("seed overwrote edited list: %v", store.keywords)
	}
}

func TestSeedKeywordsMissingFile(t *testing.T) {
	store := &fakeStore{}
	if err := SeedKeywords(context.Background(), store, filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Errorf("missing seed file should not error: %v", err)
	}
}
