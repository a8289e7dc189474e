// Package safety screens user prompts before they reach the model. Two
// layers run in order: a keyword scan over an editable list, then an AI
// classifier. A repeat offender inside the flag window is locked out.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cmiguez/smepro/internal/config"
	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/genai"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Classifier is the AI moderation layer.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (*genai.Classification, error)
}

// Store is the slice of the repository the gate needs.
type Store interface {
	ListKeywords(ctx context.Context) ([]string, error)
	SaveKeywords(ctx context.Context, keywords []string) error
	LogFlaggedPrompt(ctx context.Context, flag *domain.FlaggedPrompt) error
	CountRecentFlags(ctx context.Context, userID string, since time.Time) (int, error)
}

// Verdict is the outcome of a safety check. A nil Verdict from Check
// means the prompt is clean.
type Verdict struct {
	Method     domain.DetectionMethod
	Details    string
	Action     domain.FlagAction
	LockoutEnd int64 // epoch ms, zero unless Action is lockout
}

// Gate runs the two-layer safety check and the escalation policy.
type Gate struct {
	repo       Store
	classifier Classifier
	policy     Policy
	lockouts   *lockoutRegistry
	now        func() time.Time
}

// NewGate wires the gate from configuration. classifier may be nil when
// AI moderation is not available; the keyword layer still runs.
func NewGate(repo Store, classifier Classifier, cfg config.SafetyConfig) *Gate {
	return &Gate{
		repo:       repo,
		classifier: classifier,
		policy: Policy{
			Threshold:       cfg.LockoutThreshold,
			Window:          cfg.FlagWindow,
			LockoutDuration: cfg.LockoutDuration,
		},
		lockouts: newLockoutRegistry(),
		now:      time.Now,
	}
}

// Check screens a prompt. The keyword scan wins outright: a keyword hit
// skips the classifier. Classifier failures fail open with a warning so
// moderation outages never block legitimate chat.
func (g *Gate) Check(ctx context.Context, userID, prompt string) (*Verdict, error) {
	if end := g.lockouts.end(userID, g.now()); !end.IsZero() {
		return &Verdict{
			Method:     domain.DetectionAI,
			Details:    "user is locked out",
			Action:     domain.ActionLockout,
			LockoutEnd: end.UnixMilli(),
		}, nil
	}

	keywords, err := g.repo.ListKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	lower := strings.ToLower(prompt)
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return g.flag(ctx, userID, prompt, domain.DetectionKeyword, keyword)
		}
	}

	if g.classifier == nil {
		return nil, nil
	}
	verdict, err := g.classifier.Classify(ctx, prompt)
	if err != nil {
		if !errors.Is(err, genai.ErrNoCredential) {
			slog.Warn("safety classifier failed, allowing prompt", "error", err)
		}
		return nil, nil
	}
	if verdict.IsHarmful {
		details := fmt.Sprintf("%s: %s", verdict.Category, verdict.Reasoning)
		return g.flag(ctx, userID, prompt, domain.DetectionAI, details)
	}
	return nil, nil
}

// Lockout reports the active lockout end for the user in epoch ms, zero
// when the user is not locked out.
func (g *Gate) Lockout(userID string) int64 {
	end := g.lockouts.end(userID, g.now())
	if end.IsZero() {
		return 0
	}
	return end.UnixMilli()
}

func (g *Gate) flag(ctx context.Context, userID, prompt string, method domain.DetectionMethod, details string) (*Verdict, error) {
	now := g.now()

	// Count includes the current flag, recorded below.
	recent, err := g.repo.CountRecentFlags(ctx, userID, now.Add(-g.policy.Window))
	if err != nil {
		return nil, fmt.Errorf("count recent flags: %w", err)
	}
	action := g.policy.Decide(recent + 1)

	record := &domain.FlaggedPrompt{
		ID:              uuid.NewString(),
		Prompt:          prompt,
		DetectionMethod: method,
		Details:         details,
		ActionTaken:     action,
		Timestamp:       now.UnixMilli(),
		UserID:          userID,
	}
	if err := g.repo.LogFlaggedPrompt(ctx, record); err != nil {
		return nil, fmt.Errorf("log flagged prompt: %w", err)
	}

	verdict := &Verdict{Method: method, Details: details, Action: action}
	if action == domain.ActionLockout {
		until := now.Add(g.policy.LockoutDuration)
		g.lockouts.lock(userID, until)
		verdict.LockoutEnd = until.UnixMilli()
		slog.Info("user locked out", "user_id", userID, "until", until)
	}
	return verdict, nil
}

type keywordSeed struct {
	Keywords []string `yaml:"keywords"`
}

// SeedKeywords loads the initial moderation keyword list from a YAML file
// when the stored list is empty. Later edits go through the safety API
// and the file is never consulted again.
func SeedKeywords(ctx context.Context, repo Store, path string) error {
	existing, err := repo.ListKeywords(ctx)
	if err != nil {
		return fmt.Errorf("load keywords: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("keyword seed file missing, starting with empty list", "path", path)
			return nil
		}
		return fmt.Errorf("read keyword seed: %w", err)
	}
	var seed keywordSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse keyword seed: %w", err)
	}
	if len(seed.Keywords) == 0 {
		return nil
	}
	if err := repo.SaveKeywords(ctx, seed.Keywords); err != nil {
		return fmt.Errorf("save seeded keywords: %w", err)
	}
	slog.Info("seeded moderation keywords", "count", len(seed.Keywords), "path", path)
	return nil
}
