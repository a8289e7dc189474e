package vault

import (
	"context"
	"fmt"
	"strings"
)

// ImportedSession is one conversation fetched from an external provider,
// flattened to a common shape.
type ImportedSession struct {
	ID    string
	Title string
	Turns []ImportedTurn
}

// ImportedTurn is one speaker turn in an imported conversation.
type ImportedTurn struct {
	Speaker string
	Text    string
}

// Transcript renders the conversation as the text the normalizer reads.
func (s ImportedSession) Transcript() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\n", s.Title)
	for _, turn := range s.Turns {
		fmt.Fprintf(&b, "[%s]: %s\n", turn.Speaker, turn.Text)
	}
	return b.String()
}

// Fetcher retrieves a user's conversations from one external provider.
type Fetcher interface {
	Provider() string
	FetchSessions(ctx context.Context, apiKey string) ([]ImportedSession, error)
}

func fetcherLabel(provider string) string {
	if provider == "" {
		return provider
	}
	return strings.ToUpper(provider[:1]) + provider[1:]
}

// SampleFetcher serves a fixed conversation set. The external chat
// providers have no public export APIs yet, so imports run against
// representative sample data until real integrations land.
type SampleFetcher struct {
	Name     string
	Sessions []ImportedSession
}

func (f *SampleFetcher) Provider() string { return f.Name }

func (f *SampleFetcher) FetchSessions(_ context.Context, apiKey string) ([]ImportedSession, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: api key is required", f.Name)
	}
	out := make([]ImportedSession, len(f.Sessions))
	copy(out, f.Sessions)
	return out, nil
}

// DefaultFetchers returns the built-in provider set.
func DefaultFetchers() []Fetcher {
	return []Fetcher{
		&SampleFetcher{Name: "openai", Sessions: []ImportedSession{
			{
				ID:    "session_001",
				Title: "Brainstorming Q3 Marketing Slogans",
				Turns: []ImportedTurn{
					{Speaker: "user", Text: "Let's brainstorm some slogans for our new hydration drink, 'Quench'."},
					{Speaker: "assistant", Text: "Great! How about: 'Quench: Your Thirst, Elevated.' or 'Quench: The Peak of Hydration.'?"},
				},
			},
			{
				ID:    "session_002",
				Title: "Developing a Python Script for Data Analysis",
				Turns: []ImportedTurn{
					{Speaker: "user", Text: "I need a Python script to parse a CSV file and calculate the average of a column named 'sales'."},
					{Speaker: "assistant", Text: "Certainly. You can use the pandas library for that."},
				},
			},
		}},
		&SampleFetcher{Name: "grok", Sessions: []ImportedSession{
			{
				ID:    "grok_001",
				Title: "Real-time Sentiment Analysis",
				Turns: []ImportedTurn{
					{Speaker: "user", Text: "Summarize the current sentiment around electric vehicle adoption."},
					{Speaker: "assistant", Text: "Overall sentiment is cautiously positive, with charging infrastructure as the main concern."},
				},
			},
		}},
		&SampleFetcher{Name: "aws", Sessions: []ImportedSession{
			{
				ID:    "aws_001",
				Title: "Lambda Cold Start Optimization",
				Turns: []ImportedTurn{
					{Speaker: "user", Text: "How do I reduce cold starts on my Lambda functions?"},
					{Speaker: "assistant", Text: "Provisioned concurrency removes cold starts for predictable traffic; smaller deployment packages help everywhere."},
				},
			},
		}},
		&SampleFetcher{Name: "gemini", Sessions: []ImportedSession{
			{
				ID:    "gemini_001",
				Title: "Trip Planning for Patagonia",
				Turns: []ImportedTurn{
					{Speaker: "user", Text: "Plan a 10-day hiking itinerary in Patagonia for March."},
					{Speaker: "model", Text: "March is ideal. Start in El Chaltén for Fitz Roy, then Torres del Paine's W circuit."},
				},
			},
		}},
	}
}
