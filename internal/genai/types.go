package genai

import "github.com/cmiguez/smepro/internal/domain"

// Part is one piece of content in a turn.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob carries base64-encoded binary content such as an attached image.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Content is one conversational turn on the wire.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerateRequest is what callers hand to the client. Model overrides the
// configured chat model when set.
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	Contents          []Content
	ResponseSchema    map[string]any
}

// GroundedResult is a grounded (search-backed) generation. Citations may
// be incomplete; callers decide what to keep.
type GroundedResult struct {
	Text      string
	Citations []domain.Citation
}

// Classification is the safety classifier verdict.
type Classification struct {
	IsHarmful bool   `json:"isHarmful"`
	Category  string `json:"category"`
	Reasoning string `json:"reasoning"`
}

// NormalizedItem is the distilled form of an imported conversation.
type NormalizedItem struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Category string `json:"category"`
}

// StructuredResponse is the schema-constrained chat output.
type StructuredResponse struct {
	MarkdownContent   string                    `json:"markdownContent"`
	SuggestedPrompts  []string                  `json:"suggestedPrompts"`
	GuidedSessionData *domain.GuidedSessionData `json:"guidedSessionData,omitempty"`
	SmeSuggestionData *domain.SmeSuggestion     `json:"smeSuggestionData,omitempty"`
}

// Wire types for the generation backend.

type generateRequest struct {
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Contents          []Content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []tool            `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type tool struct {
	GoogleSearch map[string]any `json:"googleSearch,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content           Content            `json:"content"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks"`
}

type groundingChunk struct {
	Web *webSource `json:"web,omitempty"`
}

type webSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

func (r *generateResponse) text() string {
	var out string
	for _, cand := range r.Candidates {
		for _, part := range cand.Content.Parts {
			out += part.Text
		}
	}
	return out
}

func (r *generateResponse) citations() []domain.Citation {
	var out []domain.Citation
	for _, cand := range r.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil {
				continue
			}
			out = append(out, domain.Citation{URI: chunk.Web.URI, Title: chunk.Web.Title})
		}
	}
	return out
}

// ContentsFromMessages converts stored history into wire turns.
func ContentsFromMessages(msgs []domain.Message) []Content {
	out := make([]Content, 0, len(msgs))
	for _, msg := range msgs {
		content := Content{Role: string(msg.Role), Parts: make([]Part, 0, len(msg.Parts))}
		for _, p := range msg.Parts {
			wp := Part{Text: p.Text}
			if p.InlineData != nil {
				wp.InlineData = &Blob{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}
			}
			content.Parts = append(content.Parts, wp)
		}
		out = append(out, content)
	}
	return out
}
