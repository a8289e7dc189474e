package genai

import (
	"fmt"
	"strings"

	"github.com/cmiguez/smepro/internal/domain"
)

// SystemInstruction builds the persona preamble for a session. A single
// expert answers in first person; a multi-expert team tags each response
// with the speaking expert. Mentor mode is appended when the session has
// a guided plan in play.
func SystemInstruction(configs []domain.SmeConfig, mentorMode bool) string {
	var b strings.Builder
	switch {
	case len(configs) > 1:
		b.WriteString("You are a team of expert SMEs working together in a collaborative workspace. Your team consists of:\n")
		for _, c := range configs {
			fmt.Fprintf(&b, "- An expert in **%s** within %s, in the %s industry.\n", c.Segment, c.SubType, c.Industry)
		}
		b.WriteString("\nWhen responding, you MUST preface your response with the expert's title (e.g., \"[Drilling Engineer]: ...\") to indicate who is speaking. This is crucial for clarity. If the response is a synthesis of knowledge from multiple experts, use \"[Combined Expertise]: ...\". Be clear, concise, and actionable.")
	case len(configs) == 1:
		c := configs[0]
		fmt.Fprintf(&b, "You are an expert in **%s** within %s, in the %s industry. Your persona is a helpful, expert SME. Be clear, concise, and actionable.", c.Segment, c.SubType, c.Industry)
	default:
		b.WriteString("You are a general helpful assistant.")
	}
	if mentorMode {
		b.WriteString("\n\nMENTOR MODE: The user is in a guided session. Focus your responses on helping them complete the currently 'active' step.")
	}
	return b.String()
}

// ContextAnalysisInstruction is the preamble for deep-context search
// across a user's past sessions.
func ContextAnalysisInstruction(query string) string {
	return fmt.Sprintf("You are an AI assistant that analyzes collections of past conversations to synthesize new insights. The user has provided several of their past SMEPro chat sessions. Your task is to analyze them in the context of their query (%q) and provide a concise, actionable summary or a direct answer. Be insightful and find connections between sessions.", query)
}

// ChatResponseSchema constrains the structured chat output. Expert
// suggestions are only offered in single-expert sessions; a team covers
// its own gaps.
func ChatResponseSchema(multiSme bool) map[string]any {
	properties := map[string]any{
		"markdownContent": map[string]any{
			"type":        "string",
			"description": "The main response formatted in markdown.",
		},
		"suggestedPrompts": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "A list of 3 relevant follow-up questions or prompts.",
		},
		"guidedSessionData": map[string]any{
			"type":        "object",
			"description": "A step-by-step plan. Only generate this if the user asks for a plan, procedure, or multi-step process.",
			"nullable":    true,
			"properties": map[string]any{
				"title":     map[string]any{"type": "string"},
				"objective": map[string]any{"type": "string"},
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"title":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
						},
						"required": []string{"title", "description"},
					},
				},
			},
		},
	}
	if !multiSme {
		properties["smeSuggestionData"] = map[string]any{
			"type":        "object",
			"description": "A suggestion to add a different SME. Only generate this if the user's question is clearly outside the scope of your current expertise but related to another possible SME. If the question is on topic, this must be null.",
			"nullable":    true,
			"properties": map[string]any{
				"reasoning": map[string]any{
					"type":        "string",
					"description": "Explain why another SME would be better suited for this query.",
				},
				"suggestedSme": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"industry": map[string]any{"type": "string"},
						"subType":  map[string]any{"type": "string"},
						"segment":  map[string]any{"type": "string"},
					},
					"required": []string{"industry", "subType", "segment"},
				},
			},
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   []string{"markdownContent", "suggestedPrompts"},
	}
}

var classificationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"isHarmful": map[string]any{"type": "boolean"},
		"category": map[string]any{
			"type":        "string",
			"description": "Category of harm, e.g., 'Hate Speech', 'Self-Harm', 'Illegal Acts', 'Harassment', 'Dangerous Content'.",
		},
		"reasoning": map[string]any{
			"type":        "string",
			"description": "A brief explanation for the classification.",
		},
	},
	"required": []string{"isHarmful", "category", "reasoning"},
}

func normalizeSchema(categories []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "A concise, descriptive title for the conversation, max 5 words.",
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "A one-paragraph summary of the key insights or outcomes.",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "The most fitting category from this list: " + strings.Join(categories, ", "),
			},
		},
		"required": []string{"title", "summary", "category"},
	}
}
