// Package domain contains core domain types for the SMEPro application.
package domain

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is a single piece of message content: text or inline binary data
// (attachments are sent base64-encoded by the client).
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries a base64-encoded attachment.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// PayloadKind discriminates the optional structured payload a model
// message may carry. Exactly one kind applies per message; the kind
// determines which payload fields are meaningful.
type PayloadKind string

const (
	// PayloadPlain is a markdown-only model response.
	PayloadPlain PayloadKind = "plain"
	// PayloadStructured carries suggested prompts and optionally a guided
	// plan or an SME suggestion.
	PayloadStructured PayloadKind = "structured"
	// PayloadCitations carries grounded-search citations.
	PayloadCitations PayloadKind = "citations"
	// PayloadError marks a model turn that resolved to an error text.
	PayloadError PayloadKind = "error"
)

// ModelPayload is the tagged variant attached to model messages. Fields
// other than Kind are only populated for the matching kind.
type ModelPayload struct {
	Kind             PayloadKind        `json:"kind"`
	SuggestedPrompts []string           `json:"suggestedPrompts,omitempty"`
	GuidedSession    *GuidedSessionData `json:"guidedSessionData,omitempty"`
	SmeSuggestion    *SmeSuggestion     `json:"smeSuggestionData,omitempty"`
	Citations        []Citation         `json:"citations,omitempty"`
}

// Citation is a grounded-search source reference.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// SmeSuggestion proposes adding a different expert when a question falls
// outside the active SME's scope.
type SmeSuggestion struct {
	Reasoning    string    `json:"reasoning"`
	SuggestedSme SmeConfig `json:"suggestedSme"`
}

// Message is one turn in a chat session. User messages carry UserID and
// UserName; model messages may carry a Payload. A message is immutable
// once finalized — the single exception is the streaming placeholder,
// which the session hub replaces in place.
type Message struct {
	ID        string        `json:"id,omitempty"`
	Role      Role          `json:"role"`
	Parts     []Part        `json:"parts"`
	Payload   *ModelPayload `json:"payload,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	UserName  string        `json:"userName,omitempty"`
	CreatedAt time.Time     `json:"createdAt,omitempty"`
}

// Text returns the concatenated text of all parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

// NewUserMessage builds a user turn.
func NewUserMessage(parts []Part, userID, userName string) Message {
	return Message{
		Role:      RoleUser,
		Parts:     parts,
		UserID:    userID,
		UserName:  userName,
		CreatedAt: time.Now(),
	}
}

// NewModelText builds a plain model turn.
func NewModelText(text string) Message {
	return Message{
		Role:      RoleModel,
		Parts:     []Part{{Text: text}},
		Payload:   &ModelPayload{Kind: PayloadPlain},
		CreatedAt: time.Now(),
	}
}

// NewModelError builds a model turn carrying an error text, so the user
// always sees a resolved conversational turn instead of a stuck spinner.
func NewModelError(text string) Message {
	msg := NewModelText(text)
	msg.Payload.Kind = PayloadError
	return msg
}
