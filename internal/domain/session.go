package domain

import (
	"strings"
	"time"
)

// SmeConfig identifies a Subject Matter Expert persona. The
// (industry, subType, segment) triple is the identity used for
// de-duplication when experts are added to a session.
type SmeConfig struct {
	Industry string `json:"industry"`
	SubType  string `json:"subType"`
	Segment  string `json:"segment"`
}

// Equal reports whether two configs name the same expert. Matching is
// case-insensitive so "Retail" and "retail" do not yield duplicate experts.
func (c SmeConfig) Equal(other SmeConfig) bool {
	return strings.EqualFold(c.Industry, other.Industry) &&
		strings.EqualFold(c.SubType, other.SubType) &&
		strings.EqualFold(c.Segment, other.Segment)
}

// ChatSession is a conversation between one or more users and one or more
// SME personas. Messages are append-only except for the single most-recent
// streaming placeholder, which may be replaced in place.
type ChatSession struct {
	SessionID    string        `json:"sessionId"`
	Title        string        `json:"title,omitempty"`
	SmeConfigs   []SmeConfig   `json:"smeConfigs"`
	Messages     []Message     `json:"messages"`
	Participants []UserProfile `json:"participants"`
	LastModified time.Time     `json:"lastModified"`
}

// HasSme reports whether the session already includes the given expert.
func (s *ChatSession) HasSme(c SmeConfig) bool {
	for _, existing := range s.SmeConfigs {
		if existing.Equal(c) {
			return true
		}
	}
	return false
}

// HasParticipant reports whether a user (by email) has joined the session.
func (s *ChatSession) HasParticipant(email string) bool {
	for _, p := range s.Participants {
		if strings.EqualFold(p.Email, email) {
			return true
		}
	}
	return false
}

// HasGuidedPlan reports whether any message carries a guided plan. Used to
// enable mentor mode in the persona instruction.
func (s *ChatSession) HasGuidedPlan() bool {
	for i := range s.Messages {
		if p := s.Messages[i].Payload; p != nil && p.GuidedSession != nil {
			return true
		}
	}
	return false
}

// Clone returns a deep copy suitable for handing to subscribers, so
// callbacks can never mutate hub-owned state.
func (s *ChatSession) Clone() *ChatSession {
	out := &ChatSession{
		SessionID:    s.SessionID,
		Title:        s.Title,
		LastModified: s.LastModified,
	}
	out.SmeConfigs = append([]SmeConfig(nil), s.SmeConfigs...)
	out.Participants = append([]UserProfile(nil), s.Participants...)
	out.Messages = make([]Message, len(s.Messages))
	for i := range s.Messages {
		out.Messages[i] = s.Messages[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		out.Parts[i] = p
		if p.InlineData != nil {
			data := *p.InlineData
			out.Parts[i].InlineData = &data
		}
	}
	if m.Payload != nil {
		payload := *m.Payload
		payload.SuggestedPrompts = append([]string(nil), m.Payload.SuggestedPrompts...)
		payload.Citations = append([]Citation(nil), m.Payload.Citations...)
		if m.Payload.GuidedSession != nil {
			plan := *m.Payload.GuidedSession
			plan.Steps = append([]Step(nil), m.Payload.GuidedSession.Steps...)
			payload.GuidedSession = &plan
		}
		if m.Payload.SmeSuggestion != nil {
			suggestion := *m.Payload.SmeSuggestion
			payload.SmeSuggestion = &suggestion
		}
		out.Payload = &payload
	}
	return out
}

// UserProfile identifies a participant. Email is the participant key.
type UserProfile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// TypingUser is a transient "who is typing" record for a session.
type TypingUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
