package domain

// DetectionMethod says which layer of the safety gate flagged a prompt.
type DetectionMethod string

const (
	DetectionKeyword DetectionMethod = "keyword"
	DetectionAI      DetectionMethod = "ai"
)

// FlagAction is the punitive action the escalation policy took.
type FlagAction string

const (
	ActionWarn    FlagAction = "warn"
	ActionLockout FlagAction = "lockout"
)

// FlaggedPrompt is the audit record for one blocked prompt.
type FlaggedPrompt struct {
	ID              string          `json:"id"`
	Prompt          string          `json:"prompt"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
	Details         string          `json:"details"`
	ActionTaken     FlagAction      `json:"actionTaken"`
	Timestamp       int64           `json:"timestamp"` // epoch milliseconds
	UserID          string          `json:"userId"`
}
