package domain

// SyncStatus tracks whether a vault item has been confirmed by the
// backend of record.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// OriginSMEPro marks vault items saved from a live SMEPro session, as
// opposed to items imported from an external provider.
const OriginSMEPro = "smepro"

// VaultItem is one saved entry in the user's knowledge vault. Message is
// a read-only copy; SourceSessionID is a lookup-only back-reference, not
// ownership.
type VaultItem struct {
	ID              string     `json:"id"`
	SmeConfig       SmeConfig  `json:"smeConfig"`
	Message         Message    `json:"message"`
	Category        string     `json:"category"`
	SavedAt         int64      `json:"savedAt"` // epoch milliseconds
	SyncStatus      SyncStatus `json:"syncStatus"`
	SessionTitle    string     `json:"sessionTitle,omitempty"`
	Origin          string     `json:"origin"`
	SourceSessionID string     `json:"sourceSessionId,omitempty"`
}
