package models

import "time"

// OfflineAction is one entry of the append-only action log. Entries are
// marked synced in place and only removed by the retention cleanup.
type OfflineAction struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`   // create, update, delete
	Entity    string     `json:"entity"` // domain object kind
	EntityID  string     `json:"entity_id"`
	Payload   string     `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
	Synced    bool       `json:"synced"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
}

// EntityKey groups actions that must replay in creation order relative to
// each other. Actions with different keys are independent.
func (a *OfflineAction) EntityKey() string {
	return a.Entity + ":" + a.EntityID
}
