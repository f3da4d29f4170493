package models

import (
	"fmt"
	"time"
)

// TimeSlot is a bookable unit of provider time. Identity is ID; only the
// cache manager mutates IsAvailable/IsBlocked, and only through a merge.
type TimeSlot struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsAvailable bool      `json:"is_available"`
	ServiceID   string    `json:"service_id,omitempty"`
	Price       float64   `json:"price,omitempty"`
	IsBlocked   bool      `json:"is_blocked,omitempty"`
	BlockReason string    `json:"block_reason,omitempty"`
}

// Duration returns the slot length.
func (s TimeSlot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Bookable reports whether the slot can currently be offered to a customer.
func (s TimeSlot) Bookable() bool {
	return s.IsAvailable && !s.IsBlocked
}

// ProviderAvailability is the per-(provider, date) snapshot. LastUpdated is
// monotonically non-decreasing for a given key; older deltas are dropped.
type ProviderAvailability struct {
	ProviderID   string     `json:"provider_id"`
	ProviderName string     `json:"provider_name,omitempty"`
	Date         time.Time  `json:"date"`
	TimeSlots    []TimeSlot `json:"time_slots"`
	LastUpdated  time.Time  `json:"last_updated"`
	IsOnline     bool       `json:"is_online"`
}

// NextAvailableSlot returns the earliest bookable slot, or nil.
func (a *ProviderAvailability) NextAvailableSlot() *TimeSlot {
	var next *TimeSlot
	for i := range a.TimeSlots {
		slot := &a.TimeSlots[i]
		if !slot.Bookable() {
			continue
		}
		if next == nil || slot.StartTime.Before(next.StartTime) {
			next = slot
		}
	}
	return next
}

// Key returns the cache key for this snapshot.
func (a *ProviderAvailability) Key() AvailabilityKey {
	return NewAvailabilityKey(a.ProviderID, a.Date)
}

// AvailabilityUpdate is an incremental delta for a subset of a provider's
// slots on one date. Slots absent from the delta are left untouched.
type AvailabilityUpdate struct {
	ProviderID   string     `json:"provider_id"`
	Date         time.Time  `json:"date"`
	UpdatedSlots []TimeSlot `json:"updated_slots"`
	Timestamp    time.Time  `json:"timestamp"`
	UpdateType   string     `json:"update_type"`
}

// AvailabilityKey identifies one (provider, date) snapshot. The date part
// is normalized to a calendar day.
type AvailabilityKey struct {
	ProviderID string
	Date       string
}

func NewAvailabilityKey(providerID string, date time.Time) AvailabilityKey {
	return AvailabilityKey{ProviderID: providerID, Date: date.Format(DateLayout)}
}

func (k AvailabilityKey) String() string {
	return fmt.Sprintf("%s_%s", k.ProviderID, k.Date)
}

// SyncStatus is derived on demand from the action log and connectivity
// state; it is never persisted or independently mutated.
type SyncStatus struct {
	LastSyncTime       *time.Time `json:"last_sync_time"`
	PendingActionCount int        `json:"pending_action_count"`
	IsOnline           bool       `json:"is_online"`
	IsSyncing          bool       `json:"is_syncing"`
}
