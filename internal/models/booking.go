package models

import "time"

// BookingRequest is the reservation-phase object: the client-side hold on a
// slot while the server decides. A confirmed request is handed off to the
// appointment record keeper; it never becomes an appointment itself.
type BookingRequest struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ProviderID string    `json:"provider_id"`
	TimeSlotID string    `json:"time_slot_id"`
	ServiceID  string    `json:"service_id"`
	Status     string    `json:"status"` // pending, confirmed, rejected, expired
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Terminal reports whether the request has reached a final state.
func (b *BookingRequest) Terminal() bool {
	return b.Status != StatusPending
}

// Expired reports whether the expiry deadline has passed at the given time.
func (b *BookingRequest) Expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}
