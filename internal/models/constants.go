package models

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Entity names for queued offline actions. Availability subscriptions
// are not queued; the fan-out re-derives them on reconnect.
const (
	EntityBooking = "booking"
)

const (
	UpdateTypeBooking        = "booking"
	UpdateTypeCancellation   = "cancellation"
	UpdateTypeBlock          = "block"
	UpdateTypeUnblock        = "unblock"
	UpdateTypeScheduleChange = "schedule_change"
)

// DateLayout is the canonical day format used in cache keys and store rows.
const DateLayout = "2006-01-02"

const (
	// DefaultStalenessWindow is how long a cached snapshot is served
	// without a refetch.
	DefaultStalenessWindow = 5 * time.Minute

	// DefaultExpiryWindow is how long a booking request may stay pending.
	DefaultExpiryWindow = 10 * time.Minute

	// DefaultSweepInterval is how often pending requests are checked for
	// expiry.
	DefaultSweepInterval = time.Minute

	// DefaultRetentionWindow is how long synced actions are kept before
	// the cleanup pass purges them.
	DefaultRetentionWindow = 7 * 24 * time.Hour

	// ExpiryWarningLead is how long before expiresAt the "hold expires
	// soon" alert fires.
	ExpiryWarningLead = 2 * time.Minute
)
