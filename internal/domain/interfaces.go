package domain

import (
	"context"
	"time"

	"slotsync/internal/models"
)

// SnapshotRepository is the hot tier for availability snapshots. A miss is
// (nil, nil); the durable store remains the system of record.
type SnapshotRepository interface {
	Get(ctx context.Context, key models.AvailabilityKey) (*models.ProviderAvailability, error)
	Set(ctx context.Context, availability *models.ProviderAvailability) error
	Delete(ctx context.Context, key models.AvailabilityKey) error
	Clear(ctx context.Context) error
}

// Emitter is the outbound side of the realtime channel as seen by the
// reservation machine and the synchronizer.
type Emitter interface {
	Connected() bool
	Emit(event string, payload interface{}) error
	Request(ctx context.Context, event string, payload interface{}) ([]byte, error)
}

// AlertScheduler schedules a local user-facing alert. A zero time means
// "show immediately".
type AlertScheduler interface {
	ScheduleLocalAlert(ctx context.Context, id, message string, at time.Time) error
}

// ConnectivitySource reports online state and edge-triggered transitions.
// OnChange returns a function that removes the callback.
type ConnectivitySource interface {
	IsOnline() bool
	OnChange(callback func(online bool)) func()
}

// AvailabilityPublisher redistributes merged snapshots to subscribers.
type AvailabilityPublisher interface {
	Publish(providerID string, availability *models.ProviderAvailability)
}
