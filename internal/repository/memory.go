package repository

import (
	"context"
	"sync"

	"slotsync/internal/models"
)

// MemorySnapshotRepository keeps snapshots in process memory. It is the
// default hot tier and the failover target when Redis is down.
type MemorySnapshotRepository struct {
	snapshots sync.Map
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{}
}

func (r *MemorySnapshotRepository) Get(ctx context.Context, key models.AvailabilityKey) (*models.ProviderAvailability, error) {
	val, ok := r.snapshots.Load(key)
	if !ok {
		return nil, nil
	}
	return val.(*models.ProviderAvailability), nil
}

func (r *MemorySnapshotRepository) Set(ctx context.Context, availability *models.ProviderAvailability) error {
	r.snapshots.Store(availability.Key(), availability)
	return nil
}

func (r *MemorySnapshotRepository) Delete(ctx context.Context, key models.AvailabilityKey) error {
	r.snapshots.Delete(key)
	return nil
}

func (r *MemorySnapshotRepository) Clear(ctx context.Context) error {
	r.snapshots.Range(func(key, _ interface{}) bool {
		r.snapshots.Delete(key)
		return true
	})
	return nil
}
