package repository

import (
	"context"
	"sync/atomic"
	"time"

	"slotsync/internal/domain"
	"slotsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotRepository prefers the primary tier and drops to the
// fallback when the primary errors, probing the primary again after a
// minute.
type FailoverSnapshotRepository struct {
	primary   domain.SnapshotRepository
	fallback  domain.SnapshotRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last failed primary probe
}

func NewFailoverSnapshotRepository(primary, fallback domain.SnapshotRepository, logger *zerolog.Logger) *FailoverSnapshotRepository {
	return &FailoverSnapshotRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSnapshotRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverSnapshotRepository) Get(ctx context.Context, key models.AvailabilityKey) (*models.ProviderAvailability, error) {
	if !r.isDown.Load() {
		availability, err := r.primary.Get(ctx, key)
		if err == nil {
			return availability, nil
		}
		r.markDown(err)
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute {
		availability, err := r.primary.Get(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return availability, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverSnapshotRepository) Set(ctx context.Context, availability *models.ProviderAvailability) error {
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, availability)
		if err == nil {
			// Keep the fallback warm so a failover sees recent data.
			_ = r.fallback.Set(ctx, availability)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, availability)
}

func (r *FailoverSnapshotRepository) Delete(ctx context.Context, key models.AvailabilityKey) error {
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			_ = r.fallback.Delete(ctx, key)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Delete(ctx, key)
}

func (r *FailoverSnapshotRepository) Clear(ctx context.Context) error {
	if !r.isDown.Load() {
		err := r.primary.Clear(ctx)
		if err == nil {
			_ = r.fallback.Clear(ctx)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Clear(ctx)
}
