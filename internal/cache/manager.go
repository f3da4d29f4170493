package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slotsync/internal/domain"
	"slotsync/internal/metrics"
	"slotsync/internal/models"
	"slotsync/internal/store"

	"github.com/rs/zerolog"
)

// Freshness qualifies a Get result so the UI can tell "no slots" from
// "couldn't check".
type Freshness int

const (
	// Fresh: the snapshot is within the staleness window.
	Fresh Freshness = iota
	// Stale: the refetch could not complete; best-effort cached value.
	Stale
	// Unknown: nothing cached and the channel was unreachable.
	Unknown
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Fetcher retrieves a fresh snapshot over the realtime channel.
type Fetcher interface {
	FetchAvailability(ctx context.Context, providerID string, date time.Time) (*models.ProviderAvailability, error)
}

// PreferredWindow restricts slot search to a time-of-day range.
type PreferredWindow struct {
	Start time.Duration // offset from midnight
	End   time.Duration
}

// ProviderSlots pairs a provider with its matching slots.
type ProviderSlots struct {
	ProviderID string
	Slots      []models.TimeSlot
}

// Manager owns every ProviderAvailability instance. The hot tier is the
// fast path; the durable store is the system of record and the hot tier is
// rebuilt from it at startup.
type Manager struct {
	db        *store.DB
	hot       domain.SnapshotRepository
	publisher domain.AvailabilityPublisher
	fetcher   Fetcher
	staleness time.Duration
	now       func() time.Time
	logger    *zerolog.Logger

	// Serializes merges so deltas for one key apply in receipt order.
	mergeMu sync.Mutex
}

func NewManager(db *store.DB, hot domain.SnapshotRepository, publisher domain.AvailabilityPublisher, fetcher Fetcher, staleness time.Duration, logger *zerolog.Logger) *Manager {
	if staleness <= 0 {
		staleness = models.DefaultStalenessWindow
	}
	return &Manager{
		db:        db,
		hot:       hot,
		publisher: publisher,
		fetcher:   fetcher,
		staleness: staleness,
		now:       time.Now,
		logger:    logger,
	}
}

// Rebuild loads every persisted snapshot into the hot tier. Called once at
// startup.
func (m *Manager) Rebuild(ctx context.Context) error {
	snapshots, err := m.db.ListAvailability(ctx)
	if err != nil {
		return fmt.Errorf("rebuild availability cache: %w", err)
	}
	for _, snapshot := range snapshots {
		if err := m.hot.Set(ctx, snapshot); err != nil {
			return fmt.Errorf("warm hot tier: %w", err)
		}
	}
	m.logger.Info().Int("snapshots", len(snapshots)).Msg("Availability cache rebuilt")
	return nil
}

// Get returns the snapshot for (provider, date). A fresh cached entry is
// returned immediately; otherwise a refetch is attempted, and on failure
// the stale entry is still returned so callers are never blocked. When
// nothing is cached and the refetch fails the result is Unknown, which is
// distinct from a confirmed-empty snapshot.
func (m *Manager) Get(ctx context.Context, providerID string, date time.Time) (*models.ProviderAvailability, Freshness, error) {
	key := models.NewAvailabilityKey(providerID, date)

	cached, err := m.lookup(ctx, key)
	if err != nil {
		return nil, Unknown, err
	}

	if cached != nil && m.now().Sub(cached.LastUpdated) < m.staleness {
		metrics.IncCacheLookup(Fresh.String())
		return cached, Fresh, nil
	}

	if m.fetcher != nil {
		fetched, err := m.fetcher.FetchAvailability(ctx, providerID, date)
		if err == nil && fetched != nil {
			installed, err := m.installFetched(ctx, key, fetched)
			if err != nil {
				return nil, Unknown, err
			}
			metrics.IncCacheLookup(Fresh.String())
			return installed, Fresh, nil
		}
		if err != nil {
			m.logger.Debug().Err(err).Str("provider_id", providerID).Msg("Availability refetch failed, serving cache")
		}
	}

	if cached != nil {
		metrics.IncCacheLookup(Stale.String())
		return cached, Stale, nil
	}

	metrics.IncCacheLookup(Unknown.String())
	return nil, Unknown, nil
}

// GetMultiple fetches several providers for one date, skipping providers
// that come back Unknown.
func (m *Manager) GetMultiple(ctx context.Context, providerIDs []string, date time.Time) ([]*models.ProviderAvailability, error) {
	var snapshots []*models.ProviderAvailability
	for _, providerID := range providerIDs {
		availability, freshness, err := m.Get(ctx, providerID, date)
		if err != nil {
			return nil, err
		}
		if freshness == Unknown {
			continue
		}
		snapshots = append(snapshots, availability)
	}
	return snapshots, nil
}

// FindAvailableSlots returns, per provider, the bookable slots long enough
// for the service and inside the preferred time-of-day window, if one is
// given.
func (m *Manager) FindAvailableSlots(ctx context.Context, providerIDs []string, date time.Time, serviceDuration time.Duration, preferred *PreferredWindow) ([]ProviderSlots, error) {
	snapshots, err := m.GetMultiple(ctx, providerIDs, date)
	if err != nil {
		return nil, err
	}

	results := make([]ProviderSlots, 0, len(snapshots))
	for _, availability := range snapshots {
		var slots []models.TimeSlot
		for _, slot := range availability.TimeSlots {
			if !slot.Bookable() || slot.Duration() < serviceDuration {
				continue
			}
			if preferred != nil {
				midnight := time.Date(slot.StartTime.Year(), slot.StartTime.Month(), slot.StartTime.Day(), 0, 0, 0, 0, slot.StartTime.Location())
				offset := slot.StartTime.Sub(midnight)
				if offset < preferred.Start || offset > preferred.End {
					continue
				}
			}
			slots = append(slots, slot)
		}
		results = append(results, ProviderSlots{ProviderID: availability.ProviderID, Slots: slots})
	}
	return results, nil
}

// installFetched installs a fetched snapshot under the merge lock. A
// delta merged while the fetch was in flight can leave the cache newer
// than the response; in that case the response is dropped and the
// cached snapshot returned, the same drop rule ApplyDelta applies.
func (m *Manager) installFetched(ctx context.Context, key models.AvailabilityKey, fetched *models.ProviderAvailability) (*models.ProviderAvailability, error) {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	cached, err := m.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil && fetched.LastUpdated.Before(cached.LastUpdated) {
		m.logger.Debug().Str("key", key.String()).
			Time("fetched", fetched.LastUpdated).
			Time("cached", cached.LastUpdated).
			Msg("Fetch response older than cached snapshot, keeping cache")
		return cached, nil
	}
	if err := m.install(ctx, fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}

// ApplyDelta merges an incremental update at slot granularity. A delta
// with a timestamp older than the cached snapshot is dropped, never
// merged. Every successful merge persists the snapshot and notifies the
// fan-out.
func (m *Manager) ApplyDelta(ctx context.Context, update *models.AvailabilityUpdate) error {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	key := models.NewAvailabilityKey(update.ProviderID, update.Date)

	cached, err := m.lookup(ctx, key)
	if err != nil {
		return err
	}

	if cached != nil && update.Timestamp.Before(cached.LastUpdated) {
		metrics.IncDeltaDroppedStale()
		m.logger.Debug().
			Str("provider_id", update.ProviderID).
			Time("delta_ts", update.Timestamp).
			Time("cached_ts", cached.LastUpdated).
			Msg("Out-of-order delta dropped")
		return nil
	}

	if cached == nil {
		cached = &models.ProviderAvailability{
			ProviderID: update.ProviderID,
			Date:       update.Date,
		}
	}

	for _, updated := range update.UpdatedSlots {
		replaced := false
		for i := range cached.TimeSlots {
			if cached.TimeSlots[i].ID == updated.ID {
				cached.TimeSlots[i] = updated
				replaced = true
				break
			}
		}
		if !replaced {
			cached.TimeSlots = append(cached.TimeSlots, updated)
		}
	}
	cached.LastUpdated = update.Timestamp

	if err := m.install(ctx, cached); err != nil {
		return err
	}

	metrics.IncDeltaMerged(update.UpdateType)
	return nil
}

// SetProviderOnline flips the online flag on every cached snapshot for the
// provider.
func (m *Manager) SetProviderOnline(ctx context.Context, providerID string, online bool) error {
	snapshots, err := m.db.ListAvailability(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots for provider toggle: %w", err)
	}

	for _, snapshot := range snapshots {
		if snapshot.ProviderID != providerID || snapshot.IsOnline == online {
			continue
		}
		snapshot.IsOnline = online
		if err := m.install(ctx, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops one snapshot; the next Get becomes a miss.
func (m *Manager) Invalidate(ctx context.Context, providerID string, date time.Time) error {
	key := models.NewAvailabilityKey(providerID, date)
	if err := m.hot.Delete(ctx, key); err != nil {
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Hot tier invalidate failed")
	}
	return m.db.DeleteAvailability(ctx, key)
}

// Clear drops every cached snapshot, memory and durable.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.hot.Clear(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Hot tier clear failed")
	}
	return m.db.ClearAvailability(ctx)
}

// lookup checks the hot tier first and falls through to the durable store.
func (m *Manager) lookup(ctx context.Context, key models.AvailabilityKey) (*models.ProviderAvailability, error) {
	cached, err := m.hot.Get(ctx, key)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Hot tier read failed")
	}
	if cached != nil {
		return cached, nil
	}

	persisted, err := m.db.GetAvailability(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := m.hot.Set(ctx, persisted); err != nil {
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Hot tier warm failed")
	}
	return persisted, nil
}

// install persists a snapshot, refreshes the hot tier, and notifies the
// fan-out.
func (m *Manager) install(ctx context.Context, availability *models.ProviderAvailability) error {
	if err := m.db.SaveAvailability(ctx, availability); err != nil {
		return err
	}
	if err := m.hot.Set(ctx, availability); err != nil {
		m.logger.Warn().Err(err).Str("key", availability.Key().String()).Msg("Hot tier write failed")
	}
	if m.publisher != nil {
		m.publisher.Publish(availability.ProviderID, availability)
	}
	return nil
}
