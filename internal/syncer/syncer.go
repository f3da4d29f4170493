package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"slotsync/internal/domain"
	"slotsync/internal/metrics"
	"slotsync/internal/models"
	"slotsync/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrOffline is returned when a drain is requested without
	// connectivity.
	ErrOffline = errors.New("syncer: offline")

	// ErrDrainInProgress is returned when a drain is already running.
	ErrDrainInProgress = errors.New("syncer: drain already in progress")
)

// ActionHandler replays one queued action against the live service.
type ActionHandler func(ctx context.Context, action models.OfflineAction) error

// Listener observes sync status changes.
type Listener func(status models.SyncStatus)

// Synchronizer owns the offline action log: it records actions attempted
// while the channel is down and replays them in creation order once
// connectivity returns. A failure stops the remainder of that entity's
// actions but not independent entities.
type Synchronizer struct {
	db           *store.DB
	connectivity domain.ConnectivitySource
	retention    time.Duration
	logger       *zerolog.Logger
	now          func() time.Time

	handlerMu sync.RWMutex
	handlers  map[string]ActionHandler

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int

	draining atomic.Bool
}

func NewSynchronizer(db *store.DB, connectivity domain.ConnectivitySource, retention time.Duration, logger *zerolog.Logger) *Synchronizer {
	if retention <= 0 {
		retention = models.DefaultRetentionWindow
	}
	return &Synchronizer{
		db:           db,
		connectivity: connectivity,
		retention:    retention,
		logger:       logger,
		now:          time.Now,
		handlers:     make(map[string]ActionHandler),
		listeners:    make(map[int]Listener),
	}
}

// RegisterHandler installs the replay function for one entity kind.
func (s *Synchronizer) RegisterHandler(entity string, handler ActionHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[entity] = handler
}

// AddListener registers a sync status callback and returns its removal
// function.
func (s *Synchronizer) AddListener(listener Listener) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = listener

	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

// Enqueue appends an action to the durable log and, when online,
// immediately attempts a drain. The offline path and the flaky-connection
// path share this single code path.
func (s *Synchronizer) Enqueue(ctx context.Context, action *models.OfflineAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = s.now()
	}

	if err := s.db.AppendAction(ctx, action); err != nil {
		return err
	}
	s.logger.Debug().Str("action_id", action.ID).Str("entity", action.EntityKey()).Str("type", action.Type).Msg("Offline action queued")

	if s.connectivity != nil && s.connectivity.IsOnline() {
		if err := s.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
			s.logger.Warn().Err(err).Msg("Post-enqueue drain failed")
		}
	}

	s.notifyListeners(ctx)
	return nil
}

// Drain replays unsynced actions in creation order. A single in-flight
// guard prevents overlapping drains from double-sending an action. One
// failed action blocks the rest of its entity's actions and leaves them
// queued for the next attempt.
func (s *Synchronizer) Drain(ctx context.Context) error {
	if s.connectivity != nil && !s.connectivity.IsOnline() {
		return ErrOffline
	}
	if !s.draining.CompareAndSwap(false, true) {
		return ErrDrainInProgress
	}
	defer s.draining.Store(false)

	metrics.IncDrain()
	s.notifyListeners(ctx)
	defer s.notifyListeners(ctx)

	actions, err := s.db.GetUnsyncedActions(ctx)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}

	s.logger.Info().Int("pending", len(actions)).Msg("Draining offline actions")

	blocked := make(map[string]bool)
	for _, action := range actions {
		key := action.EntityKey()
		if blocked[key] {
			continue
		}

		s.handlerMu.RLock()
		handler, ok := s.handlers[action.Entity]
		s.handlerMu.RUnlock()
		if !ok {
			s.logger.Error().Str("entity", action.Entity).Str("action_id", action.ID).Msg("No replay handler for entity")
			blocked[key] = true
			continue
		}

		if err := handler(ctx, action); err != nil {
			metrics.IncActionFailed()
			s.logger.Warn().Err(err).Str("action_id", action.ID).Str("entity", key).Msg("Action replay failed, entity blocked until next drain")
			if markErr := s.db.MarkActionFailed(ctx, action.ID, err.Error()); markErr != nil {
				s.logger.Error().Err(markErr).Str("action_id", action.ID).Msg("Record replay failure failed")
			}
			blocked[key] = true
			continue
		}

		if err := s.db.MarkActionSynced(ctx, action.ID, s.now()); err != nil {
			// The replay went through but durability failed; stop this
			// entity so ordering holds and retry later. The handler must
			// tolerate the duplicate.
			s.logger.Error().Err(err).Str("action_id", action.ID).Msg("Mark synced failed")
			blocked[key] = true
			continue
		}
		metrics.IncActionSynced()
	}

	if err := s.db.SetLastSyncTime(ctx, s.now()); err != nil {
		s.logger.Error().Err(err).Msg("Record last sync time failed")
	}
	return nil
}

// ForceSync is the manual drain trigger. It errors when offline instead of
// silently doing nothing.
func (s *Synchronizer) ForceSync(ctx context.Context) error {
	if s.connectivity != nil && !s.connectivity.IsOnline() {
		return ErrOffline
	}
	err := s.Drain(ctx)
	if errors.Is(err, ErrDrainInProgress) {
		return nil
	}
	return err
}

// Pending returns the unsynced backlog in creation order.
func (s *Synchronizer) Pending(ctx context.Context) ([]models.OfflineAction, error) {
	return s.db.GetUnsyncedActions(ctx)
}

// Status derives the current sync status; nothing here is persisted.
func (s *Synchronizer) Status(ctx context.Context) (models.SyncStatus, error) {
	count, err := s.db.CountUnsyncedActions(ctx)
	if err != nil {
		return models.SyncStatus{}, err
	}
	lastSync, err := s.db.GetLastSyncTime(ctx)
	if err != nil {
		return models.SyncStatus{}, err
	}

	online := s.connectivity != nil && s.connectivity.IsOnline()
	metrics.SetPendingActions(count)

	return models.SyncStatus{
		LastSyncTime:       lastSync,
		PendingActionCount: count,
		IsOnline:           online,
		IsSyncing:          s.draining.Load(),
	}, nil
}

// Cleanup purges synced actions older than the retention window. Unsynced
// actions are never dropped.
func (s *Synchronizer) Cleanup(ctx context.Context) error {
	purged, err := s.db.PurgeSyncedActions(ctx, s.now().Add(-s.retention))
	if err != nil {
		return err
	}
	if purged > 0 {
		s.logger.Info().Int64("purged", purged).Msg("Old synced actions purged")
	}
	return nil
}

// Start watches connectivity and drains on every offline-to-online edge.
// It returns the watcher's removal function.
func (s *Synchronizer) Start(ctx context.Context) func() {
	if s.connectivity == nil {
		return func() {}
	}
	return s.connectivity.OnChange(func(online bool) {
		if !online {
			return
		}
		if err := s.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
			s.logger.Warn().Err(err).Msg("Reconnect drain failed")
		}
	})
}

func (s *Synchronizer) notifyListeners(ctx context.Context) {
	s.listenerMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.listenerMu.Unlock()

	if len(listeners) == 0 {
		return
	}

	status, err := s.Status(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Derive sync status failed")
		return
	}
	for _, listener := range listeners {
		listener(status)
	}
}
