package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"slotsync/internal/booking"
	"slotsync/internal/cache"
	"slotsync/internal/channel"
	"slotsync/internal/config"
	"slotsync/internal/connectivity"
	"slotsync/internal/fanout"
	"slotsync/internal/models"
	"slotsync/internal/syncer"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Service ties the channel, cache, reservation machine, synchronizer and
// fan-out registry together: channel events feed the cache and the
// reservation machine, connectivity edges trigger drains, and merged
// snapshots flow back out through the registry.
type Service struct {
	cfg    *config.Config
	logger *zerolog.Logger

	channel      *channel.Client
	cache        *cache.Manager
	reservations *booking.Reservations
	syncer       *syncer.Synchronizer
	monitor      *connectivity.Monitor
	fanout       *fanout.Registry

	cron        *cron.Cron
	cancelRun   context.CancelFunc
	removeWatch func()
}

type Components struct {
	Channel      *channel.Client
	Cache        *cache.Manager
	Reservations *booking.Reservations
	Syncer       *syncer.Synchronizer
	Monitor      *connectivity.Monitor
	Fanout       *fanout.Registry
}

func NewService(cfg *config.Config, c Components, logger *zerolog.Logger) *Service {
	s := &Service{
		cfg:          cfg,
		logger:       logger,
		channel:      c.Channel,
		cache:        c.Cache,
		reservations: c.Reservations,
		syncer:       c.Syncer,
		monitor:      c.Monitor,
		fanout:       c.Fanout,
		cron:         cron.New(),
	}
	s.wire()
	return s
}

// wire registers every channel handler and the replay handler. Inbound
// handlers run sequentially on the read pump, so deltas for one provider
// reach the cache in server order.
func (s *Service) wire() {
	s.channel.On(channel.EventConnected, func([]byte) {
		s.monitor.SetOnline(true)
		s.resubscribe()
	})
	s.channel.On(channel.EventDisconnected, func([]byte) {
		s.monitor.SetOnline(false)
	})

	s.channel.On(channel.EventAvailabilityUpdate, func(payload []byte) {
		var update models.AvailabilityUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			s.logger.Warn().Err(err).Msg("Undecodable availability update dropped")
			return
		}
		if err := s.cache.ApplyDelta(context.Background(), &update); err != nil {
			s.logger.Error().Err(err).Str("provider_id", update.ProviderID).Msg("Availability delta merge failed")
		}
	})

	s.channel.On(channel.EventBookingConfirmed, func(payload []byte) {
		s.handleBookingEvent(payload, s.reservations.HandleConfirmed)
	})
	s.channel.On(channel.EventBookingRejected, func(payload []byte) {
		s.handleBookingEvent(payload, s.reservations.HandleRejected)
	})

	s.channel.On(channel.EventProviderOnline, func(payload []byte) {
		s.handleProviderPresence(payload, true)
	})
	s.channel.On(channel.EventProviderOffline, func(payload []byte) {
		s.handleProviderPresence(payload, false)
	})

	s.syncer.RegisterHandler(models.EntityBooking, s.replayBookingAction)
}

type bookingEvent struct {
	BookingID string `json:"booking_id"`
}

func (s *Service) handleBookingEvent(payload []byte, apply func(ctx context.Context, id string) error) {
	var event bookingEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.BookingID == "" {
		s.logger.Warn().Msg("Booking event without booking_id dropped")
		return
	}
	if err := apply(context.Background(), event.BookingID); err != nil {
		s.logger.Error().Err(err).Str("booking_id", event.BookingID).Msg("Booking event handling failed")
	}
}

type presenceEvent struct {
	ProviderID string `json:"provider_id"`
}

func (s *Service) handleProviderPresence(payload []byte, online bool) {
	var event presenceEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.ProviderID == "" {
		s.logger.Warn().Msg("Presence event without provider_id dropped")
		return
	}
	if err := s.cache.SetProviderOnline(context.Background(), event.ProviderID, online); err != nil {
		s.logger.Error().Err(err).Str("provider_id", event.ProviderID).Msg("Provider presence update failed")
	}
}

// replayBookingAction is the synchronizer's handler for queued booking
// actions: creates redispatch the original request, deletes re-send the
// cancellation.
func (s *Service) replayBookingAction(ctx context.Context, action models.OfflineAction) error {
	switch action.Type {
	case models.ActionCreate:
		return s.reservations.Redispatch(ctx, action.EntityID)
	case models.ActionDelete:
		return s.channel.Emit(channel.EventCancelBookingRequest, action.EntityID)
	default:
		return fmt.Errorf("replay booking action %s: unknown type %q", action.ID, action.Type)
	}
}

// resubscribe restores server-side availability subscriptions after a
// reconnect; the registry keeps the authoritative provider set.
func (s *Service) resubscribe() {
	for _, providerID := range s.fanout.ActiveProviders() {
		if err := s.channel.Emit(channel.EventSubscribeAvailability, presenceEvent{ProviderID: providerID}); err != nil {
			s.logger.Warn().Err(err).Str("provider_id", providerID).Msg("Resubscribe failed")
		}
	}
}

// Start warms the cache, rebuilds the pending reservation set, connects
// the channel and launches the background loops. A failed initial dial is
// not fatal; the app starts offline and the queue holds writes.
func (s *Service) Start(ctx context.Context) error {
	if err := s.cache.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild cache: %w", err)
	}
	if err := s.reservations.Load(ctx); err != nil {
		return fmt.Errorf("load pending reservations: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel

	s.removeWatch = s.syncer.Start(runCtx)
	go s.reservations.StartSweep(runCtx)
	go s.monitor.Start(runCtx)

	if _, err := s.cron.AddFunc(s.cfg.Sync.CleanupSchedule, func() {
		if err := s.syncer.Cleanup(runCtx); err != nil {
			s.logger.Error().Err(err).Msg("Action log cleanup failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	s.cron.Start()

	if err := s.channel.Connect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Initial channel connect failed, starting offline")
	}

	s.logger.Info().Msg("Availability sync service started")
	return nil
}

// Stop tears the service down: cron first so no cleanup races the closing
// store, then the channel, then the background loops.
func (s *Service) Stop() error {
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Cron jobs did not finish in time")
	}

	err := s.channel.Disconnect()

	if s.removeWatch != nil {
		s.removeWatch()
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}

	s.logger.Info().Msg("Availability sync service stopped")
	return err
}
