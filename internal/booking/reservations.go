package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"slotsync/internal/domain"
	"slotsync/internal/metrics"
	"slotsync/internal/models"
	"slotsync/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Enqueuer is what the reservation machine needs from the offline queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, action *models.OfflineAction) error
}

// HandoffFunc receives a confirmed request so the appointment keeper can
// take over. The reservation machine never creates appointment records.
type HandoffFunc func(request *models.BookingRequest)

// Reservations owns every BookingRequest. A request is created pending and
// moves to exactly one of confirmed, rejected, or expired exactly once.
type Reservations struct {
	db      *store.DB
	emitter domain.Emitter
	queue   Enqueuer
	alerts  domain.AlertScheduler
	logger  *zerolog.Logger

	expiryWindow  time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	handoff       HandoffFunc

	mu     sync.Mutex
	active map[string]*models.BookingRequest
}

func NewReservations(db *store.DB, emitter domain.Emitter, queue Enqueuer, alerts domain.AlertScheduler, expiryWindow, sweepInterval time.Duration, logger *zerolog.Logger) *Reservations {
	if expiryWindow <= 0 {
		expiryWindow = models.DefaultExpiryWindow
	}
	if sweepInterval <= 0 {
		sweepInterval = models.DefaultSweepInterval
	}
	return &Reservations{
		db:            db,
		emitter:       emitter,
		queue:         queue,
		alerts:        alerts,
		logger:        logger,
		expiryWindow:  expiryWindow,
		sweepInterval: sweepInterval,
		now:           time.Now,
		active:        make(map[string]*models.BookingRequest),
	}
}

// SetHandoff installs the confirmed-request hook.
func (r *Reservations) SetHandoff(handoff HandoffFunc) {
	r.handoff = handoff
}

// Load rebuilds the active pending set from the durable store. Requests
// already past their deadline are left for the first sweep.
func (r *Reservations) Load(ctx context.Context) error {
	pending, err := r.db.GetPendingBookingRequests(ctx)
	if err != nil {
		return fmt.Errorf("load pending requests: %w", err)
	}

	r.mu.Lock()
	for _, request := range pending {
		r.active[request.ID] = request
	}
	count := len(r.active)
	r.mu.Unlock()

	r.logger.Info().Int("pending", count).Msg("Pending booking requests reloaded")
	return nil
}

// RequestBooking creates a pending request and dispatches it: over the
// channel when connected, into the offline queue otherwise. Both paths
// leave the request pending until the server answers or the sweep expires
// it.
func (r *Reservations) RequestBooking(ctx context.Context, providerID, timeSlotID, serviceID, customerID string) (*models.BookingRequest, error) {
	now := r.now()
	request := &models.BookingRequest{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		ProviderID: providerID,
		TimeSlotID: timeSlotID,
		ServiceID:  serviceID,
		Status:     models.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.expiryWindow),
	}

	if err := r.db.SaveBookingRequest(ctx, request); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active[request.ID] = request
	r.mu.Unlock()

	if err := r.dispatch(ctx, request); err != nil {
		return nil, err
	}

	r.scheduleAlert(ctx, request.ID, "Your booking hold expires soon", request.ExpiresAt.Add(-models.ExpiryWarningLead))
	return request, nil
}

// dispatch sends the request now or queues it for the synchronizer.
func (r *Reservations) dispatch(ctx context.Context, request *models.BookingRequest) error {
	if r.emitter != nil && r.emitter.Connected() {
		if err := r.emitter.Emit("request_booking", request); err == nil {
			return nil
		}
		// Fall through: a failed emit is the same as being offline.
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode booking request: %w", err)
	}
	return r.queue.Enqueue(ctx, &models.OfflineAction{
		Type:     models.ActionCreate,
		Entity:   models.EntityBooking,
		EntityID: request.ID,
		Payload:  string(payload),
	})
}

// Redispatch re-sends a still-pending request; the synchronizer calls this
// while replaying queued creates. Terminal or expired requests are skipped
// without error.
func (r *Reservations) Redispatch(ctx context.Context, id string) error {
	r.mu.Lock()
	request, ok := r.active[id]
	r.mu.Unlock()

	if !ok || request.Expired(r.now()) {
		return nil
	}
	if r.emitter == nil || !r.emitter.Connected() {
		return channelDownErr(id)
	}
	return r.emitter.Emit("request_booking", request)
}

func channelDownErr(id string) error {
	return fmt.Errorf("redispatch %s: channel down", id)
}

// HandleConfirmed moves a matching pending request to confirmed. Events
// for unknown or already-terminal ids are ignored.
func (r *Reservations) HandleConfirmed(ctx context.Context, id string) error {
	request, applied, err := r.transition(ctx, id, models.StatusConfirmed)
	if err != nil || !applied {
		return err
	}

	r.scheduleAlert(ctx, id, "Your booking has been confirmed!", time.Time{})
	if r.handoff != nil {
		r.handoff(request)
	}
	return nil
}

// HandleRejected moves a matching pending request to rejected.
func (r *Reservations) HandleRejected(ctx context.Context, id string) error {
	_, applied, err := r.transition(ctx, id, models.StatusRejected)
	if err != nil || !applied {
		return err
	}

	r.scheduleAlert(ctx, id, "Your booking request was declined. Please try another time slot.", time.Time{})
	return nil
}

// CancelBookingRequest is the user-initiated counterpart to the timeout
// path: it expires a pending request locally and tells the server when
// online. Calling it again after the request is terminal is a no-op.
func (r *Reservations) CancelBookingRequest(ctx context.Context, id string) error {
	_, applied, err := r.transition(ctx, id, models.StatusExpired)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if r.emitter != nil && r.emitter.Connected() {
		if err := r.emitter.Emit("cancel_booking_request", id); err == nil {
			return nil
		}
	}
	return r.queue.Enqueue(ctx, &models.OfflineAction{
		Type:     models.ActionDelete,
		Entity:   models.EntityBooking,
		EntityID: id,
		Payload:  fmt.Sprintf("%q", id),
	})
}

// transition applies one terminal transition. applied is false when the
// request was unknown or already terminal; the durable store enforces the
// same rule, so a racing server confirmation and local cancel cannot both
// win.
func (r *Reservations) transition(ctx context.Context, id, status string) (*models.BookingRequest, bool, error) {
	applied, err := r.db.UpdateBookingRequestStatus(ctx, id, status)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		r.logger.Debug().Str("booking_id", id).Str("status", status).Msg("Transition ignored for terminal or unknown request")
		return nil, false, nil
	}

	r.mu.Lock()
	request, ok := r.active[id]
	if ok {
		request.Status = status
		delete(r.active, id)
	}
	r.mu.Unlock()

	if !ok {
		// The row changed but the request was not in memory (restart gap);
		// load it so callers still get the full object.
		request, err = r.db.GetBookingRequest(ctx, id)
		if err != nil {
			return nil, true, err
		}
	}

	r.logger.Info().Str("booking_id", id).Str("status", status).Msg("Booking request transitioned")
	return request, true, nil
}

// Sweep expires every pending request past its deadline and returns how
// many it expired. Runs on a fixed interval; precision is bounded by the
// interval, which survives app suspension better than per-request timers.
func (r *Reservations) Sweep(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var due []string
	for id, request := range r.active {
		if request.Expired(now) {
			due = append(due, id)
		}
	}
	r.mu.Unlock()

	expired := 0
	for _, id := range due {
		_, applied, err := r.transition(ctx, id, models.StatusExpired)
		if err != nil {
			r.logger.Error().Err(err).Str("booking_id", id).Msg("Sweep transition failed")
			continue
		}
		if !applied {
			continue
		}
		expired++
		metrics.IncBookingExpired()
		r.scheduleAlert(ctx, id, "Your hold expired, please pick another time", time.Time{})
	}

	if expired > 0 {
		r.logger.Info().Int("expired", expired).Msg("Expired booking requests")
	}
	return expired
}

// StartSweep runs the expiry sweep until ctx is done.
func (r *Reservations) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// PendingBookings returns a copy of the active pending set.
func (r *Reservations) PendingBookings() []*models.BookingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	requests := make([]*models.BookingRequest, 0, len(r.active))
	for _, request := range r.active {
		copied := *request
		requests = append(requests, &copied)
	}
	return requests
}

// BookingStatus returns the current state of one request, active or
// terminal.
func (r *Reservations) BookingStatus(ctx context.Context, id string) (*models.BookingRequest, error) {
	r.mu.Lock()
	request, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		copied := *request
		return &copied, nil
	}
	return r.db.GetBookingRequest(ctx, id)
}

func (r *Reservations) scheduleAlert(ctx context.Context, id, message string, at time.Time) {
	if r.alerts == nil {
		return
	}
	if err := r.alerts.ScheduleLocalAlert(ctx, id, message, at); err != nil {
		r.logger.Warn().Err(err).Str("booking_id", id).Msg("Schedule alert failed")
	}
}
