package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	deltasMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "deltas_merged_total",
			Help:      "Availability deltas merged into the cache, by update type.",
		},
		[]string{"update_type"},
	)

	deltasDroppedStale = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "deltas_dropped_stale_total",
			Help:      "Deltas dropped because their timestamp was older than the cached snapshot.",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "cache_lookups_total",
			Help:      "Availability cache lookups by outcome (fresh, stale, unknown).",
		},
		[]string{"outcome"},
	)

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "channel_reconnects_total",
			Help:      "Realtime channel reconnect attempts that succeeded.",
		},
	)

	drains = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "drains_total",
			Help:      "Offline queue drain passes.",
		},
	)

	actionsSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "actions_synced_total",
			Help:      "Offline actions replayed successfully.",
		},
	)

	actionsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "actions_failed_total",
			Help:      "Offline action replay failures.",
		},
	)

	pendingActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "slotsync",
			Name:      "pending_actions",
			Help:      "Unsynced actions currently queued.",
		},
	)

	bookingsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "bookings_expired_total",
			Help:      "Booking requests expired by the sweep.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			deltasMerged,
			deltasDroppedStale,
			cacheLookups,
			reconnects,
			drains,
			actionsSynced,
			actionsFailed,
			pendingActions,
			bookingsExpired,
		)
	})
}

func IncDeltaMerged(updateType string) { deltasMerged.WithLabelValues(updateType).Inc() }
func IncDeltaDroppedStale()            { deltasDroppedStale.Inc() }
func IncCacheLookup(outcome string)    { cacheLookups.WithLabelValues(outcome).Inc() }
func IncReconnect()                    { reconnects.Inc() }
func IncDrain()                        { drains.Inc() }
func IncActionSynced()                 { actionsSynced.Inc() }
func IncActionFailed()                 { actionsFailed.Inc() }
func SetPendingActions(n int)          { pendingActions.Set(float64(n)) }
func IncBookingExpired()               { bookingsExpired.Inc() }
