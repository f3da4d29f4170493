package fanout

import (
	"sort"
	"sync"

	"slotsync/internal/models"

	"github.com/rs/zerolog"
)

// Callback receives a merged snapshot for a subscribed provider.
type Callback func(availability *models.ProviderAvailability)

// Upstream is the server-side subscription the registry reference-counts:
// one subscribe per provider while at least one local subscriber exists.
type Upstream interface {
	SubscribeAvailability(providerID string)
	UnsubscribeAvailability(providerID string)
}

// Registry fans merged availability snapshots out to UI subscribers.
// Publishes for one provider are delivered in call order; unsubscribing is
// idempotent.
type Registry struct {
	mu          sync.Mutex
	subscribers map[string]map[int64]Callback
	nextID      int64
	upstream    Upstream
	logger      *zerolog.Logger
}

func NewRegistry(upstream Upstream, logger *zerolog.Logger) *Registry {
	return &Registry{
		subscribers: make(map[string]map[int64]Callback),
		upstream:    upstream,
		logger:      logger,
	}
}

// Subscribe registers a callback for one provider and returns the
// unsubscribe function. The first subscriber for a provider triggers the
// upstream subscribe; the last removal triggers the upstream unsubscribe.
func (r *Registry) Subscribe(providerID string, callback Callback) func() {
	r.mu.Lock()
	subs, ok := r.subscribers[providerID]
	if !ok {
		subs = make(map[int64]Callback)
		r.subscribers[providerID] = subs
	}
	first := len(subs) == 0

	id := r.nextID
	r.nextID++
	subs[id] = callback
	r.mu.Unlock()

	if first && r.upstream != nil {
		r.upstream.SubscribeAvailability(providerID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			subs := r.subscribers[providerID]
			delete(subs, id)
			last := len(subs) == 0
			if last {
				delete(r.subscribers, providerID)
			}
			r.mu.Unlock()

			if last && r.upstream != nil {
				r.upstream.UnsubscribeAvailability(providerID)
			}
		})
	}
}

// Publish delivers a snapshot to every subscriber of the provider.
func (r *Registry) Publish(providerID string, availability *models.ProviderAvailability) {
	r.mu.Lock()
	subs := r.subscribers[providerID]
	ids := make([]int64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	callbacks := make([]Callback, 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, subs[id])
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(availability)
	}
}

// ActiveProviders lists providers with at least one subscriber. Used to
// replay upstream subscriptions after a reconnect.
func (r *Registry) ActiveProviders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	providers := make([]string, 0, len(r.subscribers))
	for providerID := range r.subscribers {
		providers = append(providers, providerID)
	}
	sort.Strings(providers)
	return providers
}
