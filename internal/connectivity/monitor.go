package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober checks whether the network is currently reachable. The realtime
// channel doubles as a prober in production; tests supply a fake.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Monitor tracks online/offline state and notifies callbacks on every
// edge. State can be driven by the polling prober or pushed directly via
// SetOnline (the channel does this on connect/disconnect).
type Monitor struct {
	mu        sync.Mutex
	online    bool
	callbacks map[int]func(online bool)
	nextID    int

	prober   Prober
	interval time.Duration
	logger   *zerolog.Logger
}

func NewMonitor(prober Prober, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		callbacks: make(map[int]func(bool)),
		prober:    prober,
		interval:  interval,
		logger:    logger,
	}
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers an edge callback and returns its removal function.
func (m *Monitor) OnChange(callback func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.callbacks[id] = callback

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callbacks, id)
	}
}

// SetOnline records a new state and fires callbacks only on a transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	callbacks := make([]func(bool), 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	m.logger.Info().Bool("online", online).Msg("Connectivity changed")
	for _, cb := range callbacks {
		cb(online)
	}
}

// Start polls the prober until ctx is done. Safe to skip when state is
// driven entirely by the channel.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil {
		return
	}

	m.SetOnline(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.prober.Probe(ctx))
		}
	}
}
