package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogScheduler is the default AlertScheduler: it records the scheduled
// alert in the log. The mobile shell replaces it with the platform's local
// notification API.
type LogScheduler struct {
	logger *zerolog.Logger
}

func NewLogScheduler(logger *zerolog.Logger) *LogScheduler {
	return &LogScheduler{logger: logger}
}

func (s *LogScheduler) ScheduleLocalAlert(ctx context.Context, id, message string, at time.Time) error {
	event := s.logger.Info().Str("alert_id", id).Str("message", message)
	if at.IsZero() {
		event.Msg("Local alert (immediate)")
	} else {
		event.Time("at", at).Msg("Local alert scheduled")
	}
	return nil
}

// Recorder captures scheduled alerts for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	Alerts []RecordedAlert
}

type RecordedAlert struct {
	ID      string
	Message string
	At      time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) ScheduleLocalAlert(ctx context.Context, id, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, RecordedAlert{ID: id, Message: message, At: at})
	return nil
}

// ByID returns the recorded alerts for one alert id.
func (r *Recorder) ByID(id string) []RecordedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []RecordedAlert
	for _, alert := range r.Alerts {
		if alert.ID == id {
			matched = append(matched, alert)
		}
	}
	return matched
}
